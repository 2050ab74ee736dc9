// Package classify maps raw upstream failures into error kinds and
// retry/failover decisions.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Kind categorizes an upstream failure for retry and failover decisions.
type Kind string

const (
	KindServerError   Kind = "server_error"
	KindRateLimit     Kind = "rate_limit"
	KindAuthError     Kind = "auth_error"
	KindTimeout       Kind = "timeout"
	KindNetworkError  Kind = "network_error"
	KindParseError    Kind = "parse_error"
	KindEmptyResponse Kind = "empty_response"
	KindModelError    Kind = "model_error"
	KindUnknown       Kind = "unknown"
)

// ErrEmptyResponse marks a stream that completed without any content.
// The upstream client returns it; it must never be treated as success.
var ErrEmptyResponse = errors.New("upstream returned empty response")

// Classify determines the error kind. Typed errors are checked first
// (status codes beat message heuristics), then message patterns.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, ErrEmptyResponse) {
		return KindEmptyResponse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if k, ok := classifyStatus(apiErr.HTTPStatusCode); ok {
			return k
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if k, ok := classifyStatus(reqErr.HTTPStatusCode); ok {
			return k
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetworkError
	}

	return classifyMessage(err.Error())
}

// classifyStatus maps an HTTP status code to a kind. Returns false for codes
// that need message inspection to disambiguate.
func classifyStatus(code int) (Kind, bool) {
	switch {
	case code == 401 || code == 403:
		return KindAuthError, true
	case code == 429:
		return KindRateLimit, true
	case code == 408 || code == 504:
		return KindTimeout, true
	case code >= 500:
		return KindServerError, true
	case code == 400 || code == 404 || code == 422:
		// Bad request against this model: wrong model name, unsupported
		// parameter, malformed payload for this endpoint.
		return KindModelError, true
	}
	return KindUnknown, false
}

// classifyMessage determines the kind from an error message.
// Checked in order of specificity, the way providers actually phrase them.
func classifyMessage(msg string) Kind {
	if msg == "" {
		return KindUnknown
	}
	lower := strings.ToLower(msg)

	switch {
	case isRateLimitMessage(lower):
		return KindRateLimit
	case isAuthMessage(lower):
		return KindAuthError
	case isTimeoutMessage(lower):
		return KindTimeout
	case isNetworkMessage(lower):
		return KindNetworkError
	case isParseMessage(lower):
		return KindParseError
	case isServerMessage(lower):
		return KindServerError
	case isModelMessage(lower):
		return KindModelError
	}
	return KindUnknown
}

func isRateLimitMessage(lower string) bool {
	return strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "requests per minute")
}

func isAuthMessage(lower string) bool {
	return strings.Contains(lower, "401") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid_api_key") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "invalid credentials") ||
		strings.Contains(lower, "authentication")
}

func isTimeoutMessage(lower string) bool {
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded")
}

func isNetworkMessage(lower string) bool {
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "dial tcp")
}

func isParseMessage(lower string) bool {
	return strings.Contains(lower, "unexpected end of json") ||
		strings.Contains(lower, "invalid character") ||
		strings.Contains(lower, "failed to unmarshal") ||
		strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "parse error") ||
		strings.Contains(lower, "invalid json")
}

func isServerMessage(lower string) bool {
	return strings.Contains(lower, "500") ||
		strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") ||
		strings.Contains(lower, "internal server error") ||
		strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "temporarily unavailable") ||
		strings.Contains(lower, "server is busy")
}

func isModelMessage(lower string) bool {
	return strings.Contains(lower, "model not found") ||
		strings.Contains(lower, "unknown model") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "invalid_request_error") ||
		strings.Contains(lower, "unsupported")
}

// UserMessage returns an operator-actionable message for a kind, so exhaustion
// reports distinguish "temporary, try again" from "configuration problem".
func UserMessage(kind Kind) string {
	switch kind {
	case KindServerError:
		return "The upstream service had an internal error. Usually temporary. / El servicio tuvo un error interno, suele ser temporal."
	case KindRateLimit:
		return "Rate limited by the provider. Wait a moment and retry. / Limite de peticiones alcanzado, espera un momento."
	case KindAuthError:
		return "Authentication failed. Check the node's API key configuration. / Fallo de autenticacion, revisa la clave API."
	case KindTimeout:
		return "The request timed out. The node may be overloaded. / La peticion expiro, el nodo puede estar sobrecargado."
	case KindNetworkError:
		return "Could not reach the node. Check connectivity and endpoint URL. / No se pudo conectar al nodo, revisa la URL."
	case KindParseError:
		return "The node returned an unreadable response. / El nodo devolvio una respuesta ilegible."
	case KindEmptyResponse:
		return "The node returned an empty answer. / El nodo devolvio una respuesta vacia."
	case KindModelError:
		return "The node rejected the request for this model. Check the model identifier. / El nodo rechazo el modelo configurado."
	default:
		return "Unexpected error from the node. / Error inesperado del nodo."
	}
}
