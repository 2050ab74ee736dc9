package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func TestClassifyTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"empty sentinel", ErrEmptyResponse, KindEmptyResponse},
		{"wrapped empty sentinel", fmt.Errorf("stream: %w", ErrEmptyResponse), KindEmptyResponse},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), KindTimeout},
		{"api 401", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, KindAuthError},
		{"api 403", &openai.APIError{HTTPStatusCode: 403, Message: "nope"}, KindAuthError},
		{"api 429", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, KindRateLimit},
		{"api 500", &openai.APIError{HTTPStatusCode: 500, Message: "boom"}, KindServerError},
		{"api 503", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, KindServerError},
		{"api 504", &openai.APIError{HTTPStatusCode: 504, Message: "gateway timeout"}, KindTimeout},
		{"api 404", &openai.APIError{HTTPStatusCode: 404, Message: "model does not exist"}, KindModelError},
		{"api 422", &openai.APIError{HTTPStatusCode: 422, Message: "bad params"}, KindModelError},
		{"request 401", &openai.RequestError{HTTPStatusCode: 401, Err: errors.New("unauthorized")}, KindAuthError},
		{"request 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, KindServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyMessagePatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"rate limit exceeded for model", KindRateLimit},
		{"Error: Too Many Requests", KindRateLimit},
		{"insufficient_quota: billing hard limit", KindRateLimit},
		{"invalid API key provided", KindAuthError},
		{"403 Forbidden", KindAuthError},
		{"request timed out after 30s", KindTimeout},
		{"context deadline exceeded (Client.Timeout)", KindTimeout},
		{"dial tcp 10.0.0.5:8080: connection refused", KindNetworkError},
		{"read: connection reset by peer", KindNetworkError},
		{"lookup llm.internal: no such host", KindNetworkError},
		{"unexpected end of JSON input", KindParseError},
		{"invalid character '<' looking for beginning of value", KindParseError},
		{"500 Internal Server Error", KindServerError},
		{"the server is busy, please retry later", KindServerError},
		{"model not found: llama-99b", KindModelError},
		{"The model `gpt-x` does not exist", KindModelError},
		{"something inexplicable happened", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Classify(errors.New(tt.msg)); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestRetrySameNodeDefaults(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindServerError, true},
		{KindRateLimit, true},
		{KindNetworkError, true},
		{KindUnknown, true},
		{KindEmptyResponse, true},
		{KindAuthError, false},
		{KindParseError, false},
		{KindTimeout, false},
		{KindModelError, false},
	}
	for _, tt := range tests {
		if got := p.RetrySameNode(tt.kind); got != tt.want {
			t.Errorf("RetrySameNode(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRetrySameNodeOverrides(t *testing.T) {
	p := DefaultPolicy()
	p.RetryOnEmptyResponse = false
	p.RetryOnAuthError = true
	p.RetryOnParseError = true

	if p.RetrySameNode(KindEmptyResponse) {
		t.Error("empty-response retry should honor the override")
	}
	if !p.RetrySameNode(KindAuthError) {
		t.Error("auth retry should honor the override")
	}
	if !p.RetrySameNode(KindParseError) {
		t.Error("parse retry should honor the override")
	}
}

func TestFailover(t *testing.T) {
	p := DefaultPolicy()
	for _, kind := range []Kind{
		KindServerError, KindRateLimit, KindTimeout, KindNetworkError,
		KindParseError, KindEmptyResponse, KindModelError, KindUnknown,
	} {
		if !p.Failover(kind) {
			t.Errorf("Failover(%v) = false, want true", kind)
		}
	}
	if p.Failover(KindAuthError) {
		t.Error("auth errors must not fail over")
	}
}

func TestBackoffGrowsWithJitterBounds(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 0; attempt < 4; attempt++ {
		base := time.Duration(float64(p.BackoffMultiplier) * pow(p.BackoffBase, attempt))
		for i := 0; i < 50; i++ {
			got := p.Backoff(attempt)
			if got < base || got >= base+p.BackoffJitter {
				t.Fatalf("Backoff(%d) = %v, want in [%v, %v)", attempt, got, base, base+p.BackoffJitter)
			}
		}
	}

	if p.Backoff(-1) < p.BackoffMultiplier {
		t.Error("negative attempt should clamp to attempt 0")
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

func TestUserMessageCoversAllKinds(t *testing.T) {
	kinds := []Kind{
		KindServerError, KindRateLimit, KindAuthError, KindTimeout,
		KindNetworkError, KindParseError, KindEmptyResponse, KindModelError,
		KindUnknown,
	}
	seen := map[string]Kind{}
	for _, kind := range kinds {
		msg := UserMessage(kind)
		if msg == "" {
			t.Errorf("UserMessage(%v) is empty", kind)
		}
		if prev, dup := seen[msg]; dup && kind != KindUnknown {
			t.Errorf("UserMessage(%v) duplicates %v", kind, prev)
		}
		seen[msg] = kind
	}
}
