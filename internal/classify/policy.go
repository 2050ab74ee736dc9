package classify

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy decides, per error kind, whether the same node may be retried and
// whether the session may fail over to the next candidate.
type Policy struct {
	RetryOnEmptyResponse bool // default true
	RetryOnAuthError     bool // default false
	RetryOnParseError    bool // default false

	MaxRetriesPerNode int

	BackoffBase       float64
	BackoffMultiplier time.Duration
	BackoffJitter     time.Duration
}

// DefaultPolicy returns the policy with stock gating.
func DefaultPolicy() Policy {
	return Policy{
		RetryOnEmptyResponse: true,
		MaxRetriesPerNode:    2,
		BackoffBase:          1.5,
		BackoffMultiplier:    500 * time.Millisecond,
		BackoffJitter:        300 * time.Millisecond,
	}
}

// RetrySameNode reports whether the same node may be retried for this kind.
// Bounding by MaxRetriesPerNode is the session's job.
func (p Policy) RetrySameNode(kind Kind) bool {
	switch kind {
	case KindServerError, KindRateLimit, KindNetworkError, KindUnknown:
		return true
	case KindAuthError:
		return p.RetryOnAuthError
	case KindParseError:
		return p.RetryOnParseError
	case KindEmptyResponse:
		return p.RetryOnEmptyResponse
	case KindTimeout, KindModelError:
		return false
	}
	return false
}

// Failover reports whether the session may advance to the next candidate
// after this kind. Auth failures fail fast: retrying elsewhere cannot fix an
// invalid credential and would mask the configuration problem.
func (p Policy) Failover(kind Kind) bool {
	return kind != KindAuthError
}

// Backoff returns the wait before same-node retry attempt n (0-based):
// base^attempt * multiplier + uniform(0, jitter). The jitter desynchronizes
// concurrent sessions hammering the same degraded node.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := time.Duration(math.Pow(p.BackoffBase, float64(attempt)) * float64(p.BackoffMultiplier))
	if p.BackoffJitter > 0 {
		wait += time.Duration(rand.Int64N(int64(p.BackoffJitter)))
	}
	return wait
}
