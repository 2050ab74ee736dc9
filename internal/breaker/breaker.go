// Package breaker isolates persistently failing nodes behind a per-node
// circuit breaker.
package breaker

import (
	"sync"
	"time"

	. "github.com/roelfdiedericks/llmgate/internal/logging"
)

// Status is the circuit state of one node.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half_open"
)

// State is a snapshot of one node's circuit.
type State struct {
	Status               Status
	ConsecutiveFailures  int
	OpenedAt             time.Time // valid only while Status == open
	CooldownRemaining    time.Duration
	TrialInFlight        bool
}

// circuit holds the mutable per-node breaker state.
type circuit struct {
	status        Status
	failures      int // consecutive failures
	openedAt      time.Time
	trialInFlight bool // HalfOpen admits at most one concurrent trial
}

// Breaker drives the Closed/Open/HalfOpen state machine per node.
// Transitions are serialized under a single mutex; the hot path is a map
// lookup plus a few comparisons.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time // override in tests
}

// New creates a breaker with the given trip threshold and cooldown.
func New(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		circuits:         make(map[string]*circuit),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

func (b *Breaker) circuitLocked(nodeID string) *circuit {
	c := b.circuits[nodeID]
	if c == nil {
		c = &circuit{status: StatusClosed}
		b.circuits[nodeID] = c
	}
	return c
}

// Allow reports whether a call to the node may proceed. While Open it returns
// false until the cooldown elapses, at which point the circuit moves to
// HalfOpen and the caller is admitted as the single trial. While HalfOpen a
// second concurrent caller is rejected until the trial resolves.
//
// An Allow that admits a HalfOpen trial reserves the trial slot: the caller
// must follow up with OnResult, or ReleaseTrial if the attempt was cancelled
// before producing an outcome.
func (b *Breaker) Allow(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(nodeID)
	switch c.status {
	case StatusClosed:
		return true
	case StatusOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return false
		}
		c.status = StatusHalfOpen
		c.trialInFlight = true
		L_info("breaker: half-open trial", "node", nodeID)
		return true
	case StatusHalfOpen:
		if c.trialInFlight {
			return false
		}
		c.trialInFlight = true
		return true
	}
	return false
}

// OnResult reports the outcome of an attempt and drives the transitions.
func (b *Breaker) OnResult(nodeID string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(nodeID)
	wasTrial := c.status == StatusHalfOpen
	c.trialInFlight = false

	if success {
		if c.status != StatusClosed {
			L_info("breaker: closed", "node", nodeID, "wasTrial", wasTrial)
		}
		c.status = StatusClosed
		c.failures = 0
		return
	}

	c.failures++
	switch c.status {
	case StatusHalfOpen:
		c.status = StatusOpen
		c.openedAt = b.now()
		L_warn("breaker: trial failed, reopened", "node", nodeID, "failures", c.failures)
	case StatusClosed:
		if c.failures >= b.failureThreshold {
			c.status = StatusOpen
			c.openedAt = b.now()
			L_warn("breaker: opened", "node", nodeID, "failures", c.failures, "cooldown", b.cooldown)
		}
	}
}

// ReleaseTrial frees a reserved HalfOpen trial slot without recording an
// outcome. Used when the trial attempt was cancelled: an unknown outcome must
// neither close nor reopen the circuit.
func (b *Breaker) ReleaseTrial(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(nodeID)
	if c.status == StatusHalfOpen {
		c.trialInFlight = false
	}
}

// State returns a snapshot of the node's circuit.
func (b *Breaker) State(nodeID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(nodeID)
	st := State{
		Status:              c.status,
		ConsecutiveFailures: c.failures,
		TrialInFlight:       c.trialInFlight,
	}
	if c.status == StatusOpen {
		st.OpenedAt = c.openedAt
		if remaining := b.cooldown - b.now().Sub(c.openedAt); remaining > 0 {
			st.CooldownRemaining = remaining
		}
	}
	return st
}

// SetNowFunc overrides the clock. Tests only.
func (b *Breaker) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
