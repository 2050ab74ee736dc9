package breaker

import (
	"testing"
	"time"
)

// testClock gives tests manual control over the breaker's notion of now.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *testClock) {
	b := New(threshold, cooldown)
	clock := &testClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	b.SetNowFunc(clock.Now)
	return b, clock
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.OnResult("a", false)
		if !b.Allow("a") {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i+1)
		}
	}

	b.OnResult("a", false)
	if b.Allow("a") {
		t.Fatal("breaker should be open after 5 consecutive failures")
	}
	if st := b.State("a"); st.Status != StatusOpen {
		t.Fatalf("status = %s, want open", st.Status)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.OnResult("a", false)
	}
	b.OnResult("a", true)

	if st := b.State("a"); st.ConsecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures = %d after success, want 0", st.ConsecutiveFailures)
	}

	// The count starts over: four more failures must not trip it.
	for i := 0; i < 4; i++ {
		b.OnResult("a", false)
	}
	if !b.Allow("a") {
		t.Fatal("breaker tripped before threshold after reset")
	}
}

func TestBreakerBlocksUntilCooldown(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.OnResult("a", false)
	b.OnResult("a", false)

	if b.Allow("a") {
		t.Fatal("open breaker allowed a call before cooldown")
	}

	clock.Advance(29 * time.Second)
	if b.Allow("a") {
		t.Fatal("open breaker allowed a call 1s before cooldown elapsed")
	}

	clock.Advance(2 * time.Second)
	if !b.Allow("a") {
		t.Fatal("breaker should admit a half-open trial after cooldown")
	}
	if st := b.State("a"); st.Status != StatusHalfOpen {
		t.Fatalf("status = %s, want half_open", st.Status)
	}
}

func TestHalfOpenSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.OnResult("a", false)
	b.OnResult("a", false)
	clock.Advance(31 * time.Second)

	if !b.Allow("a") {
		t.Fatal("first trial should be admitted")
	}
	// A second concurrent request must be rejected while the trial is
	// in flight.
	if b.Allow("a") {
		t.Fatal("second concurrent trial admitted during half-open")
	}

	b.OnResult("a", true)
	if st := b.State("a"); st.Status != StatusClosed {
		t.Fatalf("status = %s after successful trial, want closed", st.Status)
	}
	if !b.Allow("a") {
		t.Fatal("closed breaker should allow calls")
	}
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.OnResult("a", false)
	b.OnResult("a", false)
	clock.Advance(31 * time.Second)

	if !b.Allow("a") {
		t.Fatal("trial should be admitted")
	}
	b.OnResult("a", false)

	st := b.State("a")
	if st.Status != StatusOpen {
		t.Fatalf("status = %s after failed trial, want open", st.Status)
	}
	// openedAt was reset: the full cooldown applies again.
	if b.Allow("a") {
		t.Fatal("breaker allowed a call right after a failed trial")
	}
	clock.Advance(31 * time.Second)
	if !b.Allow("a") {
		t.Fatal("breaker should re-admit a trial after the second cooldown")
	}
}

func TestReleaseTrialFreesSlotWithoutOutcome(t *testing.T) {
	b, clock := newTestBreaker(2, 30*time.Second)

	b.OnResult("a", false)
	b.OnResult("a", false)
	clock.Advance(31 * time.Second)

	if !b.Allow("a") {
		t.Fatal("trial should be admitted")
	}
	b.ReleaseTrial("a")

	st := b.State("a")
	if st.Status != StatusHalfOpen {
		t.Fatalf("status = %s after released trial, want half_open", st.Status)
	}
	if !b.Allow("a") {
		t.Fatal("released trial slot should admit the next caller")
	}
}

func TestBreakersAreIndependentPerNode(t *testing.T) {
	b, _ := newTestBreaker(2, 30*time.Second)

	b.OnResult("a", false)
	b.OnResult("a", false)

	if b.Allow("a") {
		t.Fatal("node a should be open")
	}
	if !b.Allow("b") {
		t.Fatal("node b must be unaffected by node a's circuit")
	}
}
