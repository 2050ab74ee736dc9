package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return NewTracker(5*time.Second, 120*time.Second)
}

func TestRecordUpdatesPosterior(t *testing.T) {
	tr := newTestTracker()

	alpha, beta := tr.Posterior("a")
	assert.Equal(t, 1.0, alpha, "alpha prior")
	assert.Equal(t, 1.0, beta, "beta prior")

	// Full-quality success contributes its whole reward to alpha.
	tr.Record("a", Sample{LatencyMs: 100, Outcome: OutcomeSuccess, Quality: 1.0})
	alpha, beta = tr.Posterior("a")
	assert.InDelta(t, 2.0, alpha, 1e-9)
	assert.InDelta(t, 1.0, beta, 1e-9)

	// Half-quality success splits the reward.
	tr.Record("a", Sample{LatencyMs: 100, Outcome: OutcomeSuccess, Quality: 0.5})
	alpha, beta = tr.Posterior("a")
	assert.InDelta(t, 2.75, alpha, 1e-9)
	assert.InDelta(t, 1.25, beta, 1e-9)

	// Failures and empties only feed beta.
	tr.Record("a", Sample{LatencyMs: 100, Outcome: OutcomeError})
	tr.Record("a", Sample{LatencyMs: 100, Outcome: OutcomeEmpty})
	alpha, beta = tr.Posterior("a")
	assert.InDelta(t, 2.75, alpha, 1e-9)
	assert.InDelta(t, 3.25, beta, 1e-9)
}

func TestWindowEviction(t *testing.T) {
	tr := newTestTracker()

	for i := 0; i < 150; i++ {
		tr.Record("a", Sample{LatencyMs: float64(i), Outcome: OutcomeSuccess, Quality: 1})
	}
	assert.Equal(t, 100, tr.SampleCount("a"), "window is bounded at 100")

	// The oldest 50 were evicted, so the window holds latencies 50..149.
	p := tr.Percentiles("a")
	assert.GreaterOrEqual(t, p.P50, 50.0)
}

func TestSuccessRate(t *testing.T) {
	tr := newTestTracker()

	// Optimistic default for an unobserved node.
	assert.Equal(t, 1.0, tr.SuccessRate("new"))

	for i := 0; i < 8; i++ {
		tr.Record("a", Sample{LatencyMs: 10, Outcome: OutcomeSuccess, Quality: 1})
	}
	tr.Record("a", Sample{LatencyMs: 10, Outcome: OutcomeError})
	tr.Record("a", Sample{LatencyMs: 10, Outcome: OutcomeEmpty})

	assert.InDelta(t, 0.8, tr.SuccessRate("a"), 1e-9)
}

func TestPercentiles(t *testing.T) {
	tr := newTestTracker()

	assert.Equal(t, Percentiles{}, tr.Percentiles("empty"))

	for i := 1; i <= 100; i++ {
		tr.Record("a", Sample{LatencyMs: float64(i * 10), Outcome: OutcomeSuccess, Quality: 1})
	}

	p := tr.Percentiles("a")
	assert.InDelta(t, 505, p.P50, 10)
	assert.InDelta(t, 950, p.P95, 10)
	assert.InDelta(t, 990, p.P99, 10)
}

func TestOptimalTimeoutClamped(t *testing.T) {
	tr := newTestTracker()

	// Empty window: no tail estimate, use the ceiling.
	assert.Equal(t, 120*time.Second, tr.OptimalTimeout("empty"))

	// Tiny latencies clamp to the floor.
	for i := 0; i < 50; i++ {
		tr.Record("fast", Sample{LatencyMs: 20, Outcome: OutcomeSuccess, Quality: 1})
	}
	assert.Equal(t, 5*time.Second, tr.OptimalTimeout("fast"))

	// Huge latencies clamp to the ceiling.
	for i := 0; i < 50; i++ {
		tr.Record("slow", Sample{LatencyMs: 600000, Outcome: OutcomeSuccess, Quality: 1})
	}
	assert.Equal(t, 120*time.Second, tr.OptimalTimeout("slow"))

	// In between: p99 * 1.5.
	for i := 0; i < 50; i++ {
		tr.Record("mid", Sample{LatencyMs: 10000, Outcome: OutcomeSuccess, Quality: 1})
	}
	d := tr.OptimalTimeout("mid")
	require.Equal(t, 15*time.Second, d)
}

func TestConcurrentRecordsDoNotRace(t *testing.T) {
	tr := newTestTracker()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				tr.Record("a", Sample{LatencyMs: 5, Outcome: OutcomeSuccess, Quality: 1})
				tr.Percentiles("a")
				tr.SuccessRate("a")
			}
		}()
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	alpha, _ := tr.Posterior("a")
	// 8 goroutines * 200 full-quality successes, each alpha += 1.
	assert.InDelta(t, 1601.0, alpha, 1e-6)
}
