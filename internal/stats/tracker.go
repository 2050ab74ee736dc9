// Package stats tracks per-node latency and outcome statistics.
package stats

import (
	"sort"
	"sync"
	"time"

	. "github.com/roelfdiedericks/llmgate/internal/logging"
)

// Outcome is the result class of one attempt against a node.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
)

// Sample is one observation of a node.
type Sample struct {
	LatencyMs float64
	Outcome   Outcome
	Quality   float64 // 0.0-1.0, derived from response length and lexical density
}

// windowCapacity bounds each node's sample window (FIFO eviction).
const windowCapacity = 100

// Percentiles is a snapshot of latency percentiles over a node's window.
type Percentiles struct {
	P50 float64
	P95 float64
	P99 float64
}

// nodeWindow holds the mutable per-node state. All access is under mu so the
// Beta counters and the sample window never race; windows for different nodes
// are fully independent.
type nodeWindow struct {
	mu      sync.Mutex
	samples []Sample
	alpha   float64
	beta    float64
}

// Tracker maintains a sliding window of samples and Bayesian outcome counters
// per node. Other components read it only through snapshot accessors.
type Tracker struct {
	mu      sync.RWMutex
	windows map[string]*nodeWindow

	timeoutFloor   time.Duration
	timeoutCeiling time.Duration
}

// NewTracker creates a tracker. floor and ceiling bound OptimalTimeout.
func NewTracker(floor, ceiling time.Duration) *Tracker {
	return &Tracker{
		windows:        make(map[string]*nodeWindow),
		timeoutFloor:   floor,
		timeoutCeiling: ceiling,
	}
}

func (t *Tracker) window(nodeID string) *nodeWindow {
	t.mu.RLock()
	w := t.windows[nodeID]
	t.mu.RUnlock()
	if w != nil {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w = t.windows[nodeID]; w == nil {
		w = &nodeWindow{
			samples: make([]Sample, 0, windowCapacity),
			alpha:   1.0,
			beta:    1.0,
		}
		t.windows[nodeID] = w
	}
	return w
}

// Record appends a sample to the node's window, evicting the oldest past
// capacity, and updates the Beta posterior counters. Never fails.
func (t *Tracker) Record(nodeID string, s Sample) {
	w := t.window(nodeID)

	w.mu.Lock()
	if len(w.samples) >= windowCapacity {
		w.samples = append(w.samples[1:], s)
	} else {
		w.samples = append(w.samples, s)
	}

	if s.Outcome == OutcomeSuccess {
		reward := 0.5 + 0.5*clamp01(s.Quality)
		w.alpha += reward
		w.beta += 1 - reward
	} else {
		w.beta += 1
	}
	alpha, beta := w.alpha, w.beta
	w.mu.Unlock()

	L_trace("stats: sample recorded",
		"node", nodeID,
		"outcome", s.Outcome,
		"latencyMs", s.LatencyMs,
		"quality", s.Quality,
		"alpha", alpha,
		"beta", beta,
	)
}

// Percentiles returns p50/p95/p99 latency over a snapshot of the node's
// window, or zeros when the window is empty.
func (t *Tracker) Percentiles(nodeID string) Percentiles {
	w := t.window(nodeID)

	w.mu.Lock()
	lat := make([]float64, 0, len(w.samples))
	for _, s := range w.samples {
		lat = append(lat, s.LatencyMs)
	}
	w.mu.Unlock()

	if len(lat) == 0 {
		return Percentiles{}
	}

	sort.Float64s(lat)
	return Percentiles{
		P50: percentile(lat, 0.50),
		P95: percentile(lat, 0.95),
		P99: percentile(lat, 0.99),
	}
}

// SuccessRate returns the fraction of Success outcomes in the window.
// An empty window reports 1.0 so new nodes are not starved of traffic.
func (t *Tracker) SuccessRate(nodeID string) float64 {
	w := t.window(nodeID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.samples) == 0 {
		return 1.0
	}
	ok := 0
	for _, s := range w.samples {
		if s.Outcome == OutcomeSuccess {
			ok++
		}
	}
	return float64(ok) / float64(len(w.samples))
}

// OptimalTimeout derives a per-attempt deadline from observed tail latency:
// p99 * 1.5 clamped to [floor, ceiling]. An empty window gets the ceiling.
func (t *Tracker) OptimalTimeout(nodeID string) time.Duration {
	p := t.Percentiles(nodeID)
	if p.P99 <= 0 {
		return t.timeoutCeiling
	}
	d := time.Duration(p.P99*1.5) * time.Millisecond
	if d < t.timeoutFloor {
		return t.timeoutFloor
	}
	if d > t.timeoutCeiling {
		return t.timeoutCeiling
	}
	return d
}

// Posterior returns a snapshot of the node's Beta counters for the selector.
func (t *Tracker) Posterior(nodeID string) (alpha, beta float64) {
	w := t.window(nodeID)

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alpha, w.beta
}

// SampleCount returns the number of samples currently in the window.
func (t *Tracker) SampleCount(nodeID string) int {
	w := t.window(nodeID)

	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// percentile interpolates the q-th percentile over sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
