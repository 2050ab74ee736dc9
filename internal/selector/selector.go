// Package selector ranks candidate nodes with a Thompson-sampling bandit.
package selector

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roelfdiedericks/llmgate/internal/breaker"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
	"github.com/roelfdiedericks/llmgate/internal/node"
)

// PosteriorSource supplies Beta posterior counters per node.
// Satisfied by *stats.Tracker.
type PosteriorSource interface {
	Posterior(nodeID string) (alpha, beta float64)
}

// Gate exposes circuit state per node. Satisfied by *breaker.Breaker.
// Selection uses State (a pure read) rather than Allow: Allow reserves the
// half-open trial slot, and that reservation belongs to the session that
// actually attempts the call.
type Gate interface {
	State(nodeID string) breaker.State
}

// Selector chooses an ordered candidate list for a request by sampling each
// node's Beta posterior. Exploitation of good nodes and exploration of
// under-sampled ones fall out of the posterior width.
type Selector struct {
	registry  *node.Registry
	posterior PosteriorSource
	gate      Gate

	mu  sync.Mutex
	src rand.Source // distuv sources are not safe for concurrent use
}

// New creates a selector over the given registry, tracker and breaker.
func New(registry *node.Registry, posterior PosteriorSource, gate Gate) *Selector {
	return &Selector{
		registry:  registry,
		posterior: posterior,
		gate:      gate,
		src:       rand.NewPCG(uint64(time.Now().UnixNano()), 0xda3e39cb94b95bdb),
	}
}

// Seed reseeds the sampling source. Tests only.
func (s *Selector) Seed(seed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = rand.NewPCG(seed, seed)
}

type scored struct {
	n     node.Node
	theta float64
}

// Select returns the ordered candidate list for one request, excluding the
// given node IDs. Circuit-admissible nodes are ranked by a sample from their
// Beta(alpha, beta) posterior, ties broken by ascending static priority.
// Circuit-blocked nodes are appended at the tail in priority order as
// last-resort candidates: a node is never fully excluded on breaker state
// alone, since the session's own gate check decides admission at attempt time.
func (s *Selector) Select(excluding map[string]bool) []node.Node {
	var ranked []scored
	var blocked []node.Node

	for _, n := range s.registry.List() {
		if excluding[n.ID] {
			continue
		}
		if !s.admissible(n.ID) {
			blocked = append(blocked, n)
			continue
		}
		alpha, beta := s.posterior.Posterior(n.ID)
		ranked = append(ranked, scored{n: n, theta: s.sample(alpha, beta)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].theta != ranked[j].theta {
			return ranked[i].theta > ranked[j].theta
		}
		return ranked[i].n.Priority < ranked[j].n.Priority
	})
	// registry.List is already priority-ordered, so blocked keeps that order

	out := make([]node.Node, 0, len(ranked)+len(blocked))
	for _, sc := range ranked {
		out = append(out, sc.n)
	}
	out = append(out, blocked...)

	if len(out) > 0 {
		L_debug("selector: candidates ranked",
			"first", out[0].ID,
			"ranked", len(ranked),
			"blocked", len(blocked),
			"excluded", len(excluding),
		)
	}
	return out
}

// admissible is the non-reserving version of the breaker gate: true when a
// call to the node could currently be admitted.
func (s *Selector) admissible(nodeID string) bool {
	st := s.gate.State(nodeID)
	switch st.Status {
	case breaker.StatusClosed:
		return true
	case breaker.StatusOpen:
		return st.CooldownRemaining <= 0
	case breaker.StatusHalfOpen:
		return !st.TrialInFlight
	}
	return false
}

func (s *Selector) sample(alpha, beta float64) float64 {
	// Counter invariants keep alpha, beta > 0; guard anyway since distuv
	// panics on non-positive parameters.
	if alpha <= 0 {
		alpha = 1
	}
	if beta <= 0 {
		beta = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dist := distuv.Beta{Alpha: alpha, Beta: beta, Src: s.src}
	return dist.Rand()
}
