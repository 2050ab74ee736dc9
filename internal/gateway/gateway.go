// Package gateway is the public entry point of the routing layer: it wires
// the registry, tracker, breaker and selector together and exposes the
// stream-a-conversation operation to the transport layer.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/llmgate/internal/breaker"
	"github.com/roelfdiedericks/llmgate/internal/classify"
	"github.com/roelfdiedericks/llmgate/internal/config"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
	"github.com/roelfdiedericks/llmgate/internal/node"
	"github.com/roelfdiedericks/llmgate/internal/selector"
	"github.com/roelfdiedericks/llmgate/internal/stats"
	"github.com/roelfdiedericks/llmgate/internal/stream"
	"github.com/roelfdiedericks/llmgate/internal/tokens"
	"github.com/roelfdiedericks/llmgate/internal/upstream"
)

// Request is the normalized inbound request handed over by the transport
// layer.
type Request struct {
	Turns     []upstream.Turn `json:"turns"`
	ModelHint string          `json:"modelHint,omitempty"`
	MaxTokens int             `json:"maxTokens,omitempty"`
}

// defaultContextWindow is assumed when a node doesn't advertise one.
const defaultContextWindow = 128000

// Gateway owns the routing state. Everything is explicitly constructed and
// injected; nothing lives in package globals, so tests can run isolated
// instances side by side.
type Gateway struct {
	registry  *node.Registry
	tracker   *stats.Tracker
	breaker   *breaker.Breaker
	selector  *selector.Selector
	policy    classify.Policy
	clients   map[string]upstream.Caller
	estimator *tokens.Estimator
	startTime time.Time
}

// New builds a gateway from configuration, creating one upstream client per
// node.
func New(cfg *config.Config) (*Gateway, error) {
	registry, err := node.NewRegistry(cfg.Nodes)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]upstream.Caller, registry.Len())
	for _, n := range registry.List() {
		clients[n.ID] = upstream.NewClient(n)
	}

	return NewWithClients(cfg, registry, clients), nil
}

// NewWithClients builds a gateway over an existing registry and client pool.
// Tests inject fake callers here.
func NewWithClients(cfg *config.Config, registry *node.Registry, clients map[string]upstream.Caller) *Gateway {
	tracker := stats.NewTracker(cfg.Tuning.TimeoutFloor(), cfg.Tuning.TimeoutCeiling())
	brk := breaker.New(cfg.Tuning.FailureThreshold, cfg.Tuning.Cooldown())

	g := &Gateway{
		registry:  registry,
		tracker:   tracker,
		breaker:   brk,
		selector:  selector.New(registry, tracker, brk),
		clients:   clients,
		estimator: tokens.New(),
		startTime: time.Now(),
		policy: classify.Policy{
			RetryOnEmptyResponse: cfg.Tuning.RetryOnEmpty(),
			RetryOnAuthError:     cfg.Tuning.RetryOnAuthError,
			RetryOnParseError:    cfg.Tuning.RetryOnParseError,
			MaxRetriesPerNode:    cfg.Tuning.MaxRetriesPerNode,
			BackoffBase:          cfg.Tuning.BackoffBase,
			BackoffMultiplier:    time.Duration(cfg.Tuning.BackoffMultiplierMs) * time.Millisecond,
			BackoffJitter:        time.Duration(cfg.Tuning.BackoffJitterMs) * time.Millisecond,
		},
	}

	L_info("gateway: ready", "nodes", registry.Len(), "failureThreshold", cfg.Tuning.FailureThreshold, "cooldown", cfg.Tuning.Cooldown())
	return g
}

// StreamAnswer drives one conversation through the candidate chain and
// returns its output sequence. Each call creates a fresh session; the
// sequence is finite and not restartable. Cancel ctx to abandon the request.
func (g *Gateway) StreamAnswer(ctx context.Context, req Request) (<-chan stream.Chunk, error) {
	if len(req.Turns) == 0 {
		return nil, fmt.Errorf("empty conversation")
	}

	candidates := g.selector.Select(nil)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate nodes available")
	}
	candidates = g.applyHint(candidates, req.ModelHint)

	promptTokens := g.estimator.CountTurns(req.Turns)
	maxTokens := tokens.CapMaxTokens(req.MaxTokens, candidates[0].MaxTokens, defaultContextWindow, promptTokens)

	sess := stream.New(candidates, g.clients, g.tracker, g.breaker, g.policy, req.Turns, maxTokens)
	L_debug("gateway: session started",
		"session", sess.ID(),
		"turns", len(req.Turns),
		"promptTokens", promptTokens,
		"maxTokens", maxTokens,
		"hint", req.ModelHint,
	)
	return sess.Run(ctx), nil
}

// Answer runs a session to completion and returns the concatenated text, for
// callers that don't consume deltas.
func (g *Gateway) Answer(ctx context.Context, req Request) (string, error) {
	chunks, err := g.StreamAnswer(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for c := range chunks {
		if c.Done {
			if c.Reason == "error" {
				return "", c.Err
			}
			return b.String(), nil
		}
		b.WriteString(c.Text)
	}
	// Channel closed without a sentinel: the caller's ctx was cancelled.
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", fmt.Errorf("stream ended unexpectedly")
}

// applyHint moves the hinted node (matched by ID or model identifier) to the
// front of the candidate list when it is present.
func (g *Gateway) applyHint(candidates []node.Node, hint string) []node.Node {
	if hint == "" {
		return candidates
	}
	for i, n := range candidates {
		if n.ID == hint || n.Model == hint {
			if i == 0 {
				return candidates
			}
			reordered := make([]node.Node, 0, len(candidates))
			reordered = append(reordered, n)
			reordered = append(reordered, candidates[:i]...)
			reordered = append(reordered, candidates[i+1:]...)
			L_debug("gateway: model hint applied", "hint", hint, "node", n.ID)
			return reordered
		}
	}
	L_debug("gateway: model hint matched no node", "hint", hint)
	return candidates
}

// NodeStatus is the introspection view of one node.
type NodeStatus struct {
	ID                string        `json:"id"`
	Model             string        `json:"model"`
	Circuit           string        `json:"circuit"`
	CooldownRemaining time.Duration `json:"cooldownRemaining,omitempty"`
	SuccessRate       float64       `json:"successRate"`
	P50Ms             float64       `json:"p50Ms"`
	P95Ms             float64       `json:"p95Ms"`
	P99Ms             float64       `json:"p99Ms"`
	Samples           int           `json:"samples"`
}

// Status reports per-node health for operators.
func (g *Gateway) Status() []NodeStatus {
	nodes := g.registry.List()
	out := make([]NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		st := g.breaker.State(n.ID)
		pct := g.tracker.Percentiles(n.ID)
		out = append(out, NodeStatus{
			ID:                n.ID,
			Model:             n.Model,
			Circuit:           string(st.Status),
			CooldownRemaining: st.CooldownRemaining.Round(time.Second),
			SuccessRate:       g.tracker.SuccessRate(n.ID),
			P50Ms:             pct.P50,
			P95Ms:             pct.P95,
			P99Ms:             pct.P99,
			Samples:           g.tracker.SampleCount(n.ID),
		})
	}
	return out
}

// Uptime reports how long the gateway has been running.
func (g *Gateway) Uptime() time.Duration {
	return time.Since(g.startTime)
}
