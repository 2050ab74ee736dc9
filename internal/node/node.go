// Package node holds the catalog of upstream model endpoints.
package node

import (
	"fmt"
	"sort"

	"github.com/roelfdiedericks/llmgate/internal/config"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
)

// Node is an immutable descriptor of one upstream model endpoint.
// Provider differences (endpoint, auth) are data, not behavior: every node
// speaks the same OpenAI-compatible chat protocol.
type Node struct {
	ID          string
	EndpointURL string
	Model       string
	APIKey      string
	Priority    int // lower = preferred tie-break
	MaxTokens   int
}

// Registry is the static catalog of candidate nodes. Built once at startup,
// read concurrently by every session without locking.
type Registry struct {
	nodes []Node
	byID  map[string]Node
}

// NewRegistry builds a registry from configuration. Node order is stable:
// ascending priority, then ID.
func NewRegistry(cfgs []config.NodeConfig) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no nodes configured")
	}

	nodes := make([]Node, 0, len(cfgs))
	byID := make(map[string]Node, len(cfgs))
	for _, c := range cfgs {
		n := Node{
			ID:          c.ID,
			EndpointURL: c.EndpointURL,
			Model:       c.Model,
			APIKey:      c.APIKey,
			Priority:    c.Priority,
			MaxTokens:   c.MaxTokens,
		}
		if n.MaxTokens == 0 {
			n.MaxTokens = 8192
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id: %s", n.ID)
		}
		nodes = append(nodes, n)
		byID[n.ID] = n
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Priority != nodes[j].Priority {
			return nodes[i].Priority < nodes[j].Priority
		}
		return nodes[i].ID < nodes[j].ID
	})

	L_info("node: registry created", "nodes", len(nodes))
	return &Registry{nodes: nodes, byID: byID}, nil
}

// List returns a copy of the catalog in stable order.
func (r *Registry) List() []Node {
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Get returns the node with the given id.
func (r *Registry) Get(id string) (Node, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// Len returns the number of configured nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}
