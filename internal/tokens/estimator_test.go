package tokens

import (
	"testing"

	"github.com/roelfdiedericks/llmgate/internal/upstream"
)

func TestCountFallback(t *testing.T) {
	// nil encoding forces the chars/4 path
	e := &Estimator{}
	if got := e.Count("12345678"); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if got := e.Count(""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}
}

func TestCountTurnsAddsOverhead(t *testing.T) {
	e := &Estimator{}
	turns := []upstream.Turn{
		{Role: "system", Content: "12345678"}, // 2 tokens + 4 overhead
		{Role: "user", Content: "1234"},       // 1 token + 4 overhead
	}
	if got := e.CountTurns(turns); got != 11 {
		t.Errorf("CountTurns = %d, want 11", got)
	}
}

func TestCapMaxTokens(t *testing.T) {
	tests := []struct {
		name                                         string
		requested, nodeMax, contextWindow, estimated int
		want                                         int
	}{
		{"requested within bounds", 1000, 8192, 128000, 500, 1000},
		{"unset requested falls back to node max", 0, 8192, 128000, 500, 8192},
		{"requested above node max is capped", 99999, 8192, 128000, 500, 8192},
		{"context window squeezes output", 8192, 8192, 4000, 3000, 400},
		{"minimum output floor", 8192, 8192, 1000, 2000, 100},
		{"no context window passes through", 2048, 8192, 0, 500, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CapMaxTokens(tt.requested, tt.nodeMax, tt.contextWindow, tt.estimated)
			if got != tt.want {
				t.Errorf("CapMaxTokens = %d, want %d", got, tt.want)
			}
		})
	}
}
