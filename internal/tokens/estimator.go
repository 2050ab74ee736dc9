// Package tokens provides token estimation utilities using tiktoken.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/llmgate/internal/logging"
	"github.com/roelfdiedericks/llmgate/internal/upstream"
)

// Estimator provides token estimation using tiktoken
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// DefaultEncoding is cl100k_base, used by GPT-4 and Claude models
const DefaultEncoding = "cl100k_base"

// New creates a token estimator. Never fails: if the encoding tables are
// unavailable (offline start) it downgrades to chars/4 estimation.
func New() *Estimator {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		L_warn("tokens: failed to load encoding, using chars/4 fallback", "error", err)
		return &Estimator{}
	}
	return &Estimator{encoding: enc}
}

// Count returns the token count for a string.
// Falls back to chars/4 if tiktoken unavailable.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	tokens := e.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// perMessageOverhead covers role and structural tokens per chat message.
const perMessageOverhead = 4

// CountTurns estimates the prompt size of a conversation.
func (e *Estimator) CountTurns(turns []upstream.Turn) int {
	total := 0
	for _, t := range turns {
		total += e.Count(t.Content) + perMessageOverhead
	}
	return total
}

// SafetyMargin accounts for tokenizer inaccuracies across different models.
// tiktoken (cl100k_base) may undercount tokens for non-OpenAI models.
const SafetyMargin = 1.2

// CapMaxTokens calculates a safe max_tokens value that won't exceed the
// node's output limit. Applies SafetyMargin to estimatedInput to account for
// tokenizer variance.
func CapMaxTokens(requestedMax, nodeMax, contextWindow, estimatedInput int) int {
	capped := requestedMax
	if capped <= 0 || (nodeMax > 0 && capped > nodeMax) {
		capped = nodeMax
	}
	if contextWindow <= 0 {
		return capped
	}

	safeInput := int(float64(estimatedInput) * SafetyMargin)
	available := contextWindow - safeInput
	if available < 100 {
		available = 100 // minimum output
	}
	if capped <= 0 || capped > available {
		return available
	}
	return capped
}
