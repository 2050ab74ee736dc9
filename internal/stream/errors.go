package stream

import (
	"fmt"
	"strings"

	"github.com/roelfdiedericks/llmgate/internal/classify"
)

// AttemptRecord is the post-mortem of one attempt within a session.
type AttemptRecord struct {
	NodeID  string
	Kind    classify.Kind
	Message string
	Skipped bool // gated off by the breaker, no network call made
}

// ExhaustedError aggregates every attempted node and its error kind, so the
// caller can distinguish "temporary, try again" from "configuration problem".
// Never a raw stack trace.
type ExhaustedError struct {
	Attempts []AttemptRecord
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "no candidate nodes available"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("all %d candidate nodes failed: ", len(e.Attempts)))
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Skipped {
			parts = append(parts, fmt.Sprintf("%s (skipped: circuit open)", a.NodeID))
			continue
		}
		if a.Message != "" {
			parts = append(parts, fmt.Sprintf("%s (%s: %s)", a.NodeID, a.Kind, a.Message))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%s)", a.NodeID, a.Kind))
		}
	}
	b.WriteString(strings.Join(parts, "; "))
	return b.String()
}

// LastKind returns the kind of the last non-skipped attempt, or Unknown when
// every candidate was skipped.
func (e *ExhaustedError) LastKind() classify.Kind {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if !e.Attempts[i].Skipped {
			return e.Attempts[i].Kind
		}
	}
	return classify.KindUnknown
}

// UserMessage renders an actionable summary for the end of the line: the
// likely cause class plus the last node and model attempted.
func (e *ExhaustedError) UserMessage() string {
	kind := e.LastKind()
	last := ""
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if !e.Attempts[i].Skipped {
			last = e.Attempts[i].NodeID
			break
		}
	}
	msg := classify.UserMessage(kind)
	if last != "" {
		return fmt.Sprintf("%s (last node attempted: %s)", msg, last)
	}
	return msg
}
