// Package stream drives one logical request through an ordered list of
// candidate nodes, yielding text deltas to the caller and failing over
// between nodes on classified errors.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/llmgate/internal/breaker"
	"github.com/roelfdiedericks/llmgate/internal/classify"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
	"github.com/roelfdiedericks/llmgate/internal/node"
	"github.com/roelfdiedericks/llmgate/internal/stats"
	"github.com/roelfdiedericks/llmgate/internal/upstream"
)

// Chunk is one element of a session's output sequence. Text chunks carry
// Done=false; the final sentinel carries Done=true with Reason "stop" or
// "error".
type Chunk struct {
	Text   string
	Index  int
	Done   bool
	Reason string // "stop" | "error", sentinel only
	Kind   classify.Kind
	Err    error
}

// chunkBuffer bounds the output channel so a slow consumer applies
// backpressure to the upstream read loop.
const chunkBuffer = 32

// Session is one transient request flow. It owns its candidate list (a copy)
// and its attempt records; nothing here is shared between sessions.
type Session struct {
	id         string
	candidates []node.Node
	clients    map[string]upstream.Caller
	tracker    *stats.Tracker
	breaker    *breaker.Breaker
	policy     classify.Policy

	turns     []upstream.Turn
	maxTokens int
}

// New assembles a session over an already-ranked candidate list.
func New(
	candidates []node.Node,
	clients map[string]upstream.Caller,
	tracker *stats.Tracker,
	brk *breaker.Breaker,
	policy classify.Policy,
	turns []upstream.Turn,
	maxTokens int,
) *Session {
	owned := make([]node.Node, len(candidates))
	copy(owned, candidates)
	return &Session{
		id:         uuid.NewString()[:8],
		candidates: owned,
		clients:    clients,
		tracker:    tracker,
		breaker:    brk,
		policy:     policy,
		turns:      turns,
		maxTokens:  maxTokens,
	}
}

// ID returns the session's short identifier (for log correlation).
func (s *Session) ID() string {
	return s.id
}

// Run starts the producer goroutine and returns the output sequence.
// The sequence is finite and not restartable; it ends with a Done sentinel
// unless the caller cancels ctx, in which case the channel is closed without
// one (the consumer is gone).
func (s *Session) Run(ctx context.Context) <-chan Chunk {
	out := make(chan Chunk, chunkBuffer)
	go s.run(ctx, out)
	return out
}

func (s *Session) run(ctx context.Context, out chan<- Chunk) {
	defer close(out)

	attempts := make([]AttemptRecord, 0, len(s.candidates))
	index := 0

	for _, cand := range s.candidates {
		if ctx.Err() != nil {
			L_debug("session cancelled before attempt", "session", s.id, "node", cand.ID)
			return
		}

		caller := s.clients[cand.ID]
		if caller == nil {
			// candidate list and client pool are built from the same
			// registry; a miss means a programming error upstream
			L_error("session: no client for node", "session", s.id, "node", cand.ID)
			continue
		}

		// Gate check at attempt time. For a half-open circuit this reserves
		// the single trial slot; we must resolve it via OnResult or, on
		// cancellation, ReleaseTrial.
		if !s.breaker.Allow(cand.ID) {
			attempts = append(attempts, AttemptRecord{NodeID: cand.ID, Skipped: true})
			L_debug("session: node gated off, skipping", "session", s.id, "node", cand.ID)
			continue
		}

		outcome, rec := s.attemptNode(ctx, cand, caller, out, &index)
		if rec != nil {
			attempts = append(attempts, *rec)
		}
		switch outcome {
		case attemptCompleted, attemptCancelled:
			return
		case attemptFailFast:
			// Surfaced immediately: failover cannot fix this class of error.
			failed := &ExhaustedError{Attempts: attempts}
			L_warn("session failed fast", "session", s.id, "node", cand.ID, "kind", failed.LastKind())
			s.emit(ctx, out, Chunk{Done: true, Reason: "error", Kind: failed.LastKind(), Err: failed})
			return
		case attemptNext:
		}
	}

	// All candidates exhausted: surface the aggregated error.
	exhausted := &ExhaustedError{Attempts: attempts}
	L_warn("session exhausted", "session", s.id, "attempts", len(attempts), "error", exhausted.Error())
	s.emit(ctx, out, Chunk{
		Done:   true,
		Reason: "error",
		Kind:   exhausted.LastKind(),
		Err:    exhausted,
	})
}

// attemptOutcome is the disposition of one candidate's retry loop.
type attemptOutcome int

const (
	attemptNext      attemptOutcome = iota // advance to the next candidate
	attemptCompleted                       // session completed, sentinel emitted
	attemptCancelled                       // caller gone, nothing more to do
	attemptFailFast                        // stop the session, no failover
)

// attemptNode runs the same-node retry loop for one candidate. The record is
// the last attempt against this node, nil when cancelled mid-attempt (an
// unknown outcome records nothing).
func (s *Session) attemptNode(
	ctx context.Context,
	cand node.Node,
	caller upstream.Caller,
	out chan<- Chunk,
	index *int,
) (attemptOutcome, *AttemptRecord) {
	retries := 0

	for {
		timeout := s.tracker.OptimalTimeout(cand.ID)
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		started := time.Now()
		bytesStreamed := 0

		L_debug("session attempt",
			"session", s.id,
			"node", cand.ID,
			"model", cand.Model,
			"timeout", timeout,
			"retry", retries,
		)

		res, err := caller.Stream(attemptCtx, s.turns, s.maxTokens, func(delta string) {
			bytesStreamed += len(delta)
			s.emit(ctx, out, Chunk{Text: delta, Index: *index})
			*index++
		})
		cancel()
		latencyMs := float64(time.Since(started).Microseconds()) / 1000.0

		// Caller disconnect: abort with no bookkeeping for this attempt.
		// Its outcome is unknown and must not pollute the statistics.
		if ctx.Err() != nil {
			s.breaker.ReleaseTrial(cand.ID)
			L_info("session cancelled mid-attempt", "session", s.id, "node", cand.ID, "bytesStreamed", bytesStreamed)
			return attemptCancelled, nil
		}

		if err == nil {
			quality := QualityScore(res.Text)
			s.tracker.Record(cand.ID, stats.Sample{
				LatencyMs: latencyMs,
				Outcome:   stats.OutcomeSuccess,
				Quality:   quality,
			})
			s.breaker.OnResult(cand.ID, true)
			L_info("session completed",
				"session", s.id,
				"node", cand.ID,
				"latencyMs", latencyMs,
				"quality", quality,
				"bytesStreamed", bytesStreamed,
				"finishReason", res.FinishReason,
			)
			s.emit(ctx, out, Chunk{Done: true, Reason: "stop"})
			return attemptCompleted, nil
		}

		kind := classify.Classify(err)
		outcome := stats.OutcomeError
		if kind == classify.KindEmptyResponse {
			outcome = stats.OutcomeEmpty
		}
		s.tracker.Record(cand.ID, stats.Sample{LatencyMs: latencyMs, Outcome: outcome})
		s.breaker.OnResult(cand.ID, false)

		rec := &AttemptRecord{NodeID: cand.ID, Kind: kind, Message: shortMessage(err)}
		L_warn("session attempt failed",
			"session", s.id,
			"node", cand.ID,
			"kind", kind,
			"retry", retries,
			"error", err,
		)

		if s.policy.RetrySameNode(kind) && retries < s.policy.MaxRetriesPerNode {
			wait := s.policy.Backoff(retries)
			retries++
			L_debug("session: retrying same node", "session", s.id, "node", cand.ID, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return attemptCancelled, rec
			}
			// The breaker may have opened during the backoff (other
			// sessions hitting the same node); re-check before retrying.
			if !s.breaker.Allow(cand.ID) {
				return attemptNext, rec
			}
			continue
		}

		if !s.policy.Failover(kind) {
			return attemptFailFast, rec
		}
		return attemptNext, rec
	}
}

// emit delivers a chunk unless the consumer is gone.
func (s *Session) emit(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}

func shortMessage(err error) string {
	msg := err.Error()
	if len(msg) > 160 {
		msg = msg[:160] + "..."
	}
	return msg
}

// QualityScore rates a completed response by length and lexical density:
// 0.4*min(1, len/500) + 0.6*(uniqueWords/totalWords).
func QualityScore(text string) float64 {
	lengthScore := float64(len(text)) / 500.0
	if lengthScore > 1 {
		lengthScore = 1
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	density := float64(len(unique)) / float64(len(words))

	return 0.4*lengthScore + 0.6*density
}
