package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/roelfdiedericks/llmgate/internal/gateway"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
	"github.com/roelfdiedericks/llmgate/internal/stream"
)

// chatRequest is the demo wire format for POST /v1/chat.
type chatRequest struct {
	gateway.Request
	Stream bool `json:"stream,omitempty"`
}

// chatChunk is one streamed line in the response body (JSON lines).
type chatChunk struct {
	Text    string `json:"text,omitempty"`
	Index   int    `json:"index"`
	Done    bool   `json:"done,omitempty"`
	Reason  string `json:"reason,omitempty"`
	ErrKind string `json:"errorKind,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !req.Stream {
		text, err := s.gateway.Answer(r.Context(), req.Request)
		if err != nil {
			writeChatError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
		return
	}

	chunks, err := s.gateway.StreamAnswer(r.Context(), req.Request)
	if err != nil {
		writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for c := range chunks {
		line := chatChunk{
			Text:   c.Text,
			Index:  c.Index,
			Done:   c.Done,
			Reason: c.Reason,
		}
		if c.Err != nil {
			line.ErrKind = string(c.Kind)
			line.Error = userFacing(c.Err)
		}
		if err := enc.Encode(line); err != nil {
			// client went away; the session observes the request context
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime": s.gateway.Uptime().Round(time.Second).String(),
		"nodes":  s.gateway.Status(),
	})
}

// writeChatError maps gateway failures to HTTP responses without leaking
// stack traces.
func writeChatError(w http.ResponseWriter, err error) {
	var exhausted *stream.ExhaustedError
	status := http.StatusBadGateway
	msg := err.Error()
	if errors.As(err, &exhausted) {
		msg = exhausted.UserMessage()
	}
	L_warn("httpdemo: chat failed", "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func userFacing(err error) string {
	var exhausted *stream.ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.UserMessage()
	}
	return err.Error()
}
