// Package httpserver is a minimal demo transport over the gateway facade:
// one chat endpoint (streaming and non-streaming) and a status endpoint.
// The production transport layer lives elsewhere; this exists so the gateway
// can be exercised end to end with curl.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/roelfdiedericks/llmgate/internal/gateway"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
)

// Server wraps the demo HTTP server.
type Server struct {
	server  *http.Server
	gateway *gateway.Gateway
}

// New creates the demo server against a gateway.
func New(listenAddr string, gw *gateway.Gateway) *Server {
	if listenAddr == "" {
		listenAddr = "127.0.0.1:3380"
	}

	s := &Server{gateway: gw}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat", s.logRequest(s.handleChat))
	mux.HandleFunc("/status", s.logRequest(s.handleStatus))

	s.server = &http.Server{
		Addr:        listenAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			L_error("httpdemo: server error", "error", err)
		}
	}()
	L_info("httpdemo: listening", "addr", s.server.Addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

// logRequest wraps a handler with access logging.
func (s *Server) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		L_debug("httpdemo: request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "elapsed", time.Since(start).Round(time.Millisecond))
	}
}
