package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusFunc reports the current client status for the /health endpoint.
type StatusFunc func() map[string]any

// Server exposes /metrics and /health over HTTP.
type Server struct {
	httpServer *http.Server
	port       int
	status     StatusFunc
}

// NewServer creates an observability server on the given port. status may
// be nil, in which case /health reports only liveness.
func NewServer(port int, status StatusFunc) *Server {
	return &Server{port: port, status: status}
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.status != nil {
		for k, v := range s.status() {
			payload[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
