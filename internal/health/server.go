// Package health exposes the client's observability surface over HTTP:
// a JSON status endpoint and prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is what the server reads from the API client. Read-only; not part
// of the control path.
type Status interface {
	ThrottleSeverity() int
	QueueDepth() int
	UnderMaintenance() bool
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	status Status
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(status Status, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		status: status,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := map[string]any{
		"status":            "ok",
		"throttle_severity": s.status.ThrottleSeverity(),
		"queue_depth":       s.status.QueueDepth(),
		"under_maintenance": s.status.UnderMaintenance(),
	}
	w.Header().Set("Content-Type", "application/json")
	if s.status.UnderMaintenance() {
		report["status"] = "maintenance"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
