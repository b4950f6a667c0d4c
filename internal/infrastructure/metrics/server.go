// Package metrics serves the Prometheus endpoint alongside health and status
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/infrastructure/health"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc produces the JSON body of /status
type StatusFunc func() interface{}

// Server exposes /metrics, /healthz and /status
type Server struct {
	port   int
	health *health.HealthManager
	status StatusFunc
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates the server. hm and status may be nil.
func NewServer(port int, hm *health.HealthManager, status StatusFunc, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: hm,
		status: status,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Handler returns the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Start serves in the background
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	code := http.StatusOK
	if s.health != nil {
		body["components"] = s.health.Check()
		if !s.health.IsHealthy() {
			body["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "status not available"})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
