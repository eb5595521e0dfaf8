package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/analysisdb/internal/errors"
	"github.com/devrev/analysisdb/internal/health"
	"github.com/devrev/analysisdb/internal/model"
	"github.com/devrev/analysisdb/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MemoryProfiler produces the per-query memory report
type MemoryProfiler interface {
	PerQueryMemoryUsage(ctx context.Context) ([]model.QueryMemory, error)
}

// MetricsServer serves Prometheus metrics, health probes and diagnostics
// over HTTP
type MetricsServer struct {
	httpServer *http.Server
	health     *health.HealthChecker
	profiler   MemoryProfiler
	logger     *zap.Logger
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port        int
	MetricsPath string
	// AllowMemoryProfile exposes /debug/query-memory. Serving it discards
	// every memo table.
	AllowMemoryProfile bool
}

// NewMetricsServer creates a new metrics server. A nil gatherer serves the
// default registry.
func NewMetricsServer(cfg *MetricsServerConfig, gatherer prometheus.Gatherer, hc *health.HealthChecker, profiler MemoryProfiler, logger *zap.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		health:   hc,
		profiler: profiler,
		logger:   logger,
	}

	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", hc.LivenessHandler)
	mux.HandleFunc("/ready", hc.ReadinessHandler)
	if cfg.AllowMemoryProfile && profiler != nil {
		mux.HandleFunc("/debug/query-memory", ms.queryMemoryHandler)
	}

	return ms
}

// Handler returns the HTTP handler of the server
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve listens and serves until ctx is done, then shuts down gracefully
func (s *MetricsServer) Serve(ctx context.Context) error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop() error {
	s.logger.Info("Stopping metrics server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

// queryMemoryHandler serves the per-query memory report. It only accepts
// POST because producing the report discards every memo table.
func (s *MetricsServer) queryMemoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rows, err := s.profiler.PerQueryMemoryUsage(r.Context())
	if err != nil {
		code := errors.HTTPStatus(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("Memory profile failed", zap.Error(err))
		} else {
			s.logger.Warn("Memory profile aborted", zap.Int("status", code), zap.Error(err))
		}
		http.Error(w, err.Error(), code)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, service.FormatMemoryReport(rows))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"queries":   rows,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
