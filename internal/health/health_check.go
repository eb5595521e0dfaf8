package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/devrev/analysisdb/internal/model"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Check statuses. A warning degrades the instance, a critical result also
// makes it not ready.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// EngineSource is the part of the query engine health checks read
type EngineSource interface {
	Revision() model.RevisionID
	MemoryAllocated() int64
}

// GCSource reports when garbage collection last ran
type GCSource interface {
	LastGC() time.Time
}

// HealthChecker performs health checks for an analysis database instance
type HealthChecker struct {
	config *HealthCheckConfig
	engine EngineSource
	gc     GCSource
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	metrics     model.HealthMetrics
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	InstanceID string
	Interval   time.Duration
	// MemoryPressureBytes is the engine allocation reported as a warning;
	// twice that is critical. Zero disables the check.
	MemoryPressureBytes int64
	// GCStaleAfter is how long without a sweep is reported as a warning.
	// Zero disables the check.
	GCStaleAfter time.Duration
}

// NewHealthChecker creates a new health checker. gc may be nil when
// garbage collection is disabled.
func NewHealthChecker(cfg *HealthCheckConfig, eng EngineSource, gc GCSource, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &HealthChecker{
		config:      cfg,
		engine:      eng,
		gc:          gc,
		logger:      logger,
		now:         time.Now,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: true,
		status:      model.NodeStatusHealthy,
	}
}

// Start runs the checks periodically until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check once and updates the overall status
func (h *HealthChecker) RunChecks() {
	now := h.now()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	metrics := model.HealthMetrics{
		Revision:  h.engine.Revision(),
		HeapBytes: mem.HeapAlloc,
		MemoBytes: h.engine.MemoryAllocated(),
	}
	if h.gc != nil {
		metrics.SecondsSinceGC = now.Sub(h.gc.LastGC()).Seconds()
	}

	results := []CheckResult{
		h.checkMemoryPressure(metrics, now),
		h.checkGCStaleness(metrics, now),
	}

	allHealthy := true
	allReady := true
	for _, result := range results {
		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = now
	h.metrics = metrics
	for _, result := range results {
		h.checks[result.Name] = result
	}

	switch {
	case !allReady:
		h.status = model.NodeStatusUnhealthy
	case !allHealthy:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusHealthy
	}
	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

// checkMemoryPressure compares the engine's allocation with the configured
// threshold
func (h *HealthChecker) checkMemoryPressure(m model.HealthMetrics, now time.Time) CheckResult {
	result := CheckResult{Name: "memory_pressure", Timestamp: now}
	limit := h.config.MemoryPressureBytes

	switch {
	case limit <= 0:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("Memo memory: %s, no limit", humanize.IBytes(uint64(max(m.MemoBytes, 0))))
	case m.MemoBytes >= 2*limit:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Memo memory critical: %s, limit %s",
			humanize.IBytes(uint64(m.MemoBytes)), humanize.IBytes(uint64(limit)))
	case m.MemoBytes >= limit:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Memo memory high: %s, limit %s",
			humanize.IBytes(uint64(m.MemoBytes)), humanize.IBytes(uint64(limit)))
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("Memo memory: %s of %s",
			humanize.IBytes(uint64(max(m.MemoBytes, 0))), humanize.IBytes(uint64(limit)))
	}
	return result
}

// checkGCStaleness warns when garbage collection has not run for a while
func (h *HealthChecker) checkGCStaleness(m model.HealthMetrics, now time.Time) CheckResult {
	result := CheckResult{Name: "gc_staleness", Status: StatusHealthy, Timestamp: now}

	if h.gc == nil {
		result.Message = "Garbage collection disabled"
		return result
	}

	lastGC := h.gc.LastGC()
	result.Message = fmt.Sprintf("Last garbage collection %s", humanize.RelTime(lastGC, now, "ago", "from now"))
	if h.config.GCStaleAfter > 0 && now.Sub(lastGC) > h.config.GCStaleAfter {
		result.Status = StatusWarning
	}
	return result
}

// IsLive returns whether the instance is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the instance is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthChecker) statusLocked() model.HealthStatus {
	return model.HealthStatus{
		InstanceID: h.config.InstanceID,
		Status:     h.status,
		Timestamp:  h.lastCheck.Unix(),
		Metrics:    h.metrics,
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.livenessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	writeProbe(w, live, map[string]interface{}{
		"healthy": live,
		"status":  status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.readinessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	writeProbe(w, ready, map[string]interface{}{
		"ready":  ready,
		"status": status,
		"checks": h.GetChecks(),
	})
}

func writeProbe(w http.ResponseWriter, ok bool, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
