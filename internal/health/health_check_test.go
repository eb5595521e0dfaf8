package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devrev/analysisdb/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	revision  model.RevisionID
	allocated int64
}

func (e *fakeEngine) Revision() model.RevisionID { return e.revision }
func (e *fakeEngine) MemoryAllocated() int64     { return e.allocated }

type fakeGC struct {
	last time.Time
}

func (g *fakeGC) LastGC() time.Time { return g.last }

func newChecker(eng *fakeEngine, gc GCSource, now time.Time) *HealthChecker {
	h := NewHealthChecker(&HealthCheckConfig{
		InstanceID:          "db-1",
		MemoryPressureBytes: 1000,
		GCStaleAfter:        time.Minute,
	}, eng, gc, nil)
	h.now = func() time.Time { return now }
	return h
}

func TestRunChecks(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		allocated  int64
		lastGC     time.Time
		wantStatus model.NodeStatus
		wantReady  bool
	}{
		{"healthy", 100, now.Add(-time.Second), model.NodeStatusHealthy, true},
		{"memory pressure", 1500, now.Add(-time.Second), model.NodeStatusDegraded, true},
		{"memory critical", 2500, now.Add(-time.Second), model.NodeStatusUnhealthy, false},
		{"gc stale", 100, now.Add(-time.Hour), model.NodeStatusDegraded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{revision: 7, allocated: tt.allocated}
			h := newChecker(eng, &fakeGC{last: tt.lastGC}, now)

			h.RunChecks()

			status := h.GetStatus()
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantReady, h.IsReady())
			assert.True(t, h.IsLive())
			assert.Equal(t, "db-1", status.InstanceID)
			assert.Equal(t, model.RevisionID(7), status.Metrics.Revision)
			assert.Equal(t, tt.allocated, status.Metrics.MemoBytes)
			assert.Len(t, h.GetChecks(), 2)
		})
	}
}

func TestRunChecks_NoGC(t *testing.T) {
	h := newChecker(&fakeEngine{}, nil, time.Now())
	h.RunChecks()

	checks := h.GetChecks()
	assert.Equal(t, StatusHealthy, checks["gc_staleness"].Status)
	assert.Equal(t, "Garbage collection disabled", checks["gc_staleness"].Message)
}

func TestHandlers(t *testing.T) {
	now := time.Now()
	h := newChecker(&fakeEngine{allocated: 5000}, &fakeGC{last: now}, now)
	h.RunChecks()

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["healthy"])
	})

	t.Run("readiness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body struct {
			Ready  bool                   `json:"ready"`
			Status model.HealthStatus     `json:"status"`
			Checks map[string]CheckResult `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Ready)
		assert.Equal(t, model.NodeStatusUnhealthy, body.Status.Status)
		assert.Equal(t, StatusCritical, body.Checks["memory_pressure"].Status)
	})

	t.Run("readiness after shutdown begins", func(t *testing.T) {
		ok := newChecker(&fakeEngine{}, nil, now)
		ok.RunChecks()
		ok.SetReadiness(false)

		rec := httptest.NewRecorder()
		ok.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
