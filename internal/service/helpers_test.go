package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/devrev/analysisdb/internal/engine"
	"github.com/devrev/analysisdb/internal/metrics"
	"github.com/devrev/analysisdb/internal/model"
	"github.com/devrev/analysisdb/internal/registry"
	"github.com/devrev/analysisdb/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

// mockEngine is a testify mock of engine.Engine. It doubles as the Tx
// handed to Transact callbacks.
type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) SetInput(key model.InputKey, value any, d model.Durability) {
	m.Called(key, value, d)
}

func (m *mockEngine) ReadInput(key model.InputKey) (any, bool) {
	args := m.Called(key)
	return args.Get(0), args.Bool(1)
}

func (m *mockEngine) SyntheticWrite(d model.Durability) {
	m.Called(d)
}

func (m *mockEngine) Sweep(table model.TableID, s model.SweepStrategy) (int64, error) {
	args := m.Called(table, s)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockEngine) MemoryAllocated() int64 {
	return m.Called().Get(0).(int64)
}

func (m *mockEngine) Transact(fn func(tx engine.Tx) error) error {
	m.Called()
	return fn(m)
}

func (m *mockEngine) Revision() model.RevisionID {
	return m.Called().Get(0).(model.RevisionID)
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv wires the services around a real in-memory engine
type testEnv struct {
	engine   *engine.MemoryEngine
	registry *registry.Registry
	metrics  *metrics.Metrics
	db       *service.DatabaseService
	gc       *service.GCService
	profiler *service.ProfilerService
	clock    *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	reg := registry.MustDefault()
	eng := engine.NewMemoryEngine(reg.IDs(), logger)
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	clock := newFakeClock()

	gc := service.NewGCService(&service.GCConfig{Enabled: true, Cooldown: service.DefaultGCCooldown},
		eng, reg, nil, m, logger)
	gc.SetClock(clock.Now)

	return &testEnv{
		engine:   eng,
		registry: reg,
		metrics:  m,
		db:       service.NewDatabaseService(&service.DatabaseConfig{MaxFileSize: 1 << 20}, eng, m, logger),
		gc:       gc,
		profiler: service.NewProfilerService(eng, reg, m, logger),
		clock:    clock,
	}
}

func strPtr(s string) *string { return &s }

// lineCount is a derivation over the text of one file
func lineCount(file model.FileID) engine.ComputeFunc {
	return func(qc *engine.QueryContext) (any, error) {
		v, ok := qc.Read(model.FileTextKey(file))
		if !ok {
			return 0, nil
		}
		text := v.(string)
		n := 1
		for _, r := range text {
			if r == '\n' {
				n++
			}
		}
		return n, nil
	}
}

// rootText concatenates the texts of every file of a root
func rootText(root model.SourceRootID) engine.ComputeFunc {
	return func(qc *engine.QueryContext) (any, error) {
		v, ok := qc.Read(model.SourceRootKey(root))
		if !ok {
			return "", nil
		}
		out := ""
		for _, f := range v.(*model.SourceRoot).FileIDs() {
			if err := qc.CheckCanceled(); err != nil {
				return nil, err
			}
			text, _ := qc.Read(model.FileTextKey(f))
			s, _ := text.(string)
			out += s
		}
		return out, nil
	}
}
