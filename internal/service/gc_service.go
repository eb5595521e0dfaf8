package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/devrev/analysisdb/internal/engine"
	"github.com/devrev/analysisdb/internal/errors"
	"github.com/devrev/analysisdb/internal/metrics"
	"github.com/devrev/analysisdb/internal/model"
	"github.com/devrev/analysisdb/internal/registry"
	"github.com/devrev/analysisdb/internal/util/workerpool"
	"go.uber.org/zap"
)

// DefaultGCCooldown is the minimum time between two garbage collection
// checks that actually sweep
const DefaultGCCooldown = 100 * time.Millisecond

// gcJobKey coalesces queued asynchronous sweeps
const gcJobKey = "memo-gc"

// GCConfig holds garbage collection configuration
type GCConfig struct {
	Enabled  bool
	Cooldown time.Duration
	Async    bool
}

// GCService sweeps cached values out of the registered memo tables. Edges
// are kept, so an input change is still detected on the next read and only
// the swept values are recomputed.
type GCService struct {
	config   *GCConfig
	engine   engine.Engine
	registry *registry.Registry
	pool     *workerpool.Pool
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu          sync.Mutex
	now         func() time.Time
	lastGCCheck time.Time
	lastGC      time.Time

	// sweepMu serializes sweeps started inline and from the pool
	sweepMu sync.Mutex
}

// NewGCService creates a new garbage collection service. pool is only used
// when cfg.Async is set.
func NewGCService(cfg *GCConfig, eng engine.Engine, reg *registry.Registry, pool *workerpool.Pool, m *metrics.Metrics, logger *zap.Logger) *GCService {
	if cfg == nil {
		cfg = &GCConfig{Enabled: true, Cooldown: DefaultGCCooldown}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	return &GCService{
		config:      cfg,
		engine:      eng,
		registry:    reg,
		pool:        pool,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
		lastGCCheck: now,
		lastGC:      now,
	}
}

// SetClock replaces the time source. A nil clock turns
// MaybeCollectGarbage into a no-op. The cooldown restarts from the new
// clock's current time.
func (s *GCService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
	if now != nil {
		t := now()
		s.lastGCCheck = t
		s.lastGC = t
	}
}

// MaybeCollectGarbage sweeps if the cooldown elapsed since the last check.
// It reports whether a sweep was started or queued. Callers may invoke it
// as often as they like, e.g. on every idle tick.
func (s *GCService) MaybeCollectGarbage(ctx context.Context) bool {
	if !s.config.Enabled {
		s.metrics.RecordGCCheck("disabled")
		return false
	}

	s.mu.Lock()
	if s.now == nil {
		s.mu.Unlock()
		s.metrics.RecordGCCheck("disabled")
		return false
	}
	now := s.now()
	if now.Sub(s.lastGCCheck) <= s.config.Cooldown {
		s.mu.Unlock()
		s.metrics.RecordGCCheck("cooldown")
		return false
	}
	s.lastGCCheck = now
	s.mu.Unlock()

	if s.config.Async && s.pool != nil {
		return s.enqueue()
	}

	if _, err := s.CollectGarbage(ctx); err != nil {
		s.logger.Warn("Garbage collection failed", zap.Error(err))
	}
	s.metrics.RecordGCCheck("swept")
	return true
}

func (s *GCService) enqueue() bool {
	res := s.pool.TrySubmit(workerpool.Job{
		Key: gcJobKey,
		Run: func(ctx context.Context) error {
			_, err := s.CollectGarbage(ctx)
			return err
		},
	})

	switch res {
	case workerpool.Rejected:
		s.metrics.RecordGCQueueRejected()
		s.logger.Warn("Garbage collection queue full, sweep skipped")
		return false
	default:
		s.metrics.RecordGCCheck(res.String())
		return true
	}
}

// CollectGarbage sweeps cached values from every registered table in
// registry order, one table at a time, regardless of the cooldown. It
// returns the bytes reclaimed.
func (s *GCService) CollectGarbage(ctx context.Context) (int64, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	startTime := time.Now()
	strategy := model.SweepStrategy{}.DiscardValuesOnly().SweepAllRevisions()

	var total int64
	for _, table := range s.registry.Tables() {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		reclaimed, err := s.engine.Sweep(table.ID, strategy)
		if err != nil {
			if stderrors.Is(err, engine.ErrUnknownTable) {
				return total, errors.UnknownTable(string(table.ID))
			}
			return total, errors.InternalError("sweep failed", err)
		}
		total += reclaimed

		s.metrics.RecordGCReclaimed(table.Label(), reclaimed)
		s.logger.Debug("Swept memo table",
			zap.String("table", table.Label()),
			zap.Int64("reclaimed_bytes", reclaimed))
	}

	s.mu.Lock()
	finishedAt := time.Now()
	if s.now != nil {
		finishedAt = s.now()
	}
	s.lastGC = finishedAt
	s.mu.Unlock()

	duration := time.Since(startTime)
	s.metrics.RecordGCRun(duration.Seconds(), float64(finishedAt.Unix()))
	s.metrics.UpdateEngineAllocated(s.engine.MemoryAllocated())

	s.logger.Info("Garbage collection completed",
		zap.Int("tables", s.registry.Len()),
		zap.Int64("reclaimed_bytes", total),
		zap.Duration("duration", duration))

	return total, nil
}

// LastGC returns when the last sweep finished
func (s *GCService) LastGC() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGC
}

// LastGCCheck returns when the cooldown was last passed
func (s *GCService) LastGCCheck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGCCheck
}
