package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/devrev/analysisdb/internal/engine"
	"github.com/devrev/analysisdb/internal/metrics"
	"go.uber.org/zap"
)

// Scheduler periodically offers the garbage collector a chance to run and
// refreshes the memory gauges
type Scheduler struct {
	interval time.Duration
	gc       *GCService
	engine   engine.Engine
	metrics  *metrics.Metrics
	logger   *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler ticking every interval
func NewScheduler(interval time.Duration, gc *GCService, eng engine.Engine, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		gc:       gc,
		engine:   eng,
		metrics:  m,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
		s.logger.Info("GC scheduler started", zap.Duration("interval", s.interval))
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.gc.MaybeCollectGarbage(ctx)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.metrics.UpdateSystemStats(int64(mem.HeapAlloc), runtime.NumGoroutine())
	s.metrics.UpdateEngineAllocated(s.engine.MemoryAllocated())
}

// Stop stops the loop and waits for an in-progress tick to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("GC scheduler stopped")
}
