package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work. Jobs with the same Key coalesce: while
// one is queued, submitting another is a no-op.
type Job struct {
	Key string
	Run func(ctx context.Context) error
}

// SubmitResult is the outcome of TrySubmit
type SubmitResult int

const (
	Accepted SubmitResult = iota
	Coalesced
	Rejected
)

// String returns the result name used in logs and metric labels
func (r SubmitResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Coalesced:
		return "coalesced"
	default:
		return "rejected"
	}
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// Pool runs jobs on a bounded set of goroutines
type Pool struct {
	name       string
	maxWorkers int
	queueSize  int
	jobs       chan Job
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}

	mu       sync.Mutex
	queued   map[string]struct{}
	inflight int
	idle     chan struct{}

	activeWorkers int32
	accepted      uint64
	coalesced     uint64
	completed     uint64
	failed        uint64
	rejected      uint64
}

// New creates a pool and starts its workers
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	p := &Pool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		queueSize:  cfg.QueueSize,
		jobs:       make(chan Job, cfg.QueueSize),
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		stopChan:   make(chan struct{}),
		queued:     make(map[string]struct{}),
		idle:       idle,
	}

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Worker pool started",
		zap.String("name", p.name),
		zap.Int("max_workers", p.maxWorkers),
		zap.Int("queue_size", p.queueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case job := <-p.jobs:
			p.mu.Lock()
			delete(p.queued, job.Key)
			p.mu.Unlock()

			p.execute(id, job)
			p.finish()
		}
	}
}

func (p *Pool) execute(workerID int, job Job) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	start := time.Now()
	err := p.safeRun(job)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Error("Job failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("job", job.Key),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&p.completed, 1)
	p.logger.Debug("Job completed",
		zap.String("pool", p.name),
		zap.Int("worker_id", workerID),
		zap.String("job", job.Key),
		zap.Duration("duration", duration))
}

// safeRun executes a job with panic recovery
func (p *Pool) safeRun(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(p.ctx)
}

func (p *Pool) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.inflight == 0 {
		close(p.idle)
	}
}

// TrySubmit queues a job without blocking
func (p *Pool) TrySubmit(job Job) SubmitResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejected, 1)
		return Rejected
	default:
	}

	if _, ok := p.queued[job.Key]; ok {
		atomic.AddUint64(&p.coalesced, 1)
		return Coalesced
	}

	select {
	case p.jobs <- job:
	default:
		atomic.AddUint64(&p.rejected, 1)
		return Rejected
	}

	p.queued[job.Key] = struct{}{}
	if p.inflight == 0 {
		p.idle = make(chan struct{})
	}
	p.inflight++
	atomic.AddUint64(&p.accepted, 1)
	return Accepted
}

// Drain waits until every accepted job has finished
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels running jobs and waits for the workers to exit. Queued jobs
// are dropped and no longer count towards Drain.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool", zap.String("name", p.name))
		p.mu.Lock()
		close(p.stopChan)
		p.mu.Unlock()
		p.cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}

		if dropped := p.dropQueued(); dropped > 0 {
			p.logger.Info("Dropped queued jobs",
				zap.String("name", p.name),
				zap.Int("dropped", dropped))
		}
	})
	return err
}

// dropQueued discards jobs still waiting in the queue
func (p *Pool) dropQueued() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := 0
	for {
		select {
		case job := <-p.jobs:
			delete(p.queued, job.Key)
			p.inflight--
			dropped++
		default:
			if dropped > 0 && p.inflight == 0 {
				close(p.idle)
			}
			return dropped
		}
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name          string
	MaxWorkers    int
	ActiveWorkers int
	QueueSize     int
	QueuedJobs    int
	Accepted      uint64
	Coalesced     uint64
	Completed     uint64
	Failed        uint64
	Rejected      uint64
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:          p.name,
		MaxWorkers:    p.maxWorkers,
		ActiveWorkers: int(atomic.LoadInt32(&p.activeWorkers)),
		QueueSize:     p.queueSize,
		QueuedJobs:    len(p.jobs),
		Accepted:      atomic.LoadUint64(&p.accepted),
		Coalesced:     atomic.LoadUint64(&p.coalesced),
		Completed:     atomic.LoadUint64(&p.completed),
		Failed:        atomic.LoadUint64(&p.failed),
		Rejected:      atomic.LoadUint64(&p.rejected),
	}
}

// QueueUtilization returns the queue utilization as a percentage
func (s Stats) QueueUtilization() float64 {
	if s.QueueSize == 0 {
		return 0
	}
	return (float64(s.QueuedJobs) / float64(s.QueueSize)) * 100.0
}
