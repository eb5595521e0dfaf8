package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/devrev/analysisdb/internal/model"
)

// Snapshot is a read view of the engine pinned to one revision. While any
// snapshot is open no write can complete, so holders must poll
// QueryContext.CheckCanceled and Close the snapshot once it reports
// cancellation.
type Snapshot struct {
	engine   *MemoryEngine
	revision model.RevisionID
	once     sync.Once
}

// Snapshot opens a read view. It blocks while a write is in progress.
func (e *MemoryEngine) Snapshot() *Snapshot {
	e.mu.RLock()
	return &Snapshot{engine: e, revision: e.Revision()}
}

// Revision returns the revision the snapshot is pinned to
func (s *Snapshot) Revision() model.RevisionID {
	return s.revision
}

// Close releases the snapshot. It is safe to call more than once.
func (s *Snapshot) Close() {
	s.once.Do(s.engine.mu.RUnlock)
}

// Canceled reports whether a write is waiting for this snapshot
func (s *Snapshot) Canceled() bool {
	return s.engine.pendingWriters.Load() > 0 || s.engine.Revision() != s.revision
}

// Query returns the memoized value of (table, key), computing it with fn
// when no valid entry exists.
func (s *Snapshot) Query(ctx context.Context, table model.TableID, key string, fn ComputeFunc) (any, error) {
	res, err := s.query(ctx, table, key, fn)
	if err != nil {
		return nil, err
	}
	return res.value, nil
}

// QueryContext is handed to a ComputeFunc. It records every input and
// query the computation reads.
type QueryContext struct {
	ctx   context.Context
	snap  *Snapshot
	deps  map[model.InputKey]struct{}
	floor model.Durability
}

func newQueryContext(ctx context.Context, snap *Snapshot) *QueryContext {
	return &QueryContext{
		ctx:   ctx,
		snap:  snap,
		deps:  make(map[model.InputKey]struct{}),
		floor: model.DurabilityHigh,
	}
}

// Context returns the caller's context
func (qc *QueryContext) Context() context.Context {
	return qc.ctx
}

// Revision returns the revision the computation runs at
func (qc *QueryContext) Revision() model.RevisionID {
	return qc.snap.revision
}

// CheckCanceled is the poll point for long computations. It returns
// ErrCanceled once a newer revision is pending, or the context error.
func (qc *QueryContext) CheckCanceled() error {
	if qc.snap.Canceled() {
		return ErrCanceled
	}
	return qc.ctx.Err()
}

// Read returns an input and records it as a dependency. A missing input
// pins the computation to LOW durability so that any later write to the
// slot invalidates it.
func (qc *QueryContext) Read(key model.InputKey) (any, bool) {
	qc.deps[key] = struct{}{}
	slot, ok := qc.snap.engine.inputs[key]
	if !ok {
		qc.floor = model.DurabilityLow
		return nil, false
	}
	qc.floor = model.MinDurability(qc.floor, slot.durability)
	return slot.value, true
}

// Query runs a nested query and inherits its dependencies
func (qc *QueryContext) Query(table model.TableID, key string, fn ComputeFunc) (any, error) {
	res, err := qc.snap.query(qc.ctx, table, key, fn)
	if err != nil {
		return nil, err
	}
	for _, dep := range res.deps {
		qc.deps[dep] = struct{}{}
	}
	qc.floor = model.MinDurability(qc.floor, res.floor)
	return res.value, nil
}

// queryResult is what a query contributes to its caller
type queryResult struct {
	value any
	deps  []model.InputKey
	floor model.Durability
}

func (s *Snapshot) query(ctx context.Context, table model.TableID, key string, fn ComputeFunc) (*queryResult, error) {
	e := s.engine
	t, ok := e.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if s.Canceled() {
		return nil, ErrCanceled
	}

	if res, ok := s.lookup(t, key); ok {
		return res, nil
	}

	flightKey := fmt.Sprintf("%s/%d/%s", table, s.revision, key)
	v, err, _ := e.flights.Do(flightKey, func() (any, error) {
		qc := newQueryContext(ctx, s)
		value, err := fn(qc)
		if err != nil {
			return nil, err
		}
		// A computation that finished after a write was requested may
		// have read a revision that is about to be replaced.
		if s.Canceled() {
			return nil, ErrCanceled
		}
		e.allocated.Add(t.store(key, value, qc.deps, qc.floor, s.revision))

		res := &queryResult{value: value, floor: qc.floor}
		for dep := range qc.deps {
			res.deps = append(res.deps, dep)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*queryResult), nil
}

// lookup returns a cached value that is valid at the snapshot revision.
// An entry whose value was swept but whose edges are still valid is marked
// verified and reported as a miss, so the caller recomputes only the value.
func (s *Snapshot) lookup(t *MemoTable, key string) (*queryResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.entries.Search(key)
	if !ok {
		return nil, false
	}

	if m.verifiedAt != s.revision {
		if !s.depsUnchanged(m) {
			return nil, false
		}
		m.verifiedAt = s.revision
	}
	if !m.hasValue {
		return nil, false
	}

	deps := make([]model.InputKey, len(m.deps))
	copy(deps, m.deps)
	return &queryResult{value: m.value, deps: deps, floor: m.floor}, true
}

// depsUnchanged reports whether no input read by m changed after it was
// verified. The durability clock answers without walking the edges when no
// input at or above the entry's floor changed.
func (s *Snapshot) depsUnchanged(m *memo) bool {
	e := s.engine
	if e.clock.LastChanged(m.floor) <= m.verifiedAt {
		return true
	}
	for _, dep := range m.deps {
		if slot, ok := e.inputs[dep]; ok && slot.changedAt > m.verifiedAt {
			return false
		}
	}
	return true
}
