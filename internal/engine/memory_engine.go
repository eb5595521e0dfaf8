package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/devrev/analysisdb/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// firstRevision is the revision of a freshly created engine
const firstRevision model.RevisionID = 1

type inputSlot struct {
	value      any
	durability model.Durability
	changedAt  model.RevisionID
	size       int64
}

// MemoryEngine is an in-memory Engine. The set of memo tables is fixed at
// construction.
type MemoryEngine struct {
	// mu guards inputs and clock. Snapshots hold it for reading, writers
	// hold it exclusively.
	mu     sync.RWMutex
	inputs map[model.InputKey]*inputSlot
	clock  *DurabilityClock

	revision       atomic.Uint64
	pendingWriters atomic.Int32
	allocated      atomic.Int64

	tables  map[model.TableID]*MemoTable
	order   []model.TableID
	flights singleflight.Group

	logger *zap.Logger
}

var (
	_ Engine      = (*MemoryEngine)(nil)
	_ Snapshotter = (*MemoryEngine)(nil)

	_ DurabilityReporter = (*MemoryEngine)(nil)
)

// NewMemoryEngine creates an engine with one memo table per id
func NewMemoryEngine(tables []model.TableID, logger *zap.Logger) *MemoryEngine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &MemoryEngine{
		inputs: make(map[model.InputKey]*inputSlot),
		clock:  NewDurabilityClock(firstRevision),
		tables: make(map[model.TableID]*MemoTable, len(tables)),
		logger: logger,
	}
	e.revision.Store(uint64(firstRevision))

	for _, id := range tables {
		if _, dup := e.tables[id]; dup {
			continue
		}
		e.tables[id] = newMemoTable(id)
		e.order = append(e.order, id)
	}
	return e
}

// beginWrite publishes the pending write before waiting for readers, so
// that readers polling CheckCanceled can unwind instead of blocking us.
func (e *MemoryEngine) beginWrite() {
	e.pendingWriters.Add(1)
	e.mu.Lock()
}

func (e *MemoryEngine) endWrite() {
	e.pendingWriters.Add(-1)
	e.mu.Unlock()
}

// bumpLocked advances the revision and records a change at durability d.
// Callers hold mu exclusively.
func (e *MemoryEngine) bumpLocked(d model.Durability) model.RevisionID {
	rev := model.RevisionID(e.revision.Add(1))
	e.clock.Bump(d, rev)
	return rev
}

// setInputLocked stores an input. When the slot's durability changes, the
// clock moves at the higher of the two levels so that entries which read
// the slot at its old durability are revalidated.
func (e *MemoryEngine) setInputLocked(key model.InputKey, value any, d model.Durability) {
	old, existed := e.inputs[key]
	bumpAt := d
	if existed && old.durability > bumpAt {
		bumpAt = old.durability
	}
	rev := e.bumpLocked(bumpAt)

	size := SizeOf(value)
	if existed {
		e.allocated.Add(-old.size)
	}
	e.inputs[key] = &inputSlot{
		value:      value,
		durability: d,
		changedAt:  rev,
		size:       size,
	}
	e.allocated.Add(size)
}

func (e *MemoryEngine) readInputLocked(key model.InputKey) (any, bool) {
	slot, ok := e.inputs[key]
	if !ok {
		return nil, false
	}
	return slot.value, true
}

// SetInput implements Engine
func (e *MemoryEngine) SetInput(key model.InputKey, value any, d model.Durability) {
	e.beginWrite()
	defer e.endWrite()
	e.setInputLocked(key, value, d)
}

// ReadInput implements Engine. Computations must read through their
// QueryContext instead.
func (e *MemoryEngine) ReadInput(key model.InputKey) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readInputLocked(key)
}

// InputDurability returns the durability an input was last written at
func (e *MemoryEngine) InputDurability(key model.InputKey) (model.Durability, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	slot, ok := e.inputs[key]
	if !ok {
		return 0, false
	}
	return slot.durability, true
}

// SyntheticWrite implements Engine
func (e *MemoryEngine) SyntheticWrite(d model.Durability) {
	e.beginWrite()
	defer e.endWrite()
	rev := e.bumpLocked(d)

	e.logger.Debug("Synthetic write",
		zap.Uint64("revision", uint64(rev)),
		zap.Stringer("durability", d))
}

// Transact implements Engine
func (e *MemoryEngine) Transact(fn func(tx Tx) error) error {
	e.beginWrite()
	defer e.endWrite()
	return fn(&writeTx{engine: e})
}

// Revision implements Engine
func (e *MemoryEngine) Revision() model.RevisionID {
	return model.RevisionID(e.revision.Load())
}

// MemoryAllocated implements Engine. The figure is the engine's own
// accounting of input and memo sizes, not a heap measurement.
func (e *MemoryEngine) MemoryAllocated() int64 {
	return e.allocated.Load()
}

// Sweep implements Engine
func (e *MemoryEngine) Sweep(table model.TableID, strategy model.SweepStrategy) (int64, error) {
	t, ok := e.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	reclaimed := t.sweep(strategy, e.Revision())
	e.allocated.Add(-reclaimed)

	e.logger.Debug("Swept memo table",
		zap.String("table", string(table)),
		zap.Stringer("strategy", strategy),
		zap.Int64("reclaimed_bytes", reclaimed))

	return reclaimed, nil
}

// DurabilityLevels returns the per-level last-changed revisions
func (e *MemoryEngine) DurabilityLevels() []model.RevisionID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock.Levels()
}

// Tables returns the memo table ids in construction order
func (e *MemoryEngine) Tables() []model.TableID {
	out := make([]model.TableID, len(e.order))
	copy(out, e.order)
	return out
}

// TableStats summarizes one memo table
func (e *MemoryEngine) TableStats(table model.TableID) (TableStats, error) {
	t, ok := e.tables[table]
	if !ok {
		return TableStats{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return t.Stats(), nil
}

// writeTx is the Tx handed out by Transact; mu is already held exclusively
type writeTx struct {
	engine *MemoryEngine
}

func (tx *writeTx) SetInput(key model.InputKey, value any, d model.Durability) {
	tx.engine.setInputLocked(key, value, d)
}

func (tx *writeTx) ReadInput(key model.InputKey) (any, bool) {
	return tx.engine.readInputLocked(key)
}
