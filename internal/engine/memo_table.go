package engine

import (
	"sort"
	"sync"

	"github.com/devrev/analysisdb/internal/model"
	"github.com/devrev/analysisdb/internal/storage/memtable"
)

// memo is a cached derivation result together with the inputs it read
type memo struct {
	value    any
	hasValue bool

	deps  []model.InputKey
	floor model.Durability

	verifiedAt model.RevisionID
	changedAt  model.RevisionID

	valueSize int64
	edgeSize  int64
}

// MemoTable holds the memo entries of one derivation kind. Entries are kept
// in key order. The table lock is held by queries while they look up or
// store an entry and by sweeps for their whole duration, so sweeping one
// table never blocks queries against another.
type MemoTable struct {
	id      model.TableID
	mu      sync.Mutex
	entries *memtable.SkipList[*memo]
}

// TableStats is a point-in-time summary of a memo table
type TableStats struct {
	Table      model.TableID
	Entries    int
	Values     int
	ValueBytes int64
	EdgeBytes  int64
}

func newMemoTable(id model.TableID) *MemoTable {
	return &MemoTable{
		id:      id,
		entries: memtable.NewSkipList[*memo](),
	}
}

// store replaces the entry for key and returns the change in retained bytes
func (t *MemoTable) store(key string, value any, deps map[model.InputKey]struct{}, floor model.Durability, rev model.RevisionID) int64 {
	depList := make([]model.InputKey, 0, len(deps))
	for k := range deps {
		depList = append(depList, k)
	}
	sort.Slice(depList, func(i, j int) bool {
		if depList[i].Kind != depList[j].Kind {
			return depList[i].Kind < depList[j].Kind
		}
		return depList[i].ID < depList[j].ID
	})

	m := &memo{
		value:      value,
		hasValue:   true,
		deps:       depList,
		floor:      floor,
		verifiedAt: rev,
		changedAt:  rev,
		valueSize:  SizeOf(value),
		edgeSize:   entryOverhead + int64(len(depList))*edgeSize,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var delta int64
	if old, ok := t.entries.Search(key); ok {
		delta -= old.valueSize + old.edgeSize
	}
	t.entries.Insert(key, m)
	return delta + m.valueSize + m.edgeSize
}

// sweep applies strategy to every eligible entry and returns reclaimed bytes
func (t *MemoTable) sweep(strategy model.SweepStrategy, current model.RevisionID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var reclaimed int64
	it := t.entries.Iterator()
	for it.Next() {
		m := it.Value()
		if !strategy.AllRevisions && m.verifiedAt >= current {
			continue
		}
		if strategy.DiscardValues && m.hasValue {
			reclaimed += m.valueSize
			m.value = nil
			m.hasValue = false
			m.valueSize = 0
		}
		if strategy.DiscardEdges {
			reclaimed += m.edgeSize
			t.entries.Delete(it.Key())
		}
	}
	return reclaimed
}

// Stats summarizes the table
func (t *MemoTable) Stats() TableStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TableStats{Table: t.id, Entries: t.entries.Len()}
	it := t.entries.Iterator()
	for it.Next() {
		m := it.Value()
		if m.hasValue {
			stats.Values++
		}
		stats.ValueBytes += m.valueSize
		stats.EdgeBytes += m.edgeSize
	}
	return stats
}
