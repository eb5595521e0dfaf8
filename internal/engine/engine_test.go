package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/analysisdb/internal/engine"
	"github.com/devrev/analysisdb/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	parseTable model.TableID = "parse"
	inferTable model.TableID = "infer"
)

func newEngine() *engine.MemoryEngine {
	return engine.NewMemoryEngine([]model.TableID{parseTable, inferTable, parseTable}, nil)
}

// textLen reads the text of file 1 and counts calls
func textLen(calls *int32) engine.ComputeFunc {
	return func(qc *engine.QueryContext) (any, error) {
		atomic.AddInt32(calls, 1)
		v, ok := qc.Read(model.FileTextKey(1))
		if !ok {
			return 0, nil
		}
		return len(v.(string)), nil
	}
}

func query(t *testing.T, e *engine.MemoryEngine, table model.TableID, key string, fn engine.ComputeFunc) any {
	t.Helper()
	snap := e.Snapshot()
	defer snap.Close()
	v, err := snap.Query(context.Background(), table, key, fn)
	require.NoError(t, err)
	return v
}

func TestMemoryEngine_Tables(t *testing.T) {
	e := newEngine()
	assert.Equal(t, []model.TableID{parseTable, inferTable}, e.Tables())

	_, err := e.Sweep("missing", model.SweepStrategy{}.DiscardValuesOnly())
	assert.True(t, errors.Is(err, engine.ErrUnknownTable))
}

func TestMemoryEngine_RevisionIsMonotonic(t *testing.T) {
	e := newEngine()
	prev := e.Revision()

	steps := []func(){
		func() { e.SetInput(model.FileTextKey(1), "a", model.DurabilityLow) },
		func() { e.SyntheticWrite(model.DurabilityLow) },
		func() { e.SetInput(model.CrateGraphKey(), model.NewCrateGraph(), model.DurabilityHigh) },
		func() {
			_ = e.Transact(func(tx engine.Tx) error {
				tx.SetInput(model.FileTextKey(2), "b", model.DurabilityLow)
				tx.SetInput(model.FileTextKey(3), "c", model.DurabilityLow)
				return nil
			})
		},
	}
	for i, step := range steps {
		step()
		rev := e.Revision()
		assert.Greater(t, rev, prev, "step %d", i)
		prev = rev
	}
}

func TestMemoryEngine_SetAndReadInput(t *testing.T) {
	e := newEngine()

	_, ok := e.ReadInput(model.FileTextKey(1))
	assert.False(t, ok)

	e.SetInput(model.FileTextKey(1), "fn main() {}", model.DurabilityLow)
	v, ok := e.ReadInput(model.FileTextKey(1))
	require.True(t, ok)
	assert.Equal(t, "fn main() {}", v)

	d, ok := e.InputDurability(model.FileTextKey(1))
	require.True(t, ok)
	assert.Equal(t, model.DurabilityLow, d)
	assert.Greater(t, e.MemoryAllocated(), int64(0))
}

func TestMemoryEngine_DurabilityLevels(t *testing.T) {
	e := newEngine()
	before := e.DurabilityLevels()

	e.SyntheticWrite(model.DurabilityLow)
	assert.Equal(t, []model.Durability{model.DurabilityLow}, engine.Advanced(before, e.DurabilityLevels()))

	before = e.DurabilityLevels()
	e.SetInput(model.LocalRootsKey(), model.NewSourceRootSet(), model.DurabilityHigh)
	assert.Equal(t,
		[]model.Durability{model.DurabilityLow, model.DurabilityHigh},
		engine.Advanced(before, e.DurabilityLevels()))
}

func TestMemoryEngine_TransactErrorIsReturned(t *testing.T) {
	e := newEngine()
	boom := errors.New("boom")
	err := e.Transact(func(tx engine.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSnapshot_QueryIsMemoized(t *testing.T) {
	e := newEngine()
	e.SetInput(model.FileTextKey(1), "abc", model.DurabilityLow)

	var calls int32
	assert.Equal(t, 3, query(t, e, parseTable, "1", textLen(&calls)))
	assert.Equal(t, 3, query(t, e, parseTable, "1", textLen(&calls)))
	assert.Equal(t, int32(1), calls)

	e.SetInput(model.FileTextKey(1), "abcdef", model.DurabilityLow)
	assert.Equal(t, 6, query(t, e, parseTable, "1", textLen(&calls)))
	assert.Equal(t, int32(2), calls)
}

func TestSnapshot_UnrelatedWriteKeepsEntry(t *testing.T) {
	e := newEngine()
	e.SetInput(model.FileTextKey(1), "abc", model.DurabilityLow)

	var calls int32
	query(t, e, parseTable, "1", textLen(&calls))

	e.SetInput(model.FileTextKey(2), "other", model.DurabilityLow)
	e.SyntheticWrite(model.DurabilityLow)
	query(t, e, parseTable, "1", textLen(&calls))
	assert.Equal(t, int32(1), calls)
}

func TestSnapshot_MissingInputIsTracked(t *testing.T) {
	e := newEngine()

	var calls int32
	assert.Equal(t, 0, query(t, e, parseTable, "1", textLen(&calls)))

	e.SetInput(model.FileTextKey(1), "abcd", model.DurabilityHigh)
	assert.Equal(t, 4, query(t, e, parseTable, "1", textLen(&calls)))
	assert.Equal(t, int32(2), calls)
}

func TestSnapshot_HighDurabilityShortcut(t *testing.T) {
	e := newEngine()
	e.SetInput(model.CrateGraphKey(), model.NewCrateGraph(), model.DurabilityHigh)

	var calls int32
	crates := func(qc *engine.QueryContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		v, _ := qc.Read(model.CrateGraphKey())
		return v.(*model.CrateGraph).Len(), nil
	}
	query(t, e, inferTable, "crates", crates)

	// Low durability writes never invalidate an entry with a high floor.
	for i := 0; i < 5; i++ {
		e.SyntheticWrite(model.DurabilityLow)
		e.SetInput(model.FileTextKey(model.FileID(i)), "x", model.DurabilityLow)
		query(t, e, inferTable, "crates", crates)
	}
	assert.Equal(t, int32(1), calls)

	e.SetInput(model.CrateGraphKey(), model.NewCrateGraph(), model.DurabilityHigh)
	query(t, e, inferTable, "crates", crates)
	assert.Equal(t, int32(2), calls)
}

func TestSnapshot_LoweredDurabilityInvalidates(t *testing.T) {
	e := newEngine()
	e.SetInput(model.FileTextKey(1), "a", model.DurabilityHigh)

	var calls int32
	assert.Equal(t, 1, query(t, e, parseTable, "1", textLen(&calls)))

	before := e.DurabilityLevels()
	e.SetInput(model.FileTextKey(1), "bb", model.DurabilityLow)
	assert.Equal(t,
		[]model.Durability{model.DurabilityLow, model.DurabilityHigh},
		engine.Advanced(before, e.DurabilityLevels()))
	assert.Equal(t, 2, query(t, e, parseTable, "1", textLen(&calls)))

	e.SetInput(model.FileTextKey(1), "ccc", model.DurabilityLow)
	assert.Equal(t, 3, query(t, e, parseTable, "1", textLen(&calls)))
	assert.Equal(t, int32(3), calls)
}

func TestQueryContext_NestedQueryPropagatesDeps(t *testing.T) {
	e := newEngine()
	e.SetInput(model.FileTextKey(1), "abc", model.DurabilityLow)

	var inner, outer int32
	parent := func(qc *engine.QueryContext) (any, error) {
		atomic.AddInt32(&outer, 1)
		n, err := qc.Query(parseTable, "1", textLen(&inner))
		if err != nil {
			return nil, err
		}
		return n.(int) * 2, nil
	}

	assert.Equal(t, 6, query(t, e, inferTable, "1", parent))
	assert.Equal(t, 6, query(t, e, inferTable, "1", parent))
	assert.Equal(t, int32(1), outer)

	e.SetInput(model.FileTextKey(1), "abcde", model.DurabilityLow)
	assert.Equal(t, 10, query(t, e, inferTable, "1", parent))
	assert.Equal(t, int32(2), outer)
	assert.Equal(t, int32(2), inner)
}

func TestSnapshot_ErrorsAreNotMemoized(t *testing.T) {
	e := newEngine()
	boom := errors.New("boom")

	var calls int32
	fn := func(qc *engine.QueryContext) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	snap := e.Snapshot()
	_, err := snap.Query(context.Background(), parseTable, "k", fn)
	snap.Close()
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, "ok", query(t, e, parseTable, "k", fn))
	assert.Equal(t, int32(2), calls)
}

func TestSnapshot_UnknownTable(t *testing.T) {
	e := newEngine()
	snap := e.Snapshot()
	defer snap.Close()

	_, err := snap.Query(context.Background(), "nope", "k", textLen(new(int32)))
	assert.ErrorIs(t, err, engine.ErrUnknownTable)
}

func TestSnapshot_CloseIsIdempotent(t *testing.T) {
	e := newEngine()
	snap := e.Snapshot()
	snap.Close()
	snap.Close()

	e.SyntheticWrite(model.DurabilityLow)
}

func TestSweep(t *testing.T) {
	e := newEngine()
	e.SetInput(model.FileTextKey(1), "abc", model.DurabilityLow)

	var calls int32
	query(t, e, parseTable, "1", textLen(&calls))
	allocated := e.MemoryAllocated()

	t.Run("outdated sweep skips current entries", func(t *testing.T) {
		reclaimed, err := e.Sweep(parseTable, model.SweepStrategy{}.DiscardValuesOnly())
		require.NoError(t, err)
		assert.Zero(t, reclaimed)
	})

	t.Run("values only keeps edges", func(t *testing.T) {
		strategy := model.SweepStrategy{}.DiscardValuesOnly().SweepAllRevisions()
		reclaimed, err := e.Sweep(parseTable, strategy)
		require.NoError(t, err)
		assert.Greater(t, reclaimed, int64(0))
		assert.Equal(t, allocated-reclaimed, e.MemoryAllocated())

		stats, err := e.TableStats(parseTable)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Entries)
		assert.Zero(t, stats.Values)
		assert.Greater(t, stats.EdgeBytes, int64(0))

		// Sweeping again finds nothing left to discard.
		again, err := e.Sweep(parseTable, strategy)
		require.NoError(t, err)
		assert.Zero(t, again)
	})

	t.Run("swept value is recomputed", func(t *testing.T) {
		assert.Equal(t, 3, query(t, e, parseTable, "1", textLen(&calls)))
		assert.Equal(t, int32(2), calls)
	})

	t.Run("discard everything removes entries", func(t *testing.T) {
		_, err := e.Sweep(parseTable, model.SweepStrategy{}.DiscardEverything().SweepAllRevisions())
		require.NoError(t, err)
		stats, err := e.TableStats(parseTable)
		require.NoError(t, err)
		assert.Zero(t, stats.Entries)
	})
}

func TestCheckCanceled_PendingWriter(t *testing.T) {
	e := newEngine()
	snap := e.Snapshot()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		_, err := snap.Query(context.Background(), parseTable, "slow", func(qc *engine.QueryContext) (any, error) {
			close(started)
			for {
				if err := qc.CheckCanceled(); err != nil {
					return nil, err
				}
				time.Sleep(time.Millisecond)
			}
		})
		snap.Close()
		result <- err
	}()

	<-started
	written := make(chan struct{})
	go func() {
		e.SyntheticWrite(model.DurabilityLow)
		close(written)
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, engine.ErrCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not observe cancellation")
	}
	select {
	case <-written:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not complete")
	}
}

func TestCheckCanceled_Context(t *testing.T) {
	e := newEngine()
	snap := e.Snapshot()
	defer snap.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := snap.Query(ctx, parseTable, "k", func(qc *engine.QueryContext) (any, error) {
		return nil, qc.CheckCanceled()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshot_ConcurrentQueriesShareComputation(t *testing.T) {
	e := newEngine()
	e.SetInput(model.FileTextKey(1), "abc", model.DurabilityLow)

	var calls int32
	release := make(chan struct{})
	fn := func(qc *engine.QueryContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		v, _ := qc.Read(model.FileTextKey(1))
		return v, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := e.Snapshot()
			defer snap.Close()
			v, err := snap.Query(context.Background(), parseTable, "1", fn)
			assert.NoError(t, err)
			assert.Equal(t, "abc", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
	assert.Equal(t, "abc", query(t, e, parseTable, "1", fn))
}

func TestSizeOf(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int64
	}{
		{"nil", nil, 0},
		{"string", "abcd", 20},
		{"bytes", []byte{1, 2}, 26},
		{"sized", model.NewSourceRootSet(), model.NewSourceRootSet().SizeBytes()},
		{"other", 42, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.SizeOf(tt.v))
		})
	}
}
