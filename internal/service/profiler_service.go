package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/devrev/analysisdb/internal/engine"
	"github.com/devrev/analysisdb/internal/errors"
	"github.com/devrev/analysisdb/internal/metrics"
	"github.com/devrev/analysisdb/internal/model"
	"github.com/devrev/analysisdb/internal/registry"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// depsSuffix labels the row holding a table's dependency edges
const depsSuffix = " (deps)"

// ProfilerService attributes engine memory to memo tables by sweeping them.
// Profiling discards every cached value and edge of the registered tables,
// so it is a diagnostic tool only.
type ProfilerService struct {
	engine   engine.Engine
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// mu keeps two profiles from interleaving their before/after readings
	mu sync.Mutex
}

// NewProfilerService creates a new profiler service
func NewProfilerService(eng engine.Engine, reg *registry.Registry, m *metrics.Metrics, logger *zap.Logger) *ProfilerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfilerService{
		engine:   eng,
		registry: reg,
		metrics:  m,
		logger:   logger,
	}
}

// PerQueryMemoryUsage returns, for every registered table, the bytes held by
// its values and, in a separate "(deps)" row, by its edges. Rows are sorted
// by size, largest first.
func (s *ProfilerService) PerQueryMemoryUsage(ctx context.Context) ([]model.QueryMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valuesOnly := model.SweepStrategy{}.DiscardValuesOnly().SweepAllRevisions()
	everything := model.SweepStrategy{}.DiscardEverything().SweepAllRevisions()

	rows := make([]model.QueryMemory, 0, 2*s.registry.Len())
	for _, table := range s.registry.Tables() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values, err := s.measure(table.ID, valuesOnly)
		if err != nil {
			return nil, err
		}
		rows = append(rows, model.QueryMemory{Label: table.Label(), Bytes: values})

		deps, err := s.measure(table.ID, everything)
		if err != nil {
			return nil, err
		}
		rows = append(rows, model.QueryMemory{Label: table.Label() + depsSuffix, Bytes: deps})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Bytes > rows[j].Bytes })

	report := make(map[string]int64, len(rows))
	for _, row := range rows {
		report[row.Label] = row.Bytes
	}
	s.metrics.RecordProfile(report)
	s.metrics.UpdateEngineAllocated(s.engine.MemoryAllocated())

	s.logger.Info("Per-query memory profile taken", zap.Int("rows", len(rows)))
	return rows, nil
}

// measure sweeps a table and returns the drop in allocated memory
func (s *ProfilerService) measure(table model.TableID, strategy model.SweepStrategy) (int64, error) {
	before := s.engine.MemoryAllocated()
	if _, err := s.engine.Sweep(table, strategy); err != nil {
		if stderrors.Is(err, engine.ErrUnknownTable) {
			return 0, errors.UnknownTable(string(table))
		}
		return 0, errors.InternalError("sweep failed", err)
	}
	after := s.engine.MemoryAllocated()
	return before - after, nil
}

// FormatMemoryReport renders profile rows as an aligned text table
func FormatMemoryReport(rows []model.QueryMemory) string {
	width := 0
	for _, row := range rows {
		if len(row.Label) > width {
			width = len(row.Label)
		}
	}

	var b strings.Builder
	var total int64
	for _, row := range rows {
		fmt.Fprintf(&b, "%-*s %10s\n", width, row.Label, humanize.IBytes(uint64(max(row.Bytes, 0))))
		total += row.Bytes
	}
	fmt.Fprintf(&b, "%-*s %10s\n", width, "total", humanize.IBytes(uint64(max(total, 0))))
	return b.String()
}

