package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/devrev/analysisdb/internal/engine"
	"github.com/devrev/analysisdb/internal/errors"
	"github.com/devrev/analysisdb/internal/metrics"
	"github.com/devrev/analysisdb/internal/model"
	"github.com/devrev/analysisdb/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DatabaseConfig holds analysis database configuration
type DatabaseConfig struct {
	MaxFileSize int
}

// DatabaseService owns the input store of the analysis database. It is the
// only component that mutates inputs.
type DatabaseService struct {
	config     *DatabaseConfig
	engine     engine.Engine
	validator  *validation.Validator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	instanceID string
}

// NewDatabaseService creates a new database service
func NewDatabaseService(cfg *DatabaseConfig, eng engine.Engine, m *metrics.Metrics, logger *zap.Logger) *DatabaseService {
	if cfg == nil {
		cfg = &DatabaseConfig{MaxFileSize: validation.MaxFileSize}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()

	return &DatabaseService{
		config:     cfg,
		engine:     eng,
		validator:  validation.NewValidatorWithLimits(cfg.MaxFileSize),
		metrics:    m,
		logger:     logger.With(zap.String("instance_id", id)),
		instanceID: id,
	}
}

// InstanceID identifies this database in logs and health reports
func (s *DatabaseService) InstanceID() string {
	return s.instanceID
}

// Revision returns the current revision
func (s *DatabaseService) Revision() model.RevisionID {
	return s.engine.Revision()
}

// RequestCancellation makes every live reader of the current revision
// observe cancellation. It blocks until those readers release the engine.
func (s *DatabaseService) RequestCancellation() {
	s.engine.SyntheticWrite(model.DurabilityLow)
	s.metrics.RecordCancellation()
	s.logger.Debug("Requested cancellation",
		zap.Uint64("revision", uint64(s.engine.Revision())))
}

// changePlan is a change batch with every file resolved to its root
type changePlan struct {
	roots      []*model.SourceRoot
	rootsSet   bool
	assignment *validation.RootAssignment
	files      []plannedFile
	crateGraph *model.CrateGraph
}

type plannedFile struct {
	id         model.FileID
	text       string
	durability model.Durability
}

// ApplyChange applies a change batch. Live readers are canceled first, even
// for an empty batch. The remaining writes happen in one exclusive section
// and only after the whole batch validated: a batch that fails validation
// leaves every input untouched.
func (s *DatabaseService) ApplyChange(ctx context.Context, change *AnalysisChange) error {
	startTime := time.Now()
	if change == nil {
		change = NewAnalysisChange()
	}

	s.logger.Info("Applying change",
		zap.Object("change", change),
		zap.Uint64("revision", uint64(s.engine.Revision())))

	s.RequestCancellation()

	if err := ctx.Err(); err != nil {
		err = errors.ChangeCanceled(err)
		s.reject(err)
		return err
	}

	plan, err := s.prepare(change)
	if err != nil {
		s.reject(err)
		return err
	}

	levelsBefore := s.durabilityLevels()
	err = s.engine.Transact(func(tx engine.Tx) error {
		if err := s.resolveFiles(tx, change, plan); err != nil {
			return err
		}
		s.write(tx, plan)
		return nil
	})
	if err != nil {
		if !errors.IsAnalysisError(err) {
			err = errors.InternalError("change transaction failed", err)
		}
		s.reject(err)
		return err
	}

	revision := s.engine.Revision()
	duration := time.Since(startTime)
	s.metrics.RecordChangeApplied(duration.Seconds(), len(plan.files), plan.rootsSet, plan.crateGraph != nil)
	s.metrics.UpdateRevision(uint64(revision))
	s.metrics.UpdateEngineAllocated(s.engine.MemoryAllocated())

	fields := []zap.Field{
		zap.Uint64("revision", uint64(revision)),
		zap.Duration("duration", duration),
		zap.Int("crates_touched", s.cratesTouched(plan)),
	}
	if levelsBefore != nil {
		var advanced []string
		for _, d := range engine.Advanced(levelsBefore, s.durabilityLevels()) {
			advanced = append(advanced, d.String())
		}
		fields = append(fields, zap.Strings("durability_advanced", advanced))
	}
	s.logger.Debug("Change applied", fields...)

	return nil
}

// durabilityLevels reads the engine's per-level revisions, or nil when the
// engine does not report them
func (s *DatabaseService) durabilityLevels() []model.RevisionID {
	if r, ok := s.engine.(engine.DurabilityReporter); ok {
		return r.DurabilityLevels()
	}
	return nil
}

// cratesTouched counts the crates whose root file changed in plan
func (s *DatabaseService) cratesTouched(plan *changePlan) int {
	if len(plan.files) == 0 {
		return 0
	}
	graph := s.CrateGraph()
	if graph == nil {
		return 0
	}

	touched := make(map[model.CrateID]struct{})
	for _, f := range plan.files {
		for _, id := range graph.CratesForFile(f.id) {
			touched[id] = struct{}{}
		}
	}
	return len(touched)
}

// prepare validates everything that does not depend on the current inputs
func (s *DatabaseService) prepare(change *AnalysisChange) (*changePlan, error) {
	plan := &changePlan{}

	if roots, ok := change.Roots(); ok {
		assignment, err := s.validator.ValidateRoots(roots)
		if err != nil {
			return nil, err
		}
		for _, file := range assignment.Duplicates {
			s.logger.Debug("File listed in several source roots, last root wins",
				zap.Uint32("file_id", uint32(file)),
				zap.Uint32("source_root_id", uint32(assignment.FileRoots[file])))
		}
		plan.roots = roots
		plan.rootsSet = true
		plan.assignment = assignment
	}

	for _, fc := range change.FilesChanged() {
		if err := s.validator.ValidateFileText(fc.FileID, fc.Text); err != nil {
			return nil, err
		}
	}

	if g, ok := change.CrateGraph(); ok {
		if err := s.validator.ValidateCrateGraph(g); err != nil {
			return nil, err
		}
		plan.crateGraph = g
	}

	return plan, nil
}

// resolveFiles finds the root, and through it the durability, of every
// changed file as it will be once the roots in plan are installed
func (s *DatabaseService) resolveFiles(tx engine.Tx, change *AnalysisChange, plan *changePlan) error {
	for _, fc := range change.FilesChanged() {
		rootID, err := s.fileRoot(tx, plan, fc.FileID)
		if err != nil {
			return err
		}
		durability, err := s.rootDurability(tx, plan, fc.FileID, rootID)
		if err != nil {
			return err
		}

		text := ""
		if fc.Text != nil {
			text = *fc.Text
		}
		plan.files = append(plan.files, plannedFile{id: fc.FileID, text: text, durability: durability})
	}
	return nil
}

func (s *DatabaseService) fileRoot(tx engine.Tx, plan *changePlan, file model.FileID) (model.SourceRootID, error) {
	if plan.rootsSet {
		if rootID, ok := plan.assignment.FileRoots[file]; ok {
			return rootID, nil
		}
	}
	v, ok := tx.ReadInput(model.FileSourceRootKey(file))
	if !ok {
		if _, installed := tx.ReadInput(model.LocalRootsKey()); !installed && !plan.rootsSet {
			return 0, errors.UnknownSourceRoot(uint32(file), "source roots were never installed")
		}
		return 0, errors.UnknownSourceRoot(uint32(file), "file is in no source root")
	}
	return v.(model.SourceRootID), nil
}

func (s *DatabaseService) rootDurability(tx engine.Tx, plan *changePlan, file model.FileID, rootID model.SourceRootID) (model.Durability, error) {
	if plan.rootsSet && int(rootID) < len(plan.roots) {
		return plan.roots[rootID].Durability(), nil
	}
	v, ok := tx.ReadInput(model.SourceRootKey(rootID))
	if !ok {
		return 0, errors.UnknownSourceRoot(uint32(file),
			fmt.Sprintf("source root %d is not installed", rootID)).
			WithDetail("source_root_id", uint32(rootID))
	}
	return v.(*model.SourceRoot).Durability(), nil
}

// write installs a validated plan. Roots go first so that file texts land
// at the durability of the root they now belong to.
func (s *DatabaseService) write(tx engine.Tx, plan *changePlan) {
	if plan.rootsSet {
		local := model.NewSourceRootSet()
		library := model.NewSourceRootSet()

		for i, root := range plan.roots {
			rootID := model.SourceRootID(i)
			durability := root.Durability()
			for _, file := range root.FileIDs() {
				tx.SetInput(model.FileSourceRootKey(file), rootID, durability)
			}
			tx.SetInput(model.SourceRootKey(rootID), root, durability)

			if root.IsLibrary {
				library.Insert(rootID)
			} else {
				local.Insert(rootID)
			}
		}

		tx.SetInput(model.LocalRootsKey(), local, model.DurabilityHigh)
		tx.SetInput(model.LibraryRootsKey(), library, model.DurabilityHigh)
	}

	for _, f := range plan.files {
		tx.SetInput(model.FileTextKey(f.id), f.text, f.durability)
	}

	if plan.crateGraph != nil {
		tx.SetInput(model.CrateGraphKey(), plan.crateGraph, model.DurabilityHigh)
	}
}

func (s *DatabaseService) reject(err error) {
	s.metrics.RecordChangeRejected(errors.GetCode(err).String())
	s.logger.Warn("Change rejected", zap.Error(err))
}

// Query runs a memoized query against a snapshot of the current revision.
// Cancellation by a concurrent change surfaces as an ErrCodeCanceled error;
// callers are expected to retry against the new revision.
func (s *DatabaseService) Query(ctx context.Context, table model.TableID, key string, fn engine.ComputeFunc) (any, error) {
	snapshotter, ok := s.engine.(engine.Snapshotter)
	if !ok {
		return nil, errors.Unavailable("engine does not serve queries", nil)
	}

	snap := snapshotter.Snapshot()
	defer snap.Close()

	v, err := snap.Query(ctx, table, key, fn)
	switch {
	case err == nil:
		return v, nil
	case stderrors.Is(err, engine.ErrCanceled):
		return nil, errors.Canceled(err)
	case stderrors.Is(err, engine.ErrUnknownTable):
		return nil, errors.UnknownTable(string(table))
	default:
		return nil, err
	}
}

// FileText returns the text of a file
func (s *DatabaseService) FileText(id model.FileID) (string, bool) {
	v, ok := s.engine.ReadInput(model.FileTextKey(id))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// FileSourceRoot returns the root a file belongs to
func (s *DatabaseService) FileSourceRoot(id model.FileID) (model.SourceRootID, bool) {
	v, ok := s.engine.ReadInput(model.FileSourceRootKey(id))
	if !ok {
		return 0, false
	}
	return v.(model.SourceRootID), true
}

// SourceRoot returns an installed source root
func (s *DatabaseService) SourceRoot(id model.SourceRootID) (*model.SourceRoot, bool) {
	v, ok := s.engine.ReadInput(model.SourceRootKey(id))
	if !ok {
		return nil, false
	}
	return v.(*model.SourceRoot), true
}

// LocalRoots returns the ids of the installed local roots
func (s *DatabaseService) LocalRoots() model.SourceRootSet {
	return s.rootSet(model.LocalRootsKey())
}

// LibraryRoots returns the ids of the installed library roots
func (s *DatabaseService) LibraryRoots() model.SourceRootSet {
	return s.rootSet(model.LibraryRootsKey())
}

func (s *DatabaseService) rootSet(key model.InputKey) model.SourceRootSet {
	v, ok := s.engine.ReadInput(key)
	if !ok {
		return model.NewSourceRootSet()
	}
	return v.(model.SourceRootSet)
}

// CrateGraph returns the installed crate graph, or nil
func (s *DatabaseService) CrateGraph() *model.CrateGraph {
	v, ok := s.engine.ReadInput(model.CrateGraphKey())
	if !ok {
		return nil
	}
	return v.(*model.CrateGraph)
}
