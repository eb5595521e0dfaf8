package service

import (
	"github.com/devrev/analysisdb/internal/model"
	"go.uber.org/zap/zapcore"
)

// FileChange is the new text of one file. A nil Text resets the content to
// the empty string; the file keeps its id and root.
type FileChange struct {
	FileID model.FileID
	Text   *string
}

// AnalysisChange accumulates input mutations to be applied as one batch.
// Applying a change takes ownership of the roots and crate graph it holds.
type AnalysisChange struct {
	newRoots     []*model.SourceRoot
	rootsSet     bool
	filesChanged []FileChange
	crateGraph   *model.CrateGraph
}

// NewAnalysisChange creates an empty change
func NewAnalysisChange() *AnalysisChange {
	return &AnalysisChange{}
}

// SetRoots replaces the whole source root set. Roots receive ids by
// position. Calling SetRoots again replaces the previous list.
func (c *AnalysisChange) SetRoots(roots []*model.SourceRoot) {
	c.newRoots = roots
	c.rootsSet = true
}

// ChangeFile records new text for a file. Changes to the same file are
// applied in the order they were recorded.
func (c *AnalysisChange) ChangeFile(id model.FileID, text *string) {
	c.filesChanged = append(c.filesChanged, FileChange{FileID: id, Text: text})
}

// SetCrateGraph replaces the crate graph
func (c *AnalysisChange) SetCrateGraph(g *model.CrateGraph) {
	c.crateGraph = g
}

// Roots returns the roots replacement, if any
func (c *AnalysisChange) Roots() ([]*model.SourceRoot, bool) {
	return c.newRoots, c.rootsSet
}

// FilesChanged returns the recorded file changes in order
func (c *AnalysisChange) FilesChanged() []FileChange {
	return c.filesChanged
}

// CrateGraph returns the crate graph replacement, if any
func (c *AnalysisChange) CrateGraph() (*model.CrateGraph, bool) {
	return c.crateGraph, c.crateGraph != nil
}

// IsEmpty reports whether applying the change would only cancel readers
func (c *AnalysisChange) IsEmpty() bool {
	return !c.rootsSet && len(c.filesChanged) == 0 && c.crateGraph == nil
}

// MarshalLogObject logs the shape of the batch, never file contents
func (c *AnalysisChange) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if c.rootsSet {
		enc.AddInt("roots", len(c.newRoots))
	}
	enc.AddInt("files_changed", len(c.filesChanged))
	if c.crateGraph != nil {
		enc.AddInt("crates", c.crateGraph.Len())
	}
	return nil
}
