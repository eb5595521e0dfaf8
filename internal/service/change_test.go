package service_test

import (
	"testing"

	"github.com/devrev/analysisdb/internal/model"
	"github.com/devrev/analysisdb/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestAnalysisChange_Accumulates(t *testing.T) {
	c := service.NewAnalysisChange()
	assert.True(t, c.IsEmpty())

	_, ok := c.Roots()
	assert.False(t, ok)
	_, ok = c.CrateGraph()
	assert.False(t, ok)

	c.ChangeFile(1, strPtr("a"))
	c.ChangeFile(2, nil)
	assert.False(t, c.IsEmpty())
	require.Len(t, c.FilesChanged(), 2)
	assert.Equal(t, model.FileID(2), c.FilesChanged()[1].FileID)
	assert.Nil(t, c.FilesChanged()[1].Text)
}

func TestAnalysisChange_EmptyRootsIsAReplacement(t *testing.T) {
	c := service.NewAnalysisChange()
	c.SetRoots(nil)

	roots, ok := c.Roots()
	assert.True(t, ok)
	assert.Empty(t, roots)
	assert.False(t, c.IsEmpty())
}

func TestAnalysisChange_MarshalLogObject(t *testing.T) {
	g := model.NewCrateGraph()
	g.AddCrateRoot(1, model.Edition2018, "a")
	g.AddCrateRoot(2, model.Edition2018, "b")

	c := service.NewAnalysisChange()
	c.SetRoots([]*model.SourceRoot{model.NewLocalRoot(1), model.NewLibraryRoot(2)})
	c.ChangeFile(1, strPtr("secret source text"))
	c.SetCrateGraph(g)

	enc := zapcore.NewMapObjectEncoder()
	require.NoError(t, c.MarshalLogObject(enc))

	assert.Equal(t, map[string]interface{}{
		"roots":         2,
		"files_changed": 1,
		"crates":        2,
	}, enc.Fields)
}

func TestAnalysisChange_MarshalLogObjectOmitsAbsentParts(t *testing.T) {
	enc := zapcore.NewMapObjectEncoder()
	require.NoError(t, service.NewAnalysisChange().MarshalLogObject(enc))

	assert.Equal(t, map[string]interface{}{"files_changed": 0}, enc.Fields)
}
