package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceRoot_Durability(t *testing.T) {
	assert.Equal(t, DurabilityHigh, NewLibraryRoot(1).Durability())
	assert.Equal(t, DurabilityLow, NewLocalRoot(1).Durability())
	assert.True(t, DurabilityLow < DurabilityHigh)
	assert.Equal(t, DurabilityLow, MinDurability(DurabilityHigh, DurabilityLow))
}

func TestSourceRoot_Files(t *testing.T) {
	root := NewSourceRoot(false)
	root.InsertFile("src/main.rs", 7)
	root.InsertFile("src/lib.rs", 3)

	assert.Equal(t, []FileID{3, 7}, root.FileIDs())
	assert.True(t, root.Contains(7))

	root.RemoveFile(7)
	assert.False(t, root.Contains(7))
	assert.Equal(t, []FileID{3}, root.FileIDs())
}

func TestSourceRootSet_IDs(t *testing.T) {
	set := NewSourceRootSet(4, 0, 2)
	set.Insert(1)
	assert.Equal(t, []SourceRootID{0, 1, 2, 4}, set.IDs())
	assert.True(t, set.Contains(2))
	assert.False(t, set.Contains(3))
}

func TestCrateGraph_AddDep(t *testing.T) {
	g := NewCrateGraph()
	a := g.AddCrateRoot(1, Edition2018, "a")
	b := g.AddCrateRoot(2, Edition2018, "b")
	c := g.AddCrateRoot(3, Edition2015, "c")

	require.NoError(t, g.AddDep(a, "b", b))
	require.NoError(t, g.AddDep(b, "c", c))

	err := g.AddDep(c, "a", a)
	assert.ErrorIs(t, err, ErrCyclicDependency)

	err = g.AddDep(a, "a", a)
	assert.ErrorIs(t, err, ErrCyclicDependency)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []CrateID{b}, g.CratesForFile(2))
}

func TestSweepStrategy_Builders(t *testing.T) {
	s := SweepStrategy{}.DiscardValuesOnly().SweepAllRevisions()
	assert.True(t, s.DiscardValues)
	assert.False(t, s.DiscardEdges)
	assert.True(t, s.AllRevisions)
	assert.Equal(t, "values_only,all_revisions", s.String())

	e := s.DiscardEverything()
	assert.True(t, e.DiscardEdges)
	assert.Equal(t, "values_and_deps,all_revisions", e.String())
}

func TestInputKey_String(t *testing.T) {
	assert.Equal(t, "file_text/3", FileTextKey(3).String())
	assert.Equal(t, "local_roots/0", LocalRootsKey().String())
}
