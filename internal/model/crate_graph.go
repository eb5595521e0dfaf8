package model

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCyclicDependency is returned when adding a dependency would close a cycle
var ErrCyclicDependency = errors.New("cyclic crate dependency")

// Edition is the language edition a crate is compiled with
type Edition string

const (
	Edition2015 Edition = "2015"
	Edition2018 Edition = "2018"
)

// Dependency is an edge of the crate graph
type Dependency struct {
	Crate CrateID
	Name  string
}

// CrateData describes a single crate
type CrateData struct {
	RootFile     FileID
	Edition      Edition
	DisplayName  string
	Dependencies []Dependency
}

// CrateGraph is the whole-program crate topology. It is installed wholesale
// at HIGH durability.
type CrateGraph struct {
	crates map[CrateID]*CrateData
	nextID CrateID
}

// NewCrateGraph creates an empty graph
func NewCrateGraph() *CrateGraph {
	return &CrateGraph{crates: make(map[CrateID]*CrateData)}
}

// AddCrateRoot registers a crate rooted at file and returns its id
func (g *CrateGraph) AddCrateRoot(file FileID, edition Edition, displayName string) CrateID {
	id := g.nextID
	g.nextID++
	g.crates[id] = &CrateData{
		RootFile:    file,
		Edition:     edition,
		DisplayName: displayName,
	}
	return id
}

// AddDep adds an edge from -> to. Self edges and edges closing a cycle are
// rejected.
func (g *CrateGraph) AddDep(from CrateID, name string, to CrateID) error {
	src, ok := g.crates[from]
	if !ok {
		return fmt.Errorf("unknown crate %d", from)
	}
	if _, ok := g.crates[to]; !ok {
		return fmt.Errorf("unknown crate %d", to)
	}
	if from == to || g.reaches(to, from) {
		return fmt.Errorf("%w: %d -> %d", ErrCyclicDependency, from, to)
	}
	src.Dependencies = append(src.Dependencies, Dependency{Crate: to, Name: name})
	return nil
}

// reaches reports whether target is reachable from start
func (g *CrateGraph) reaches(start, target CrateID) bool {
	seen := make(map[CrateID]bool)
	stack := []CrateID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, dep := range g.crates[id].Dependencies {
			stack = append(stack, dep.Crate)
		}
	}
	return false
}

// Crate returns the data of a crate
func (g *CrateGraph) Crate(id CrateID) (*CrateData, bool) {
	c, ok := g.crates[id]
	return c, ok
}

// CrateIDs returns all crate ids in ascending order
func (g *CrateGraph) CrateIDs() []CrateID {
	ids := make([]CrateID, 0, len(g.crates))
	for id := range g.crates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CratesForFile returns the crates rooted at file
func (g *CrateGraph) CratesForFile(file FileID) []CrateID {
	var ids []CrateID
	for _, id := range g.CrateIDs() {
		if g.crates[id].RootFile == file {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of crates
func (g *CrateGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.crates)
}

// SizeBytes estimates the retained size of the graph
func (g *CrateGraph) SizeBytes() int64 {
	size := int64(32)
	for _, c := range g.crates {
		size += 48 + int64(len(c.DisplayName))
		for _, dep := range c.Dependencies {
			size += 8 + int64(len(dep.Name))
		}
	}
	return size
}
