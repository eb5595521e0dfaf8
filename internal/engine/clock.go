package engine

import "github.com/devrev/analysisdb/internal/model"

// DurabilityClock records, for every durability level, the last revision in
// which an input of that level or higher changed. A write at durability D
// advances every level up to and including D.
//
// A memo entry whose inputs all have durability >= F cannot be affected by
// a change unless LastChanged(F) moved past the revision it was verified at,
// which lets the engine skip walking the dependencies of long-lived entries
// when only volatile inputs change.
type DurabilityClock struct {
	lastChanged [model.DurabilityLevels]model.RevisionID
}

// NewDurabilityClock creates a clock with every level at rev
func NewDurabilityClock(rev model.RevisionID) *DurabilityClock {
	c := &DurabilityClock{}
	for i := range c.lastChanged {
		c.lastChanged[i] = rev
	}
	return c
}

// Bump records a change at durability d in revision rev
func (c *DurabilityClock) Bump(d model.Durability, rev model.RevisionID) {
	for i := 0; i <= int(d) && i < len(c.lastChanged); i++ {
		if rev > c.lastChanged[i] {
			c.lastChanged[i] = rev
		}
	}
}

// LastChanged returns the last revision affecting entries with floor d
func (c *DurabilityClock) LastChanged(d model.Durability) model.RevisionID {
	if !d.Valid() {
		return c.lastChanged[0]
	}
	return c.lastChanged[d]
}

// Levels returns a copy of the per-level revisions, lowest level first
func (c *DurabilityClock) Levels() []model.RevisionID {
	out := make([]model.RevisionID, len(c.lastChanged))
	copy(out, c.lastChanged[:])
	return out
}

// Advanced returns the levels that moved between two Levels() readings
func Advanced(before, after []model.RevisionID) []model.Durability {
	var levels []model.Durability
	for i := range after {
		if i < len(before) && after[i] > before[i] {
			levels = append(levels, model.Durability(i))
		}
	}
	return levels
}
