package model

import "fmt"

// Durability describes how often an input class is expected to change.
// Levels are ordered: a write at durability D only invalidates memo entries
// whose dependency floor is at most D.
type Durability uint8

const (
	// DurabilityLow is used for inputs that change often, e.g. the text of
	// a file in a local root. Cancellation writes are issued at this level.
	DurabilityLow Durability = iota
	// DurabilityHigh is used for library roots, the crate graph and the
	// aggregate root sets.
	DurabilityHigh
)

// DurabilityLevels is the number of levels in the lattice
const DurabilityLevels = int(DurabilityHigh) + 1

// String returns "low" or "high"
func (d Durability) String() string {
	switch d {
	case DurabilityLow:
		return "low"
	case DurabilityHigh:
		return "high"
	default:
		return fmt.Sprintf("durability(%d)", uint8(d))
	}
}

// Valid reports whether d is a level of the lattice
func (d Durability) Valid() bool {
	return int(d) < DurabilityLevels
}

// MinDurability returns the lower of two levels
func MinDurability(a, b Durability) Durability {
	if a < b {
		return a
	}
	return b
}
