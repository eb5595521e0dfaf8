package model

import "strings"

// SweepStrategy selects what a sweep discards from a memo table.
//
// A zero strategy discards nothing. DiscardValues drops cached payloads but
// keeps dependency edges so entries can still be validated without
// recomputation. DiscardEdges drops the edges as well, removing the entry.
// AllRevisions extends the sweep to entries verified in the current
// revision; without it only outdated entries are touched.
type SweepStrategy struct {
	DiscardValues bool
	DiscardEdges  bool
	AllRevisions  bool
}

// DiscardValuesOnly returns s with payload discarding enabled
func (s SweepStrategy) DiscardValuesOnly() SweepStrategy {
	s.DiscardValues = true
	s.DiscardEdges = false
	return s
}

// DiscardEverything returns s discarding payloads and edges
func (s SweepStrategy) DiscardEverything() SweepStrategy {
	s.DiscardValues = true
	s.DiscardEdges = true
	return s
}

// SweepAllRevisions returns s applying to every revision
func (s SweepStrategy) SweepAllRevisions() SweepStrategy {
	s.AllRevisions = true
	return s
}

// String renders the strategy for logs
func (s SweepStrategy) String() string {
	var parts []string
	switch {
	case s.DiscardEdges:
		parts = append(parts, "values_and_deps")
	case s.DiscardValues:
		parts = append(parts, "values_only")
	default:
		parts = append(parts, "keep")
	}
	if s.AllRevisions {
		parts = append(parts, "all_revisions")
	} else {
		parts = append(parts, "outdated")
	}
	return strings.Join(parts, ",")
}

// TableDescriptor is an entry of the static memo table registry
type TableDescriptor struct {
	ID    TableID `yaml:"id" json:"id"`
	Name  string  `yaml:"name" json:"name"`
	Group string  `yaml:"group" json:"group"`
}

// Label returns the name used in reports, falling back to the id
func (d TableDescriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return string(d.ID)
}

// QueryMemory is one row of the per-query memory report
type QueryMemory struct {
	Label string `json:"label"`
	Bytes int64  `json:"bytes"`
}
