package model

import (
	"sort"
)

// SourceRoot is a collection of files forming one analysis unit. Files are
// keyed by id and carry their path relative to the root.
type SourceRoot struct {
	IsLibrary bool
	Files     map[FileID]string
}

// NewSourceRoot creates an empty source root
func NewSourceRoot(isLibrary bool) *SourceRoot {
	return &SourceRoot{
		IsLibrary: isLibrary,
		Files:     make(map[FileID]string),
	}
}

// NewLocalRoot creates a local root containing the given files
func NewLocalRoot(files ...FileID) *SourceRoot {
	r := NewSourceRoot(false)
	for _, f := range files {
		r.Files[f] = ""
	}
	return r
}

// NewLibraryRoot creates a library root containing the given files
func NewLibraryRoot(files ...FileID) *SourceRoot {
	r := NewSourceRoot(true)
	for _, f := range files {
		r.Files[f] = ""
	}
	return r
}

// InsertFile adds a file to the root under the given relative path
func (r *SourceRoot) InsertFile(path string, id FileID) {
	if r.Files == nil {
		r.Files = make(map[FileID]string)
	}
	r.Files[id] = path
}

// RemoveFile drops a file from the root
func (r *SourceRoot) RemoveFile(id FileID) {
	delete(r.Files, id)
}

// Contains reports whether the file belongs to this root
func (r *SourceRoot) Contains(id FileID) bool {
	_, ok := r.Files[id]
	return ok
}

// FileIDs returns the files of the root in ascending id order
func (r *SourceRoot) FileIDs() []FileID {
	ids := make([]FileID, 0, len(r.Files))
	for id := range r.Files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Durability maps the library flag onto the durability lattice:
// library roots are HIGH, local roots are LOW.
func (r *SourceRoot) Durability() Durability {
	if r.IsLibrary {
		return DurabilityHigh
	}
	return DurabilityLow
}

// SizeBytes estimates the retained size of the root
func (r *SourceRoot) SizeBytes() int64 {
	size := int64(32)
	for _, path := range r.Files {
		size += int64(len(path)) + 24
	}
	return size
}

// SourceRootSet is a set of root ids, used for the local_roots and
// library_roots aggregates.
type SourceRootSet map[SourceRootID]struct{}

// NewSourceRootSet builds a set from ids
func NewSourceRootSet(ids ...SourceRootID) SourceRootSet {
	s := make(SourceRootSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Insert adds an id to the set
func (s SourceRootSet) Insert(id SourceRootID) {
	s[id] = struct{}{}
}

// Contains reports membership
func (s SourceRootSet) Contains(id SourceRootID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns members in ascending order
func (s SourceRootSet) IDs() []SourceRootID {
	ids := make([]SourceRootID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SizeBytes estimates the retained size of the set
func (s SourceRootSet) SizeBytes() int64 {
	return int64(16 + 8*len(s))
}
