package model

import "fmt"

// RevisionID identifies a state of all inputs. It strictly increases on every
// mutating operation, including a synthetic write issued for cancellation.
type RevisionID uint64

// FileID identifies a source file for the lifetime of the database
type FileID uint32

// SourceRootID identifies a source root. Ids are assigned by position every
// time the root set is replaced, so they are not stable across replacements.
type SourceRootID uint32

// CrateID identifies a crate inside a CrateGraph
type CrateID uint32

// TableID names a memo table of the underlying query engine
type TableID string

// InputKind enumerates the input slots of the Input Store
type InputKind uint8

const (
	InputFileText InputKind = iota
	InputFileSourceRoot
	InputSourceRoot
	InputLocalRoots
	InputLibraryRoots
	InputCrateGraph
)

var inputKindNames = [...]string{
	InputFileText:       "file_text",
	InputFileSourceRoot: "file_source_root",
	InputSourceRoot:     "source_root",
	InputLocalRoots:     "local_roots",
	InputLibraryRoots:   "library_roots",
	InputCrateGraph:     "crate_graph",
}

// String returns the slot name used in logs and metrics
func (k InputKind) String() string {
	if int(k) < len(inputKindNames) {
		return inputKindNames[k]
	}
	return fmt.Sprintf("input_kind(%d)", uint8(k))
}

// InputKey addresses a single input slot. Singleton slots use ID 0.
type InputKey struct {
	Kind InputKind
	ID   uint32
}

// String renders the key as "kind/id"
func (k InputKey) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

// FileTextKey returns the slot holding the text of a file
func FileTextKey(id FileID) InputKey {
	return InputKey{Kind: InputFileText, ID: uint32(id)}
}

// FileSourceRootKey returns the slot holding the root a file belongs to
func FileSourceRootKey(id FileID) InputKey {
	return InputKey{Kind: InputFileSourceRoot, ID: uint32(id)}
}

// SourceRootKey returns the slot holding a source root
func SourceRootKey(id SourceRootID) InputKey {
	return InputKey{Kind: InputSourceRoot, ID: uint32(id)}
}

// LocalRootsKey returns the aggregate slot of local root ids
func LocalRootsKey() InputKey {
	return InputKey{Kind: InputLocalRoots}
}

// LibraryRootsKey returns the aggregate slot of library root ids
func LibraryRootsKey() InputKey {
	return InputKey{Kind: InputLibraryRoots}
}

// CrateGraphKey returns the slot holding the crate graph
func CrateGraphKey() InputKey {
	return InputKey{Kind: InputCrateGraph}
}
