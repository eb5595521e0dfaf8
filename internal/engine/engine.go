// Package engine defines the memoizing query engine the analysis database is
// built on, and ships an in-memory implementation of it.
//
// The database never reaches past the Engine interface: it sets and reads
// inputs, issues synthetic writes for cancellation, and sweeps memo tables.
// How derivations are computed and how their dependencies are recorded is
// the engine's business.
//
// # Concurrency
//
// The engine follows a single-writer / multiple-reader discipline. Readers
// hold a Snapshot for the duration of a computation. Writers first publish
// that a write is pending, which makes QueryContext.CheckCanceled fail for
// every live reader, and only then wait for exclusive access. Readers are
// expected to poll CheckCanceled and release their snapshot promptly.
//
// Query cycles are not supported and deadlock.
package engine

import (
	"errors"

	"github.com/devrev/analysisdb/internal/model"
)

// ErrCanceled is returned from a computation that observed a pending write
var ErrCanceled = errors.New("query canceled: a newer revision is pending")

// ErrUnknownTable is returned when a table id is not part of the engine
var ErrUnknownTable = errors.New("unknown memo table")

// Engine is the set of primitives the analysis database consumes
type Engine interface {
	// SetInput writes an input slot at the given durability and advances
	// the revision.
	SetInput(key model.InputKey, value any, d model.Durability)

	// ReadInput returns the current value of an input slot
	ReadInput(key model.InputKey) (any, bool)

	// SyntheticWrite advances the revision without changing any input
	SyntheticWrite(d model.Durability)

	// Sweep discards data from one memo table and returns the bytes
	// reclaimed
	Sweep(table model.TableID, strategy model.SweepStrategy) (int64, error)

	// MemoryAllocated returns the bytes currently held by the engine
	MemoryAllocated() int64

	// Transact runs fn with exclusive write access. Writes made through tx
	// become visible to readers only after fn returns.
	Transact(fn func(tx Tx) error) error

	// Revision returns the current revision
	Revision() model.RevisionID
}

// Snapshotter is implemented by engines that serve memoized queries
type Snapshotter interface {
	Snapshot() *Snapshot
}

// DurabilityReporter is implemented by engines that expose, per durability
// level, the last revision in which an input of that level changed
type DurabilityReporter interface {
	DurabilityLevels() []model.RevisionID
}

// Tx is the write handle passed to Engine.Transact
type Tx interface {
	SetInput(key model.InputKey, value any, d model.Durability)
	ReadInput(key model.InputKey) (any, bool)
}

// ComputeFunc derives the value of a memo entry. Inputs and other queries
// must be read through qc so that dependencies are recorded.
type ComputeFunc func(qc *QueryContext) (any, error)
