// Package registry holds the static list of memo tables the database
// garbage-collects and profiles.
package registry

import (
	"fmt"

	"github.com/devrev/analysisdb/internal/model"
)

// Registry is an ordered, duplicate-free list of memo tables. It is built
// once at startup and never changes afterwards.
type Registry struct {
	tables []model.TableDescriptor
	byID   map[model.TableID]int
}

// DefaultTables returns the tables swept by garbage collection, in sweep
// order
func DefaultTables() []model.TableDescriptor {
	return []model.TableDescriptor{
		{ID: "parse", Name: "ParseQuery", Group: "syntax"},
		{ID: "parse_macro", Name: "ParseMacroQuery", Group: "expand"},
		{ID: "ast_id_map", Name: "AstIdMapQuery", Group: "expand"},
		{ID: "body_with_source_map", Name: "BodyWithSourceMapQuery", Group: "def"},
		{ID: "expr_scopes", Name: "ExprScopesQuery", Group: "def"},
		{ID: "infer", Name: "InferQuery", Group: "ty"},
		{ID: "body", Name: "BodyQuery", Group: "def"},
	}
}

// New builds a registry. An empty list yields DefaultTables.
func New(tables []model.TableDescriptor) (*Registry, error) {
	if len(tables) == 0 {
		tables = DefaultTables()
	}

	r := &Registry{
		tables: make([]model.TableDescriptor, 0, len(tables)),
		byID:   make(map[model.TableID]int, len(tables)),
	}
	for i, t := range tables {
		if t.ID == "" {
			return nil, fmt.Errorf("table %d: empty id", i)
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("table %d: duplicate id %q", i, t.ID)
		}
		r.byID[t.ID] = len(r.tables)
		r.tables = append(r.tables, t)
	}
	return r, nil
}

// MustDefault returns a registry of DefaultTables
func MustDefault() *Registry {
	r, err := New(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Tables returns the descriptors in registry order
func (r *Registry) Tables() []model.TableDescriptor {
	out := make([]model.TableDescriptor, len(r.tables))
	copy(out, r.tables)
	return out
}

// IDs returns the table ids in registry order
func (r *Registry) IDs() []model.TableID {
	ids := make([]model.TableID, len(r.tables))
	for i, t := range r.tables {
		ids[i] = t.ID
	}
	return ids
}

// Lookup returns the descriptor of a table
func (r *Registry) Lookup(id model.TableID) (model.TableDescriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return model.TableDescriptor{}, false
	}
	return r.tables[i], true
}

// Len returns the number of tables
func (r *Registry) Len() int {
	return len(r.tables)
}
