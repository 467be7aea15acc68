// Package registry holds the configured set of client stores. The registry
// is loaded once at startup and read-only afterwards; every sync attempt and
// audit run walks the same ordered store list.
package registry

import (
	"errors"
	"fmt"
)

// ErrUnknownStore reports a store id no registered store carries. Reaching a
// store that is not configured is a programmer error, so callers should treat
// this as fatal rather than fold it into a per-store outcome.
var ErrUnknownStore = errors.New("registry: unknown store")

// DefaultRule fills one column when the incoming record has no value for it.
// Exactly one of Value or Generator is set.
type DefaultRule struct {
	Column    string `yaml:"column"`
	Value     any    `yaml:"value,omitempty"`
	Generator string `yaml:"generator,omitempty"`
}

// Store describes one registered datastore. Master stores originate client
// ids; dependents only ever receive them.
type Store struct {
	ID       string        `yaml:"id"`
	Module   string        `yaml:"module,omitempty"` // functional area, defaults to ID
	Driver   string        `yaml:"driver,omitempty"` // sqlite (default) or postgres
	DSN      string        `yaml:"dsn"`
	Table    string        `yaml:"table,omitempty"` // client table, defaults to "clients"
	Master   bool          `yaml:"master,omitempty"`
	Defaults []DefaultRule `yaml:"defaults,omitempty"`
}

// Reference maps a foreign-key-like column name to the store, table and key
// column it points at, so the auditor can resolve arbitrary `*_id` columns.
type Reference struct {
	Column string `yaml:"column"`
	Store  string `yaml:"store"`
	Table  string `yaml:"table"`
	Key    string `yaml:"key,omitempty"` // defaults to "id"
}

// Registry is the validated, ordered store set.
type Registry struct {
	stores []*Store // master first, then file order
	byID   map[string]*Store
	master *Store
	refs   map[string]Reference
}

// List returns every store, master first then file order. The returned slice
// is shared; callers must not mutate it.
func (r *Registry) List() []*Store {
	return r.stores
}

// Get resolves a store id.
func (r *Registry) Get(id string) (*Store, error) {
	st, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, id)
	}
	return st, nil
}

// Master returns the single id-originating store.
func (r *Registry) Master() *Store {
	return r.master
}

// Dependents returns every non-master store in file order.
func (r *Registry) Dependents() []*Store {
	return r.stores[1:]
}

// ResolveReference maps a column name to the store/table/key it references.
// `client_id` implicitly targets the master client table unless the file says
// otherwise; the referenced store's own id column ("id" in its client table)
// resolves the same way.
func (r *Registry) ResolveReference(column string) (Reference, bool) {
	if ref, ok := r.refs[column]; ok {
		return ref, true
	}
	if column == "client_id" {
		return Reference{
			Column: column,
			Store:  r.master.ID,
			Table:  r.master.Table,
			Key:    "id",
		}, true
	}
	return Reference{}, false
}
