package store

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrSnapshotUnsupported reports a driver that cannot produce a
	// consistent online copy.
	ErrSnapshotUnsupported = errors.New("store: snapshot unsupported")
)

// Field is one column write produced by the field mapper. Refresh marks
// fields that overwrite on an id conflict; non-refresh fields only apply on
// first insert so later partial updates never clobber creation-time values.
type Field struct {
	Column  string
	Value   any
	Refresh bool
}

// Column describes one live column of a table.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

// ColumnSet is the live column list of one table in declaration order. An
// empty set means the table does not exist.
type ColumnSet []Column

// Has reports whether the set carries a column with the given name.
func (cs ColumnSet) Has(name string) bool {
	_, ok := cs.Get(name)
	return ok
}

// Get returns the named column.
func (cs ColumnSet) Get(name string) (Column, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the column names in declaration order.
func (cs ColumnSet) Names() []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

// Empty reports whether the table is absent (or genuinely has no columns).
func (cs ColumnSet) Empty() bool { return len(cs) == 0 }

// Conn is one open datastore. Concrete drivers (sqlite, postgres) implement
// this. Schema introspection always reads live metadata; results are never
// cached between calls, because dependent store schemas evolve underneath us.
type Conn interface {
	// Driver names the concrete implementation, e.g. "sqlite".
	Driver() string

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close releases the underlying handles.
	Close() error

	// Tables lists the store's user tables.
	Tables(ctx context.Context) ([]string, error)

	// Columns returns the live column set of table. A missing table yields
	// an empty set and no error; callers decide whether that is a failure.
	Columns(ctx context.Context, table string) (ColumnSet, error)

	// AddColumn appends a nullable column. Used by schema repair only.
	AddColumn(ctx context.Context, table, column, sqlType string) error

	// Distinct returns the distinct non-null values of a column as strings.
	Distinct(ctx context.Context, table, column string) ([]string, error)

	// Duplicates returns values of column held by more than one row.
	Duplicates(ctx context.Context, table, column string) ([]string, error)

	// CountWhere counts rows with column = value.
	CountWhere(ctx context.Context, table, column, value string) (int64, error)

	// DeleteWhere removes rows with column = value and reports how many.
	DeleteWhere(ctx context.Context, table, column, value string) (int64, error)

	// NullWhere sets column to NULL on rows with column = value.
	NullWhere(ctx context.Context, table, column, value string) (int64, error)

	// DedupeByKey deletes all but one row with key = value, keeping the row
	// with the greatest orderColumn (ties and an empty orderColumn fall back
	// to physical order).
	DedupeByKey(ctx context.Context, table, key, value, orderColumn string) (int64, error)

	// Begin opens a local write transaction. The caller MUST Commit or
	// Rollback; Rollback after Commit is a no-op so a deferred Rollback is
	// always safe.
	Begin(ctx context.Context) (Tx, error)

	// Snapshot streams a consistent copy of the whole store to w.
	Snapshot(ctx context.Context, w io.Writer) error
}

// Tx is one store-local write transaction owned by a single sync attempt.
type Tx interface {
	// Upsert inserts fields keyed by keyColumn, updating the Refresh fields
	// when a row with that key already exists.
	Upsert(ctx context.Context, table, keyColumn string, fields []Field) error

	Commit() error
	Rollback() error
}

// Migrator is implemented by drivers that own their baseline schema. Only
// the master store is ever migrated by this subsystem; dependent schemas
// belong to their modules and are only introspected.
type Migrator interface {
	ApplyMigrations() error
}
