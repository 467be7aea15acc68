package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/commonassist/casehub/internal/clientsync/store"

	_ "modernc.org/sqlite"
)

// Conn is a sqlite-backed store. Default driver: every functional module
// ships as a local embedded database file.
type Conn struct {
	db  *sql.DB
	dsn string
}

var _ store.Conn = (*Conn)(nil)
var _ store.Migrator = (*Conn)(nil)

// Open opens (or creates) the database at dsn and applies the connection
// pragmas every store relies on.
func Open(dsn string) (*Conn, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Conn{db: db, dsn: dsn}, nil
}

func (c *Conn) Driver() string { return "sqlite" }

func (c *Conn) Close() error { return c.db.Close() }

// Ping verifies the database connection is still alive.
func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Begin starts a local write transaction.
func (c *Conn) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// DB exposes the raw handle for tests that need to seed arbitrary schemas.
func (c *Conn) DB() *sql.DB { return c.db }

// quoteIdent wraps an identifier in double quotes. Table and column names
// come from config and live introspection, never request input, but they
// still can't be bound as parameters.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
