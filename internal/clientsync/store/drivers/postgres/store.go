// Package postgres backs a client store with PostgreSQL. Modules that have
// outgrown an embedded file register their store with driver "postgres"; the
// sync and audit paths treat both drivers identically.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/commonassist/casehub/internal/clientsync/store"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

type Conn struct {
	db  *sql.DB
	dsn string
}

var _ store.Conn = (*Conn)(nil)

// Open connects and verifies the connection.
func Open(ctx context.Context, dsn string) (*Conn, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Conn{db: db, dsn: dsn}, nil
}

func (c *Conn) Driver() string { return "postgres" }

func (c *Conn) Close() error { return c.db.Close() }

func (c *Conn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Begin starts a local write transaction.
func (c *Conn) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

// DB exposes the raw handle for integration tests.
func (c *Conn) DB() *sql.DB { return c.db }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
