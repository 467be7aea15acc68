package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Snapshot writes a JSON-lines dump of every table inside one repeatable-read
// transaction: a header line, then one {"table","row"} line per row. Postgres
// has no single-file copy to stream, so the dump is the generic restore
// format for this driver.
func (c *Conn) Snapshot(ctx context.Context, w io.Writer) error {
	tables, err := c.Tables(ctx)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	enc := json.NewEncoder(w)
	header := map[string]any{
		"format":  "casehub-pgdump",
		"version": 1,
		"taken":   time.Now().UTC(),
		"tables":  tables,
	}
	if err := enc.Encode(header); err != nil {
		return err
	}

	for _, table := range tables {
		if err := dumpTable(ctx, tx, enc, table); err != nil {
			return fmt.Errorf("postgres: dump %s: %w", table, err)
		}
	}
	return nil
}

func dumpTable(ctx context.Context, tx *sql.Tx, enc *json.Encoder, table string) error {
	rows, err := tx.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	type line struct {
		Table string         `json:"table"`
		Row   map[string]any `json:"row"`
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		if err := enc.Encode(line{Table: table, Row: row}); err != nil {
			return err
		}
	}
	return rows.Err()
}
