package sqlite

import (
	"context"
	"database/sql"

	"github.com/commonassist/casehub/internal/clientsync/store"
)

// Tables lists user tables, skipping sqlite internals.
func (c *Conn) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE 'schema_migrations%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns reads the live column set via PRAGMA table_info. A table that does
// not exist yields an empty set, not an error.
func (c *Conn) Columns(ctx context.Context, table string) (store.ColumnSet, error) {
	rows, err := c.db.QueryContext(ctx, `PRAGMA table_info(`+quoteIdent(table)+`)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols store.ColumnSet
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, store.Column{
			Name:       name,
			Type:       ctype,
			NotNull:    notnull != 0,
			PrimaryKey: pk > 0,
		})
	}
	return cols, rows.Err()
}
