package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/commonassist/casehub/internal/clientsync/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

func (t *pgTx) Upsert(ctx context.Context, table, keyColumn string, fields []store.Field) error {
	query, args, err := buildUpsert(table, keyColumn, fields)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, query, args...)
	return err
}

func buildUpsert(table, keyColumn string, fields []store.Field) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("postgres: upsert into %s with no fields", table)
	}

	cols := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	var set []string
	for i, f := range fields {
		cols = append(cols, quoteIdent(f.Column))
		marks = append(marks, fmt.Sprintf("$%d", i+1))
		args = append(args, f.Value)
		if f.Refresh && f.Column != keyColumn {
			set = append(set, quoteIdent(f.Column)+" = EXCLUDED."+quoteIdent(f.Column))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if len(set) == 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", quoteIdent(keyColumn))
	} else {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", quoteIdent(keyColumn), strings.Join(set, ", "))
	}
	return b.String(), args, nil
}

func (c *Conn) AddColumn(ctx context.Context, table, column, sqlType string) error {
	if sqlType == "" {
		sqlType = "TEXT"
	}
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(column), sqlType))
	return err
}

func (c *Conn) Distinct(ctx context.Context, table, column string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT %s::text FROM %s WHERE %s IS NOT NULL",
		quoteIdent(column), quoteIdent(table), quoteIdent(column)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (c *Conn) Duplicates(ctx context.Context, table, column string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s::text FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1",
		quoteIdent(column), quoteIdent(table), quoteIdent(column), quoteIdent(column)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (c *Conn) CountWhere(ctx context.Context, table, column, value string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE %s::text = $1", quoteIdent(table), quoteIdent(column)), value).Scan(&n)
	return n, err
}

func (c *Conn) DeleteWhere(ctx context.Context, table, column, value string) (int64, error) {
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s::text = $1", quoteIdent(table), quoteIdent(column)), value)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *Conn) NullWhere(ctx context.Context, table, column, value string) (int64, error) {
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET %s = NULL WHERE %s::text = $1",
		quoteIdent(table), quoteIdent(column), quoteIdent(column)), value)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DedupeByKey keeps the newest row sharing key = value, using ctid as the
// physical tie breaker.
func (c *Conn) DedupeByKey(ctx context.Context, table, key, value, orderColumn string) (int64, error) {
	order := "ctid DESC"
	if orderColumn != "" {
		order = quoteIdent(orderColumn) + " DESC, ctid DESC"
	}
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s::text = $1 AND ctid NOT IN (SELECT ctid FROM %s WHERE %s::text = $2 ORDER BY %s LIMIT 1)",
		quoteIdent(table), quoteIdent(key), quoteIdent(table), quoteIdent(key), order),
		value, value)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
