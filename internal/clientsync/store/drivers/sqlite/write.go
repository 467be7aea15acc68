package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/commonassist/casehub/internal/clientsync/store"
)

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

// Upsert inserts keyed by keyColumn. Rows that already exist keep their
// insert-only fields and refresh the rest.
func (t *sqliteTx) Upsert(ctx context.Context, table, keyColumn string, fields []store.Field) error {
	query, args, err := buildUpsert(table, keyColumn, fields)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, query, args...)
	return err
}

func buildUpsert(table, keyColumn string, fields []store.Field) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("sqlite: upsert into %s with no fields", table)
	}

	cols := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	var set []string
	for _, f := range fields {
		cols = append(cols, quoteIdent(f.Column))
		marks = append(marks, "?")
		args = append(args, f.Value)
		if f.Refresh && f.Column != keyColumn {
			set = append(set, quoteIdent(f.Column)+" = excluded."+quoteIdent(f.Column))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if len(set) == 0 {
		fmt.Fprintf(&b, " ON CONFLICT(%s) DO NOTHING", quoteIdent(keyColumn))
	} else {
		fmt.Fprintf(&b, " ON CONFLICT(%s) DO UPDATE SET %s", quoteIdent(keyColumn), strings.Join(set, ", "))
	}
	return b.String(), args, nil
}

// AddColumn appends a nullable column, the only schema change repair makes.
func (c *Conn) AddColumn(ctx context.Context, table, column, sqlType string) error {
	if sqlType == "" {
		sqlType = "TEXT"
	}
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(column), sqlType))
	return err
}

// Distinct returns the distinct non-null values of column as strings.
func (c *Conn) Distinct(ctx context.Context, table, column string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
		quoteIdent(column), quoteIdent(table), quoteIdent(column)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Duplicates returns values of column held by more than one row.
func (c *Conn) Duplicates(ctx context.Context, table, column string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1",
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
		"SELECT COUNT(*) FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(column)), value).Scan(&n)
	return n, err
}

func (c *Conn) DeleteWhere(ctx context.Context, table, column, value string) (int64, error) {
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(column)), value)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *Conn) NullWhere(ctx context.Context, table, column, value string) (int64, error) {
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET %s = NULL WHERE %s = ?",
		quoteIdent(table), quoteIdent(column), quoteIdent(column)), value)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DedupeByKey keeps the newest of the rows sharing key = value and deletes
// the rest. Newest means greatest orderColumn, then greatest rowid.
func (c *Conn) DedupeByKey(ctx context.Context, table, key, value, orderColumn string) (int64, error) {
	order := "rowid DESC"
	if orderColumn != "" {
		order = quoteIdent(orderColumn) + " DESC, rowid DESC"
	}
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ? AND rowid NOT IN (SELECT rowid FROM %s WHERE %s = ? ORDER BY %s LIMIT 1)",
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
