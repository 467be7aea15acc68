package sqlite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/commonassist/casehub/pkg/idx"
)

// Snapshot streams a consistent copy of the whole database to w using
// VACUUM INTO, which produces a compact single-file copy without blocking
// concurrent readers.
func (c *Conn) Snapshot(ctx context.Context, w io.Writer) error {
	path := filepath.Join(os.TempDir(), "casehub-snap-"+idx.New().String()+".db")
	defer func() { _ = os.Remove(path) }()

	// VACUUM INTO takes a filename literal, not a bind parameter.
	escaped := strings.ReplaceAll(path, "'", "''")
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return fmt.Errorf("sqlite: vacuum into: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("sqlite: stream snapshot: %w", err)
	}
	return nil
}
