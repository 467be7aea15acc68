package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	"github.com/commonassist/casehub/internal/clientsync/store/drivers/sqlite"
)

func TestParseAttrs(t *testing.T) {
	t.Parallel()

	m, err := parseAttrs([]string{"bedroom_count=2", "benefit_type=food"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"bedroom_count": "2", "benefit_type": "food"}, m)

	m, err = parseAttrs(nil)
	require.NoError(t, err)
	require.Nil(t, m)

	_, err = parseAttrs([]string{"no-separator"})
	require.Error(t, err)
	_, err = parseAttrs([]string{"=value"})
	require.Error(t, err)
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, err := parseDate("2026-08-25")
	require.NoError(t, err)
	require.Equal(t, 2026, d.Year())

	_, err = parseDate("25/08/2026")
	require.Error(t, err)
}

// runCLI executes one command line against a fresh root command.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLISyncAndAuditFlow(t *testing.T) {
	dir := t.TempDir()

	coreDSN := "file:" + filepath.Join(dir, "core.db")
	housingDSN := "file:" + filepath.Join(dir, "housing.db")

	// The housing schema belongs to its module; create it out of band.
	housing, err := sqlite.Open(housingDSN)
	require.NoError(t, err)
	_, err = housing.DB().Exec(`
		CREATE TABLE clients (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			updated_at TIMESTAMP
		);
	`)
	require.NoError(t, err)
	require.NoError(t, housing.Close())

	registryFile := filepath.Join(dir, "stores.yaml")
	registryYAML := fmt.Sprintf(`stores:
  - id: core
    dsn: %q
    master: true
  - id: housing
    module: housing
    dsn: %q
`, coreDSN, housingDSN)
	require.NoError(t, os.WriteFile(registryFile, []byte(registryYAML), 0o600))

	t.Setenv("CLIENTSYNC_REGISTRY_FILE", registryFile)
	t.Setenv("CLIENTSYNC_SNAPSHOT_DIR", filepath.Join(dir, "snapshots"))
	t.Setenv("LOG_LEVEL", "error")

	_, err = runCLI(t, "stores", "init")
	require.NoError(t, err)

	out, err := runCLI(t, "create", "--format", "json",
		"--first-name", "Ana", "--last-name", "Ruiz", "--risk", "high")
	require.NoError(t, err)

	var res domain.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.OverallSuccess)
	require.NotEmpty(t, res.ClientID)

	out, err = runCLI(t, "update", res.ClientID, "--last-name", "Ruiz-Marin")
	require.NoError(t, err)
	require.Contains(t, out, "updated in: core, housing")

	out, err = runCLI(t, "stores", "list")
	require.NoError(t, err)
	require.Contains(t, out, "core")
	require.Contains(t, out, "housing")
	require.Contains(t, out, "ok")

	out, err = runCLI(t, "audit", "--format", "json")
	require.NoError(t, err)
	require.Contains(t, out, `"violationsFound": 0`)

	out, err = runCLI(t, "stores", "snapshot", "core")
	require.NoError(t, err)
	require.Contains(t, out, "snapshots/core/")

	out, err = runCLI(t, "stores", "snapshots")
	require.NoError(t, err)
	require.Contains(t, out, "snapshots/core/")
}

func TestCLIRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "stores", "list", "--format", "yaml")
	require.Error(t, err)
}

func TestCLIAuditRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "audit", "--policy", "purge")
	require.Error(t, err)
}
