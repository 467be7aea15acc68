package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commonassist/casehub/internal/clientsync/service"
	"github.com/commonassist/casehub/pkg/blobx"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CLIENTSYNC_REGISTRY_FILE", "")
	t.Setenv("CLIENTSYNC_LOCK_TIMEOUT", "")
	t.Setenv("CLIENTSYNC_SCAN_RATE", "")
	t.Setenv("CLIENTSYNC_AUDIT_INTERVAL", "")
	t.Setenv("CLIENTSYNC_AUDIT_POLICY", "")
	t.Setenv("CLIENTSYNC_SNAPSHOT_DRIVER", "")

	cfg := LoadConfig()
	require.Equal(t, "stores.yaml", cfg.RegistryFile)
	require.Equal(t, service.DefaultLockTimeout, cfg.LockTimeout)
	require.Equal(t, float64(service.DefaultScanRate), cfg.ScanRate)
	require.Equal(t, 24*time.Hour, cfg.AuditInterval)
	require.Equal(t, "skip", cfg.AuditPolicy)
	require.Equal(t, blobx.DriverFilesystem, cfg.Snapshots.Driver)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CLIENTSYNC_LOCK_TIMEOUT", "3s")
	t.Setenv("CLIENTSYNC_SCAN_RATE", "125.5")
	t.Setenv("CLIENTSYNC_AUDIT_INTERVAL", "90m")
	t.Setenv("CLIENTSYNC_METRICS_ADDR", ":9090")
	t.Setenv("CLIENTSYNC_SNAPSHOT_DRIVER", "s3")
	t.Setenv("CLIENTSYNC_SNAPSHOT_BUCKET", "casehub-snapshots")
	t.Setenv("CLIENTSYNC_SNAPSHOT_PATH_STYLE", "true")

	cfg := LoadConfig()
	require.Equal(t, 3*time.Second, cfg.LockTimeout)
	require.Equal(t, 125.5, cfg.ScanRate)
	require.Equal(t, 90*time.Minute, cfg.AuditInterval)
	require.Equal(t, ":9090", cfg.MetricsAddr)
	require.Equal(t, blobx.DriverS3, cfg.Snapshots.Driver)
	require.Equal(t, "casehub-snapshots", cfg.Snapshots.Bucket)
	require.True(t, cfg.Snapshots.PathStyle)
}

func TestLoadConfigBadValuesFallBack(t *testing.T) {
	t.Setenv("CLIENTSYNC_LOCK_TIMEOUT", "fast")
	t.Setenv("CLIENTSYNC_SCAN_RATE", "many")

	cfg := LoadConfig()
	require.Equal(t, service.DefaultLockTimeout, cfg.LockTimeout)
	require.Equal(t, float64(service.DefaultScanRate), cfg.ScanRate)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()

	registryFile := filepath.Join(dir, "stores.yaml")
	registryYAML := fmt.Sprintf("stores:\n  - id: core\n    dsn: %q\n    master: true\n",
		"file:"+filepath.Join(dir, "core.db"))
	require.NoError(t, os.WriteFile(registryFile, []byte(registryYAML), 0o600))

	return Config{
		RegistryFile:        registryFile,
		Env:                 "dev",
		LogLevel:            "error",
		LogFormat:           "text",
		LockTimeout:         time.Second,
		ScanRate:            100,
		AuditInterval:       time.Hour,
		AuditPolicy:         "skip",
		ShutdownGracePeriod: time.Second,
		Snapshots:           blobx.Config{Driver: blobx.DriverFilesystem, Dir: filepath.Join(dir, "snapshots")},
	}
}

func TestNewApplicationWiresServices(t *testing.T) {
	t.Parallel()

	application, err := New(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = application.Close() }()

	require.NotNil(t, application.Sync())
	require.NotNil(t, application.Audit())
	require.Equal(t, "core", application.Registry().Master().ID)

	require.NoError(t, application.MigrateMaster())
	cols, err := application.Conns()["core"].Columns(context.Background(), "clients")
	require.NoError(t, err)
	require.False(t, cols.Empty())
}

func TestNewApplicationRejectsBadPolicy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.AuditPolicy = "purge"
	_, err := New(cfg)
	require.ErrorContains(t, err, "audit policy")
}

func TestNewApplicationMissingRegistry(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.RegistryFile = filepath.Join(t.TempDir(), "absent.yaml")
	_, err := New(cfg)
	require.Error(t, err)
}
