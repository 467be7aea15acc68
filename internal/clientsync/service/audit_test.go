package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	"github.com/commonassist/casehub/internal/clientsync/registry"
	"github.com/commonassist/casehub/pkg/blobx"
	"github.com/commonassist/casehub/pkg/idx"
)

// seedOrphans plants rows whose client_id points at ids no store holds.
func (e *testEnv) seedOrphans(t *testing.T) {
	t.Helper()
	_, err := e.benefits.DB().Exec(
		"INSERT INTO service_episodes (id, client_id, kind) VALUES ('ep-1', 'ghost-1', 'assessment')")
	require.NoError(t, err)
	_, err = e.housing.DB().Exec(
		"INSERT INTO placements (id, client_id, address) VALUES ('pl-1', 'ghost-2', '12 High St')")
	require.NoError(t, err)
}

func findViolation(t *testing.T, vs []domain.Violation, kind domain.ViolationKind, storeID, table string) domain.Violation {
	t.Helper()
	for _, v := range vs {
		if v.Kind == kind && v.StoreID == storeID && v.Table == table {
			return v
		}
	}
	t.Fatalf("no %s violation for %s.%s in %v", kind, storeID, table, vs)
	return domain.Violation{}
}

func TestScanCleanDeployment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.sync.CreateClient(ctx, anaRuiz())
	require.NoError(t, err)

	vs, err := env.audit.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, vs)
}

func TestScanFindsOrphanedReferences(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.sync.CreateClient(ctx, anaRuiz())
	require.NoError(t, err)
	env.seedOrphans(t)

	// A dangling case manager reference in the master itself, resolved
	// through the configured reference rather than the master fallback.
	_, err = env.core.DB().Exec(`
		INSERT INTO clients (id, first_name, last_name, case_manager_id, created_at, updated_at)
		VALUES ('c-lee', 'Lee', 'Wong', 'cm-ghost', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	vs, err := env.audit.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 3)

	ep := findViolation(t, vs, domain.ViolationOrphanReference, "benefits", "service_episodes")
	require.Equal(t, "client_id", ep.Column)
	require.Equal(t, "ghost-1", ep.RowID)
	require.Equal(t, "core", ep.RefStoreID)
	require.Equal(t, "clients", ep.RefTable)
	require.Equal(t, int64(1), ep.Rows)

	pl := findViolation(t, vs, domain.ViolationOrphanReference, "housing", "placements")
	require.Equal(t, "ghost-2", pl.RowID)

	cm := findViolation(t, vs, domain.ViolationOrphanReference, "core", "clients")
	require.Equal(t, "case_manager_id", cm.Column)
	require.Equal(t, "cm-ghost", cm.RowID)
	require.Equal(t, "case_managers", cm.RefTable)
}

func TestAuditRunDeleteOrphanHeals(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.sync.CreateClient(ctx, anaRuiz())
	require.NoError(t, err)
	env.seedOrphans(t)
	_, err = env.core.DB().Exec(`
		INSERT INTO clients (id, first_name, last_name, case_manager_id, created_at, updated_at)
		VALUES ('c-lee', 'Lee', 'Wong', 'cm-ghost', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	report, err := env.audit.Run(ctx, domain.RepairDeleteOrphan)
	require.NoError(t, err)

	require.NotEmpty(t, report.RunID)
	require.Equal(t, domain.RepairDeleteOrphan, report.Policy)
	require.Equal(t, 3, report.DatabasesChecked)
	require.Equal(t, 3, report.ViolationsFound)
	require.Equal(t, 3, report.ViolationsRepaired)
	require.Equal(t, 0, report.ViolationsRemaining)
	require.Equal(t, []string{"core", "housing", "benefits"}, report.CleanDatabases)
	require.False(t, report.FinishedAt.Before(report.StartedAt))

	for _, v := range report.Found {
		require.Equal(t, domain.ActionDeleted, v.Action)
	}

	// Every store was snapshotted before its rows were touched.
	require.Len(t, report.Backups, 3)
	for storeID, key := range report.Backups {
		info, err := env.blobs.Head(ctx, key)
		require.NoError(t, err, storeID)
		require.Greater(t, info.Size, int64(0))
	}

	n, err := env.benefits.CountWhere(ctx, "service_episodes", "client_id", "ghost-1")
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = env.housing.CountWhere(ctx, "placements", "client_id", "ghost-2")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, int64(0), rowCount(t, env.core, "clients", "c-lee"))
	require.Equal(t, int64(1), rowCount(t, env.core, "clients", created.ClientID))
}

func TestAuditRunNullReferenceRespectsNotNull(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedOrphans(t)

	report, err := env.audit.Run(ctx, domain.RepairNullReference)
	require.NoError(t, err)

	// placements.client_id is nullable and was cleared; service_episodes
	// declares NOT NULL so that orphan stays for the operator.
	require.Equal(t, 2, report.ViolationsFound)
	require.Equal(t, 1, report.ViolationsRepaired)
	require.Equal(t, 1, report.ViolationsRemaining)
	require.Equal(t, []string{"core", "housing"}, report.CleanDatabases)

	var cid sql.NullString
	require.NoError(t, env.housing.DB().QueryRow(
		"SELECT client_id FROM placements WHERE id = 'pl-1'").Scan(&cid))
	require.False(t, cid.Valid)

	n, err := env.benefits.CountWhere(ctx, "service_episodes", "client_id", "ghost-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, "benefits", report.Remaining[0].StoreID)

	// Only the store that was actually modified got a backup.
	require.Len(t, report.Backups, 1)
	require.Contains(t, report.Backups, "housing")
}

func TestAuditRepairSparesHealedOrphan(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	ghost := idx.New().String()
	_, err := env.benefits.DB().Exec(
		"INSERT INTO service_episodes (id, client_id, kind) VALUES ('ep-9', ?, 'review')", ghost)
	require.NoError(t, err)

	vs, err := env.audit.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 1)

	// Between scan and repair a sync brings the missing client back. The
	// repair re-checks the target under the id lock and must not delete.
	rec := anaRuiz()
	rec.ID = ghost
	_, err = env.sync.CreateClient(ctx, rec)
	require.NoError(t, err)

	report, err := env.audit.Repair(ctx, vs, domain.RepairDeleteOrphan)
	require.NoError(t, err)

	require.Empty(t, report.Repaired)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, domain.ActionSkipped, report.Skipped[0].Action)
	require.Contains(t, report.Skipped[0].Detail, "reference target now exists")

	n, err := env.benefits.CountWhere(ctx, "service_episodes", "client_id", ghost)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestAuditDetectsAndRepairsDuplicateIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	core := openStore(t, dir, "core.db")
	require.NoError(t, core.ApplyMigrations())

	// A legacy module whose client table never grew a unique constraint.
	legacy := openStore(t, dir, "legacy.db")
	_, err := legacy.DB().Exec(`
		CREATE TABLE clients (
			id TEXT,
			first_name TEXT,
			last_name TEXT,
			updated_at TIMESTAMP
		);
		INSERT INTO clients (id, first_name, last_name, updated_at) VALUES
			('c-1', 'Rob', 'Old', '2026-08-01T00:00:00Z'),
			('c-1', 'Rob', 'New', '2026-08-20T00:00:00Z');
	`)
	require.NoError(t, err)

	reg, err := registry.New(registry.File{Stores: []*registry.Store{
		{ID: "core", DSN: "seeded", Master: true},
		{ID: "legacy", DSN: "seeded"},
	}})
	require.NoError(t, err)

	blobs, err := blobx.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	audit := NewAuditService(reg, Conns{"core": core, "legacy": legacy}, NewIDLocker(time.Second), blobs, 1000)

	vs, err := audit.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	require.Equal(t, domain.ViolationDuplicateID, vs[0].Kind)
	require.Equal(t, "legacy", vs[0].StoreID)
	require.Equal(t, "c-1", vs[0].RowID)
	require.Equal(t, int64(2), vs[0].Rows)

	report, err := audit.Repair(ctx, vs, domain.RepairDeleteOrphan)
	require.NoError(t, err)
	require.Len(t, report.Repaired, 1)
	require.Contains(t, report.Backups, "legacy")

	// The newest row by updated_at survives.
	var n int
	require.NoError(t, legacy.DB().QueryRow("SELECT COUNT(*) FROM clients WHERE id = 'c-1'").Scan(&n))
	require.Equal(t, 1, n)
	var last string
	require.NoError(t, legacy.DB().QueryRow("SELECT last_name FROM clients WHERE id = 'c-1'").Scan(&last))
	require.Equal(t, "New", last)

	vs, err = audit.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, vs)
}

func TestAuditRunRepairsMissingColumns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	core := openStore(t, dir, "core.db")
	require.NoError(t, core.ApplyMigrations())

	// One store lost a required column, another never created the client
	// table at all.
	intake := openStore(t, dir, "intake.db")
	_, err := intake.DB().Exec(`
		CREATE TABLE clients (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			created_at TIMESTAMP
		);
	`)
	require.NoError(t, err)
	referrals := openStore(t, dir, "referrals.db")

	reg, err := registry.New(registry.File{Stores: []*registry.Store{
		{ID: "core", DSN: "seeded", Master: true},
		{ID: "intake", DSN: "seeded"},
		{ID: "referrals", DSN: "seeded"},
	}})
	require.NoError(t, err)

	blobs, err := blobx.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	audit := NewAuditService(reg, Conns{"core": core, "intake": intake, "referrals": referrals}, NewIDLocker(time.Second), blobs, 1000)

	report, err := audit.Run(ctx, domain.RepairDeleteOrphan)
	require.NoError(t, err)

	require.Equal(t, 2, report.ViolationsFound)
	require.Equal(t, 1, report.ViolationsRepaired)
	require.Equal(t, 1, report.ViolationsRemaining)
	require.Equal(t, []string{"core", "intake"}, report.CleanDatabases)

	// The missing column was added in place; the missing table is left to
	// the owning module and reported again.
	cols, err := intake.Columns(ctx, "clients")
	require.NoError(t, err)
	require.True(t, cols.Has("last_name"))
	require.Equal(t, "referrals", report.Remaining[0].StoreID)
	require.Equal(t, domain.ViolationMissingColumn, report.Remaining[0].Kind)

	// Schema repair is additive, no backup needed.
	require.Empty(t, report.Backups)
}

func TestAuditSkipPolicyReportsWithoutTouching(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedOrphans(t)

	report, err := env.audit.Run(ctx, domain.RepairSkip)
	require.NoError(t, err)

	require.Equal(t, 2, report.ViolationsFound)
	require.Equal(t, 0, report.ViolationsRepaired)
	require.Equal(t, 2, report.ViolationsRemaining)
	require.Empty(t, report.Backups)

	n, err := env.benefits.CountWhere(ctx, "service_episodes", "client_id", "ghost-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = env.housing.CountWhere(ctx, "placements", "client_id", "ghost-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestAuditRunRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.audit.Run(context.Background(), domain.RepairPolicy("purge"))
	require.Error(t, err)
}

func TestSnapshotAndList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.sync.CreateClient(ctx, anaRuiz())
	require.NoError(t, err)

	key, err := env.audit.Snapshot(ctx, "core")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "snapshots/core/"))
	require.True(t, strings.HasSuffix(key, ".db"))

	info, rc, err := env.blobs.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
	require.Equal(t, int64(len(data)), info.Size)
	require.Equal(t, "core", info.Metadata["store"])

	_, err = env.audit.Snapshot(ctx, "core")
	require.NoError(t, err)

	infos, err := env.audit.ListSnapshots(ctx, "core")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	all, err := env.audit.ListSnapshots(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = env.audit.Snapshot(ctx, "missing-store")
	require.Error(t, err)

	bare := &AuditService{Registry: env.reg, Conns: env.conns, Locks: env.locks}
	_, err = bare.Snapshot(ctx, "core")
	require.ErrorIs(t, err, ErrNoSnapshotStore)
}
