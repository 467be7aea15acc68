package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	"github.com/commonassist/casehub/internal/clientsync/mapper"
	"github.com/commonassist/casehub/internal/clientsync/registry"
	"github.com/commonassist/casehub/internal/clientsync/store"
	"github.com/commonassist/casehub/pkg/blobx"
	"github.com/commonassist/casehub/pkg/slogx"
)

// ErrNoSnapshotStore reports destructive repair attempted without a blob
// store to back up into.
var ErrNoSnapshotStore = errors.New("service: no snapshot store configured")

// DefaultScanRate caps audit scan queries per second.
const DefaultScanRate = 50

// requiredColumns are the columns a client table cannot function without:
// the identity key plus the legal name every module displays.
var requiredColumns = []string{mapper.IdentityColumn, "first_name", "last_name"}

// AuditService scans every registered store for cross-store drift and
// applies a repair policy. It runs independently of live sync traffic and
// holds a client's lock only while repairing that client's rows, never for a
// whole scan.
type AuditService struct {
	Registry *registry.Registry
	Conns    Conns
	Locks    *IDLocker
	Blobs    blobx.Store
	Metrics  MetricsRecorder

	limiter *rate.Limiter
}

// NewAuditService wires the auditor. scanRate caps scan queries per second;
// zero or negative means DefaultScanRate.
func NewAuditService(reg *registry.Registry, conns Conns, locks *IDLocker, blobs blobx.Store, scanRate float64) *AuditService {
	if scanRate <= 0 {
		scanRate = DefaultScanRate
	}
	burst := int(scanRate)
	if burst < 1 {
		burst = 1
	}
	return &AuditService{
		Registry: reg,
		Conns:    conns,
		Locks:    locks,
		Blobs:    blobs,
		limiter:  rate.NewLimiter(rate.Limit(scanRate), burst),
	}
}

// Scan walks every store and reports orphaned references, duplicate client
// ids and missing client-table columns. Reference columns are resolved
// through the registry; `client_id` targets the master by convention.
func (s *AuditService) Scan(ctx context.Context) ([]domain.Violation, error) {
	sets := &refSets{sets: make(map[string]*refSet)}

	var out []domain.Violation
	for _, st := range s.Registry.List() {
		conn, ok := s.Conns[st.ID]
		if !ok {
			return nil, fmt.Errorf("audit: store %q has no open connection", st.ID)
		}
		violations, err := s.scanStore(ctx, st, conn, sets)
		if err != nil {
			return nil, err
		}
		out = append(out, violations...)
	}
	return out, nil
}

func (s *AuditService) scanStore(ctx context.Context, st *registry.Store, conn store.Conn, sets *refSets) ([]domain.Violation, error) {
	var out []domain.Violation

	// Client table shape.
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	cols, err := conn.Columns(ctx, st.Table)
	if err != nil {
		return nil, fmt.Errorf("audit %s: columns of %s: %w", st.ID, st.Table, err)
	}
	if cols.Empty() {
		out = append(out, domain.Violation{
			StoreID: st.ID,
			Table:   st.Table,
			Kind:    domain.ViolationMissingColumn,
			Detail:  "client table missing",
		})
	} else {
		for _, required := range requiredColumns {
			if !cols.Has(required) {
				out = append(out, domain.Violation{
					StoreID: st.ID,
					Table:   st.Table,
					Column:  required,
					Kind:    domain.ViolationMissingColumn,
					Detail:  "required column missing",
				})
			}
		}

		if cols.Has(mapper.IdentityColumn) {
			dups, err := s.duplicateIDs(ctx, st, conn)
			if err != nil {
				return nil, err
			}
			out = append(out, dups...)
		}
	}

	// Orphaned references, every table in the store.
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	tables, err := conn.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit %s: tables: %w", st.ID, err)
	}
	for _, table := range tables {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}
		tcols, err := conn.Columns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("audit %s: columns of %s: %w", st.ID, table, err)
		}
		for _, col := range tcols {
			ref, ok := s.Registry.ResolveReference(col.Name)
			if !ok {
				continue
			}
			if ref.Store == st.ID && ref.Table == table && ref.Key == col.Name {
				continue
			}

			set, err := sets.load(ctx, s, ref)
			if err != nil {
				return nil, err
			}
			if set.missing {
				if !set.flagged {
					set.flagged = true
					if v, report := s.missingReferenceTarget(ref); report {
						out = append(out, v)
					}
				}
				continue
			}

			orphans, err := s.orphanedValues(ctx, st, conn, table, col.Name, ref, set.ids)
			if err != nil {
				return nil, err
			}
			out = append(out, orphans...)
		}
	}
	return out, nil
}

// duplicateIDs reports client ids present more than once in the store's
// client table.
func (s *AuditService) duplicateIDs(ctx context.Context, st *registry.Store, conn store.Conn) ([]domain.Violation, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	values, err := conn.Duplicates(ctx, st.Table, mapper.IdentityColumn)
	if err != nil {
		return nil, fmt.Errorf("audit %s: duplicates in %s: %w", st.ID, st.Table, err)
	}

	var out []domain.Violation
	for _, id := range values {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}
		n, err := conn.CountWhere(ctx, st.Table, mapper.IdentityColumn, id)
		if err != nil {
			return nil, fmt.Errorf("audit %s: count %s: %w", st.ID, id, err)
		}
		out = append(out, domain.Violation{
			StoreID: st.ID,
			Table:   st.Table,
			Column:  mapper.IdentityColumn,
			RowID:   id,
			Kind:    domain.ViolationDuplicateID,
			Rows:    n,
			Detail:  fmt.Sprintf("%d rows share one client id", n),
		})
	}
	return out, nil
}

// orphanedValues compares a reference column's distinct values against the
// referenced store's current id set.
func (s *AuditService) orphanedValues(ctx context.Context, st *registry.Store, conn store.Conn, table, column string, ref registry.Reference, ids map[string]bool) ([]domain.Violation, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	values, err := conn.Distinct(ctx, table, column)
	if err != nil {
		return nil, fmt.Errorf("audit %s: distinct %s.%s: %w", st.ID, table, column, err)
	}

	var out []domain.Violation
	for _, v := range values {
		if ids[v] {
			continue
		}
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}
		n, err := conn.CountWhere(ctx, table, column, v)
		if err != nil {
			return nil, fmt.Errorf("audit %s: count %s.%s: %w", st.ID, table, column, err)
		}
		out = append(out, domain.Violation{
			StoreID:    st.ID,
			Table:      table,
			Column:     column,
			RowID:      v,
			Kind:       domain.ViolationOrphanReference,
			RefStoreID: ref.Store,
			RefTable:   ref.Table,
			Rows:       n,
			Detail:     fmt.Sprintf("references %s.%s which has no %s = %s", ref.Store, ref.Table, ref.Key, v),
		})
	}
	return out, nil
}

// missingReferenceTarget reports a configured reference whose target table
// does not exist. The referenced store's own client table is already covered
// by the shape check, so only other tables are reported here.
func (s *AuditService) missingReferenceTarget(ref registry.Reference) (domain.Violation, bool) {
	refStore, err := s.Registry.Get(ref.Store)
	if err != nil || refStore.Table == ref.Table {
		return domain.Violation{}, false
	}
	return domain.Violation{
		StoreID: ref.Store,
		Table:   ref.Table,
		Column:  ref.Key,
		Kind:    domain.ViolationMissingColumn,
		Detail:  "referenced table missing",
	}, true
}

// Repair applies one policy to scan findings. Destructive repairs snapshot
// the store first, hold the affected client's lock for that row only, and
// re-verify the violation still stands before touching data.
func (s *AuditService) Repair(ctx context.Context, violations []domain.Violation, policy domain.RepairPolicy) (*domain.RepairReport, error) {
	if _, err := domain.ParseRepairPolicy(string(policy)); err != nil {
		return nil, err
	}

	report := &domain.RepairReport{Policy: policy, Backups: make(map[string]string)}

	if policy == domain.RepairSkip {
		for _, v := range violations {
			v.Action = domain.ActionSkipped
			report.Skipped = append(report.Skipped, v)
		}
		return report, nil
	}

	// Mutating in place keeps the caller's findings annotated with what was
	// done about each one.
	for i := range violations {
		v := &violations[i]
		switch v.Kind {
		case domain.ViolationMissingColumn:
			s.repairSchema(ctx, v, report)
		case domain.ViolationDuplicateID:
			s.repairDuplicate(ctx, v, report)
		case domain.ViolationOrphanReference:
			s.repairOrphan(ctx, v, policy, report)
		default:
			v.Action = domain.ActionSkipped
			v.Detail = fmt.Sprintf("no repair for %s", v.Kind)
			report.Skipped = append(report.Skipped, *v)
		}
	}
	return report, nil
}

// repairSchema adds a missing required column, nullable so existing rows
// stay valid. A missing table is reported but never created here.
func (s *AuditService) repairSchema(ctx context.Context, v *domain.Violation, report *domain.RepairReport) {
	l := slogx.FromContext(ctx)

	if v.Column == "" {
		v.Action = domain.ActionSkipped
		v.Detail = "table creation belongs to the owning module"
		report.Skipped = append(report.Skipped, *v)
		return
	}

	conn, ok := s.Conns[v.StoreID]
	if !ok {
		s.fail(v, report, "no open connection")
		return
	}
	if err := conn.AddColumn(ctx, v.Table, v.Column, "TEXT"); err != nil {
		s.fail(v, report, "add column: "+err.Error())
		l.Error("column repair failed", "store_id", v.StoreID, "table", v.Table, "column", v.Column, "error", err)
		return
	}

	v.Action = domain.ActionColumnAdded
	report.Repaired = append(report.Repaired, *v)
	l.Info("added missing column", "store_id", v.StoreID, "table", v.Table, "column", v.Column)
}

// repairDuplicate collapses rows sharing one client id down to the newest.
func (s *AuditService) repairDuplicate(ctx context.Context, v *domain.Violation, report *domain.RepairReport) {
	l := slogx.FromContext(ctx)

	conn, ok := s.Conns[v.StoreID]
	if !ok {
		s.fail(v, report, "no open connection")
		return
	}
	if !s.ensureSnapshot(ctx, v, report) {
		return
	}

	release, err := s.Locks.Acquire(ctx, v.RowID)
	if err != nil {
		s.fail(v, report, "lock: "+err.Error())
		return
	}
	defer release()

	cols, err := conn.Columns(ctx, v.Table)
	if err != nil {
		s.fail(v, report, "columns: "+err.Error())
		return
	}
	order := ""
	if cols.Has("updated_at") {
		order = "updated_at"
	}

	n, err := conn.DedupeByKey(ctx, v.Table, v.Column, v.RowID, order)
	if err != nil {
		s.fail(v, report, "dedupe: "+err.Error())
		l.Error("dedupe failed", "store_id", v.StoreID, "client_id", v.RowID, "error", err)
		return
	}

	v.Action = domain.ActionDeduped
	v.Rows = n
	report.Repaired = append(report.Repaired, *v)
	l.Info("deduplicated client id", "store_id", v.StoreID, "client_id", v.RowID, "rows_deleted", n)
}

// repairOrphan deletes or nulls rows whose reference target is gone. The
// check is repeated under the client's lock: a concurrent sync may have
// recreated the target since the scan, and a row with a live target is
// never touched.
func (s *AuditService) repairOrphan(ctx context.Context, v *domain.Violation, policy domain.RepairPolicy, report *domain.RepairReport) {
	l := slogx.FromContext(ctx)

	conn, ok := s.Conns[v.StoreID]
	if !ok {
		s.fail(v, report, "no open connection")
		return
	}

	if policy == domain.RepairNullReference {
		cols, err := conn.Columns(ctx, v.Table)
		if err != nil {
			s.fail(v, report, "columns: "+err.Error())
			return
		}
		if col, ok := cols.Get(v.Column); ok && col.NotNull {
			v.Action = domain.ActionSkipped
			v.Detail = "column is NOT NULL, reference cannot be nulled"
			report.Skipped = append(report.Skipped, *v)
			return
		}
	}

	if !s.ensureSnapshot(ctx, v, report) {
		return
	}

	release, err := s.Locks.Acquire(ctx, v.RowID)
	if err != nil {
		s.fail(v, report, "lock: "+err.Error())
		return
	}
	defer release()

	ref, ok := s.Registry.ResolveReference(v.Column)
	if !ok {
		s.fail(v, report, "reference no longer resolvable")
		return
	}
	refConn, ok := s.Conns[ref.Store]
	if !ok {
		s.fail(v, report, "referenced store has no open connection")
		return
	}
	n, err := refConn.CountWhere(ctx, ref.Table, ref.Key, v.RowID)
	if err != nil {
		s.fail(v, report, "verify target: "+err.Error())
		return
	}
	if n > 0 {
		v.Action = domain.ActionSkipped
		v.Detail = "reference target now exists"
		report.Skipped = append(report.Skipped, *v)
		return
	}

	switch policy {
	case domain.RepairDeleteOrphan:
		rows, err := conn.DeleteWhere(ctx, v.Table, v.Column, v.RowID)
		if err != nil {
			s.fail(v, report, "delete: "+err.Error())
			l.Error("orphan delete failed", "store_id", v.StoreID, "table", v.Table, "client_id", v.RowID, "error", err)
			return
		}
		v.Action = domain.ActionDeleted
		v.Rows = rows
		report.Repaired = append(report.Repaired, *v)
		l.Info("deleted orphaned rows", "store_id", v.StoreID, "table", v.Table, "client_id", v.RowID, "rows", rows)
	case domain.RepairNullReference:
		rows, err := conn.NullWhere(ctx, v.Table, v.Column, v.RowID)
		if err != nil {
			s.fail(v, report, "null: "+err.Error())
			l.Error("orphan null failed", "store_id", v.StoreID, "table", v.Table, "client_id", v.RowID, "error", err)
			return
		}
		v.Action = domain.ActionNulled
		v.Rows = rows
		report.Repaired = append(report.Repaired, *v)
		l.Info("nulled orphaned references", "store_id", v.StoreID, "table", v.Table, "client_id", v.RowID, "rows", rows)
	}
}

func (s *AuditService) fail(v *domain.Violation, report *domain.RepairReport, detail string) {
	v.Action = domain.ActionFailed
	v.Detail = detail
	report.Failed = append(report.Failed, *v)
}

// ensureSnapshot takes at most one snapshot per store per repair run and
// refuses destructive work when none can be taken.
func (s *AuditService) ensureSnapshot(ctx context.Context, v *domain.Violation, report *domain.RepairReport) bool {
	if _, ok := report.Backups[v.StoreID]; ok {
		return true
	}
	key, err := s.Snapshot(ctx, v.StoreID)
	if err != nil {
		s.fail(v, report, "snapshot: "+err.Error())
		return false
	}
	report.Backups[v.StoreID] = key
	return true
}

// Run is the full audit cycle: scan, repair under the given policy, re-scan,
// report what persists. Under the skip policy nothing changes, so the first
// scan doubles as the re-scan.
func (s *AuditService) Run(ctx context.Context, policy domain.RepairPolicy) (*domain.AuditReport, error) {
	if _, err := domain.ParseRepairPolicy(string(policy)); err != nil {
		return nil, err
	}

	report := &domain.AuditReport{
		RunID:     uuid.NewString(),
		Policy:    policy,
		StartedAt: time.Now().UTC(),
	}
	ctx = slogx.WithRun(ctx, report.RunID)
	l := slogx.FromContext(ctx)
	l.Info("audit run started", "policy", policy)

	found, err := s.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit scan: %w", err)
	}
	report.DatabasesChecked = len(s.Registry.List())
	report.Found = found
	report.ViolationsFound = len(found)

	remaining := found
	if policy != domain.RepairSkip && len(found) > 0 {
		rep, err := s.Repair(ctx, found, policy)
		if err != nil {
			return nil, err
		}
		report.ViolationsRepaired = len(rep.Repaired)
		report.Backups = rep.Backups

		remaining, err = s.Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("audit re-scan: %w", err)
		}
	}
	report.Remaining = remaining
	report.ViolationsRemaining = len(remaining)
	report.CleanDatabases = s.cleanStores(remaining)
	report.FinishedAt = time.Now().UTC()

	s.metrics().ObserveAudit(ctx, policy, report.ViolationsFound, report.ViolationsRepaired, report.ViolationsRemaining)
	l.Info("audit run finished",
		"checked", report.DatabasesChecked,
		"found", report.ViolationsFound,
		"repaired", report.ViolationsRepaired,
		"remaining", report.ViolationsRemaining)
	return report, nil
}

// Snapshot streams a consistent copy of one store into the blob store and
// returns the key it landed under.
func (s *AuditService) Snapshot(ctx context.Context, storeID string) (string, error) {
	if s.Blobs == nil {
		return "", ErrNoSnapshotStore
	}
	st, err := s.Registry.Get(storeID)
	if err != nil {
		return "", err
	}
	conn, ok := s.Conns[st.ID]
	if !ok {
		return "", fmt.Errorf("service: store %q has no open connection", st.ID)
	}

	ext := ".dump"
	if conn.Driver() == "sqlite" {
		ext = ".db"
	}
	key := fmt.Sprintf("snapshots/%s/%s-%s%s",
		st.ID, time.Now().UTC().Format("20060102T150405Z"), uuid.NewString(), ext)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(conn.Snapshot(ctx, pw))
	}()
	if _, err := s.Blobs.Put(ctx, key, pr, blobx.PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"store": st.ID, "driver": conn.Driver()},
	}); err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("snapshot %s: %w", st.ID, err)
	}

	slogx.FromContext(ctx).Info("store snapshot stored", "store_id", st.ID, "key", key)
	return key, nil
}

// ListSnapshots returns stored snapshot keys, newest last, optionally
// narrowed to one store.
func (s *AuditService) ListSnapshots(ctx context.Context, storeID string) ([]blobx.Info, error) {
	if s.Blobs == nil {
		return nil, ErrNoSnapshotStore
	}
	prefix := "snapshots/"
	if storeID != "" {
		prefix += storeID + "/"
	}
	return s.Blobs.List(ctx, prefix)
}

func (s *AuditService) cleanStores(remaining []domain.Violation) []string {
	dirty := make(map[string]bool, len(remaining))
	for _, v := range remaining {
		dirty[v.StoreID] = true
	}
	clean := make([]string, 0, len(s.Registry.List()))
	for _, st := range s.Registry.List() {
		if !dirty[st.ID] {
			clean = append(clean, st.ID)
		}
	}
	return clean
}

// throttle paces scan queries so audits never starve live sync traffic.
func (s *AuditService) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

func (s *AuditService) metrics() MetricsRecorder {
	if s.Metrics == nil {
		return NoopMetrics{}
	}
	return s.Metrics
}

// refSets caches referenced id sets for the duration of one scan.
type refSets struct {
	sets map[string]*refSet
}

type refSet struct {
	ids     map[string]bool
	missing bool
	flagged bool
}

func (r *refSets) load(ctx context.Context, s *AuditService, ref registry.Reference) (*refSet, error) {
	key := ref.Store + "/" + ref.Table + "/" + ref.Key
	if set, ok := r.sets[key]; ok {
		return set, nil
	}

	conn, ok := s.Conns[ref.Store]
	if !ok {
		return nil, fmt.Errorf("audit: referenced store %q has no open connection", ref.Store)
	}
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	cols, err := conn.Columns(ctx, ref.Table)
	if err != nil {
		return nil, fmt.Errorf("audit: columns of %s.%s: %w", ref.Store, ref.Table, err)
	}

	set := &refSet{}
	if cols.Empty() || !cols.Has(ref.Key) {
		set.missing = true
	} else {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}
		values, err := conn.Distinct(ctx, ref.Table, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("audit: ids of %s.%s: %w", ref.Store, ref.Table, err)
		}
		set.ids = make(map[string]bool, len(values))
		for _, v := range values {
			set.ids[v] = true
		}
	}
	r.sets[key] = set
	return set, nil
}
