// Package service implements the write coordinator and the consistency
// auditor that keep one client record aligned across every registered store.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	"github.com/commonassist/casehub/internal/clientsync/mapper"
	"github.com/commonassist/casehub/internal/clientsync/registry"
	"github.com/commonassist/casehub/internal/clientsync/store"
	"github.com/commonassist/casehub/pkg/idx"
	"github.com/commonassist/casehub/pkg/slogx"
)

var (
	// ErrNoClientID reports an update without a client id.
	ErrNoClientID = errors.New("service: client id required")

	// ErrEmptyPatch reports an update that changes nothing.
	ErrEmptyPatch = errors.New("service: empty patch")
)

// Conns maps store ids to their open connections. Built once at startup
// alongside the registry; the two must cover the same ids.
type Conns map[string]store.Conn

// SyncService writes one client record to every registered store inside
// per-store local transactions: all of them commit or none of them do, as
// long as the process survives the commit loop. The master store is written
// first and is the only store allowed to originate a new id.
type SyncService struct {
	Registry *registry.Registry
	Conns    Conns
	Locks    *IDLocker
	Metrics  MetricsRecorder
}

// mapFunc produces the write set for one store given its live columns.
type mapFunc func(st *registry.Store, cols store.ColumnSet, now time.Time) ([]store.Field, error)

// attempt tracks one store through a sync: its open transaction while the
// outcome is still undecided, then the terminal status.
type attempt struct {
	store  *registry.Store
	tx     store.Tx
	status domain.OutcomeStatus // empty while the write is pending commit
	detail string
}

// CreateClient writes a new client record everywhere. The id is minted here
// when the record carries none; passing an existing id makes the call an
// idempotent re-sync of that client.
func (s *SyncService) CreateClient(ctx context.Context, rec domain.ClientRecord) (*domain.SyncResult, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = idx.New().String()
	}

	return s.execute(ctx, "create", rec.ID, func(st *registry.Store, cols store.ColumnSet, now time.Time) ([]store.Field, error) {
		return mapper.Map(rec, st, cols, now)
	})
}

// UpdateClient applies a partial update to every store that has a column for
// at least one changed field. Stores with none are skipped, not failed.
func (s *SyncService) UpdateClient(ctx context.Context, id string, patch domain.ClientPatch) (*domain.UpdateResult, error) {
	if id == "" {
		return nil, ErrNoClientID
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, ErrEmptyPatch
	}

	res, err := s.execute(ctx, "update", id, func(st *registry.Store, cols store.ColumnSet, now time.Time) ([]store.Field, error) {
		return mapper.MapPatch(id, patch, st, cols, now)
	})
	if err != nil {
		return nil, err
	}
	return res.UpdateView(), nil
}

// execute is the one coordinator path both operations share.
//
//  1. Take the per-id lock so concurrent attempts for the same client cannot
//     commit in different orders on different stores.
//  2. Walk the stores master first. A master failure aborts the attempt
//     before any dependent is touched.
//  3. Per store: begin a local transaction, introspect live columns, map
//     fields, upsert. Failures become per-store outcomes, never panics, and
//     the remaining dependents are still attempted so operators see the full
//     breakdown.
//  4. Every write clean: commit all in store order. Any write failed: roll
//     back all. Cancellation between begin and commit rolls back too and
//     returns the context error alongside the partial result.
func (s *SyncService) execute(ctx context.Context, op, clientID string, mapFields mapFunc) (*domain.SyncResult, error) {
	ctx = slogx.WithClient(ctx, clientID)
	l := slogx.FromContext(ctx)
	started := time.Now()

	release, err := s.Locks.Acquire(ctx, clientID)
	if err != nil {
		l.Warn("client lock not acquired", "op", op, "error", err)
		return nil, err
	}
	defer release()

	res := &domain.SyncResult{ClientID: clientID, Timestamp: time.Now().UTC()}
	res.AppendLog("", "attempt-started", op)

	now := time.Now().UTC()
	stores := s.Registry.List()

	var attempts []*attempt
	defer func() {
		// Safety net: no branch below may leave a transaction open.
		for _, a := range attempts {
			if a.tx != nil {
				_ = a.tx.Rollback()
			}
		}
	}()

	var (
		anyFailed bool
		cancelErr error
		reason    = "another store failed"
	)

	for _, st := range stores {
		if err := ctx.Err(); err != nil {
			anyFailed, cancelErr, reason = true, err, "cancelled before commit"
			res.AppendLog("", "cancelled", err.Error())
			break
		}

		a := &attempt{store: st}
		attempts = append(attempts, a)

		if conn, ok := s.Conns[st.ID]; ok {
			s.writeOne(ctx, a, conn, res, now, mapFields)
		} else {
			a.status = domain.OutcomeFailed
			a.detail = fmt.Sprintf("store %s has no open connection", st.ID)
			res.AppendLog(st.ID, "connect-failed", a.detail)
		}

		if a.status == domain.OutcomeFailed {
			anyFailed = true
			if st.Master {
				// The master originates the id. Without it there is
				// nothing for dependents to reference and nothing to undo.
				res.AppendLog(st.ID, "abort", "master write failed")
				break
			}
		}
	}

	if !anyFailed {
		if err := ctx.Err(); err != nil {
			anyFailed, cancelErr, reason = true, err, "cancelled before commit"
			res.AppendLog("", "cancelled", err.Error())
		}
	}

	if anyFailed {
		for _, a := range attempts {
			if a.tx == nil {
				continue
			}
			if err := a.tx.Rollback(); err != nil {
				l.Error("rollback failed", "store_id", a.store.ID, "error", err)
			}
			a.tx = nil
			if a.status == "" {
				a.status = domain.OutcomeRolledBack
				a.detail = reason
				res.AppendLog(a.store.ID, "rollback", reason)
			}
		}
	} else {
		for _, a := range attempts {
			if a.tx == nil {
				continue
			}
			err := a.tx.Commit()
			a.tx = nil
			if err != nil {
				// Earlier stores are already durable; keep committing the
				// rest so the gap stays as small as possible. The auditor
				// reconciles what this leaves behind.
				a.status = domain.OutcomeFailed
				a.detail = "commit: " + err.Error()
				anyFailed = true
				res.AppendLog(a.store.ID, "commit-failed", err.Error())
				l.Error("commit failed", "store_id", a.store.ID, "error", err)
			} else {
				a.status = domain.OutcomeCommitted
				res.AppendLog(a.store.ID, "commit", "")
			}
		}
	}

	committed := 0
	for _, a := range attempts {
		res.Record(a.store.ID, a.status, a.detail)
		s.metrics().ObserveStoreWrite(ctx, a.store.ID, a.status)
		if a.status == domain.OutcomeCommitted {
			committed++
		}
	}
	res.OverallSuccess = !anyFailed && committed > 0
	res.AppendLog("", "attempt-finished", fmt.Sprintf("success=%t rate=%.2f", res.OverallSuccess, res.SuccessRate()))

	s.metrics().ObserveSync(ctx, op, res.OverallSuccess, time.Since(started))
	if res.OverallSuccess {
		l.Info("client sync committed", "op", op, "stores", committed)
	} else {
		l.Warn("client sync failed", "op", op, "failed", res.ModulesFailed(), "rate", res.SuccessRate())
	}
	return res, cancelErr
}

// writeOne runs one store's local write: begin, introspect, map, upsert. It
// leaves a.tx open on a clean write, closes it immediately on a skip, and
// leaves the terminal rollback to the caller on failure.
func (s *SyncService) writeOne(ctx context.Context, a *attempt, conn store.Conn, res *domain.SyncResult, now time.Time, mapFields mapFunc) {
	st := a.store

	tx, err := conn.Begin(ctx)
	if err != nil {
		a.status, a.detail = domain.OutcomeFailed, "begin: "+err.Error()
		res.AppendLog(st.ID, "begin-failed", err.Error())
		return
	}
	a.tx = tx
	res.AppendLog(st.ID, "begin", "")

	cols, err := conn.Columns(ctx, st.Table)
	if err != nil {
		a.status, a.detail = domain.OutcomeFailed, "introspect: "+err.Error()
		res.AppendLog(st.ID, "introspect-failed", err.Error())
		return
	}
	if cols.Empty() {
		a.status, a.detail = domain.OutcomeFailed, fmt.Sprintf("table %s does not exist", st.Table)
		res.AppendLog(st.ID, "introspect-failed", a.detail)
		return
	}
	res.AppendLog(st.ID, "introspect", fmt.Sprintf("%d columns", len(cols)))

	fields, err := mapFields(st, cols, now)
	if err != nil {
		a.status, a.detail = domain.OutcomeFailed, "map: "+err.Error()
		res.AppendLog(st.ID, "map-failed", err.Error())
		return
	}
	if fields == nil {
		a.status, a.detail = domain.OutcomeSkipped, "no mapped columns for this change"
		res.AppendLog(st.ID, "skip", a.detail)
		_ = tx.Rollback()
		a.tx = nil
		return
	}
	res.AppendLog(st.ID, "map", fmt.Sprintf("%d fields", len(fields)))

	if err := tx.Upsert(ctx, st.Table, mapper.IdentityColumn, fields); err != nil {
		a.status, a.detail = domain.OutcomeFailed, "write: "+err.Error()
		res.AppendLog(st.ID, "write-failed", err.Error())
		return
	}
	res.AppendLog(st.ID, "write", "")
}

func (s *SyncService) metrics() MetricsRecorder {
	if s.Metrics == nil {
		return NoopMetrics{}
	}
	return s.Metrics
}
