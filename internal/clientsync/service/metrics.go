package service

import (
	"context"
	"time"

	"github.com/commonassist/casehub/internal/clientsync/domain"
)

// MetricsRecorder receives timing and result signals from sync attempts and
// audit runs. Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	// ObserveSync records one whole attempt, create or update.
	ObserveSync(ctx context.Context, operation string, success bool, duration time.Duration)

	// ObserveStoreWrite records the terminal outcome of one store within an
	// attempt.
	ObserveStoreWrite(ctx context.Context, storeID string, status domain.OutcomeStatus)

	// ObserveAudit records one audit run.
	ObserveAudit(ctx context.Context, policy domain.RepairPolicy, found, repaired, remaining int)
}

// NoopMetrics discards every observation. Services fall back to it when no
// recorder is wired.
type NoopMetrics struct{}

func (NoopMetrics) ObserveSync(context.Context, string, bool, time.Duration) {}

func (NoopMetrics) ObserveStoreWrite(context.Context, string, domain.OutcomeStatus) {}

func (NoopMetrics) ObserveAudit(context.Context, domain.RepairPolicy, int, int, int) {}
