package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	"github.com/commonassist/casehub/pkg/slogx"
)

// AuditScheduler runs the consistency auditor on a fixed interval so drift
// left behind by crashed or partially-committed attempts gets reconciled
// without operator action.
type AuditScheduler struct {
	Audit    *AuditService
	Logger   *slog.Logger
	Interval time.Duration
	Policy   domain.RepairPolicy

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAuditScheduler creates a scheduler with the given interval and repair
// policy. Interval zero or negative defaults to 24 hours; an empty policy
// defaults to report-only skip, so automated runs never modify data unless
// the operator opted in.
func NewAuditScheduler(audit *AuditService, logger *slog.Logger, interval time.Duration, policy domain.RepairPolicy) *AuditScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if policy == "" {
		policy = domain.RepairSkip
	}

	return &AuditScheduler{
		Audit:    audit,
		Logger:   logger,
		Interval: interval,
		Policy:   policy,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs audits.
// This is non-blocking and should be called after the stores are ready.
// Call Stop() to gracefully shutdown the worker.
func (s *AuditScheduler) Start() {
	go s.run()
	s.Logger.Info("audit scheduler started", "interval", s.Interval, "policy", s.Policy)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress audit.
func (s *AuditScheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("audit scheduler stopped")
}

// run is the main background worker loop.
func (s *AuditScheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run an audit immediately on startup
	s.runOnce()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopCh:
			return
		}
	}
}

// runOnce performs a single scheduled audit run. Failures are logged and the
// scheduler keeps ticking; the next run gets a fresh look.
func (s *AuditScheduler) runOnce() {
	ctx := slogx.WithContext(context.Background(), s.Logger)

	report, err := s.Audit.Run(ctx, s.Policy)
	if err != nil {
		s.Logger.Error("scheduled audit failed", "error", err)
		return
	}
	s.Logger.Info("scheduled audit completed",
		"run_id", report.RunID,
		"found", report.ViolationsFound,
		"repaired", report.ViolationsRepaired,
		"remaining", report.ViolationsRemaining)
}
