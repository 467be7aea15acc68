// Package metrics publishes sync and audit counters via Prometheus. It
// fulfills the service recorder contract for deployments that scrape
// /metrics; everything else runs with the no-op recorder.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	"github.com/commonassist/casehub/internal/clientsync/service"
)

// Recorder aggregates attempt, per-store write and audit series.
type Recorder struct {
	syncAttempts  *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	storeWrites   *prometheus.CounterVec
	auditRuns     *prometheus.CounterVec
	auditFindings *prometheus.GaugeVec
}

var _ service.MetricsRecorder = (*Recorder)(nil)

// NewRecorder registers the series on reg, or on the default registerer when
// reg is nil.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		syncAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clientsync",
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Sync attempts by operation and result.",
		}, []string{"operation", "result"}),
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clientsync",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "End-to-end sync attempt duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		storeWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clientsync",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Per-store write outcomes.",
		}, []string{"store", "status"}),
		auditRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clientsync",
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Completed audit runs by policy.",
		}, []string{"policy"}),
		auditFindings: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clientsync",
			Subsystem: "audit",
			Name:      "violations",
			Help:      "Findings of the most recent audit run.",
		}, []string{"policy", "state"}),
	}
}

// ObserveSync records one whole-deployment sync attempt.
func (r *Recorder) ObserveSync(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "error"
	if success {
		result = "success"
	}
	r.syncAttempts.WithLabelValues(operation, result).Inc()
	r.syncDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveStoreWrite records the outcome of one store-local transaction.
func (r *Recorder) ObserveStoreWrite(_ context.Context, storeID string, status domain.OutcomeStatus) {
	r.storeWrites.WithLabelValues(storeID, string(status)).Inc()
}

// ObserveAudit records a finished audit run and the findings it left behind.
func (r *Recorder) ObserveAudit(_ context.Context, policy domain.RepairPolicy, found, repaired, remaining int) {
	p := string(policy)
	r.auditRuns.WithLabelValues(p).Inc()
	r.auditFindings.WithLabelValues(p, "found").Set(float64(found))
	r.auditFindings.WithLabelValues(p, "repaired").Set(float64(repaired))
	r.auditFindings.WithLabelValues(p, "remaining").Set(float64(remaining))
}
