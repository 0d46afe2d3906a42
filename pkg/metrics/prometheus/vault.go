// Package prometheus provides the Prometheus implementations of the
// metrics interfaces. Constructors return nil when the registry gate is
// closed; nil receivers are no-ops.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lockboxhq/lockbox/pkg/metrics"
)

// authMetrics is the Prometheus implementation of metrics.AuthMetrics.
type authMetrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewAuthMetrics creates Prometheus-backed authentication metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewAuthMetrics() metrics.AuthMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &authMetrics{
		attempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_auth_attempts_total",
				Help: "Total authentication attempts by outcome",
			},
			[]string{"outcome"}, // "success", "rejected", "error"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lockbox_auth_duration_seconds",
				Help:    "Authentication latency by outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

func (m *authMetrics) RecordAuthentication(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// sweepMetrics is the Prometheus implementation of metrics.SweepMetrics.
type sweepMetrics struct {
	runs         *prometheus.CounterVec
	duration     prometheus.Histogram
	transitioned prometheus.Counter
	deleted      prometheus.Counter
	rolesDeleted prometheus.Counter
	errors       prometheus.Counter
}

// NewSweepMetrics creates Prometheus-backed sweep metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSweepMetrics() metrics.SweepMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &sweepMetrics{
		runs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_sweep_runs_total",
				Help: "Total sweep runs by whether any per-record error occurred",
			},
			[]string{"had_errors"}, // "true", "false"
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lockbox_sweep_duration_seconds",
				Help:    "Sweep run duration",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		transitioned: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "lockbox_sweep_records_transitioned_total",
				Help: "Records moved to PENDING_DELETION by the sweeper",
			},
		),
		deleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "lockbox_sweep_records_deleted_total",
				Help: "Records removed after confirmed key deletion",
			},
		),
		rolesDeleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "lockbox_sweep_roles_deleted_total",
				Help: "External roles deleted by the sweeper",
			},
		),
		errors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "lockbox_sweep_errors_total",
				Help: "Non-fatal per-record sweep errors",
			},
		),
	}
}

func (m *sweepMetrics) RecordSweep(duration time.Duration, transitioned, deleted, rolesDeleted, errors int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(strconv.FormatBool(errors > 0)).Inc()
	m.duration.Observe(duration.Seconds())
	m.transitioned.Add(float64(transitioned))
	m.deleted.Add(float64(deleted))
	m.rolesDeleted.Add(float64(rolesDeleted))
	m.errors.Add(float64(errors))
}

// boxMetrics is the Prometheus implementation of metrics.BoxMetrics.
type boxMetrics struct {
	operations *prometheus.CounterVec
}

// NewBoxMetrics creates Prometheus-backed box operation metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBoxMetrics() metrics.BoxMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &boxMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockbox_box_operations_total",
				Help: "Safe deposit box mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
	}
}

func (m *boxMetrics) RecordBoxOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}
