package metrics

import "time"

// AuthMetrics observes principal authentication. Implementations must be
// nil-safe; pass nil to disable collection.
type AuthMetrics interface {
	// RecordAuthentication records one authentication attempt.
	// outcome is "success", "rejected", or "error".
	RecordAuthentication(outcome string, duration time.Duration)
}

// SweepMetrics observes reconciliation sweeps.
type SweepMetrics interface {
	// RecordSweep records one completed sweep run.
	RecordSweep(duration time.Duration, transitioned, deleted, rolesDeleted, errors int)
}

// BoxMetrics observes safe deposit box operations.
type BoxMetrics interface {
	// RecordBoxOperation records a box mutation. op is "create", "update",
	// or "delete"; outcome is "success" or "error".
	RecordBoxOperation(op, outcome string)
}
