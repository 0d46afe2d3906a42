// Package sweeper reconciles key/role records against the external key and
// identity services.
//
// Deleting a box only detaches its record; the sweeper later walks detached
// records, schedules key deletion once the detachment has aged past a
// threshold, deletes the backing roles, and removes records whose key the
// service confirms is pending deletion or gone. Every step is idempotent:
// a re-run with no intervening activity performs zero external calls.
package sweeper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/cloud/iam"
	"github.com/lockboxhq/lockbox/pkg/cloud/kms"
	"github.com/lockboxhq/lockbox/pkg/vault/lifecycle"
	"github.com/lockboxhq/lockbox/pkg/vault/models"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
)

// DefaultThresholdDays is how long a record stays DETACHED before its key
// deletion is scheduled, when no threshold is given.
const DefaultThresholdDays = 30

// Stats summarizes a sweep run.
type Stats struct {
	Scanned      int // Records examined
	Transitioned int // Records moved to PENDING_DELETION
	Deleted      int // Records removed after key deletion was confirmed
	RolesDeleted int // External roles deleted
	Errors       int // Non-fatal per-record errors
}

// merge adds other into s.
func (s *Stats) merge(other Stats) {
	s.Scanned += other.Scanned
	s.Transitioned += other.Transitioned
	s.Deleted += other.Deleted
	s.RolesDeleted += other.RolesDeleted
	s.Errors += other.Errors
}

// Config holds sweeper settings.
type Config struct {
	// Parallelism bounds concurrent per-record work.
	Parallelism int

	// Interval enables periodic sweeps when positive.
	Interval time.Duration
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Parallelism == 0 {
		c.Parallelism = 4
	}
}

// Sweeper drives the reclamation passes.
type Sweeper struct {
	store     store.KeyRecordStore
	keys      kms.Client
	identity  iam.Client
	lifecycle *lifecycle.Manager
	cfg       Config
}

// New creates a sweeper. The lifecycle manager supplies the keyed mutex
// coordinating sweep work with concurrent provisioning.
func New(s store.KeyRecordStore, keys kms.Client, identity iam.Client, lm *lifecycle.Manager, cfg Config) *Sweeper {
	cfg.ApplyDefaults()
	return &Sweeper{
		store:     s,
		keys:      keys,
		identity:  identity,
		lifecycle: lm,
		cfg:       cfg,
	}
}

// Sweep runs the orphaned-role pass and the inactive-key pass and
// aggregates their stats. thresholdDays <= 0 means detached records are
// eligible immediately.
func (s *Sweeper) Sweep(ctx context.Context, thresholdDays int) (*Stats, error) {
	stats := &Stats{}

	roleStats, err := s.SweepOrphanedRoles(ctx)
	if err != nil {
		return stats, err
	}
	stats.merge(*roleStats)

	keyStats, err := s.SweepInactiveKeys(ctx, thresholdDays)
	if err != nil {
		return stats, err
	}
	stats.merge(*keyStats)

	logger.Info("sweep complete",
		"scanned", stats.Scanned,
		"transitioned", stats.Transitioned,
		"deleted", stats.Deleted,
		"roles_deleted", stats.RolesDeleted,
		"errors", stats.Errors)
	return stats, nil
}

// SweepInactiveKeys schedules key deletion for records detached longer than
// thresholdDays, then removes records whose key the service confirms is in
// its deletion window or already gone. Per-record failures are counted and
// skipped; they never abort the pass.
func (s *Sweeper) SweepInactiveKeys(ctx context.Context, thresholdDays int) (*Stats, error) {
	stats := &Stats{}
	var mu sync.Mutex

	cutoff := time.Now().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	detached, err := s.store.DetachedKeyRecordsBefore(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("list detached records: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, record := range detached {
		g.Go(func() error {
			err := s.scheduleKeyDeletion(gctx, record.ID)
			mu.Lock()
			stats.Scanned++
			if err != nil {
				logger.Warn("sweep: schedule key deletion failed",
					"record_id", record.ID, "error", err)
				stats.Errors++
			} else {
				stats.Transitioned++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	pending, err := s.store.KeyRecordsByStatus(ctx, models.KeyStatusPendingDeletion)
	if err != nil {
		return stats, fmt.Errorf("list pending records: %w", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, record := range pending {
		g.Go(func() error {
			deleted, err := s.finalizeKeyDeletion(gctx, record.ID)
			mu.Lock()
			stats.Scanned++
			if err != nil {
				logger.Warn("sweep: finalize key deletion failed",
					"record_id", record.ID, "error", err)
				stats.Errors++
			} else if deleted {
				stats.Deleted++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	return stats, nil
}

// scheduleKeyDeletion moves one DETACHED record to PENDING_DELETION after
// starting the key's deletion window.
func (s *Sweeper) scheduleKeyDeletion(ctx context.Context, recordID string) error {
	defer s.lifecycle.GuardRecord(recordID)()

	// Re-read under the guard: a concurrent run may have advanced it.
	record, err := s.store.GetKeyRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if record.GetStatus() != models.KeyStatusDetached {
		return nil
	}

	if err := s.keys.ScheduleKeyDeletion(ctx, record.KeyID, s.lifecycle.PendingWindowDays()); err != nil {
		return fmt.Errorf("%w: schedule key deletion: %v", models.ErrExternalResource, err)
	}
	return s.store.TransitionKeyRecord(ctx, recordID, models.KeyStatusPendingDeletion)
}

// finalizeKeyDeletion removes a PENDING_DELETION record once the key
// service confirms the key is in its deletion window or gone. The backing
// role, if still present, is deleted first so nothing external survives
// the record. Returns true if the record was removed.
func (s *Sweeper) finalizeKeyDeletion(ctx context.Context, recordID string) (bool, error) {
	defer s.lifecycle.GuardRecord(recordID)()

	record, err := s.store.GetKeyRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	if record.GetStatus() != models.KeyStatusPendingDeletion {
		return false, nil
	}

	state, err := s.keys.DescribeKeyState(ctx, record.KeyID)
	if err != nil {
		return false, fmt.Errorf("%w: describe key: %v", models.ErrExternalResource, err)
	}
	if state == kms.KeyStateEnabled {
		// Deletion was cancelled out of band; leave the record for an
		// operator to inspect.
		logger.Warn("sweep: pending record has an enabled key",
			"record_id", recordID, "key_id", record.KeyID)
		return false, nil
	}

	if record.RoleARN != "" {
		if err := s.deleteRecordRole(ctx, record); err != nil {
			return false, err
		}
	}

	if err := s.store.TransitionKeyRecord(ctx, recordID, models.KeyStatusDeleted); err != nil {
		return false, err
	}
	return true, s.store.DeleteKeyRecord(ctx, recordID)
}

// SweepOrphanedRoles deletes the backing role of every detached record
// regardless of age. Records stay until the key pass confirms key deletion;
// the cleared role ARN keeps re-runs from re-issuing delete calls.
func (s *Sweeper) SweepOrphanedRoles(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var mu sync.Mutex

	records, err := s.store.DetachedKeyRecords(ctx)
	if err != nil {
		return stats, fmt.Errorf("list detached records: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for _, record := range records {
		g.Go(func() error {
			deleted, err := s.sweepRecordRole(gctx, record.ID)
			mu.Lock()
			stats.Scanned++
			if err != nil {
				logger.Warn("sweep: role deletion failed",
					"record_id", record.ID, "error", err)
				stats.Errors++
			} else if deleted {
				stats.RolesDeleted++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	return stats, nil
}

// sweepRecordRole deletes one record's role if it still has one. Returns
// true if a role was deleted.
func (s *Sweeper) sweepRecordRole(ctx context.Context, recordID string) (bool, error) {
	defer s.lifecycle.GuardRecord(recordID)()

	record, err := s.store.GetKeyRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	if record.GetStatus() == models.KeyStatusActive || record.RoleARN == "" {
		return false, nil
	}

	if err := s.deleteRecordRole(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Sweeper) deleteRecordRole(ctx context.Context, record *models.KeyRoleRecord) error {
	roleName := roleNameFromARN(record.RoleARN)
	if roleName != "" {
		if err := s.identity.DeleteRole(ctx, roleName); err != nil {
			return fmt.Errorf("%w: delete role: %v", models.ErrExternalResource, err)
		}
	}
	if err := s.store.ClearKeyRecordRole(ctx, record.ID); err != nil {
		return err
	}
	record.RoleARN = ""
	return nil
}

// Run sweeps on the configured interval until ctx is cancelled. A zero
// interval disables periodic sweeping and returns immediately.
func (s *Sweeper) Run(ctx context.Context, thresholdDays int) {
	if s.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logger.Info("sweeper running", "interval", s.cfg.Interval, "threshold_days", thresholdDays)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, thresholdDays); err != nil {
				logger.Error("periodic sweep failed", "error", err)
			}
		}
	}
}

func roleNameFromARN(arn string) string {
	idx := strings.LastIndex(arn, "/")
	if idx < 0 || idx == len(arn)-1 {
		return ""
	}
	return arn[idx+1:]
}
