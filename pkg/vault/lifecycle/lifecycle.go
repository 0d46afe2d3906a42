// Package lifecycle manages the externally provisioned key and role pair
// backing each safe deposit box and each authenticated principal.
//
// Provisioning creates an identity role and a dedicated customer key whose
// policy grants decrypt to that role, then persists an ACTIVE KeyRoleRecord.
// Deleting a box only detaches its record; the reconciliation sweeper
// reclaims the external resources later.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/cloud/iam"
	"github.com/lockboxhq/lockbox/pkg/cloud/kms"
	"github.com/lockboxhq/lockbox/pkg/vault/models"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
)

// Config holds lifecycle manager settings.
type Config struct {
	// RoleNamePrefix is prepended to every provisioned role name.
	RoleNamePrefix string

	// PendingWindowDays is the deletion grace window requested when the
	// sweeper schedules key deletion.
	PendingWindowDays int
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.RoleNamePrefix == "" {
		c.RoleNamePrefix = "lockbox-"
	}
	if c.PendingWindowDays == 0 {
		c.PendingWindowDays = kms.MinPendingWindowDays
	}
}

// Manager provisions and detaches key/role pairs. All mutating operations
// on the same box, principal, or record are serialized by a keyed mutex so
// concurrent provision, detach, and sweep cannot interleave.
type Manager struct {
	store    store.Store
	keys     kms.Client
	identity iam.Client
	cfg      Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a lifecycle manager.
func New(s store.Store, keys kms.Client, identity iam.Client, cfg Config) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		store:    s,
		keys:     keys,
		identity: identity,
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations for the given key,
// creating it on first use. Lock entries are never removed; the key space
// is bounded by the number of boxes, principals, and records.
func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// guard locks the keyed mutex and returns its unlock function.
func (m *Manager) guard(key string) func() {
	l := m.lockFor(key)
	l.Lock()
	return l.Unlock
}

// GuardRecord serializes sweeper work on a record against concurrent
// lifecycle operations. The returned function releases the guard.
func (m *Manager) GuardRecord(recordID string) func() {
	return m.guard("record/" + recordID)
}

// PendingWindowDays reports the configured deletion grace window.
func (m *Manager) PendingWindowDays() int {
	return m.cfg.PendingWindowDays
}

// Provision creates the role and key backing a box and persists the ACTIVE
// record. Idempotent: a box that already has an ACTIVE record gets it back
// unchanged. On partial external failure the created half is rolled back
// best-effort and the error wraps models.ErrExternalResource.
func (m *Manager) Provision(ctx context.Context, boxID string) (*models.KeyRoleRecord, error) {
	defer m.guard("box/" + boxID)()

	if record, err := m.store.ActiveKeyRecordForBox(ctx, boxID); err == nil {
		return record, nil
	} else if !errors.Is(err, models.ErrRecordNotFound) {
		return nil, err
	}

	box, err := m.store.GetBox(ctx, boxID)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Lockbox key access for box %q", box.Name)
	record, err := m.provisionPair(ctx, description)
	if err != nil {
		return nil, err
	}
	record.BoxID = &boxID

	if _, err := m.store.CreateKeyRecord(ctx, record); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "provisioned key and role for box",
		"box_id", boxID, "key_id", record.KeyID, "role_arn", record.RoleARN)
	return record, nil
}

// EnsureKeyForPrincipal returns the principal's ACTIVE record, provisioning
// a role and key on first authentication.
func (m *Manager) EnsureKeyForPrincipal(ctx context.Context, principalARN string) (*models.KeyRoleRecord, error) {
	defer m.guard("principal/" + strings.ToLower(principalARN))()

	if record, err := m.store.ActiveKeyRecordForPrincipal(ctx, principalARN); err == nil {
		return record, nil
	} else if !errors.Is(err, models.ErrRecordNotFound) {
		return nil, err
	}

	description := fmt.Sprintf("Lockbox credential key for principal %s", principalARN)
	record, err := m.provisionPair(ctx, description)
	if err != nil {
		return nil, err
	}
	record.PrincipalARN = principalARN

	if _, err := m.store.CreateKeyRecord(ctx, record); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "provisioned key and role for principal",
		"principal", principalARN, "key_id", record.KeyID)
	return record, nil
}

// provisionPair creates a role and its key, rolling back the role if key
// creation fails.
func (m *Manager) provisionPair(ctx context.Context, description string) (*models.KeyRoleRecord, error) {
	roleName := m.cfg.RoleNamePrefix + uuid.NewString()

	roleARN, err := m.identity.CreateRole(ctx, roleName, description)
	if err != nil {
		return nil, fmt.Errorf("%w: create role: %v", models.ErrExternalResource, err)
	}

	keyID, err := m.keys.CreateKey(ctx, roleARN, description)
	if err != nil {
		// The role exists but its key does not. Roll back so a retry starts
		// clean; a failed rollback leaves an orphan for the sweeper.
		if rbErr := m.identity.DeleteRole(ctx, roleName); rbErr != nil {
			logger.WarnCtx(ctx, "role rollback failed after key creation error",
				"role_name", roleName, "error", rbErr)
		}
		return nil, fmt.Errorf("%w: create key: %v", models.ErrExternalResource, err)
	}

	return &models.KeyRoleRecord{
		KeyID:   keyID,
		RoleARN: roleARN,
		Status:  string(models.KeyStatusActive),
	}, nil
}

// Detach clears the box association on the box's key records and marks
// them DETACHED. No external calls are made; the sweeper reclaims the
// resources once the detachment ages past the threshold.
func (m *Manager) Detach(ctx context.Context, boxID string) error {
	defer m.guard("box/" + boxID)()

	n, err := m.store.DetachKeyRecords(ctx, boxID)
	if err != nil {
		return err
	}

	if n > 0 {
		logger.InfoCtx(ctx, "detached key records", "box_id", boxID, "records", n)
	}
	return nil
}

// KeyForEncryption returns the principal's ACTIVE record, or
// models.ErrRecordNotFound if the principal has never authenticated.
func (m *Manager) KeyForEncryption(ctx context.Context, principalARN string) (*models.KeyRoleRecord, error) {
	return m.store.ActiveKeyRecordForPrincipal(ctx, principalARN)
}
