package store

import (
	"context"
	"time"

	"github.com/lockboxhq/lockbox/pkg/vault/models"
)

// BoxStore provides CRUD-by-id access to safe deposit boxes and their
// grant sets.
type BoxStore interface {
	GetBox(ctx context.Context, id string) (*models.SafeDepositBox, error)
	ListBoxes(ctx context.Context) ([]*models.SafeDepositBox, error)
	CreateBox(ctx context.Context, box *models.SafeDepositBox) (string, error)
	UpdateBox(ctx context.Context, box *models.SafeDepositBox) error
	DeleteBox(ctx context.Context, id string) error
}

// KeyRecordStore persists key/role lifecycle records.
type KeyRecordStore interface {
	CreateKeyRecord(ctx context.Context, record *models.KeyRoleRecord) (string, error)
	GetKeyRecord(ctx context.Context, id string) (*models.KeyRoleRecord, error)
	ActiveKeyRecordForBox(ctx context.Context, boxID string) (*models.KeyRoleRecord, error)
	ActiveKeyRecordForPrincipal(ctx context.Context, principalARN string) (*models.KeyRoleRecord, error)
	DetachKeyRecords(ctx context.Context, boxID string) (int, error)
	DetachedKeyRecordsBefore(ctx context.Context, cutoff time.Time) ([]*models.KeyRoleRecord, error)
	DetachedKeyRecords(ctx context.Context) ([]*models.KeyRoleRecord, error)
	KeyRecordsByStatus(ctx context.Context, status models.KeyRecordStatus) ([]*models.KeyRoleRecord, error)
	TransitionKeyRecord(ctx context.Context, id string, to models.KeyRecordStatus) error
	ClearKeyRecordRole(ctx context.Context, id string) error
	DeleteKeyRecord(ctx context.Context, id string) error
}

// Store is the full persistence surface consumed by the services.
type Store interface {
	BoxStore
	KeyRecordStore
}
