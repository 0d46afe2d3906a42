package models

import "time"

// KeyRecordStatus is the lifecycle state of a KeyRoleRecord.
//
// The state machine is ACTIVE -> DETACHED -> PENDING_DELETION -> DELETED.
// Each transition is idempotent and independently retryable; external
// resource deletion happens only on the DETACHED -> PENDING_DELETION and
// PENDING_DELETION -> DELETED edges, driven by the sweeper.
type KeyRecordStatus string

const (
	// KeyStatusActive means the key and role back a live box or principal.
	KeyStatusActive KeyRecordStatus = "ACTIVE"

	// KeyStatusDetached means the owning box was deleted; external
	// resources still exist and remain recoverable.
	KeyStatusDetached KeyRecordStatus = "DETACHED"

	// KeyStatusPendingDeletion means key deletion has been scheduled with
	// the key service and its grace window is running.
	KeyStatusPendingDeletion KeyRecordStatus = "PENDING_DELETION"

	// KeyStatusDeleted means the key service confirmed deletion. Records
	// in this state are removed from the store.
	KeyStatusDeleted KeyRecordStatus = "DELETED"
)

// IsValid returns true if this is a known status.
func (s KeyRecordStatus) IsValid() bool {
	switch s {
	case KeyStatusActive, KeyStatusDetached, KeyStatusPendingDeletion, KeyStatusDeleted:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s KeyRecordStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Self-transitions are allowed so retries stay idempotent.
func (s KeyRecordStatus) CanTransitionTo(next KeyRecordStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case KeyStatusActive:
		return next == KeyStatusDetached
	case KeyStatusDetached:
		return next == KeyStatusPendingDeletion
	case KeyStatusPendingDeletion:
		return next == KeyStatusDeleted
	default:
		return false
	}
}

// KeyRoleRecord binds externally provisioned key material and an identity
// role to a box or principal. One record is created per box at creation
// time and per principal at first authentication.
//
// BoxID is nullable: deleting a box clears the association (soft detach)
// without touching the external resources, which the sweeper reclaims later.
type KeyRoleRecord struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	KeyID            string    `gorm:"not null;size:255;index" json:"key_id"`
	RoleARN          string    `gorm:"not null;size:255;index" json:"role_arn"`
	BoxID            *string   `gorm:"size:36;index" json:"box_id,omitempty"`
	PrincipalARN     string    `gorm:"size:255;index" json:"principal_arn,omitempty"`
	Status           string    `gorm:"not null;size:50;index" json:"status"`
	LastTransitionAt time.Time `gorm:"not null" json:"last_transition_at"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for KeyRoleRecord.
func (KeyRoleRecord) TableName() string {
	return "key_role_records"
}

// GetStatus returns the record status as a KeyRecordStatus.
func (r *KeyRoleRecord) GetStatus() KeyRecordStatus {
	return KeyRecordStatus(r.Status)
}

// IsDetachedBefore reports whether the record is detached from any box and
// last transitioned before the given cutoff.
func (r *KeyRoleRecord) IsDetachedBefore(cutoff time.Time) bool {
	return r.BoxID == nil && !r.LastTransitionAt.After(cutoff)
}
