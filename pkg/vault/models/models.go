// Package models provides shared domain types for the Lockbox control plane.
//
// This package contains the safe deposit box entity, its permission grants,
// and the key/role lifecycle records. It is the single source of truth for
// domain types, with GORM annotations for database persistence. Validation
// is explicit (ValidateForCreate / ValidateForUpdate) and returns structured
// violation lists rather than errors.
package models

// RoleLevel represents the access level a grant confers on a safe deposit box.
//
// Role levels are hierarchical:
//   - read: read secrets and list paths
//   - write: read plus create/update/delete secrets
//   - owner: write plus grant management
type RoleLevel string

const (
	// RoleRead allows reading secrets and listing paths.
	RoleRead RoleLevel = "read"

	// RoleWrite allows reading, writing, and deleting secrets.
	RoleWrite RoleLevel = "write"

	// RoleOwner allows full access plus grant management.
	RoleOwner RoleLevel = "owner"
)

// Level returns the numeric level of the role for comparison.
// Higher values indicate more permissive access.
//
// Returns:
//   - 0: unknown
//   - 1: read
//   - 2: write
//   - 3: owner
func (r RoleLevel) Level() int {
	switch r {
	case RoleRead:
		return 1
	case RoleWrite:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

// IsValid returns true if this is a known role level.
func (r RoleLevel) IsValid() bool {
	switch r {
	case RoleRead, RoleWrite, RoleOwner:
		return true
	default:
		return false
	}
}

// String returns the string representation of the role level.
func (r RoleLevel) String() string {
	return string(r)
}

// MaxRoleLevel returns the higher of two role levels.
func MaxRoleLevel(a, b RoleLevel) RoleLevel {
	if a.Level() > b.Level() {
		return a
	}
	return b
}

// AllModels returns all models for GORM AutoMigrate.
func AllModels() []any {
	return []any{
		&SafeDepositBox{},
		&UserGroupGrant{},
		&IamPrincipalGrant{},
		&KeyRoleRecord{},
	}
}
