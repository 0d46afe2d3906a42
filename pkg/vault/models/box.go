package models

import (
	"strings"
	"time"
)

// SafeDepositBox is a named, owned grouping of secrets with its own grant
// set and dedicated key material.
//
// The box ID is server-assigned and immutable. Path is derived from the name
// at creation time and stays stable across updates.
type SafeDepositBox struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	CategoryID  string    `gorm:"not null;size:36" json:"category_id"`
	Name        string    `gorm:"uniqueIndex;not null;size:100" json:"name"`
	Description string    `gorm:"size:1000" json:"description,omitempty"`
	Path        string    `gorm:"uniqueIndex;not null;size:255" json:"path"`
	Owner       string    `gorm:"not null;size:255" json:"owner"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	CreatedBy   string    `gorm:"size:255" json:"created_by"`
	UpdatedBy   string    `gorm:"size:255" json:"updated_by"`

	// Relationships
	UserGroupGrants    []UserGroupGrant    `gorm:"foreignKey:BoxID" json:"user_group_grants,omitempty"`
	IamPrincipalGrants []IamPrincipalGrant `gorm:"foreignKey:BoxID" json:"iam_principal_grants,omitempty"`
}

// TableName returns the table name for SafeDepositBox.
func (SafeDepositBox) TableName() string {
	return "safe_deposit_boxes"
}

// UserGroupGrant binds a user group to a box at a role level.
// Group names are matched exactly (case sensitive).
type UserGroupGrant struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	BoxID     string `gorm:"not null;size:36;index" json:"box_id"`
	GroupName string `gorm:"not null;size:255" json:"group_name"`
	RoleLevel string `gorm:"not null;size:50" json:"role_level"`
}

// TableName returns the table name for UserGroupGrant.
func (UserGroupGrant) TableName() string {
	return "user_group_grants"
}

// IamPrincipalGrant binds a cloud identity (IAM principal) to a box at a
// role level. Principal ARNs are matched case-insensitively because IAM
// treats role names as case-insensitive on lookup.
type IamPrincipalGrant struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	BoxID        string `gorm:"not null;size:36;index" json:"box_id"`
	PrincipalARN string `gorm:"not null;size:255" json:"principal_arn"`
	RoleLevel    string `gorm:"not null;size:50" json:"role_level"`
}

// TableName returns the table name for IamPrincipalGrant.
func (IamPrincipalGrant) TableName() string {
	return "iam_principal_grants"
}

// DerivePath computes the stable secret path for a box name.
// "My App Secrets" -> "my-app-secrets/"
func DerivePath(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	return slug + "/"
}

// GrantForGroup returns the role level granted to the given group, if any.
func (b *SafeDepositBox) GrantForGroup(groupName string) (RoleLevel, bool) {
	for _, g := range b.UserGroupGrants {
		if g.GroupName == groupName {
			return RoleLevel(g.RoleLevel), true
		}
	}
	return "", false
}

// GrantForPrincipal returns the role level granted to the given principal
// ARN, if any. Comparison is case-insensitive.
func (b *SafeDepositBox) GrantForPrincipal(principalARN string) (RoleLevel, bool) {
	for _, g := range b.IamPrincipalGrants {
		if strings.EqualFold(g.PrincipalARN, principalARN) {
			return RoleLevel(g.RoleLevel), true
		}
	}
	return "", false
}

// Equal reports structural equality over all fields, including both grant
// sets (order-sensitive). Grant IDs participate so that two boxes persisted
// separately never compare equal by accident.
func (b *SafeDepositBox) Equal(o *SafeDepositBox) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.ID != o.ID ||
		b.CategoryID != o.CategoryID ||
		b.Name != o.Name ||
		b.Description != o.Description ||
		b.Path != o.Path ||
		b.Owner != o.Owner ||
		!b.CreatedAt.Equal(o.CreatedAt) ||
		!b.UpdatedAt.Equal(o.UpdatedAt) ||
		b.CreatedBy != o.CreatedBy ||
		b.UpdatedBy != o.UpdatedBy {
		return false
	}
	if len(b.UserGroupGrants) != len(o.UserGroupGrants) {
		return false
	}
	for i := range b.UserGroupGrants {
		if b.UserGroupGrants[i] != o.UserGroupGrants[i] {
			return false
		}
	}
	if len(b.IamPrincipalGrants) != len(o.IamPrincipalGrants) {
		return false
	}
	for i := range b.IamPrincipalGrants {
		if b.IamPrincipalGrants[i] != o.IamPrincipalGrants[i] {
			return false
		}
	}
	return true
}

// MigrateLegacyBox upgrades a v1-shaped box loaded from storage into the
// current shape. v1 rows stored the owner as an owner-level user group grant
// instead of the dedicated Owner column; the first owner-level group grant
// is promoted to Owner and removed from the grant set.
//
// Applied at the serialization boundary only; no-op for current rows.
func MigrateLegacyBox(b *SafeDepositBox) {
	if b.Owner != "" {
		return
	}
	for i, g := range b.UserGroupGrants {
		if RoleLevel(g.RoleLevel) == RoleOwner {
			b.Owner = g.GroupName
			b.UserGroupGrants = append(b.UserGroupGrants[:i], b.UserGroupGrants[i+1:]...)
			return
		}
	}
}
