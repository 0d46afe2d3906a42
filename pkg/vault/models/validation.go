package models

import (
	"strings"
	"unicode/utf8"
)

// Field length limits for safe deposit boxes, counted in characters.
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 1000
	MaxOwnerLength       = 255
)

// Violation codes surfaced to clients. These are stable identifiers; the
// message text may change.
const (
	CodeCategoryIDInvalid    = "SDB_CATEGORY_ID_INVALID"
	CodeNameBlank            = "SDB_NAME_BLANK"
	CodeNameTooLong          = "SDB_NAME_TOO_LONG"
	CodeDescriptionTooLong   = "SDB_DESCRIPTION_TOO_LONG"
	CodeOwnerBlank           = "SDB_OWNER_BLANK"
	CodeOwnerTooLong         = "SDB_OWNER_TOO_LONG"
	CodeOwnerInGroupGrants   = "SDB_UNIQUE_OWNER"
	CodeUserGroupRepeated    = "SDB_USER_GROUP_REPEATED"
	CodeIamPrincipalRepeated = "SDB_IAM_PRINCIPAL_REPEATED"
	CodeRoleLevelInvalid     = "SDB_ROLE_LEVEL_INVALID"
)

// Violation is a single field-level validation failure. Rejection is a
// normal return value, never an error or panic.
type Violation struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidateForCreate validates a box for the create operation and returns
// the ordered list of violations. An empty result means the box is valid.
func (b *SafeDepositBox) ValidateForCreate() []Violation {
	var vs []Violation

	if strings.TrimSpace(b.CategoryID) == "" {
		vs = append(vs, Violation{
			Field:   "category_id",
			Code:    CodeCategoryIDInvalid,
			Message: "category id is required",
		})
	}

	if strings.TrimSpace(b.Name) == "" {
		vs = append(vs, Violation{
			Field:   "name",
			Code:    CodeNameBlank,
			Message: "name is required",
		})
	} else if utf8.RuneCountInString(b.Name) > MaxNameLength {
		vs = append(vs, Violation{
			Field:   "name",
			Code:    CodeNameTooLong,
			Message: "name must be at most 100 characters",
		})
	}

	return append(vs, b.validateShared()...)
}

// ValidateForUpdate validates a box for the update operation. ID, category
// id, and name are immutable on update and are excluded from re-validation;
// description, owner, and both grant sets re-validate with the create rules.
func (b *SafeDepositBox) ValidateForUpdate() []Violation {
	return b.validateShared()
}

// validateShared holds the rules common to create and update.
func (b *SafeDepositBox) validateShared() []Violation {
	var vs []Violation

	if utf8.RuneCountInString(b.Description) > MaxDescriptionLength {
		vs = append(vs, Violation{
			Field:   "description",
			Code:    CodeDescriptionTooLong,
			Message: "description must be at most 1000 characters",
		})
	}

	if strings.TrimSpace(b.Owner) == "" {
		vs = append(vs, Violation{
			Field:   "owner",
			Code:    CodeOwnerBlank,
			Message: "owner is required",
		})
	} else if utf8.RuneCountInString(b.Owner) > MaxOwnerLength {
		vs = append(vs, Violation{
			Field:   "owner",
			Code:    CodeOwnerTooLong,
			Message: "owner must be at most 255 characters",
		})
	}

	vs = append(vs, b.validateUserGroupGrants()...)
	vs = append(vs, b.validateIamPrincipalGrants()...)
	return vs
}

// validateUserGroupGrants checks exact-match uniqueness of group names, that
// the owner does not also appear as a group grant, and that role levels are
// known. An empty or single-element grant set never produces a uniqueness
// violation.
func (b *SafeDepositBox) validateUserGroupGrants() []Violation {
	var vs []Violation
	seen := make(map[string]bool, len(b.UserGroupGrants))
	dup := make(map[string]bool)

	for _, g := range b.UserGroupGrants {
		if seen[g.GroupName] && !dup[g.GroupName] {
			dup[g.GroupName] = true
			vs = append(vs, Violation{
				Field:   "user_group_grants",
				Code:    CodeUserGroupRepeated,
				Message: "group " + g.GroupName + " is granted more than once",
			})
		}
		seen[g.GroupName] = true

		if b.Owner != "" && g.GroupName == b.Owner {
			vs = append(vs, Violation{
				Field:   "user_group_grants",
				Code:    CodeOwnerInGroupGrants,
				Message: "owner " + b.Owner + " must not also appear in the group grant set",
			})
		}

		if !RoleLevel(g.RoleLevel).IsValid() {
			vs = append(vs, Violation{
				Field:   "user_group_grants",
				Code:    CodeRoleLevelInvalid,
				Message: "unknown role level " + g.RoleLevel,
			})
		}
	}
	return vs
}

// validateIamPrincipalGrants checks case-insensitive uniqueness of principal
// ARNs and that role levels are known. ARNs that differ only in letter case
// collide; ARNs differing in any other character coexist.
func (b *SafeDepositBox) validateIamPrincipalGrants() []Violation {
	var vs []Violation
	seen := make(map[string]bool, len(b.IamPrincipalGrants))
	dup := make(map[string]bool)

	for _, g := range b.IamPrincipalGrants {
		key := strings.ToLower(g.PrincipalARN)
		if seen[key] && !dup[key] {
			dup[key] = true
			vs = append(vs, Violation{
				Field:   "iam_principal_grants",
				Code:    CodeIamPrincipalRepeated,
				Message: "principal " + g.PrincipalARN + " is granted more than once",
			})
		}
		seen[key] = true

		if !RoleLevel(g.RoleLevel).IsValid() {
			vs = append(vs, Violation{
				Field:   "iam_principal_grants",
				Code:    CodeRoleLevelInvalid,
				Message: "unknown role level " + g.RoleLevel,
			})
		}
	}
	return vs
}
