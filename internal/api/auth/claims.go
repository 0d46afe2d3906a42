// Package auth provides JWT authentication for the Lockbox management API.
package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT claims for Lockbox management API callers.
//
// Management callers are humans or automation identified by a subject and
// group memberships; group names are matched against box owners and
// user-group grants. IAM principals do not use JWTs, they authenticate
// through the iam-principal endpoint.
type Claims struct {
	jwt.RegisteredClaims

	// Username is the human-readable caller name.
	Username string `json:"username"`

	// Role is the caller's role ("admin" or "user").
	Role string `json:"role"`

	// Groups is the list of group names the caller belongs to.
	Groups []string `json:"groups,omitempty"`
}

// IsAdmin returns true if the caller has admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == "admin"
}

// HasGroup returns true if the caller belongs to the specified group.
func (c *Claims) HasGroup(groupName string) bool {
	return slices.Contains(c.Groups, groupName)
}
