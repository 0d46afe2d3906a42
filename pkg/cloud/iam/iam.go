// Package iam wraps the external identity-management service consumed by
// the Lockbox core: role provisioning/deletion for key access and
// verification of caller identity proofs.
package iam

import "context"

// Proof is the material a caller submits to prove control of an IAM
// principal: short-lived session credentials whose caller identity the
// service resolves and compares against the claimed ARN. Proofs are
// time-bound and never stored.
type Proof struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// VerifiedIdentity is the outcome of a successful proof verification.
type VerifiedIdentity struct {
	// ARN is the canonical role ARN the proof resolved to.
	ARN string

	// Groups are the group memberships the identity service reports for
	// this principal, used to match user-group grants.
	Groups []string
}

// Client is the identity-management surface consumed by the lifecycle
// manager, authenticator, and sweeper.
type Client interface {
	// CreateRole provisions a role that Lockbox-issued credentials for a
	// box or principal will assume for key decryption. Returns the role ARN.
	CreateRole(ctx context.Context, roleName, description string) (string, error)

	// DeleteRole removes a provisioned role and its inline policies.
	// Deleting a missing role is not an error (idempotent sweep).
	DeleteRole(ctx context.Context, roleName string) error

	// VerifyIdentity resolves the proof to a caller identity in the given
	// region and checks it matches principalARN (case-insensitive).
	// Returns ErrProofRejected when the proof is well-formed but does not
	// authenticate the claimed principal; other errors are transport
	// failures and may be retried.
	VerifyIdentity(ctx context.Context, principalARN, region string, proof Proof) (*VerifiedIdentity, error)
}
