// Package kms wraps the external key-management service consumed by the
// Lockbox core: dedicated key provisioning per box/principal, data-key
// generation for envelope encryption, and the deletion-window primitives
// driven by the reconciliation sweeper.
package kms

import "context"

// KeyState reports the external lifecycle state of a key.
type KeyState string

const (
	// KeyStateEnabled means the key exists and is usable.
	KeyStateEnabled KeyState = "Enabled"

	// KeyStatePendingDeletion means deletion has been scheduled and the
	// service's grace window is running.
	KeyStatePendingDeletion KeyState = "PendingDeletion"

	// KeyStateNotFound means the key no longer exists.
	KeyStateNotFound KeyState = "NotFound"
)

// DataKey is a freshly generated data-encryption key: the plaintext is used
// once for AEAD sealing and discarded, the ciphertext (wrapped by the
// customer key) travels with the sealed payload.
type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
}

// Client is the key-management surface consumed by the lifecycle manager,
// authenticator, and sweeper.
type Client interface {
	// CreateKey provisions a dedicated customer key whose key policy grants
	// decrypt to the given role. Returns the key id.
	CreateKey(ctx context.Context, roleARN, description string) (string, error)

	// ScheduleKeyDeletion starts the service-side deletion window for the
	// key. Data stays recoverable until the window elapses. Scheduling an
	// already-pending key is not an error.
	ScheduleKeyDeletion(ctx context.Context, keyID string, pendingWindowDays int) error

	// DescribeKeyState reports the key's lifecycle state. A missing key
	// reports KeyStateNotFound, not an error.
	DescribeKeyState(ctx context.Context, keyID string) (KeyState, error)

	// GenerateDataKey returns a fresh 256-bit data key wrapped by the
	// given customer key.
	GenerateDataKey(ctx context.Context, keyID string) (*DataKey, error)
}
