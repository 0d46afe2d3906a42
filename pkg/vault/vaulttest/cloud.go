package vaulttest

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/lockboxhq/lockbox/pkg/cloud/iam"
	"github.com/lockboxhq/lockbox/pkg/cloud/kms"
)

// FakeKMS is an in-memory kms.Client tracking key state and call counts.
type FakeKMS struct {
	mu     sync.Mutex
	nextID int
	keys   map[string]kms.KeyState

	// Calls counts invocations per operation name.
	Calls map[string]int

	// FailCreate makes CreateKey return an error.
	FailCreate bool

	// FailGenerate makes GenerateDataKey return an error.
	FailGenerate bool
}

// NewFakeKMS creates an empty fake key service.
func NewFakeKMS() *FakeKMS {
	return &FakeKMS{
		keys:  make(map[string]kms.KeyState),
		Calls: make(map[string]int),
	}
}

func (f *FakeKMS) CreateKey(ctx context.Context, roleARN, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CreateKey"]++
	if f.FailCreate {
		return "", fmt.Errorf("kms unavailable")
	}
	f.nextID++
	keyID := fmt.Sprintf("key-%d", f.nextID)
	f.keys[keyID] = kms.KeyStateEnabled
	return keyID, nil
}

func (f *FakeKMS) ScheduleKeyDeletion(ctx context.Context, keyID string, pendingWindowDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["ScheduleKeyDeletion"]++
	state, ok := f.keys[keyID]
	if !ok {
		return fmt.Errorf("key %s not found", keyID)
	}
	if state != kms.KeyStatePendingDeletion {
		f.keys[keyID] = kms.KeyStatePendingDeletion
	}
	return nil
}

func (f *FakeKMS) DescribeKeyState(ctx context.Context, keyID string) (kms.KeyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["DescribeKeyState"]++
	state, ok := f.keys[keyID]
	if !ok {
		return kms.KeyStateNotFound, nil
	}
	return state, nil
}

func (f *FakeKMS) GenerateDataKey(ctx context.Context, keyID string) (*kms.DataKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["GenerateDataKey"]++
	if f.FailGenerate {
		return nil, fmt.Errorf("kms unavailable")
	}
	if _, ok := f.keys[keyID]; !ok {
		return nil, fmt.Errorf("key %s not found", keyID)
	}

	plaintext := make([]byte, 32)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, err
	}
	// Wrapped form is the plaintext reversed; enough structure for tests
	// that unseal with the same fake.
	ciphertext := make([]byte, 32)
	for i, b := range plaintext {
		ciphertext[len(plaintext)-1-i] = b
	}
	return &kms.DataKey{Plaintext: plaintext, Ciphertext: ciphertext}, nil
}

// SetKeyState overrides a key's state.
func (f *FakeKMS) SetKeyState(keyID string, state kms.KeyState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[keyID] = state
}

// RemoveKey deletes a key outright, as if the deletion window elapsed.
func (f *FakeKMS) RemoveKey(keyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, keyID)
}

// FakeIdentity is an in-memory iam.Client.
type FakeIdentity struct {
	mu     sync.Mutex
	nextID int
	roles  map[string]bool

	// Calls counts invocations per operation name.
	Calls map[string]int

	// Identities maps "accessKeyID" to the identity its proof resolves to.
	// Proofs with unknown access keys are rejected.
	Identities map[string]iam.VerifiedIdentity

	// VerifyErr, when set, makes VerifyIdentity fail with this transient
	// error before consulting Identities.
	VerifyErr error
}

// NewFakeIdentity creates an empty fake identity service.
func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{
		roles:      make(map[string]bool),
		Calls:      make(map[string]int),
		Identities: make(map[string]iam.VerifiedIdentity),
	}
}

func (f *FakeIdentity) CreateRole(ctx context.Context, roleName, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CreateRole"]++
	f.nextID++
	f.roles[roleName] = true
	return "arn:aws:iam::123456789012:role/" + roleName, nil
}

func (f *FakeIdentity) DeleteRole(ctx context.Context, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["DeleteRole"]++
	delete(f.roles, roleName)
	return nil
}

func (f *FakeIdentity) VerifyIdentity(ctx context.Context, principalARN, region string, proof iam.Proof) (*iam.VerifiedIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["VerifyIdentity"]++
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	identity, ok := f.Identities[proof.AccessKeyID]
	if !ok || !strings.EqualFold(identity.ARN, principalARN) {
		return nil, iam.ErrProofRejected
	}
	out := identity
	return &out, nil
}

// HasRole reports whether the named role exists.
func (f *FakeIdentity) HasRole(roleName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[roleName]
}

// RoleCount reports how many roles exist.
func (f *FakeIdentity) RoleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.roles)
}

// CallCount returns the number of calls made to the named operation.
func (f *FakeIdentity) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// CallCount returns the number of calls made to the named operation.
func (f *FakeKMS) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}
