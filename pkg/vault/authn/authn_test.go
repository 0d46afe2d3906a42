package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lockboxhq/lockbox/pkg/cloud/iam"
	"github.com/lockboxhq/lockbox/pkg/cloud/kms"
	"github.com/lockboxhq/lockbox/pkg/vault/lifecycle"
	"github.com/lockboxhq/lockbox/pkg/vault/models"
	"github.com/lockboxhq/lockbox/pkg/vault/vaulttest"
)

const (
	appARN   = "arn:aws:iam::123456789012:role/app"
	appKeyID = "AKIAAPP"
)

type fixture struct {
	authn    *Authenticator
	store    *vaulttest.FakeStore
	keys     *vaulttest.FakeKMS
	identity *vaulttest.FakeIdentity
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	s := vaulttest.NewFakeStore()
	keys := vaulttest.NewFakeKMS()
	identity := vaulttest.NewFakeIdentity()
	identity.Identities[appKeyID] = iam.VerifiedIdentity{
		ARN:    appARN,
		Groups: []string{"devs"},
	}
	lm := lifecycle.New(s, keys, identity, lifecycle.Config{})
	return &fixture{
		authn:    New(s, lm, identity, keys, cfg),
		store:    s,
		keys:     keys,
		identity: identity,
	}
}

func (f *fixture) addBox(t *testing.T, box *models.SafeDepositBox) {
	t.Helper()
	if _, err := f.store.CreateBox(context.Background(), box); err != nil {
		t.Fatalf("CreateBox: %v", err)
	}
}

// unseal decodes a response blob using the fake key service's wrapping
// scheme (wrapped key is the plaintext reversed).
func unseal(t *testing.T, authData string) *Credential {
	t.Helper()
	wrapped, sealed, err := SplitBlob(authData)
	if err != nil {
		t.Fatalf("SplitBlob: %v", err)
	}
	key := make([]byte, len(wrapped))
	for i, b := range wrapped {
		key[len(wrapped)-1-i] = b
	}
	payload, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var credential Credential
	if err := json.Unmarshal(payload, &credential); err != nil {
		t.Fatalf("unmarshal credential: %v", err)
	}
	return &credential
}

func proof() iam.Proof {
	return iam.Proof{AccessKeyID: appKeyID, SecretAccessKey: "secret", SessionToken: "token"}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.addBox(t, &models.SafeDepositBox{
		CategoryID: "cat-1", Name: "app box", Owner: "owners",
		IamPrincipalGrants: []models.IamPrincipalGrant{
			{PrincipalARN: "ARN:AWS:IAM::123456789012:ROLE/APP", RoleLevel: string(models.RoleWrite)},
		},
	})
	f.addBox(t, &models.SafeDepositBox{
		CategoryID: "cat-1", Name: "team box", Owner: "owners",
		UserGroupGrants: []models.UserGroupGrant{
			{GroupName: "devs", RoleLevel: string(models.RoleRead)},
		},
	})
	f.addBox(t, &models.SafeDepositBox{
		CategoryID: "cat-1", Name: "other box", Owner: "other-team",
	})

	resp, err := f.authn.Authenticate(ctx, appARN, "us-east-1", proof())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if resp.TTL != int(DefaultTTL.Seconds()) {
		t.Errorf("expected default TTL, got %d", resp.TTL)
	}

	credential := unseal(t, resp.AuthData)
	if credential.PrincipalARN != appARN {
		t.Errorf("unexpected principal %q", credential.PrincipalARN)
	}
	// Case-insensitive ARN grant plus group grant; no access to other box.
	want := map[string]string{
		"app-box/":  string(models.RoleWrite),
		"team-box/": string(models.RoleRead),
	}
	if len(credential.Policy) != len(want) {
		t.Fatalf("policy = %v, want %v", credential.Policy, want)
	}
	for path, level := range want {
		if credential.Policy[path] != level {
			t.Errorf("policy[%q] = %q, want %q", path, credential.Policy[path], level)
		}
	}
	if !credential.ExpiresAt.After(credential.IssuedAt) {
		t.Errorf("expiry not after issuance: %+v", credential)
	}
}

func TestAuthenticateEmptyPolicy(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := f.authn.Authenticate(context.Background(), appARN, "us-east-1", proof())
	if err != nil {
		t.Fatalf("zero grants must still authenticate: %v", err)
	}

	credential := unseal(t, resp.AuthData)
	if len(credential.Policy) != 0 {
		t.Errorf("expected empty policy, got %v", credential.Policy)
	}
}

func TestAuthenticateOwnerLevel(t *testing.T) {
	f := newFixture(t, Config{})
	f.identity.Identities[appKeyID] = iam.VerifiedIdentity{
		ARN:    appARN,
		Groups: []string{"owners"},
	}

	f.addBox(t, &models.SafeDepositBox{
		CategoryID: "cat-1", Name: "owned box", Owner: "owners",
		UserGroupGrants: []models.UserGroupGrant{
			{GroupName: "owners", RoleLevel: string(models.RoleRead)},
		},
	})

	resp, err := f.authn.Authenticate(context.Background(), appARN, "us-east-1", proof())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	credential := unseal(t, resp.AuthData)
	if credential.Policy["owned-box/"] != string(models.RoleOwner) {
		t.Errorf("ownership must win over weaker grants, got %v", credential.Policy)
	}
}

func TestAuthenticateRejectedProof(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.authn.Authenticate(context.Background(), appARN, "us-east-1",
		iam.Proof{AccessKeyID: "AKIAWRONG", SecretAccessKey: "nope"})
	if !errors.Is(err, models.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}

	// Rejection is terminal: exactly one verification attempt.
	if n := f.identity.CallCount("VerifyIdentity"); n != 1 {
		t.Errorf("expected 1 verify call, got %d", n)
	}
}

func TestAuthenticateRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, Config{MaxVerifyRetries: 2, RetryInitialInterval: time.Millisecond})
	f.identity.VerifyErr = fmt.Errorf("read tcp 10.0.0.1:443: i/o timeout")

	_, err := f.authn.Authenticate(context.Background(), appARN, "us-east-1", proof())
	if !errors.Is(err, models.ErrExternalResource) {
		t.Fatalf("expected ErrExternalResource, got %v", err)
	}
	if n := f.identity.CallCount("VerifyIdentity"); n != 3 {
		t.Errorf("expected initial attempt plus 2 retries, got %d", n)
	}
}

func TestAuthenticateDoesNotRetryTerminalFailures(t *testing.T) {
	f := newFixture(t, Config{MaxVerifyRetries: 2, RetryInitialInterval: time.Millisecond})
	f.identity.VerifyErr = fmt.Errorf("malformed principal identifier")

	_, err := f.authn.Authenticate(context.Background(), appARN, "us-east-1", proof())
	if !errors.Is(err, models.ErrExternalResource) {
		t.Fatalf("expected ErrExternalResource, got %v", err)
	}

	// Only transient failures burn retries; anything else stops immediately.
	if n := f.identity.CallCount("VerifyIdentity"); n != 1 {
		t.Errorf("expected 1 verify call, got %d", n)
	}
}

func TestConfigDefaults(t *testing.T) {
	// Zero and negative retry counts both fall back to the default.
	for _, retries := range []int{0, -1} {
		cfg := Config{MaxVerifyRetries: retries}
		cfg.ApplyDefaults()
		if cfg.MaxVerifyRetries != 3 {
			t.Errorf("MaxVerifyRetries=%d: expected default 3, got %d", retries, cfg.MaxVerifyRetries)
		}
	}

	var cfg Config
	cfg.ApplyDefaults()
	if cfg.TTL != DefaultTTL {
		t.Errorf("expected default TTL, got %v", cfg.TTL)
	}
}

func TestAuthenticateLazyProvisioning(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.authn.Authenticate(ctx, appARN, "us-east-1", proof()); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	if f.keys.CallCount("CreateKey") != 1 {
		t.Fatalf("expected key provisioned on first auth, calls: %v", f.keys.Calls)
	}

	if _, err := f.authn.Authenticate(ctx, appARN, "us-east-1", proof()); err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}
	if f.keys.CallCount("CreateKey") != 1 {
		t.Errorf("second auth must reuse the key, calls: %v", f.keys.Calls)
	}
	if f.keys.CallCount("GenerateDataKey") != 2 {
		t.Errorf("each auth generates a fresh data key, calls: %v", f.keys.Calls)
	}
}

func TestSealFreshNonce(t *testing.T) {
	dataKey := &kms.DataKey{
		Plaintext:  bytes.Repeat([]byte{0x42}, 32),
		Ciphertext: []byte("wrapped"),
	}

	a, err := Seal(dataKey, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := Seal(dataKey, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if a == b {
		t.Error("two seals of the same payload must differ")
	}

	wrapped, sealed, err := SplitBlob(a)
	if err != nil {
		t.Fatalf("SplitBlob: %v", err)
	}
	if !bytes.Equal(wrapped, []byte("wrapped")) {
		t.Errorf("wrapped key mangled: %q", wrapped)
	}
	payload, err := Open(dataKey.Plaintext, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(payload) != "payload" {
		t.Errorf("round trip mismatch: %q", payload)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	dataKey := &kms.DataKey{
		Plaintext:  bytes.Repeat([]byte{0x42}, 32),
		Ciphertext: []byte("wrapped"),
	}
	blob, err := Seal(dataKey, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	_, sealed, err := SplitBlob(blob)
	if err != nil {
		t.Fatalf("SplitBlob: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(dataKey.Plaintext, sealed); err == nil {
		t.Error("tampered ciphertext must not open")
	}
}
