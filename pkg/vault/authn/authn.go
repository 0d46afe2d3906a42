// Package authn authenticates IAM principals and issues envelope-encrypted
// credential payloads.
//
// A caller proves control of a principal with short-lived session
// credentials; the authenticator resolves the principal's effective policy
// over every box and seals the resulting credential under the principal's
// dedicated key, so only a holder of that role can decrypt it.
package authn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/cloud/iam"
	"github.com/lockboxhq/lockbox/pkg/cloud/kms"
	"github.com/lockboxhq/lockbox/pkg/vault/lifecycle"
	"github.com/lockboxhq/lockbox/pkg/vault/models"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
)

// DefaultTTL is the credential lifetime when none is configured.
const DefaultTTL = time.Hour

// Config holds authenticator settings.
type Config struct {
	// TTL is the issued credential lifetime.
	TTL time.Duration

	// MaxVerifyRetries bounds retries of transient identity-service
	// failures. Proof rejections are never retried.
	MaxVerifyRetries int

	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxVerifyRetries <= 0 {
		c.MaxVerifyRetries = 3
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
}

// Credential is the payload sealed into the issued auth blob.
type Credential struct {
	PrincipalARN string    `json:"principal_arn"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Policy maps box path to the highest role the principal holds there.
	// Boxes where the principal holds nothing are absent.
	Policy map[string]string `json:"policy"`
}

// Response is the authentication result returned to the caller.
type Response struct {
	// AuthData is the base64 envelope blob containing the sealed Credential.
	AuthData string `json:"auth_data"`

	// TTL is the credential lifetime in seconds.
	TTL int `json:"ttl"`
}

// Authenticator verifies identity proofs and issues credentials.
type Authenticator struct {
	boxes     store.BoxStore
	lifecycle *lifecycle.Manager
	identity  iam.Client
	keys      kms.Client
	cfg       Config
}

// New creates an authenticator.
func New(boxes store.BoxStore, lm *lifecycle.Manager, identity iam.Client, keys kms.Client, cfg Config) *Authenticator {
	cfg.ApplyDefaults()
	return &Authenticator{
		boxes:     boxes,
		lifecycle: lm,
		identity:  identity,
		keys:      keys,
		cfg:       cfg,
	}
}

// Authenticate verifies the proof for principalARN and returns a sealed
// credential carrying the principal's effective policy.
//
// A rejected proof yields an error wrapping models.ErrAuthentication.
// Transient identity-service failures are retried with bounded exponential
// backoff; exhaustion yields models.ErrExternalResource. A principal with
// zero grants still authenticates and receives an empty policy.
func (a *Authenticator) Authenticate(ctx context.Context, principalARN, region string, proof iam.Proof) (*Response, error) {
	identity, err := a.verifyWithRetry(ctx, principalARN, region, proof)
	if err != nil {
		return nil, err
	}

	policy, err := a.resolvePolicy(ctx, identity)
	if err != nil {
		return nil, err
	}

	record, err := a.lifecycle.EnsureKeyForPrincipal(ctx, identity.ARN)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	credential := &Credential{
		PrincipalARN: identity.ARN,
		IssuedAt:     now,
		ExpiresAt:    now.Add(a.cfg.TTL),
		Policy:       policy,
	}

	payload, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}

	dataKey, err := a.keys.GenerateDataKey(ctx, record.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: generate data key: %v", models.ErrExternalResource, err)
	}

	blob, err := Seal(dataKey, payload)
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "issued credential",
		"principal", identity.ARN, "boxes", len(policy), "ttl", a.cfg.TTL)

	return &Response{
		AuthData: blob,
		TTL:      int(a.cfg.TTL.Seconds()),
	}, nil
}

// verifyWithRetry calls VerifyIdentity, retrying transient failures only.
func (a *Authenticator) verifyWithRetry(ctx context.Context, principalARN, region string, proof iam.Proof) (*iam.VerifiedIdentity, error) {
	var identity *iam.VerifiedIdentity

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.RetryInitialInterval

	operation := func() error {
		var err error
		identity, err = a.identity.VerifyIdentity(ctx, principalARN, region, proof)
		if err == nil {
			return nil
		}
		if errors.Is(err, iam.ErrProofRejected) {
			return backoff.Permanent(err)
		}
		if !iam.IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		logger.DebugCtx(ctx, "identity verification failed, retrying",
			"principal", principalARN, "error", err)
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithMaxRetries(backoff.WithContext(policy, ctx), uint64(a.cfg.MaxVerifyRetries)))
	if err != nil {
		if errors.Is(err, iam.ErrProofRejected) {
			return nil, fmt.Errorf("%w: proof rejected for %s", models.ErrAuthentication, principalARN)
		}
		return nil, fmt.Errorf("%w: identity verification: %v", models.ErrExternalResource, err)
	}
	return identity, nil
}

// resolvePolicy computes the principal's effective policy: for each box,
// the highest role level across its matching IAM principal grant, its
// user-group grants matching the principal's group memberships, and
// ownership. Boxes with no match are omitted.
func (a *Authenticator) resolvePolicy(ctx context.Context, identity *iam.VerifiedIdentity) (map[string]string, error) {
	boxes, err := a.boxes.ListBoxes(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]bool, len(identity.Groups))
	for _, g := range identity.Groups {
		groups[g] = true
	}

	policy := make(map[string]string)
	for _, box := range boxes {
		var level models.RoleLevel
		matched := false

		if groups[box.Owner] {
			level = models.RoleOwner
			matched = true
		}
		if l, ok := box.GrantForPrincipal(identity.ARN); ok {
			level = models.MaxRoleLevel(level, l)
			matched = true
		}
		for _, g := range identity.Groups {
			if l, ok := box.GrantForGroup(g); ok {
				level = models.MaxRoleLevel(level, l)
				matched = true
			}
		}

		if matched {
			policy[box.Path] = string(level)
		}
	}
	return policy, nil
}
