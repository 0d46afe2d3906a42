package iam

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsiam "github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/lockboxhq/lockbox/internal/logger"
)

// ErrProofRejected is returned when an identity proof is well-formed but
// does not authenticate the claimed principal. Not retryable: proofs are
// single-use and time-bound.
var ErrProofRejected = errors.New("identity proof rejected")

// GroupsTagKey is the role tag whose comma-separated value lists the group
// memberships the identity service reports for a principal.
const GroupsTagKey = "lockbox/groups"

// assumeRolePolicy lets the account's principals assume provisioned roles.
const assumeRolePolicyTemplate = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"AWS": "arn:aws:iam::%s:root"},
      "Action": "sts:AssumeRole"
    }
  ]
}`

// AWSClient implements Client against AWS IAM and STS.
type AWSClient struct {
	iam       *awsiam.Client
	cfg       aws.Config
	accountID string
}

// NewAWSClient creates an identity client from a resolved AWS config.
func NewAWSClient(cfg aws.Config, accountID string) *AWSClient {
	return &AWSClient{
		iam:       awsiam.NewFromConfig(cfg),
		cfg:       cfg,
		accountID: accountID,
	}
}

func (c *AWSClient) CreateRole(ctx context.Context, roleName, description string) (string, error) {
	out, err := c.iam.CreateRole(ctx, &awsiam.CreateRoleInput{
		RoleName:                 aws.String(roleName),
		Description:              aws.String(description),
		AssumeRolePolicyDocument: aws.String(fmt.Sprintf(assumeRolePolicyTemplate, c.accountID)),
		Tags: []types.Tag{
			{Key: aws.String("created_by"), Value: aws.String("lockbox")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("iam create role: %w", err)
	}

	roleARN := aws.ToString(out.Role.Arn)
	logger.Info("provisioned iam role", "role_name", roleName, "role_arn", roleARN)
	return roleARN, nil
}

func (c *AWSClient) DeleteRole(ctx context.Context, roleName string) error {
	// Inline policies must go first or DeleteRole fails with DeleteConflict.
	policies, err := c.iam.ListRolePolicies(ctx, &awsiam.ListRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		if isNoSuchEntityError(err) {
			return nil
		}
		return fmt.Errorf("iam list role policies: %w", err)
	}
	for _, policyName := range policies.PolicyNames {
		_, err := c.iam.DeleteRolePolicy(ctx, &awsiam.DeleteRolePolicyInput{
			RoleName:   aws.String(roleName),
			PolicyName: aws.String(policyName),
		})
		if err != nil && !isNoSuchEntityError(err) {
			return fmt.Errorf("iam delete role policy %s: %w", policyName, err)
		}
	}

	_, err = c.iam.DeleteRole(ctx, &awsiam.DeleteRoleInput{
		RoleName: aws.String(roleName),
	})
	if err != nil && !isNoSuchEntityError(err) {
		return fmt.Errorf("iam delete role: %w", err)
	}
	return nil
}

func (c *AWSClient) VerifyIdentity(ctx context.Context, principalARN, region string, proof Proof) (*VerifiedIdentity, error) {
	if proof.AccessKeyID == "" || proof.SecretAccessKey == "" {
		return nil, ErrProofRejected
	}

	// Resolve the proof's caller identity with the proof's own credentials;
	// a proof that cannot call STS does not authenticate anything.
	cfg := c.cfg.Copy()
	cfg.Region = region
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		proof.AccessKeyID, proof.SecretAccessKey, proof.SessionToken)

	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if isAuthFailure(err) {
			return nil, ErrProofRejected
		}
		return nil, fmt.Errorf("sts get caller identity: %w", err)
	}

	callerARN := NormalizeRoleARN(aws.ToString(out.Arn))
	if !strings.EqualFold(callerARN, principalARN) {
		logger.Warn("identity proof resolved to a different principal",
			"claimed", principalARN, "resolved", callerARN)
		return nil, ErrProofRejected
	}

	groups, err := c.groupsForRole(ctx, callerARN)
	if err != nil {
		// Group lookup is advisory; a principal without the tag simply has
		// no group-based grants.
		logger.Debug("group membership lookup failed", "principal", callerARN, "error", err)
		groups = nil
	}

	return &VerifiedIdentity{ARN: callerARN, Groups: groups}, nil
}

// groupsForRole reads the group-membership tag off the principal's role.
func (c *AWSClient) groupsForRole(ctx context.Context, roleARN string) ([]string, error) {
	roleName := roleNameFromARN(roleARN)
	if roleName == "" {
		return nil, nil
	}

	out, err := c.iam.ListRoleTags(ctx, &awsiam.ListRoleTagsInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return nil, err
	}

	for _, tag := range out.Tags {
		if aws.ToString(tag.Key) == GroupsTagKey {
			var groups []string
			for _, g := range strings.Split(aws.ToString(tag.Value), ",") {
				if g = strings.TrimSpace(g); g != "" {
					groups = append(groups, g)
				}
			}
			return groups, nil
		}
	}
	return nil, nil
}

// NormalizeRoleARN rewrites an STS assumed-role ARN to its IAM role ARN.
// "arn:aws:sts::123:assumed-role/app/session" -> "arn:aws:iam::123:role/app"
// Other ARNs pass through unchanged.
func NormalizeRoleARN(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 || parts[2] != "sts" || !strings.HasPrefix(parts[5], "assumed-role/") {
		return arn
	}

	resource := strings.Split(parts[5], "/")
	if len(resource) < 2 {
		return arn
	}

	return fmt.Sprintf("arn:%s:iam::%s:role/%s", parts[1], parts[4], resource[1])
}

// roleNameFromARN extracts the role name from an IAM role ARN.
func roleNameFromARN(arn string) string {
	idx := strings.LastIndex(arn, "/")
	if idx < 0 || idx == len(arn)-1 {
		return ""
	}
	return arn[idx+1:]
}

// isNoSuchEntityError returns true if the error indicates the role or
// policy doesn't exist.
func isNoSuchEntityError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchEntity *types.NoSuchEntityException
	if errors.As(err, &noSuchEntity) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchEntity"
	}
	return false
}

// isAuthFailure returns true if the error means the credentials themselves
// were rejected rather than the call failing in transit.
func isAuthFailure(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "InvalidClientTokenId" || code == "SignatureDoesNotMatch" ||
			code == "ExpiredToken" || code == "AccessDenied" ||
			code == "UnrecognizedClientException" || code == "IncompleteSignature"
	}
	return false
}

// IsRetryableError returns true if the error is transient and the
// operation should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Proof rejection is a terminal outcome
	if errors.Is(err, ErrProofRejected) {
		return false
	}

	// Network errors are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()

		// Throttling errors - retryable
		if code == "Throttling" || code == "ThrottlingException" ||
			code == "RequestThrottled" || code == "SlowDown" {
			return true
		}

		// Server errors (5xx) - retryable
		if code == "InternalError" || code == "ServiceUnavailable" ||
			code == "InternalFailure" || code == "ServiceException" {
			return true
		}

		return false
	}

	// Check error message for common transport patterns
	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout")
}
