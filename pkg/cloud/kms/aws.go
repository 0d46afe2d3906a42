package kms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"

	"github.com/lockboxhq/lockbox/internal/logger"
)

// MinPendingWindowDays is the shortest deletion window AWS KMS accepts.
const MinPendingWindowDays = 7

// keyPolicyTemplate grants key administration to the account root and
// decrypt to a single role. The role ARN is the only variable part.
const keyPolicyTemplate = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "Account root administration",
      "Effect": "Allow",
      "Principal": {"AWS": "arn:aws:iam::%s:root"},
      "Action": "kms:*",
      "Resource": "*"
    },
    {
      "Sid": "Principal decrypt",
      "Effect": "Allow",
      "Principal": {"AWS": "%s"},
      "Action": "kms:Decrypt",
      "Resource": "*"
    }
  ]
}`

// AWSClient implements Client against AWS KMS.
type AWSClient struct {
	client    *awskms.Client
	accountID string
}

// NewAWSClient creates a KMS client from a resolved AWS config.
// accountID is used in the key policy's administration statement.
func NewAWSClient(cfg aws.Config, accountID string) *AWSClient {
	return &AWSClient{
		client:    awskms.NewFromConfig(cfg),
		accountID: accountID,
	}
}

func (c *AWSClient) CreateKey(ctx context.Context, roleARN, description string) (string, error) {
	policy := fmt.Sprintf(keyPolicyTemplate, c.accountID, roleARN)

	out, err := c.client.CreateKey(ctx, &awskms.CreateKeyInput{
		Description: aws.String(description),
		Policy:      aws.String(policy),
		KeyUsage:    types.KeyUsageTypeEncryptDecrypt,
		Tags: []types.Tag{
			{TagKey: aws.String("created_by"), TagValue: aws.String("lockbox")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("kms create key: %w", err)
	}

	keyID := aws.ToString(out.KeyMetadata.KeyId)
	logger.Info("provisioned kms key", "key_id", keyID, "role_arn", roleARN)
	return keyID, nil
}

func (c *AWSClient) ScheduleKeyDeletion(ctx context.Context, keyID string, pendingWindowDays int) error {
	if pendingWindowDays < MinPendingWindowDays {
		pendingWindowDays = MinPendingWindowDays
	}

	_, err := c.client.ScheduleKeyDeletion(ctx, &awskms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(keyID),
		PendingWindowInDays: aws.Int32(int32(pendingWindowDays)),
	})
	if err != nil {
		// Already scheduled keys report an invalid-state error; treat as done.
		if isKeyPendingDeletionError(err) {
			logger.Debug("kms key already pending deletion", "key_id", keyID)
			return nil
		}
		return fmt.Errorf("kms schedule key deletion: %w", err)
	}
	return nil
}

func (c *AWSClient) DescribeKeyState(ctx context.Context, keyID string) (KeyState, error) {
	out, err := c.client.DescribeKey(ctx, &awskms.DescribeKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		if isNotFoundError(err) {
			return KeyStateNotFound, nil
		}
		return "", fmt.Errorf("kms describe key: %w", err)
	}

	switch out.KeyMetadata.KeyState {
	case types.KeyStatePendingDeletion:
		return KeyStatePendingDeletion, nil
	default:
		return KeyStateEnabled, nil
	}
}

func (c *AWSClient) GenerateDataKey(ctx context.Context, keyID string) (*DataKey, error) {
	out, err := c.client.GenerateDataKey(ctx, &awskms.GenerateDataKeyInput{
		KeyId:   aws.String(keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("kms generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  out.Plaintext,
		Ciphertext: out.CiphertextBlob,
	}, nil
}

// isNotFoundError returns true if the error indicates the key doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFoundException"
	}
	return false
}

// isKeyPendingDeletionError returns true if the error indicates the key is
// already in the deletion window.
func isKeyPendingDeletionError(err error) bool {
	if err == nil {
		return false
	}

	var invalidState *types.KMSInvalidStateException
	if errors.As(err, &invalidState) {
		return strings.Contains(invalidState.ErrorMessage(), "pending deletion")
	}
	return false
}
