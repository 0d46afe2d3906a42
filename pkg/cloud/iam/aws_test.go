package iam

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial tcp 10.0.0.1:443: timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"rejected proof", fmt.Errorf("verify: %w", ErrProofRejected), false},
		{"throttling", &smithy.GenericAPIError{Code: "Throttling"}, true},
		{"server error", &smithy.GenericAPIError{Code: "ServiceUnavailable"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"malformed input", &smithy.GenericAPIError{Code: "ValidationError"}, false},
		{"network timeout", timeoutError{}, true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"arbitrary failure", errors.New("malformed principal identifier"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNormalizeRoleARN(t *testing.T) {
	tests := []struct {
		name string
		arn  string
		want string
	}{
		{
			"assumed role",
			"arn:aws:sts::123456789012:assumed-role/app/session",
			"arn:aws:iam::123456789012:role/app",
		},
		{
			"plain role passes through",
			"arn:aws:iam::123456789012:role/app",
			"arn:aws:iam::123456789012:role/app",
		},
		{
			"non-arn passes through",
			"not-an-arn",
			"not-an-arn",
		},
		{
			"assumed role without session",
			"arn:aws:sts::123456789012:assumed-role/app",
			"arn:aws:sts::123456789012:assumed-role/app",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRoleARN(tt.arn); got != tt.want {
				t.Errorf("NormalizeRoleARN(%q) = %q, want %q", tt.arn, got, tt.want)
			}
		})
	}
}
