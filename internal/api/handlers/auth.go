package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/cloud/iam"
	"github.com/lockboxhq/lockbox/pkg/metrics"
	"github.com/lockboxhq/lockbox/pkg/vault/authn"
	"github.com/lockboxhq/lockbox/pkg/vault/models"
)

// AuthHandler handles IAM principal authentication requests.
type AuthHandler struct {
	authenticator *authn.Authenticator
	metrics       metrics.AuthMetrics
}

// NewAuthHandler creates an auth handler. metrics may be nil.
func NewAuthHandler(a *authn.Authenticator, m metrics.AuthMetrics) *AuthHandler {
	return &AuthHandler{authenticator: a, metrics: m}
}

// iamPrincipalRequest is the body for POST /v2/auth/iam-principal.
type iamPrincipalRequest struct {
	IamPrincipalARN string    `json:"iam_principal_arn"`
	Region          string    `json:"region"`
	Proof           iam.Proof `json:"proof"`
}

// IamPrincipal handles POST /v2/auth/iam-principal.
//
// Unauthenticated by design: the request body carries the identity proof.
// Success answers 200 with the sealed credential; a rejected proof answers
// 401; external-service failure answers 502.
func (h *AuthHandler) IamPrincipal(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req iamPrincipalRequest
	if !decodeJSONBody(w, r, &req) {
		h.record("error", start)
		return
	}
	if req.IamPrincipalARN == "" {
		h.record("error", start)
		BadRequest(w, "iam_principal_arn is required")
		return
	}
	if req.Region == "" {
		h.record("error", start)
		BadRequest(w, "region is required")
		return
	}

	resp, err := h.authenticator.Authenticate(r.Context(), req.IamPrincipalARN, req.Region, req.Proof)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAuthentication):
			h.record("rejected", start)
			logger.WarnCtx(r.Context(), "principal authentication rejected",
				"principal", req.IamPrincipalARN)
			Unauthorized(w, "Identity proof rejected")
		case errors.Is(err, models.ErrExternalResource):
			h.record("error", start)
			logger.ErrorCtx(r.Context(), "principal authentication failed upstream",
				"principal", req.IamPrincipalARN, "error", err)
			BadGateway(w, "Identity verification is temporarily unavailable")
		default:
			h.record("error", start)
			logger.ErrorCtx(r.Context(), "principal authentication failed",
				"principal", req.IamPrincipalARN, "error", err)
			InternalServerError(w, "Authentication failed")
		}
		return
	}

	h.record("success", start)
	WriteJSONOK(w, resp)
}

func (h *AuthHandler) record(outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.RecordAuthentication(outcome, time.Since(start))
	}
}
