package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lockboxhq/lockbox/internal/api/auth"
	"github.com/lockboxhq/lockbox/internal/api/middleware"
	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/metrics"
	"github.com/lockboxhq/lockbox/pkg/vault/lifecycle"
	"github.com/lockboxhq/lockbox/pkg/vault/models"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
)

// BoxHandler handles safe deposit box management requests.
type BoxHandler struct {
	store     store.Store
	lifecycle *lifecycle.Manager
	metrics   metrics.BoxMetrics
}

// NewBoxHandler creates a box handler. metrics may be nil.
func NewBoxHandler(s store.Store, lm *lifecycle.Manager, m metrics.BoxMetrics) *BoxHandler {
	return &BoxHandler{store: s, lifecycle: lm, metrics: m}
}

func (h *BoxHandler) record(op, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordBoxOperation(op, outcome)
	}
}

// boxRequest is the write shape for create and update.
type boxRequest struct {
	CategoryID         string                     `json:"category_id"`
	Name               string                     `json:"name"`
	Description        string                     `json:"description"`
	Owner              string                     `json:"owner"`
	UserGroupGrants    []models.UserGroupGrant    `json:"user_group_grants"`
	IamPrincipalGrants []models.IamPrincipalGrant `json:"iam_principal_grants"`
}

func (req *boxRequest) toModel() *models.SafeDepositBox {
	return &models.SafeDepositBox{
		CategoryID:         req.CategoryID,
		Name:               req.Name,
		Description:        req.Description,
		Owner:              req.Owner,
		UserGroupGrants:    req.UserGroupGrants,
		IamPrincipalGrants: req.IamPrincipalGrants,
	}
}

// Create handles POST /v2/safe-deposit-box.
//
// Success answers 201 with the box body, a Location header, and the token
// refresh marker. Validation failures answer 400 with the violation list.
func (h *BoxHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	var req boxRequest
	if !decodeJSONBody(w, r, &req) {
		h.record("create", "error")
		return
	}

	box := req.toModel()
	if violations := box.ValidateForCreate(); len(violations) > 0 {
		h.record("create", "error")
		WriteValidationProblem(w, violations)
		return
	}

	box.CreatedBy = claims.Username
	box.UpdatedBy = claims.Username

	id, err := h.store.CreateBox(r.Context(), box)
	if err != nil {
		h.record("create", "error")
		if errors.Is(err, models.ErrDuplicateBox) {
			Conflict(w, fmt.Sprintf("A box named %q already exists", box.Name))
			return
		}
		logger.ErrorCtx(r.Context(), "box create failed", "error", err)
		InternalServerError(w, "Failed to create box")
		return
	}

	if _, err := h.lifecycle.Provision(r.Context(), id); err != nil {
		// The box is unusable without its key pair. Roll it back so the
		// caller can retry cleanly.
		if delErr := h.store.DeleteBox(r.Context(), id); delErr != nil {
			logger.ErrorCtx(r.Context(), "box rollback failed after provision error",
				"box_id", id, "error", delErr)
		}
		h.record("create", "error")
		logger.ErrorCtx(r.Context(), "key provisioning failed", "box_id", id, "error", err)
		BadGateway(w, "Key provisioning failed; the box was not created")
		return
	}

	created, err := h.store.GetBox(r.Context(), id)
	if err != nil {
		h.record("create", "error")
		InternalServerError(w, "Failed to load created box")
		return
	}

	h.record("create", "success")
	logger.InfoCtx(r.Context(), "box created",
		"box_id", id, "name", created.Name, "created_by", claims.Username)

	markTokenRefresh(w)
	w.Header().Set("Location", "/v2/safe-deposit-box/"+id)
	WriteJSON(w, http.StatusCreated, created)
}

// Get handles GET /v2/safe-deposit-box/{id}.
//
// Admins see every box; other callers must own the box or hold a group
// grant on it.
func (h *BoxHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	box, err := h.store.GetBox(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrBoxNotFound) {
			NotFound(w, "Box not found")
			return
		}
		InternalServerError(w, "Failed to load box")
		return
	}

	if !callerCanAccess(claims, box) {
		Forbidden(w, "No grant on this box")
		return
	}

	WriteJSONOK(w, box)
}

// List handles GET /v2/safe-deposit-box, returning the boxes the caller
// can access.
func (h *BoxHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	boxes, err := h.store.ListBoxes(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list boxes")
		return
	}

	visible := make([]*models.SafeDepositBox, 0, len(boxes))
	for _, box := range boxes {
		if callerCanAccess(claims, box) {
			visible = append(visible, box)
		}
	}
	WriteJSONOK(w, visible)
}

// Update handles PUT /v2/safe-deposit-box/{id}.
//
// ID, category, name, and path are immutable; description, owner, and both
// grant sets are replaced. Only the owner or an admin may update.
func (h *BoxHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	box, err := h.store.GetBox(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrBoxNotFound) {
			NotFound(w, "Box not found")
			return
		}
		InternalServerError(w, "Failed to load box")
		return
	}

	if !callerIsOwner(claims, box) {
		h.record("update", "error")
		Forbidden(w, "Only the owner may update this box")
		return
	}

	var req boxRequest
	if !decodeJSONBody(w, r, &req) {
		h.record("update", "error")
		return
	}

	updated := req.toModel()
	updated.ID = box.ID
	if violations := updated.ValidateForUpdate(); len(violations) > 0 {
		h.record("update", "error")
		WriteValidationProblem(w, violations)
		return
	}

	updated.UpdatedBy = claims.Username
	if err := h.store.UpdateBox(r.Context(), updated); err != nil {
		h.record("update", "error")
		logger.ErrorCtx(r.Context(), "box update failed", "box_id", box.ID, "error", err)
		InternalServerError(w, "Failed to update box")
		return
	}

	fresh, err := h.store.GetBox(r.Context(), box.ID)
	if err != nil {
		h.record("update", "error")
		InternalServerError(w, "Failed to load updated box")
		return
	}

	h.record("update", "success")
	markTokenRefresh(w)
	WriteJSONOK(w, fresh)
}

// Delete handles DELETE /v1/safe-deposit-box/{id} and the v2 alias.
//
// The box's key records are detached, never destroyed here; the sweeper
// reclaims the external resources after the grace threshold.
func (h *BoxHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	box, err := h.store.GetBox(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrBoxNotFound) {
			NotFound(w, "Box not found")
			return
		}
		InternalServerError(w, "Failed to load box")
		return
	}

	if !callerIsOwner(claims, box) {
		h.record("delete", "error")
		Forbidden(w, "Only the owner may delete this box")
		return
	}

	if err := h.lifecycle.Detach(r.Context(), box.ID); err != nil {
		h.record("delete", "error")
		logger.ErrorCtx(r.Context(), "key detach failed", "box_id", box.ID, "error", err)
		InternalServerError(w, "Failed to detach box key records")
		return
	}

	if err := h.store.DeleteBox(r.Context(), box.ID); err != nil {
		h.record("delete", "error")
		logger.ErrorCtx(r.Context(), "box delete failed", "box_id", box.ID, "error", err)
		InternalServerError(w, "Failed to delete box")
		return
	}

	h.record("delete", "success")
	logger.InfoCtx(r.Context(), "box deleted",
		"box_id", box.ID, "name", box.Name, "deleted_by", claims.Username)

	markTokenRefresh(w)
	WriteJSONOK(w, map[string]string{"id": box.ID})
}

// callerIsOwner reports whether the caller owns the box or is an admin.
func callerIsOwner(claims *auth.Claims, box *models.SafeDepositBox) bool {
	return claims.IsAdmin() || claims.HasGroup(box.Owner)
}

// callerCanAccess reports whether the caller holds any grant on the box.
func callerCanAccess(claims *auth.Claims, box *models.SafeDepositBox) bool {
	if callerIsOwner(claims, box) {
		return true
	}
	for _, grant := range box.UserGroupGrants {
		if claims.HasGroup(grant.GroupName) {
			return true
		}
	}
	return false
}
