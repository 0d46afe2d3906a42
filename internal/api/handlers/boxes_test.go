package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lockboxhq/lockbox/internal/api/auth"
	"github.com/lockboxhq/lockbox/internal/api/middleware"
	"github.com/lockboxhq/lockbox/pkg/vault/lifecycle"
	"github.com/lockboxhq/lockbox/pkg/vault/models"
	"github.com/lockboxhq/lockbox/pkg/vault/vaulttest"
)

type boxFixture struct {
	store    *vaulttest.FakeStore
	kms      *vaulttest.FakeKMS
	identity *vaulttest.FakeIdentity
	router   chi.Router
}

func newBoxFixture(t *testing.T) *boxFixture {
	t.Helper()

	fs := vaulttest.NewFakeStore()
	fk := vaulttest.NewFakeKMS()
	fi := vaulttest.NewFakeIdentity()
	lm := lifecycle.New(fs, fk, fi, lifecycle.Config{})
	h := NewBoxHandler(fs, lm, nil)

	r := chi.NewRouter()
	r.Post("/v2/safe-deposit-box", h.Create)
	r.Get("/v2/safe-deposit-box", h.List)
	r.Get("/v2/safe-deposit-box/{id}", h.Get)
	r.Put("/v2/safe-deposit-box/{id}", h.Update)
	r.Delete("/v2/safe-deposit-box/{id}", h.Delete)

	return &boxFixture{store: fs, kms: fk, identity: fi, router: r}
}

func asUser(groups ...string) *auth.Claims {
	return &auth.Claims{Username: "alice", Role: "user", Groups: groups}
}

func asAdmin() *auth.Claims {
	return &auth.Claims{Username: "root", Role: "admin"}
}

func (f *boxFixture) do(t *testing.T, claims *auth.Claims, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if claims != nil {
		req = req.WithContext(middleware.WithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func validBoxBody() map[string]any {
	return map[string]any{
		"category_id": "cat-1",
		"name":        "App Secrets",
		"owner":       "app-team",
		"user_group_grants": []map[string]string{
			{"group_name": "qa-team", "role_level": "read"},
		},
	}
}

func (f *boxFixture) createBox(t *testing.T, claims *auth.Claims, body map[string]any) *models.SafeDepositBox {
	t.Helper()

	rec := f.do(t, claims, http.MethodPost, "/v2/safe-deposit-box", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var box models.SafeDepositBox
	if err := json.Unmarshal(rec.Body.Bytes(), &box); err != nil {
		t.Fatalf("decode created box: %v", err)
	}
	return &box
}

func TestBoxCreate(t *testing.T) {
	f := newBoxFixture(t)

	rec := f.do(t, asUser("app-team"), http.MethodPost, "/v2/safe-deposit-box", validBoxBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RefreshTokenHeader) != "true" {
		t.Error("expected token refresh header on create")
	}

	var box models.SafeDepositBox
	if err := json.Unmarshal(rec.Body.Bytes(), &box); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if box.ID == "" {
		t.Fatal("created box has no ID")
	}
	if want := "/v2/safe-deposit-box/" + box.ID; rec.Header().Get("Location") != want {
		t.Errorf("Location = %q, want %q", rec.Header().Get("Location"), want)
	}
	if box.Path != "app-secrets/" {
		t.Errorf("Path = %q, want %q", box.Path, "app-secrets/")
	}
	if box.CreatedBy != "alice" || box.UpdatedBy != "alice" {
		t.Errorf("CreatedBy/UpdatedBy = %q/%q, want alice", box.CreatedBy, box.UpdatedBy)
	}

	// Provisioning ran: one key record, one role, one key.
	record, err := f.store.ActiveKeyRecordForBox(context.Background(), box.ID)
	if err != nil {
		t.Fatalf("ActiveKeyRecordForBox: %v", err)
	}
	if record.GetStatus() != models.KeyStatusActive {
		t.Errorf("record status = %s, want ACTIVE", record.GetStatus())
	}
	if f.identity.RoleCount() != 1 {
		t.Errorf("role count = %d, want 1", f.identity.RoleCount())
	}
}

func TestBoxCreateValidationFailure(t *testing.T) {
	f := newBoxFixture(t)

	body := validBoxBody()
	body["name"] = ""
	body["owner"] = ""

	rec := f.do(t, asUser("app-team"), http.MethodPost, "/v2/safe-deposit-box", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var problem Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if len(problem.Violations) < 2 {
		t.Errorf("violations = %d, want at least 2 (name, owner)", len(problem.Violations))
	}
	if f.store.RecordCount() != 0 {
		t.Error("invalid box must not provision key records")
	}
}

func TestBoxCreateDuplicateName(t *testing.T) {
	f := newBoxFixture(t)

	f.createBox(t, asUser("app-team"), validBoxBody())

	rec := f.do(t, asUser("app-team"), http.MethodPost, "/v2/safe-deposit-box", validBoxBody())
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}
}

func TestBoxCreateRollsBackOnProvisionFailure(t *testing.T) {
	f := newBoxFixture(t)
	f.kms.FailCreate = true

	rec := f.do(t, asUser("app-team"), http.MethodPost, "/v2/safe-deposit-box", validBoxBody())
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body %s", rec.Code, rec.Body.String())
	}

	boxes, err := f.store.ListBoxes(context.Background())
	if err != nil {
		t.Fatalf("ListBoxes: %v", err)
	}
	if len(boxes) != 0 {
		t.Errorf("boxes left after rollback = %d, want 0", len(boxes))
	}
	if f.identity.RoleCount() != 0 {
		t.Errorf("roles left after rollback = %d, want 0", f.identity.RoleCount())
	}
}

func TestBoxGetAccessControl(t *testing.T) {
	f := newBoxFixture(t)
	box := f.createBox(t, asUser("app-team"), validBoxBody())

	tests := []struct {
		name   string
		claims *auth.Claims
		want   int
	}{
		{"owner", asUser("app-team"), http.StatusOK},
		{"granted group", asUser("qa-team"), http.StatusOK},
		{"admin", asAdmin(), http.StatusOK},
		{"stranger", asUser("other-team"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.claims, http.MethodGet, "/v2/safe-deposit-box/"+box.ID, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec := f.do(t, asUser("app-team"), http.MethodGet, "/v2/safe-deposit-box/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing box status = %d, want 404", rec.Code)
	}
}

func TestBoxListFiltersByAccess(t *testing.T) {
	f := newBoxFixture(t)

	f.createBox(t, asUser("app-team"), validBoxBody())
	other := validBoxBody()
	other["name"] = "Team B Secrets"
	other["owner"] = "team-b"
	other["user_group_grants"] = nil
	f.createBox(t, asUser("team-b"), other)

	rec := f.do(t, asUser("app-team"), http.MethodGet, "/v2/safe-deposit-box", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var visible []*models.SafeDepositBox
	if err := json.Unmarshal(rec.Body.Bytes(), &visible); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(visible) != 1 || visible[0].Name != "App Secrets" {
		t.Errorf("visible boxes = %d, want only App Secrets", len(visible))
	}

	rec = f.do(t, asAdmin(), http.MethodGet, "/v2/safe-deposit-box", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &visible); err != nil {
		t.Fatalf("decode admin list: %v", err)
	}
	if len(visible) != 2 {
		t.Errorf("admin sees %d boxes, want 2", len(visible))
	}
}

func TestBoxUpdate(t *testing.T) {
	f := newBoxFixture(t)
	box := f.createBox(t, asUser("app-team"), validBoxBody())

	update := validBoxBody()
	update["name"] = "Renamed"
	update["description"] = "rotated grants"
	update["user_group_grants"] = []map[string]string{
		{"group_name": "ops-team", "role_level": "write"},
	}

	rec := f.do(t, asUser("qa-team"), http.MethodPut, "/v2/safe-deposit-box/"+box.ID, update)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner update status = %d, want 403", rec.Code)
	}

	rec = f.do(t, asUser("app-team"), http.MethodPut, "/v2/safe-deposit-box/"+box.ID, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RefreshTokenHeader) != "true" {
		t.Error("expected token refresh header on update")
	}

	var updated models.SafeDepositBox
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if updated.Name != box.Name || updated.Path != box.Path {
		t.Errorf("name/path changed to %q/%q, must stay immutable", updated.Name, updated.Path)
	}
	if updated.Description != "rotated grants" {
		t.Errorf("Description = %q, want updated value", updated.Description)
	}
	if len(updated.UserGroupGrants) != 1 || updated.UserGroupGrants[0].GroupName != "ops-team" {
		t.Errorf("grants not replaced: %+v", updated.UserGroupGrants)
	}
}

func TestBoxDelete(t *testing.T) {
	f := newBoxFixture(t)
	box := f.createBox(t, asUser("app-team"), validBoxBody())

	rec := f.do(t, asUser("qa-team"), http.MethodDelete, "/v2/safe-deposit-box/"+box.ID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete status = %d, want 403", rec.Code)
	}

	rec = f.do(t, asUser("app-team"), http.MethodDelete, "/v2/safe-deposit-box/"+box.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RefreshTokenHeader) != "true" {
		t.Error("expected token refresh header on delete")
	}

	if _, err := f.store.GetBox(context.Background(), box.ID); err == nil {
		t.Error("box still present after delete")
	}

	// Key records are detached, not destroyed; the sweeper reclaims them.
	detached, err := f.store.DetachedKeyRecords(context.Background())
	if err != nil {
		t.Fatalf("DetachedKeyRecords: %v", err)
	}
	if len(detached) != 1 {
		t.Fatalf("detached records = %d, want 1", len(detached))
	}
	if f.identity.RoleCount() != 1 {
		t.Errorf("role deleted on box delete, must wait for sweeper")
	}
}

func TestBoxHandlersRequireClaims(t *testing.T) {
	f := newBoxFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v2/safe-deposit-box"},
		{http.MethodGet, "/v2/safe-deposit-box"},
		{http.MethodGet, "/v2/safe-deposit-box/some-id"},
		{http.MethodDelete, "/v2/safe-deposit-box/some-id"},
	} {
		rec := f.do(t, nil, tc.method, tc.path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without claims = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func TestBoxCreateRejectsMalformedBody(t *testing.T) {
	f := newBoxFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v2/safe-deposit-box",
		strings.NewReader("{not json"))
	req = req.WithContext(middleware.WithClaims(req.Context(), asUser("app-team")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
