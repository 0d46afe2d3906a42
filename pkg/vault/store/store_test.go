//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lockboxhq/lockbox/pkg/vault/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	store, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

func testBox(name string) *models.SafeDepositBox {
	return &models.SafeDepositBox{
		CategoryID: "cat-1",
		Name:       name,
		Owner:      "owners",
		CreatedBy:  "tester",
		UserGroupGrants: []models.UserGroupGrant{
			{GroupName: "devs", RoleLevel: string(models.RoleRead)},
		},
		IamPrincipalGrants: []models.IamPrincipalGrant{
			{PrincipalARN: "arn:aws:iam::123:role/app", RoleLevel: string(models.RoleWrite)},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		_, err := New(&Config{Type: "oracle"})
		if err == nil {
			t.Fatal("expected error for unsupported database type")
		}
	})
}

func TestBoxCRUD(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	t.Run("create assigns id and path", func(t *testing.T) {
		id, err := s.CreateBox(ctx, testBox("app secrets"))
		if err != nil {
			t.Fatalf("CreateBox: %v", err)
		}
		box, err := s.GetBox(ctx, id)
		if err != nil {
			t.Fatalf("GetBox: %v", err)
		}
		if box.Path != "app-secrets/" {
			t.Errorf("expected derived path, got %q", box.Path)
		}
		if len(box.UserGroupGrants) != 1 || len(box.IamPrincipalGrants) != 1 {
			t.Errorf("grants not persisted: %+v", box)
		}
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		if _, err := s.CreateBox(ctx, testBox("app secrets")); !errors.Is(err, models.ErrDuplicateBox) {
			t.Errorf("expected ErrDuplicateBox, got %v", err)
		}
	})

	t.Run("get missing box", func(t *testing.T) {
		if _, err := s.GetBox(ctx, "nope"); !errors.Is(err, models.ErrBoxNotFound) {
			t.Errorf("expected ErrBoxNotFound, got %v", err)
		}
	})

	t.Run("update replaces grants, preserves immutables", func(t *testing.T) {
		id, err := s.CreateBox(ctx, testBox("update target"))
		if err != nil {
			t.Fatalf("CreateBox: %v", err)
		}
		orig, _ := s.GetBox(ctx, id)

		updated := &models.SafeDepositBox{
			ID:          id,
			Description: "new description",
			Owner:       "new-owners",
			UpdatedBy:   "updater",
			IamPrincipalGrants: []models.IamPrincipalGrant{
				{PrincipalARN: "arn:aws:iam::123:role/other", RoleLevel: string(models.RoleRead)},
			},
		}
		if err := s.UpdateBox(ctx, updated); err != nil {
			t.Fatalf("UpdateBox: %v", err)
		}

		got, err := s.GetBox(ctx, id)
		if err != nil {
			t.Fatalf("GetBox: %v", err)
		}
		if got.Name != orig.Name || got.Path != orig.Path || got.CreatedBy != orig.CreatedBy {
			t.Errorf("immutable fields changed: %+v", got)
		}
		if got.Owner != "new-owners" || got.Description != "new description" {
			t.Errorf("mutable fields not updated: %+v", got)
		}
		if len(got.UserGroupGrants) != 0 || len(got.IamPrincipalGrants) != 1 {
			t.Errorf("grant sets not replaced: %+v", got)
		}
	})

	t.Run("delete cascades grants", func(t *testing.T) {
		id, err := s.CreateBox(ctx, testBox("delete target"))
		if err != nil {
			t.Fatalf("CreateBox: %v", err)
		}
		if err := s.DeleteBox(ctx, id); err != nil {
			t.Fatalf("DeleteBox: %v", err)
		}
		if _, err := s.GetBox(ctx, id); !errors.Is(err, models.ErrBoxNotFound) {
			t.Errorf("expected ErrBoxNotFound after delete, got %v", err)
		}

		var count int64
		s.DB().Model(&models.UserGroupGrant{}).Where("box_id = ?", id).Count(&count)
		if count != 0 {
			t.Errorf("expected grants to cascade, %d left", count)
		}
	})
}

func TestKeyRecordLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	boxID, err := s.CreateBox(ctx, testBox("key lifecycle"))
	if err != nil {
		t.Fatalf("CreateBox: %v", err)
	}

	recordID, err := s.CreateKeyRecord(ctx, &models.KeyRoleRecord{
		KeyID:   "key-1",
		RoleARN: "arn:aws:iam::123:role/lockbox-key-lifecycle",
		BoxID:   &boxID,
	})
	if err != nil {
		t.Fatalf("CreateKeyRecord: %v", err)
	}

	t.Run("active lookup by box", func(t *testing.T) {
		record, err := s.ActiveKeyRecordForBox(ctx, boxID)
		if err != nil {
			t.Fatalf("ActiveKeyRecordForBox: %v", err)
		}
		if record.ID != recordID || record.GetStatus() != models.KeyStatusActive {
			t.Errorf("unexpected record %+v", record)
		}
	})

	t.Run("detach clears association", func(t *testing.T) {
		n, err := s.DetachKeyRecords(ctx, boxID)
		if err != nil {
			t.Fatalf("DetachKeyRecords: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 detached record, got %d", n)
		}

		record, err := s.GetKeyRecord(ctx, recordID)
		if err != nil {
			t.Fatalf("GetKeyRecord: %v", err)
		}
		if record.BoxID != nil || record.GetStatus() != models.KeyStatusDetached {
			t.Errorf("expected detached record, got %+v", record)
		}

		if _, err := s.ActiveKeyRecordForBox(ctx, boxID); !errors.Is(err, models.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound after detach, got %v", err)
		}
	})

	t.Run("detach twice is a no-op", func(t *testing.T) {
		n, err := s.DetachKeyRecords(ctx, boxID)
		if err != nil {
			t.Fatalf("DetachKeyRecords: %v", err)
		}
		if n != 0 {
			t.Errorf("expected 0 rows on second detach, got %d", n)
		}
	})

	t.Run("detached-before query respects cutoff", func(t *testing.T) {
		old, err := s.DetachedKeyRecordsBefore(ctx, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("DetachedKeyRecordsBefore: %v", err)
		}
		if len(old) != 1 {
			t.Errorf("expected 1 record before future cutoff, got %d", len(old))
		}

		none, err := s.DetachedKeyRecordsBefore(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("DetachedKeyRecordsBefore: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected 0 records before past cutoff, got %d", len(none))
		}
	})

	t.Run("transitions enforce the state machine", func(t *testing.T) {
		if err := s.TransitionKeyRecord(ctx, recordID, models.KeyStatusDeleted); err == nil {
			t.Error("DETACHED -> DELETED must be rejected")
		}
		if err := s.TransitionKeyRecord(ctx, recordID, models.KeyStatusPendingDeletion); err != nil {
			t.Fatalf("DETACHED -> PENDING_DELETION: %v", err)
		}
		// Self-transition is an idempotent no-op.
		if err := s.TransitionKeyRecord(ctx, recordID, models.KeyStatusPendingDeletion); err != nil {
			t.Errorf("self-transition should succeed: %v", err)
		}
	})

	t.Run("delete record", func(t *testing.T) {
		if err := s.DeleteKeyRecord(ctx, recordID); err != nil {
			t.Fatalf("DeleteKeyRecord: %v", err)
		}
		if err := s.DeleteKeyRecord(ctx, recordID); !errors.Is(err, models.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})
}

func TestActiveKeyRecordForPrincipal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateKeyRecord(ctx, &models.KeyRoleRecord{
		KeyID:        "key-p",
		RoleARN:      "arn:aws:iam::123:role/app",
		PrincipalARN: "arn:aws:iam::123:role/App",
	})
	if err != nil {
		t.Fatalf("CreateKeyRecord: %v", err)
	}

	record, err := s.ActiveKeyRecordForPrincipal(ctx, "arn:aws:iam::123:role/APP")
	if err != nil {
		t.Fatalf("case-insensitive lookup failed: %v", err)
	}
	if record.KeyID != "key-p" {
		t.Errorf("unexpected record %+v", record)
	}
}
