package models

import (
	"testing"
	"time"
)

func TestRoleLevel_Level(t *testing.T) {
	tests := []struct {
		role  RoleLevel
		level int
	}{
		{RoleRead, 1},
		{RoleWrite, 2},
		{RoleOwner, 3},
		{"unknown", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Level(); got != tt.level {
				t.Errorf("Level() = %d, want %d", got, tt.level)
			}
		})
	}
}

func TestRoleLevel_IsValid(t *testing.T) {
	tests := []struct {
		role  RoleLevel
		valid bool
	}{
		{RoleRead, true},
		{RoleWrite, true},
		{RoleOwner, true},
		{"READ", false}, // case sensitive
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestMaxRoleLevel(t *testing.T) {
	tests := []struct {
		a, b, expected RoleLevel
	}{
		{RoleRead, RoleWrite, RoleWrite},
		{RoleWrite, RoleRead, RoleWrite},
		{RoleOwner, RoleRead, RoleOwner},
		{RoleRead, RoleRead, RoleRead},
	}

	for _, tt := range tests {
		t.Run(string(tt.a)+"_"+string(tt.b), func(t *testing.T) {
			if got := MaxRoleLevel(tt.a, tt.b); got != tt.expected {
				t.Errorf("MaxRoleLevel(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestDerivePath(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"app secrets", "app-secrets/"},
		{"App Secrets", "app-secrets/"},
		{"  padded  name ", "padded-name/"},
		{"single", "single/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DerivePath(tt.name); got != tt.expected {
				t.Errorf("DerivePath(%q) = %q, want %q", tt.name, got, tt.expected)
			}
		})
	}
}

func TestSafeDepositBox_GrantForPrincipal(t *testing.T) {
	box := &SafeDepositBox{
		IamPrincipalGrants: []IamPrincipalGrant{
			{PrincipalARN: "arn:aws:iam::123:role/App", RoleLevel: string(RoleWrite)},
		},
	}

	t.Run("case-insensitive match", func(t *testing.T) {
		level, ok := box.GrantForPrincipal("arn:aws:iam::123:role/APP")
		if !ok {
			t.Fatal("expected grant to match case-insensitively")
		}
		if level != RoleWrite {
			t.Errorf("expected %q, got %q", RoleWrite, level)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if _, ok := box.GrantForPrincipal("arn:aws:iam::123:role/Other"); ok {
			t.Error("expected no grant")
		}
	})
}

func TestKeyRecordStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to KeyRecordStatus
		allowed  bool
	}{
		{KeyStatusActive, KeyStatusDetached, true},
		{KeyStatusDetached, KeyStatusPendingDeletion, true},
		{KeyStatusPendingDeletion, KeyStatusDeleted, true},
		{KeyStatusActive, KeyStatusActive, true}, // retries are idempotent
		{KeyStatusActive, KeyStatusPendingDeletion, false},
		{KeyStatusDetached, KeyStatusActive, false},
		{KeyStatusDeleted, KeyStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.allowed)
			}
		})
	}
}

func TestKeyRoleRecord_IsDetachedBefore(t *testing.T) {
	cutoff := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	boxID := "box-1"

	tests := []struct {
		name     string
		record   KeyRoleRecord
		expected bool
	}{
		{
			"detached and old",
			KeyRoleRecord{BoxID: nil, LastTransitionAt: cutoff.Add(-time.Hour)},
			true,
		},
		{
			"detached but recent",
			KeyRoleRecord{BoxID: nil, LastTransitionAt: cutoff.Add(time.Hour)},
			false,
		},
		{
			"still attached",
			KeyRoleRecord{BoxID: &boxID, LastTransitionAt: cutoff.Add(-time.Hour)},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.IsDetachedBefore(cutoff); got != tt.expected {
				t.Errorf("IsDetachedBefore = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSafeDepositBox_Equal(t *testing.T) {
	now := time.Now()
	base := func() *SafeDepositBox {
		return &SafeDepositBox{
			ID:         "id-1",
			CategoryID: "cat-1",
			Name:       "box",
			Owner:      "owners",
			Path:       "box/",
			CreatedAt:  now,
			UpdatedAt:  now,
			UserGroupGrants: []UserGroupGrant{
				{ID: "g1", BoxID: "id-1", GroupName: "devs", RoleLevel: string(RoleRead)},
			},
		}
	}

	t.Run("identical boxes are equal", func(t *testing.T) {
		if !base().Equal(base()) {
			t.Error("expected equal")
		}
	})

	t.Run("differing grant breaks equality", func(t *testing.T) {
		b := base()
		b.UserGroupGrants[0].RoleLevel = string(RoleWrite)
		if base().Equal(b) {
			t.Error("expected not equal")
		}
	})

	t.Run("nil handling", func(t *testing.T) {
		var nilBox *SafeDepositBox
		if nilBox.Equal(base()) {
			t.Error("nil vs non-nil must not be equal")
		}
		if !nilBox.Equal(nil) {
			t.Error("nil vs nil must be equal")
		}
	})
}

func TestMigrateLegacyBox(t *testing.T) {
	t.Run("promotes owner-level group grant", func(t *testing.T) {
		b := &SafeDepositBox{
			UserGroupGrants: []UserGroupGrant{
				{GroupName: "devs", RoleLevel: string(RoleRead)},
				{GroupName: "admins", RoleLevel: string(RoleOwner)},
			},
		}
		MigrateLegacyBox(b)
		if b.Owner != "admins" {
			t.Errorf("expected owner admins, got %q", b.Owner)
		}
		if len(b.UserGroupGrants) != 1 || b.UserGroupGrants[0].GroupName != "devs" {
			t.Errorf("owner grant should be removed, got %v", b.UserGroupGrants)
		}
	})

	t.Run("no-op for current rows", func(t *testing.T) {
		b := &SafeDepositBox{
			Owner: "admins",
			UserGroupGrants: []UserGroupGrant{
				{GroupName: "devs", RoleLevel: string(RoleOwner)},
			},
		}
		MigrateLegacyBox(b)
		if b.Owner != "admins" || len(b.UserGroupGrants) != 1 {
			t.Errorf("migration must not touch current rows: %+v", b)
		}
	})
}
