package vaulttest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockboxhq/lockbox/pkg/vault/models"
)

// FakeStore is an in-memory store.Store.
type FakeStore struct {
	mu      sync.Mutex
	boxes   map[string]*models.SafeDepositBox
	records map[string]*models.KeyRoleRecord
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		boxes:   make(map[string]*models.SafeDepositBox),
		records: make(map[string]*models.KeyRoleRecord),
	}
}

func copyBox(b *models.SafeDepositBox) *models.SafeDepositBox {
	out := *b
	out.UserGroupGrants = append([]models.UserGroupGrant(nil), b.UserGroupGrants...)
	out.IamPrincipalGrants = append([]models.IamPrincipalGrant(nil), b.IamPrincipalGrants...)
	return &out
}

func copyRecord(r *models.KeyRoleRecord) *models.KeyRoleRecord {
	out := *r
	if r.BoxID != nil {
		id := *r.BoxID
		out.BoxID = &id
	}
	return &out
}

func (s *FakeStore) GetBox(ctx context.Context, id string) (*models.SafeDepositBox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.boxes[id]
	if !ok {
		return nil, models.ErrBoxNotFound
	}
	return copyBox(box), nil
}

func (s *FakeStore) ListBoxes(ctx context.Context) ([]*models.SafeDepositBox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SafeDepositBox, 0, len(s.boxes))
	for _, box := range s.boxes {
		out = append(out, copyBox(box))
	}
	return out, nil
}

func (s *FakeStore) CreateBox(ctx context.Context, box *models.SafeDepositBox) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.boxes {
		if existing.Name == box.Name {
			return "", models.ErrDuplicateBox
		}
	}
	stored := copyBox(box)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Path == "" {
		stored.Path = models.DerivePath(stored.Name)
	}
	stored.CreatedAt = time.Now()
	s.boxes[stored.ID] = stored
	return stored.ID, nil
}

func (s *FakeStore) UpdateBox(ctx context.Context, box *models.SafeDepositBox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.boxes[box.ID]
	if !ok {
		return models.ErrBoxNotFound
	}
	existing.Description = box.Description
	existing.Owner = box.Owner
	existing.UpdatedBy = box.UpdatedBy
	existing.UpdatedAt = time.Now()
	existing.UserGroupGrants = append([]models.UserGroupGrant(nil), box.UserGroupGrants...)
	existing.IamPrincipalGrants = append([]models.IamPrincipalGrant(nil), box.IamPrincipalGrants...)
	return nil
}

func (s *FakeStore) DeleteBox(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[id]; !ok {
		return models.ErrBoxNotFound
	}
	delete(s.boxes, id)
	return nil
}

func (s *FakeStore) CreateKeyRecord(ctx context.Context, record *models.KeyRoleRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyRecord(record)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = string(models.KeyStatusActive)
	}
	if stored.LastTransitionAt.IsZero() {
		stored.LastTransitionAt = time.Now()
	}
	stored.CreatedAt = time.Now()
	s.records[stored.ID] = stored
	return stored.ID, nil
}

func (s *FakeStore) GetKeyRecord(ctx context.Context, id string) (*models.KeyRoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	return copyRecord(record), nil
}

func (s *FakeStore) ActiveKeyRecordForBox(ctx context.Context, boxID string) (*models.KeyRoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.BoxID != nil && *record.BoxID == boxID && record.GetStatus() == models.KeyStatusActive {
			return copyRecord(record), nil
		}
	}
	return nil, models.ErrRecordNotFound
}

func (s *FakeStore) ActiveKeyRecordForPrincipal(ctx context.Context, principalARN string) (*models.KeyRoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if strings.EqualFold(record.PrincipalARN, principalARN) && record.GetStatus() == models.KeyStatusActive {
			return copyRecord(record), nil
		}
	}
	return nil, models.ErrRecordNotFound
}

func (s *FakeStore) DetachKeyRecords(ctx context.Context, boxID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, record := range s.records {
		if record.BoxID != nil && *record.BoxID == boxID && record.GetStatus() == models.KeyStatusActive {
			record.BoxID = nil
			record.Status = string(models.KeyStatusDetached)
			record.LastTransitionAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) DetachedKeyRecordsBefore(ctx context.Context, cutoff time.Time) ([]*models.KeyRoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.KeyRoleRecord
	for _, record := range s.records {
		if record.GetStatus() == models.KeyStatusDetached && !record.LastTransitionAt.After(cutoff) {
			out = append(out, copyRecord(record))
		}
	}
	return out, nil
}

func (s *FakeStore) DetachedKeyRecords(ctx context.Context) ([]*models.KeyRoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.KeyRoleRecord
	for _, record := range s.records {
		switch record.GetStatus() {
		case models.KeyStatusDetached, models.KeyStatusPendingDeletion:
			out = append(out, copyRecord(record))
		}
	}
	return out, nil
}

func (s *FakeStore) KeyRecordsByStatus(ctx context.Context, status models.KeyRecordStatus) ([]*models.KeyRoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.KeyRoleRecord
	for _, record := range s.records {
		if record.GetStatus() == status {
			out = append(out, copyRecord(record))
		}
	}
	return out, nil
}

func (s *FakeStore) TransitionKeyRecord(ctx context.Context, id string, to models.KeyRecordStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return models.ErrRecordNotFound
	}
	if record.GetStatus() == to {
		return nil
	}
	if !record.GetStatus().CanTransitionTo(to) {
		return fmt.Errorf("illegal key record transition %s -> %s", record.GetStatus(), to)
	}
	record.Status = string(to)
	record.LastTransitionAt = time.Now()
	return nil
}

func (s *FakeStore) ClearKeyRecordRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return models.ErrRecordNotFound
	}
	record.RoleARN = ""
	return nil
}

func (s *FakeStore) DeleteKeyRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return models.ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

// SeedRecord inserts a record as-is, bypassing defaulting. Useful for
// backdating LastTransitionAt in sweeper tests.
func (s *FakeStore) SeedRecord(record *models.KeyRoleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyRecord(record)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	s.records[stored.ID] = stored
}

// RecordCount reports how many records the store holds.
func (s *FakeStore) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
