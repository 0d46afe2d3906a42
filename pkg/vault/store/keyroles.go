package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lockboxhq/lockbox/pkg/vault/models"
)

// ============================================
// KEY/ROLE RECORD OPERATIONS
// ============================================

func (s *GORMStore) CreateKeyRecord(ctx context.Context, record *models.KeyRoleRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Status == "" {
		record.Status = string(models.KeyStatusActive)
	}
	if record.LastTransitionAt.IsZero() {
		record.LastTransitionAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", err
	}
	return record.ID, nil
}

func (s *GORMStore) GetKeyRecord(ctx context.Context, id string) (*models.KeyRoleRecord, error) {
	var record models.KeyRoleRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrRecordNotFound)
	}
	return &record, nil
}

func (s *GORMStore) ActiveKeyRecordForBox(ctx context.Context, boxID string) (*models.KeyRoleRecord, error) {
	var record models.KeyRoleRecord
	err := s.db.WithContext(ctx).
		Where("box_id = ? AND status = ?", boxID, string(models.KeyStatusActive)).
		First(&record).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrRecordNotFound)
	}
	return &record, nil
}

// ActiveKeyRecordForPrincipal matches case-insensitively, consistent with
// the grant model's ARN comparison.
func (s *GORMStore) ActiveKeyRecordForPrincipal(ctx context.Context, principalARN string) (*models.KeyRoleRecord, error) {
	var record models.KeyRoleRecord
	err := s.db.WithContext(ctx).
		Where("LOWER(principal_arn) = LOWER(?) AND status = ?", principalARN, string(models.KeyStatusActive)).
		First(&record).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrRecordNotFound)
	}
	return &record, nil
}

// DetachKeyRecords clears the box association on every record for the box
// and marks them DETACHED. Returns the number of records detached.
// Detaching an already-detached box is a no-op.
func (s *GORMStore) DetachKeyRecords(ctx context.Context, boxID string) (int, error) {
	result := s.db.WithContext(ctx).
		Model(&models.KeyRoleRecord{}).
		Where("box_id = ?", boxID).
		Updates(map[string]any{
			"box_id":             nil,
			"status":             string(models.KeyStatusDetached),
			"last_transition_at": time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (s *GORMStore) DetachedKeyRecordsBefore(ctx context.Context, cutoff time.Time) ([]*models.KeyRoleRecord, error) {
	var records []*models.KeyRoleRecord
	err := s.db.WithContext(ctx).
		Where("box_id IS NULL AND status = ? AND last_transition_at <= ?",
			string(models.KeyStatusDetached), cutoff).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *GORMStore) DetachedKeyRecords(ctx context.Context) ([]*models.KeyRoleRecord, error) {
	var records []*models.KeyRoleRecord
	err := s.db.WithContext(ctx).
		Where("box_id IS NULL AND status IN ?", []string{
			string(models.KeyStatusDetached),
			string(models.KeyStatusPendingDeletion),
		}).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *GORMStore) KeyRecordsByStatus(ctx context.Context, status models.KeyRecordStatus) ([]*models.KeyRoleRecord, error) {
	var records []*models.KeyRoleRecord
	if err := s.db.WithContext(ctx).Where("status = ?", string(status)).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// TransitionKeyRecord moves a record to the given status, enforcing the
// state machine. Self-transitions succeed without a write so retries stay
// idempotent.
func (s *GORMStore) TransitionKeyRecord(ctx context.Context, id string, to models.KeyRecordStatus) error {
	record, err := s.GetKeyRecord(ctx, id)
	if err != nil {
		return err
	}

	from := record.GetStatus()
	if from == to {
		return nil
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal key record transition %s -> %s", from, to)
	}

	result := s.db.WithContext(ctx).
		Model(&models.KeyRoleRecord{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{
			"status":             string(to),
			"last_transition_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Lost a race with a concurrent transition; surface as not found
		// so the caller re-reads.
		return models.ErrRecordNotFound
	}
	return nil
}

// ClearKeyRecordRole blanks the record's role ARN after the external role
// has been deleted, so reclamation re-runs skip it.
func (s *GORMStore) ClearKeyRecordRole(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&models.KeyRoleRecord{}).
		Where("id = ?", id).
		Update("role_arn", "")
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

func (s *GORMStore) DeleteKeyRecord(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.KeyRoleRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}
