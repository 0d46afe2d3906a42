package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lockboxhq/lockbox/pkg/vault/models"
)

// ============================================
// SAFE DEPOSIT BOX OPERATIONS
// ============================================

func (s *GORMStore) GetBox(ctx context.Context, id string) (*models.SafeDepositBox, error) {
	var box models.SafeDepositBox
	err := s.db.WithContext(ctx).
		Preload("UserGroupGrants").
		Preload("IamPrincipalGrants").
		Where("id = ?", id).
		First(&box).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrBoxNotFound)
	}
	models.MigrateLegacyBox(&box)
	return &box, nil
}

func (s *GORMStore) ListBoxes(ctx context.Context) ([]*models.SafeDepositBox, error) {
	var boxes []*models.SafeDepositBox
	if err := s.db.WithContext(ctx).
		Preload("UserGroupGrants").
		Preload("IamPrincipalGrants").
		Find(&boxes).Error; err != nil {
		return nil, err
	}
	for _, box := range boxes {
		models.MigrateLegacyBox(box)
	}
	return boxes, nil
}

func (s *GORMStore) CreateBox(ctx context.Context, box *models.SafeDepositBox) (string, error) {
	if box.ID == "" {
		box.ID = uuid.New().String()
	}
	if box.Path == "" {
		box.Path = models.DerivePath(box.Name)
	}
	now := time.Now()
	box.CreatedAt = now
	box.UpdatedAt = now

	for i := range box.UserGroupGrants {
		if box.UserGroupGrants[i].ID == "" {
			box.UserGroupGrants[i].ID = uuid.New().String()
		}
		box.UserGroupGrants[i].BoxID = box.ID
	}
	for i := range box.IamPrincipalGrants {
		if box.IamPrincipalGrants[i].ID == "" {
			box.IamPrincipalGrants[i].ID = uuid.New().String()
		}
		box.IamPrincipalGrants[i].BoxID = box.ID
	}

	if err := s.db.WithContext(ctx).Create(box).Error; err != nil {
		if isUniqueConstraintError(err) {
			return "", models.ErrDuplicateBox
		}
		return "", err
	}
	return box.ID, nil
}

// UpdateBox updates the mutable fields of a box and replaces both grant
// sets transactionally. ID, name, path, category, created-by, and
// created-at are never touched.
func (s *GORMStore) UpdateBox(ctx context.Context, box *models.SafeDepositBox) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SafeDepositBox
		if err := tx.Where("id = ?", box.ID).First(&existing).Error; err != nil {
			return convertNotFoundError(err, models.ErrBoxNotFound)
		}

		result := tx.Model(&models.SafeDepositBox{}).
			Where("id = ?", box.ID).
			Updates(map[string]any{
				"description": box.Description,
				"owner":       box.Owner,
				"updated_by":  box.UpdatedBy,
				"updated_at":  time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}

		if err := tx.Where("box_id = ?", box.ID).Delete(&models.UserGroupGrant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("box_id = ?", box.ID).Delete(&models.IamPrincipalGrant{}).Error; err != nil {
			return err
		}

		for i := range box.UserGroupGrants {
			g := box.UserGroupGrants[i]
			if g.ID == "" {
				g.ID = uuid.New().String()
			}
			g.BoxID = box.ID
			if err := tx.Create(&g).Error; err != nil {
				return err
			}
		}
		for i := range box.IamPrincipalGrants {
			g := box.IamPrincipalGrants[i]
			if g.ID == "" {
				g.ID = uuid.New().String()
			}
			g.BoxID = box.ID
			if err := tx.Create(&g).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *GORMStore) DeleteBox(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var box models.SafeDepositBox
		if err := tx.Where("id = ?", id).First(&box).Error; err != nil {
			return convertNotFoundError(err, models.ErrBoxNotFound)
		}

		if err := tx.Where("box_id = ?", box.ID).Delete(&models.UserGroupGrant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("box_id = ?", box.ID).Delete(&models.IamPrincipalGrant{}).Error; err != nil {
			return err
		}

		return tx.Delete(&box).Error
	})
}
