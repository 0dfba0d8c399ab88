package database

import (
	"context"
	"fmt"

	"github.com/chxlky/taskboard/internal/models"
	"gorm.io/gorm"
)

func (s *Store) CreateList(ctx context.Context, list *models.List) error {
	if err := s.db.WithContext(ctx).Create(list).Error; err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	return nil
}

// ListLists returns the lists of a board in display order.
func (s *Store) ListLists(ctx context.Context, boardID string) ([]models.List, error) {
	var lists []models.List
	err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("created_at, id").
		Find(&lists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	return lists, nil
}

func (s *Store) GetList(ctx context.Context, id string) (*models.List, error) {
	var list models.List
	if err := s.db.WithContext(ctx).First(&list, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "list", id)
	}
	return &list, nil
}

func (s *Store) RenameList(ctx context.Context, id, name string) error {
	res := s.db.WithContext(ctx).Model(&models.List{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return fmt.Errorf("failed to rename list: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("list %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteList removes the list and every task in it.
func (s *Store) DeleteList(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("list_id = ?", id).Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("failed to delete list tasks: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.List{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete list: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("list %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
