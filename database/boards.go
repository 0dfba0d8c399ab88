package database

import (
	"context"
	"fmt"

	"github.com/chxlky/taskboard/internal/models"
	"gorm.io/gorm"
)

func (s *Store) CreateBoard(ctx context.Context, board *models.Board) error {
	if err := s.db.WithContext(ctx).Create(board).Error; err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}
	return nil
}

// ListBoards returns the boards owned by userID, oldest first.
func (s *Store) ListBoards(ctx context.Context, userID string) ([]models.Board, error) {
	var boards []models.Board
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at, id").
		Find(&boards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	return boards, nil
}

func (s *Store) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	var board models.Board
	if err := s.db.WithContext(ctx).First(&board, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "board", id)
	}
	return &board, nil
}

func (s *Store) RenameBoard(ctx context.Context, id, title string) error {
	res := s.db.WithContext(ctx).Model(&models.Board{}).Where("id = ?", id).Update("title", title)
	if res.Error != nil {
		return fmt.Errorf("failed to rename board: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteBoard removes the board together with its lists and their tasks.
func (s *Store) DeleteBoard(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var listIDs []string
		if err := tx.Model(&models.List{}).Where("board_id = ?", id).Pluck("id", &listIDs).Error; err != nil {
			return fmt.Errorf("failed to read board lists: %w", err)
		}
		if len(listIDs) > 0 {
			if err := tx.Where("list_id IN ?", listIDs).Delete(&models.Task{}).Error; err != nil {
				return fmt.Errorf("failed to delete board tasks: %w", err)
			}
		}
		if err := tx.Where("board_id = ?", id).Delete(&models.List{}).Error; err != nil {
			return fmt.Errorf("failed to delete board lists: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Board{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete board: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("board %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ImportBoard stores a complete board in one transaction. Lists and tasks
// must carry their IDs so tasks can reference their lists.
func (s *Store) ImportBoard(ctx context.Context, board *models.Board, lists []models.List, tasks []models.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(board).Error; err != nil {
			return fmt.Errorf("failed to create board: %w", err)
		}
		for i := range lists {
			lists[i].BoardID = board.ID
			if err := tx.Create(&lists[i]).Error; err != nil {
				return fmt.Errorf("failed to create list %q: %w", lists[i].Name, err)
			}
		}
		if len(tasks) > 0 {
			if err := tx.CreateInBatches(&tasks, 100).Error; err != nil {
				return fmt.Errorf("failed to create tasks: %w", err)
			}
		}
		return nil
	})
}
