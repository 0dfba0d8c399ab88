package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chxlky/taskboard/internal/models"
	"gorm.io/gorm"
)

// CreateTask appends the task to the end of its list.
func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last sql.NullFloat64
		err := tx.Model(&models.Task{}).
			Select("MAX(position)").
			Where("list_id = ?", task.ListID).
			Row().
			Scan(&last)
		if err != nil {
			return fmt.Errorf("failed to read list positions: %w", err)
		}
		task.Position = models.RankGap
		if last.Valid {
			task.Position = last.Float64 + models.RankGap
		}
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	})
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "task", id)
	}
	return &task, nil
}

// ListTasksByBoard returns every task in the board's lists ordered by position.
func (s *Store) ListTasksByBoard(ctx context.Context, boardID string) ([]models.Task, error) {
	var tasks []models.Task
	lists := s.db.Model(&models.List{}).Select("id").Where("board_id = ?", boardID)
	err := s.db.WithContext(ctx).
		Where("list_id IN (?)", lists).
		Order("position, created_at, id").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// TaskPatch holds the editable task fields. Nil fields are left unchanged.
type TaskPatch struct {
	Title    *string
	Content  *string
	DueDate  *time.Time
	ClearDue bool
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*models.Task, error) {
	updates := map[string]any{}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.DueDate != nil {
		updates["due_date"] = *patch.DueDate
	} else if patch.ClearDue {
		updates["due_date"] = nil
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
	}
	return s.GetTask(ctx, id)
}

// MoveTasks writes task placements in one transaction. If any of them fails,
// including an unknown task, none is kept. Title, content and due date are
// never written here.
func (s *Store) MoveTasks(ctx context.Context, placements []models.Placement) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range placements {
			if err := moveTask(tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func moveTask(db *gorm.DB, p models.Placement) error {
	res := db.Model(&models.Task{}).
		Where("id = ?", p.TaskID).
		Updates(map[string]any{"list_id": p.ListID, "position": p.Position})
	if res.Error != nil {
		return fmt.Errorf("failed to move task %s: %w", p.TaskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", p.TaskID, ErrNotFound)
	}
	return nil
}

func (s *Store) SetTaskEventID(ctx context.Context, taskID, eventID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", taskID).
		Update("event_id", eventID).Error
	if err != nil {
		return fmt.Errorf("failed to store calendar event id: %w", err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Task{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}
