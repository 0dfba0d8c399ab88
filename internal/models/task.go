package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RankGap is the spacing between consecutive task positions in a list.
const RankGap = 1024.0

type Task struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	ListID    string     `gorm:"index;not null" json:"list_id"`
	Title     string     `gorm:"not null" json:"title"`
	Content   string     `json:"content"`
	Position  float64    `gorm:"not null;default:0" json:"position"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	EventID   string     `json:"-"` // Google Calendar Event ID
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Placement is where a task sits: its list and its rank within that list.
type Placement struct {
	TaskID   string  `json:"task_id"`
	ListID   string  `json:"list_id"`
	Position float64 `json:"position"`
}
