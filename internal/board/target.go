package board

import (
	"context"
	"fmt"
	"strings"

	"github.com/chxlky/taskboard/internal/models"
)

// TargetKind tells whether a task was dropped onto a list or onto another task.
type TargetKind int

const (
	TargetList TargetKind = iota + 1
	TargetTask
)

func (k TargetKind) String() string {
	switch k {
	case TargetList:
		return "list"
	case TargetTask:
		return "task"
	default:
		return "unknown"
	}
}

func ParseTargetKind(s string) (TargetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "list":
		return TargetList, nil
	case "task":
		return TargetTask, nil
	default:
		return 0, fmt.Errorf("unknown drop target kind %q", s)
	}
}

// Target is the drop target of a drag gesture.
type Target struct {
	ID   string
	Kind TargetKind
}

// FailurePolicy decides what happens to the optimistic state when a move
// cannot be persisted.
type FailurePolicy int

const (
	// RollbackOnFailure restores the placement the task had before the drag.
	RollbackOnFailure FailurePolicy = iota
	// KeepOnFailure leaves the optimistic placement in memory until the next reload.
	KeepOnFailure
)

func (p FailurePolicy) String() string {
	if p == KeepOnFailure {
		return "keep"
	}
	return "rollback"
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rollback":
		return RollbackOnFailure, nil
	case "keep":
		return KeepOnFailure, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

// DropMode selects which drop targets the engine honours.
type DropMode int

const (
	// DropReorder accepts drops onto lists and onto tasks.
	DropReorder DropMode = iota
	// DropListOnly accepts drops onto lists only; drops onto tasks are ignored.
	DropListOnly
)

func (m DropMode) String() string {
	if m == DropListOnly {
		return "list-only"
	}
	return "reorder"
}

func ParseDropMode(s string) (DropMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reorder":
		return DropReorder, nil
	case "list-only", "list_only":
		return DropListOnly, nil
	default:
		return 0, fmt.Errorf("unknown drop mode %q", s)
	}
}

// Persister writes task placements to durable storage. MoveTasks applies
// every placement or none of them.
type Persister interface {
	MoveTasks(ctx context.Context, placements []models.Placement) error
}

const (
	NotificationMovePersisted  = "move_persisted"
	NotificationMoveRolledBack = "move_rolled_back"
	NotificationMoveDiverged   = "move_diverged"
)

// Notification is the user-facing outcome of a settled move.
type Notification struct {
	Kind    string `json:"kind"`
	Level   string `json:"level"`
	BoardID string `json:"board_id"`
	TaskID  string `json:"task_id"`
	ListID  string `json:"list_id"`
	Message string `json:"message"`
}

// Notifier delivers notifications to whoever is looking at the board.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
