package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chxlky/taskboard/internal/models"
)

// Phase is the state of one drag gesture.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDragging
	PhaseCommitLocal
	PhasePersisting
	PhasePersisted
	PhaseRolledBack
	PhaseDiverged
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseDragging:
		return "DRAGGING"
	case PhaseCommitLocal:
		return "COMMIT_LOCAL"
	case PhasePersisting:
		return "PERSISTING"
	case PhasePersisted:
		return "PERSISTED"
	case PhaseRolledBack:
		return "ROLLED_BACK"
	case PhaseDiverged:
		return "DIVERGED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// IsSettled reports whether the persistence outcome of a move is known.
func IsSettled(p Phase) bool {
	switch p {
	case PhasePersisted, PhaseRolledBack, PhaseDiverged:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseDragging
	case PhaseDragging:
		// Back to IDLE when the gesture is cancelled or resolves to a no-op.
		return to == PhaseCommitLocal || to == PhaseIdle
	case PhaseCommitLocal:
		return to == PhasePersisting
	case PhasePersisting:
		return to == PhasePersisted || to == PhaseRolledBack || to == PhaseDiverged
	default:
		return false
	}
}

// Move tracks one drag gesture from pickup until its persistence outcome is known.
type Move struct {
	TaskID     string
	FromListID string
	ToListID   string
	Position   float64
	StartedAt  time.Time

	// task is the dragged task as captured at pickup, for overlay rendering.
	task models.Task

	placements []models.Placement
	snapshot   []models.Task
	version    uint64

	mu    sync.Mutex
	phase Phase
	err   error
	done  chan struct{}
}

func newMove(task models.Task, now time.Time) *Move {
	return &Move{
		TaskID:     task.ID,
		FromListID: task.ListID,
		StartedAt:  now,
		task:       task,
		phase:      PhaseDragging,
		done:       make(chan struct{}),
	}
}

// Task returns the dragged task as it was when the gesture started.
func (m *Move) Task() models.Task {
	return m.task
}

func (m *Move) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Err returns the persistence error of a settled move.
func (m *Move) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed once the move is settled.
func (m *Move) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the move is settled and returns its persistence error.
func (m *Move) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition validates and applies a phase change. The caller supplies the
// expected prior phase so that racing transitions surface as errors.
func (m *Move) transition(from, to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != from {
		return fmt.Errorf("invalid transition for move of %s: expected %s, got %s", m.TaskID, from, m.phase)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for move of %s: %s -> %s", m.TaskID, from, to)
	}
	m.phase = to
	return nil
}

func (m *Move) finish(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	close(m.done)
}
