// Package board keeps the in-memory ordering of a board's tasks and applies
// drag gestures to it.
//
// A drop is applied to memory first and written to the store afterwards on
// a background goroutine. What happens to the optimistic state when the
// write fails is decided by the engine's FailurePolicy.
//
// Within every list the tasks are kept in ascending Position order. The
// engine never assigns a task to a list that is not part of its board.
package board

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chxlky/taskboard/internal/metrics"
	"github.com/chxlky/taskboard/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName    = "github.com/chxlky/taskboard/internal/board"
	notifyTimeout = 5 * time.Second
)

var (
	ErrDragInProgress = errors.New("another task is being dragged")
	ErrNotDragging    = errors.New("no drag in progress")
	ErrTaskNotFound   = errors.New("task not found on this board")
)

type Options struct {
	Policy FailurePolicy
	Mode   DropMode
	// DragTimeout is how long a gesture may stay in DRAGGING before a new
	// gesture is allowed to replace it. Zero disables the timeout.
	DragTimeout time.Duration
	// PersistTimeout bounds the store writes of one move. Zero means no bound.
	PersistTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Engine holds the lists and tasks of one board.
type Engine struct {
	boardID   string
	persister Persister
	notifier  Notifier
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	lists []models.List
	tasks []models.Task
	// version is bumped on every change to tasks; a failed move restores its
	// full snapshot only if nothing changed after it.
	version uint64
	active  *Move

	inflight sync.WaitGroup
}

// NewEngine builds an engine from the board's lists and tasks. Tasks whose
// list is not among lists are left out.
func NewEngine(boardID string, lists []models.List, tasks []models.Task, persister Persister, notifier Notifier, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	e := &Engine{
		boardID:   boardID,
		persister: persister,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With(zap.String("board_id", boardID)),
		now:       time.Now,
	}
	e.lists, e.tasks = sanitize(lists, tasks)
	return e
}

func sanitize(lists []models.List, tasks []models.Task) ([]models.List, []models.Task) {
	known := make(map[string]bool, len(lists))
	for _, l := range lists {
		known[l.ID] = true
	}
	kept := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if known[t.ListID] {
			kept = append(kept, t)
		}
	}
	sortByPosition(kept)
	return slices.Clone(lists), kept
}

func (e *Engine) BoardID() string {
	return e.boardID
}

// Lists returns a copy of the board's lists in display order.
func (e *Engine) Lists() []models.List {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.lists)
}

// Tasks returns a copy of the ordered task collection.
func (e *Engine) Tasks() []models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.tasks)
}

// Dragging returns the task picked up by the gesture in DRAGGING, if any.
func (e *Engine) Dragging() (models.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return models.Task{}, false
	}
	return e.active.Task(), true
}

// State is DRAGGING while a gesture holds a task and IDLE otherwise.
func (e *Engine) State() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return PhaseDragging
	}
	return PhaseIdle
}

// BeginDrag picks up a task. Only one gesture may be in DRAGGING at a time;
// a gesture older than DragTimeout is discarded in favour of the new one.
func (e *Engine) BeginDrag(taskID string) (*Move, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begin(taskID)
}

func (e *Engine) begin(taskID string) (*Move, error) {
	now := e.now()
	if e.active != nil {
		if e.opts.DragTimeout <= 0 || now.Sub(e.active.StartedAt) < e.opts.DragTimeout {
			e.opts.Metrics.GestureEnded("rejected")
			return nil, ErrDragInProgress
		}
		e.logger.Warn("Discarding stale drag", zap.String("task_id", e.active.TaskID), zap.Time("started_at", e.active.StartedAt))
		e.dropActive("stale")
	}

	i := indexOf(e.tasks, taskID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	e.active = newMove(e.tasks[i], now)
	return e.active, nil
}

// CancelDrag discards the gesture in DRAGGING without touching any task.
func (e *Engine) CancelDrag() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		e.dropActive("cancelled")
	}
}

func (e *Engine) dropActive(outcome string) {
	e.advance(e.active, PhaseDragging, PhaseIdle)
	e.active = nil
	e.opts.Metrics.GestureEnded(outcome)
}

// EndDrag drops the dragged task onto over. A nil over cancels the gesture.
// It returns a nil Move when the drop changes nothing; otherwise the move has
// already been applied and is being persisted.
func (e *Engine) EndDrag(ctx context.Context, over *Target) (*Move, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.end(ctx, over)
}

func (e *Engine) end(ctx context.Context, over *Target) (*Move, error) {
	m := e.active
	if m == nil {
		return nil, ErrNotDragging
	}
	if over == nil {
		e.dropActive("cancelled")
		return nil, nil
	}

	p, ok := e.plan(m.TaskID, *over)
	if !ok {
		e.dropActive("noop")
		return nil, nil
	}

	if err := m.transition(PhaseDragging, PhaseCommitLocal); err != nil {
		return nil, err
	}
	e.active = nil

	m.snapshot = e.tasks
	m.ToListID = p.listID
	m.Position = p.position
	m.placements = p.placements
	e.tasks = p.tasks
	e.version++
	m.version = e.version

	if err := m.transition(PhaseCommitLocal, PhasePersisting); err != nil {
		return nil, err
	}
	e.opts.Metrics.GestureEnded("committed")
	e.logger.Debug("Move committed locally",
		zap.String("task_id", m.TaskID),
		zap.String("from_list", m.FromListID),
		zap.String("to_list", m.ToListID),
		zap.Float64("position", m.Position),
	)

	e.inflight.Add(1)
	go e.persist(context.WithoutCancel(ctx), m)

	return m, nil
}

// ApplyDrag runs a whole gesture: pick up activeTaskID and drop it onto over.
// Unknown tasks and a nil over are no-ops.
func (e *Engine) ApplyDrag(ctx context.Context, activeTaskID string, over *Target) (*Move, error) {
	if over == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.begin(activeTaskID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.end(ctx, over)
}

type plan struct {
	tasks      []models.Task
	listID     string
	position   float64
	placements []models.Placement
}

// plan computes the task collection after dropping activeID onto over.
// ok is false when the drop is a no-op.
func (e *Engine) plan(activeID string, over Target) (plan, bool) {
	if over.ID == "" || over.ID == activeID {
		return plan{}, false
	}
	from := indexOf(e.tasks, activeID)
	if from < 0 {
		return plan{}, false
	}

	var dest string
	to := -1
	switch over.Kind {
	case TargetList:
		if !e.hasList(over.ID) || e.tasks[from].ListID == over.ID {
			return plan{}, false
		}
		dest = over.ID
	case TargetTask:
		if e.opts.Mode == DropListOnly {
			return plan{}, false
		}
		to = indexOf(e.tasks, over.ID)
		if to < 0 {
			return plan{}, false
		}
		dest = e.tasks[to].ListID
	default:
		return plan{}, false
	}

	next := slices.Clone(e.tasks)
	next[from].ListID = dest

	idx := to
	if over.Kind == TargetTask {
		next = arrayMove(next, from, to)
	} else {
		next, idx = moveToListEnd(next, from, dest)
	}

	var placements []models.Placement
	if pos, ok := Between(neighbours(next, idx)); ok {
		next[idx].Position = pos
		placements = []models.Placement{{TaskID: activeID, ListID: dest, Position: pos}}
	} else {
		placements = rebalance(next, dest, activeID)
	}

	return plan{
		tasks:      next,
		listID:     dest,
		position:   next[idx].Position,
		placements: placements,
	}, true
}

func (e *Engine) persist(ctx context.Context, m *Move) {
	defer e.inflight.Done()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "board.persist_move",
		trace.WithAttributes(
			attribute.String("board.id", e.boardID),
			attribute.String("task.id", m.TaskID),
			attribute.String("list.id", m.ToListID),
			attribute.Int("placements", len(m.placements)),
		),
	)
	defer span.End()

	writeCtx := ctx
	if e.opts.PersistTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, e.opts.PersistTimeout)
		defer cancel()
	}

	start := time.Now()
	err := e.persister.MoveTasks(writeCtx, m.placements)
	e.opts.Metrics.ObservePersist(time.Since(start))
	if err != nil {
		err = fmt.Errorf("failed to persist move of task %s: %w", m.TaskID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "move not persisted")
	}
	e.settle(ctx, m, err)
}

func (e *Engine) settle(ctx context.Context, m *Move, err error) {
	n := Notification{
		BoardID: e.boardID,
		TaskID:  m.TaskID,
		ListID:  m.ToListID,
	}

	e.mu.Lock()
	switch {
	case err == nil:
		e.advance(m, PhasePersisting, PhasePersisted)
		n.Kind, n.Level, n.Message = NotificationMovePersisted, "info", "Task moved"
	case e.opts.Policy == KeepOnFailure:
		e.advance(m, PhasePersisting, PhaseDiverged)
		n.Kind, n.Level = NotificationMoveDiverged, "error"
		n.Message = fmt.Sprintf("Failed to move task: %v", err)
	default:
		e.rollback(m)
		e.advance(m, PhasePersisting, PhaseRolledBack)
		n.Kind, n.Level = NotificationMoveRolledBack, "error"
		n.Message = fmt.Sprintf("Failed to move task: %v", err)
		n.ListID = m.FromListID
	}
	phase := m.Phase()
	e.mu.Unlock()

	e.opts.Metrics.MoveSettled(phase.String())
	if err != nil {
		e.logger.Error("Move not persisted", zap.String("task_id", m.TaskID), zap.Stringer("phase", phase), zap.Error(err))
	} else {
		e.logger.Debug("Move persisted", zap.String("task_id", m.TaskID))
	}

	e.notify(ctx, n)
	m.finish(err)
}

// notify delivers n on its own deadline; the store write may have used up
// the move's.
func (e *Engine) notify(ctx context.Context, n Notification) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("Failed to deliver move notification", zap.String("task_id", n.TaskID), zap.String("kind", n.Kind), zap.Error(err))
	}
}

// advance moves m to the next phase, logging transitions the state machine
// refuses.
func (e *Engine) advance(m *Move, from, to Phase) {
	if err := m.transition(from, to); err != nil {
		e.logger.Error("Drag state corrupted", zap.String("task_id", m.TaskID), zap.Error(err))
	}
}

// rollback undoes m. When nothing changed since m was committed the
// pre-drag snapshot is restored as is; otherwise only the tasks m placed get
// their previous list and position back. Must be called with e.mu held.
func (e *Engine) rollback(m *Move) {
	if e.version == m.version {
		e.tasks = m.snapshot
		e.version++
		return
	}

	next := slices.Clone(e.tasks)
	for _, p := range m.placements {
		i := indexOf(next, p.TaskID)
		j := indexOf(m.snapshot, p.TaskID)
		if i < 0 || j < 0 {
			continue
		}
		prev := m.snapshot[j]
		if !e.hasList(prev.ListID) {
			continue
		}
		next[i].ListID = prev.ListID
		next[i].Position = prev.Position
	}
	sortByPosition(next)
	e.tasks = next
	e.version++
}

// Wait blocks until every started persistence call has settled.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) hasList(id string) bool {
	return slices.ContainsFunc(e.lists, func(l models.List) bool { return l.ID == id })
}

func indexOf(tasks []models.Task, id string) int {
	return slices.IndexFunc(tasks, func(t models.Task) bool { return t.ID == id })
}
