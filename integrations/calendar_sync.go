package integrations

import (
	"context"
	"sync"
	"time"

	"github.com/chxlky/taskboard/internal/models"
	"go.uber.org/zap"
)

// EventIDStore remembers which calendar event mirrors a task.
type EventIDStore interface {
	SetTaskEventID(ctx context.Context, taskID, eventID string) error
}

// CalendarSync mirrors task due dates to Google Calendar in the background.
// At most cap(Workers) calendar calls run at once. Calls for the same task
// run one after another in the order they were made.
type CalendarSync struct {
	Client  *CalendarClient
	Store   EventIDStore
	Workers chan struct{}
	Timeout time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	// tails holds the completion channel of the last queued call per task.
	tails map[string]chan struct{}
	// events holds the event ids written by this process, which may be newer
	// than the id a caller read from the store.
	events map[string]string
}

func NewCalendarSync(client *CalendarClient, store EventIDStore, workers int) *CalendarSync {
	if workers <= 0 {
		workers = 10
	}
	return &CalendarSync{
		Client:  client,
		Store:   store,
		Workers: make(chan struct{}, workers),
		Timeout: 30 * time.Second,
		tails:   make(map[string]chan struct{}),
		events:  make(map[string]string),
	}
}

// Sync creates, updates or deletes the event of task so that it matches the
// task's due date. A nil CalendarSync ignores the call.
func (s *CalendarSync) Sync(task models.Task) {
	s.run(task, false)
}

// Remove deletes the event of a deleted task.
func (s *CalendarSync) Remove(task models.Task) {
	s.run(task, true)
}

func (s *CalendarSync) run(task models.Task, removed bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if task.DueDate == nil && task.EventID == "" && !s.tracked(task.ID) {
		s.mu.Unlock()
		return
	}
	if s.closed {
		s.mu.Unlock()
		zap.L().Warn("Calendar sync stopped, dropping task", zap.String("task_id", task.ID))
		return
	}
	prev := s.tails[task.ID]
	done := make(chan struct{})
	s.tails[task.ID] = done
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.release(task.ID, done)
		if prev != nil {
			<-prev
		}

		s.Workers <- struct{}{}
		defer func() { <-s.Workers }()

		task.EventID = s.eventID(task)
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()
		if removed {
			s.remove(ctx, task)
			return
		}
		s.sync(ctx, task)
	}()
}

// tracked reports whether the task has queued calls or a known event.
// Must be called with s.mu held.
func (s *CalendarSync) tracked(taskID string) bool {
	return s.tails[taskID] != nil || s.events[taskID] != ""
}

func (s *CalendarSync) release(taskID string, done chan struct{}) {
	close(done)
	s.mu.Lock()
	if s.tails[taskID] == done {
		delete(s.tails, taskID)
	}
	s.mu.Unlock()
}

func (s *CalendarSync) eventID(task models.Task) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.events[task.ID]; ok {
		return id
	}
	return task.EventID
}

func (s *CalendarSync) sync(ctx context.Context, task models.Task) {
	if task.DueDate == nil {
		if task.EventID == "" {
			return
		}
		if err := s.Client.DeleteEvent(ctx, task.EventID); err != nil {
			zap.L().Error("Error deleting calendar event of task", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		s.storeEventID(ctx, task.ID, "")
		return
	}

	if task.EventID != "" {
		event, err := s.Client.UpdateEvent(ctx, task, task.EventID)
		if err == nil {
			zap.L().Info("Updated calendar event", zap.String("task_id", task.ID), zap.String("event_id", event.Id))
			return
		}
		if !isNotFound(err) {
			zap.L().Error("Error updating calendar event of task", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		// The event was deleted on the calendar side; create a new one.
	}

	event, err := s.Client.CreateEvent(ctx, task)
	if err != nil {
		zap.L().Error("Error creating calendar event from task", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	zap.L().Info("Created calendar event", zap.String("task_id", task.ID), zap.String("event_id", event.Id), zap.String("link", event.HtmlLink))
	s.storeEventID(ctx, task.ID, event.Id)
}

func (s *CalendarSync) remove(ctx context.Context, task models.Task) {
	s.mu.Lock()
	delete(s.events, task.ID)
	s.mu.Unlock()
	if task.EventID == "" {
		return
	}
	if err := s.Client.DeleteEvent(ctx, task.EventID); err != nil {
		zap.L().Error("Error deleting calendar event of task", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (s *CalendarSync) storeEventID(ctx context.Context, taskID, eventID string) {
	s.mu.Lock()
	s.events[taskID] = eventID
	s.mu.Unlock()
	if err := s.Store.SetTaskEventID(ctx, taskID, eventID); err != nil {
		zap.L().Error("Error saving calendar event id", zap.String("task_id", taskID), zap.Error(err))
	}
}

// Close stops accepting work and waits for running calendar calls.
func (s *CalendarSync) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
