package board

import (
	"slices"

	"github.com/chxlky/taskboard/internal/models"
)

// The methods below mirror store writes made outside of drag gestures so an
// open engine does not have to be reloaded. Every one of them replaces the
// task slice instead of editing it, since pending moves keep the old slice
// as their rollback snapshot.

func (e *Engine) AddList(l models.List) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l.BoardID != e.boardID || e.hasList(l.ID) {
		return
	}
	e.lists = append(slices.Clone(e.lists), l)
}

func (e *Engine) RenameList(id, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.IndexFunc(e.lists, func(l models.List) bool { return l.ID == id })
	if i < 0 {
		return
	}
	lists := slices.Clone(e.lists)
	lists[i].Name = name
	e.lists = lists
}

// RemoveList drops the list and its tasks.
func (e *Engine) RemoveList(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasList(id) {
		return
	}
	e.lists = slices.DeleteFunc(slices.Clone(e.lists), func(l models.List) bool { return l.ID == id })
	e.tasks = slices.DeleteFunc(slices.Clone(e.tasks), func(t models.Task) bool { return t.ListID == id })
	e.version++
	if e.active != nil && e.active.FromListID == id {
		e.dropActive("cancelled")
	}
}

// AddTask inserts a task created in one of the board's lists.
func (e *Engine) AddTask(t models.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasList(t.ListID) || indexOf(e.tasks, t.ID) >= 0 {
		return
	}
	tasks := append(slices.Clone(e.tasks), t)
	sortByPosition(tasks)
	e.tasks = tasks
	e.version++
}

// UpdateTaskDetails copies title, content and due date from t. List and
// position are owned by the engine and are left alone.
func (e *Engine) UpdateTaskDetails(t models.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := indexOf(e.tasks, t.ID)
	if i < 0 {
		return
	}
	tasks := slices.Clone(e.tasks)
	tasks[i].Title = t.Title
	tasks[i].Content = t.Content
	tasks[i].DueDate = t.DueDate
	tasks[i].UpdatedAt = t.UpdatedAt
	e.tasks = tasks
	e.version++
}

func (e *Engine) RemoveTask(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if indexOf(e.tasks, id) < 0 {
		return
	}
	e.tasks = slices.DeleteFunc(slices.Clone(e.tasks), func(t models.Task) bool { return t.ID == id })
	e.version++
	if e.active != nil && e.active.TaskID == id {
		e.dropActive("cancelled")
	}
}

// Reset replaces the whole state with a fresh load from the store. A gesture
// in DRAGGING is discarded; moves still persisting settle against the new state.
func (e *Engine) Reset(lists []models.List, tasks []models.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lists, e.tasks = sanitize(lists, tasks)
	e.version++
	if e.active != nil {
		e.dropActive("cancelled")
	}
}
