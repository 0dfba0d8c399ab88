package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/chxlky/taskboard/database"
	"github.com/chxlky/taskboard/internal/board"
	"github.com/chxlky/taskboard/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type column struct {
	models.List
	Tasks []models.Task `json:"tasks"`
}

type boardView struct {
	Board    *models.Board `json:"board"`
	Lists    []column      `json:"lists"`
	Dragging *models.Task  `json:"dragging"`
}

// newBoardView groups the engine's tasks under their lists.
func newBoardView(b *models.Board, e *board.Engine) boardView {
	lists := e.Lists()
	tasks := e.Tasks()

	view := boardView{Board: b, Lists: make([]column, len(lists))}
	index := make(map[string]int, len(lists))
	for i, l := range lists {
		view.Lists[i] = column{List: l, Tasks: []models.Task{}}
		index[l.ID] = i
	}
	for _, t := range tasks {
		if i, ok := index[t.ListID]; ok {
			view.Lists[i].Tasks = append(view.Lists[i].Tasks, t)
		}
	}
	if t, ok := e.Dragging(); ok {
		view.Dragging = &t
	}
	return view
}

func (h *Handler) ListBoardsHandler(c *gin.Context) {
	boards, err := h.Store.ListBoards(c.Request.Context(), currentSession(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards})
}

type boardRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) CreateBoardHandler(c *gin.Context) {
	var req boardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	b := &models.Board{Title: strings.TrimSpace(req.Title), UserID: currentSession(c).UserID}
	if err := h.Store.CreateBoard(c.Request.Context(), b); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBoardHandler(c *gin.Context) {
	b, ok := h.ownedBoard(c, c.Param("boardID"))
	if !ok {
		return
	}
	e, err := h.Boards.Get(c.Request.Context(), b.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newBoardView(b, e))
}

func (h *Handler) RenameBoardHandler(c *gin.Context) {
	var req boardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	b, ok := h.ownedBoard(c, c.Param("boardID"))
	if !ok {
		return
	}
	if err := h.Store.RenameBoard(c.Request.Context(), b.ID, strings.TrimSpace(req.Title)); err != nil {
		h.fail(c, err)
		return
	}
	b.Title = strings.TrimSpace(req.Title)
	c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBoardHandler(c *gin.Context) {
	ctx := c.Request.Context()
	b, ok := h.ownedBoard(c, c.Param("boardID"))
	if !ok {
		return
	}

	var mirrored []models.Task
	if h.Calendar != nil {
		tasks, err := h.Store.ListTasksByBoard(ctx, b.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		mirrored = tasks
	}

	if err := h.Store.DeleteBoard(ctx, b.ID); err != nil {
		h.fail(c, err)
		return
	}
	h.Boards.Drop(b.ID)
	for _, t := range mirrored {
		h.Calendar.Remove(t)
	}
	zap.L().Info("Board deleted", zap.String("board_id", b.ID))
	c.JSON(http.StatusOK, gin.H{"message": "Board deleted"})
}

// ReloadBoardHandler re-reads the board from the store, discarding any
// in-memory state that diverged from it.
func (h *Handler) ReloadBoardHandler(c *gin.Context) {
	b, ok := h.ownedBoard(c, c.Param("boardID"))
	if !ok {
		return
	}
	e, err := h.Boards.Reload(c.Request.Context(), b.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newBoardView(b, e))
}

type listRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) CreateListHandler(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	b, ok := h.ownedBoard(c, c.Param("boardID"))
	if !ok {
		return
	}

	l := &models.List{BoardID: b.ID, Name: strings.TrimSpace(req.Name)}
	if err := h.Store.CreateList(c.Request.Context(), l); err != nil {
		h.fail(c, err)
		return
	}
	if e, ok := h.Boards.Peek(b.ID); ok {
		e.AddList(*l)
	}
	c.JSON(http.StatusCreated, l)
}

func (h *Handler) RenameListHandler(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, ok := h.ownedList(c, c.Param("listID"))
	if !ok {
		return
	}

	name := strings.TrimSpace(req.Name)
	if err := h.Store.RenameList(c.Request.Context(), l.ID, name); err != nil {
		h.fail(c, err)
		return
	}
	if e, ok := h.Boards.Peek(l.BoardID); ok {
		e.RenameList(l.ID, name)
	}
	l.Name = name
	c.JSON(http.StatusOK, l)
}

func (h *Handler) DeleteListHandler(c *gin.Context) {
	ctx := c.Request.Context()
	l, ok := h.ownedList(c, c.Param("listID"))
	if !ok {
		return
	}

	var mirrored []models.Task
	if h.Calendar != nil {
		tasks, err := h.Store.ListTasksByBoard(ctx, l.BoardID)
		if err != nil {
			h.fail(c, err)
			return
		}
		for _, t := range tasks {
			if t.ListID == l.ID {
				mirrored = append(mirrored, t)
			}
		}
	}

	if err := h.Store.DeleteList(ctx, l.ID); err != nil {
		h.fail(c, err)
		return
	}
	if e, ok := h.Boards.Peek(l.BoardID); ok {
		e.RemoveList(l.ID)
	}
	for _, t := range mirrored {
		h.Calendar.Remove(t)
	}
	c.JSON(http.StatusOK, gin.H{"message": "List deleted"})
}

type createTaskRequest struct {
	Title   string     `json:"title" binding:"required"`
	Content string     `json:"content"`
	DueDate *time.Time `json:"due_date"`
}

func (h *Handler) CreateTaskHandler(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, ok := h.ownedList(c, c.Param("listID"))
	if !ok {
		return
	}

	t := &models.Task{
		ListID:  l.ID,
		Title:   strings.TrimSpace(req.Title),
		Content: req.Content,
		DueDate: req.DueDate,
	}
	if err := h.Store.CreateTask(c.Request.Context(), t); err != nil {
		h.fail(c, err)
		return
	}
	if e, ok := h.Boards.Peek(l.BoardID); ok {
		e.AddTask(*t)
	}
	h.Calendar.Sync(*t)
	c.JSON(http.StatusCreated, t)
}

// GetTaskHandler returns the task with its placement as the open engine sees it.
func (h *Handler) GetTaskHandler(c *gin.Context) {
	t, l, ok := h.ownedTask(c, c.Param("taskID"))
	if !ok {
		return
	}
	if e, ok := h.Boards.Peek(l.BoardID); ok {
		for _, live := range e.Tasks() {
			if live.ID == t.ID {
				t.ListID, t.Position = live.ListID, live.Position
				break
			}
		}
	}
	c.JSON(http.StatusOK, t)
}

type updateTaskRequest struct {
	Title   *string    `json:"title" binding:"omitempty,min=1"`
	Content *string    `json:"content"`
	DueDate *time.Time `json:"due_date"`
	// ClearDue removes the due date; due_date takes precedence when both are set.
	ClearDue bool `json:"clear_due"`
}

func (h *Handler) UpdateTaskHandler(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, l, ok := h.ownedTask(c, c.Param("taskID"))
	if !ok {
		return
	}

	updated, err := h.Store.UpdateTask(c.Request.Context(), t.ID, database.TaskPatch{
		Title:    req.Title,
		Content:  req.Content,
		DueDate:  req.DueDate,
		ClearDue: req.ClearDue,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if e, ok := h.Boards.Peek(l.BoardID); ok {
		e.UpdateTaskDetails(*updated)
	}
	if updated.DueDate != nil || t.DueDate != nil {
		h.Calendar.Sync(*updated)
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteTaskHandler(c *gin.Context) {
	t, l, ok := h.ownedTask(c, c.Param("taskID"))
	if !ok {
		return
	}
	if err := h.Store.DeleteTask(c.Request.Context(), t.ID); err != nil {
		h.fail(c, err)
		return
	}
	if e, ok := h.Boards.Peek(l.BoardID); ok {
		e.RemoveTask(t.ID)
	}
	h.Calendar.Remove(*t)
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}
