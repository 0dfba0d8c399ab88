package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/chxlky/taskboard/database"
	"github.com/chxlky/taskboard/integrations"
	"github.com/chxlky/taskboard/internal/avatars"
	"github.com/chxlky/taskboard/internal/board"
	"github.com/chxlky/taskboard/internal/events"
	"github.com/chxlky/taskboard/internal/metrics"
	"github.com/chxlky/taskboard/internal/models"
	"github.com/chxlky/taskboard/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Generator writes a task description from its title.
type Generator interface {
	Generate(ctx context.Context, title string) (string, error)
}

// TrelloFetcher reads a Trello board for import.
type TrelloFetcher interface {
	FetchBoard(ctx context.Context, boardID string) (*models.TrelloBoard, error)
}

type Handler struct {
	Store    *database.Store
	Boards   *board.Registry
	Auth     *session.Authenticator
	Sessions *session.Provider
	Bus      *events.Bus
	Metrics  *metrics.Metrics

	// Optional integrations; nil disables the matching endpoints.
	Generator Generator
	Trello    TrelloFetcher
	Calendar  *integrations.CalendarSync
	Avatars   *avatars.Store
}

// Register mounts every API route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(h.Metrics.Middleware())
	r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	if h.Avatars != nil {
		r.Static(strings.TrimSuffix(avatars.URLPrefix, "/"), h.Avatars.Dir())
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", h.HealthCheckHandler)
		apiGroup.POST("/auth/register", h.RegisterHandler)
		apiGroup.POST("/auth/login", h.LoginHandler)
	}

	authed := apiGroup.Group("", h.RequireSession())
	{
		authed.POST("/auth/logout", h.LogoutHandler)
		authed.GET("/session", h.SessionHandler)
		authed.GET("/session/events", h.SessionEventsHandler)
		authed.GET("/profile", h.GetProfileHandler)
		authed.PATCH("/profile", h.UpdateProfileHandler)
		authed.PUT("/profile/avatar", h.UploadAvatarHandler)
		authed.DELETE("/profile/avatar", h.DeleteAvatarHandler)

		authed.GET("/boards", h.ListBoardsHandler)
		authed.POST("/boards", h.CreateBoardHandler)
		authed.GET("/boards/:boardID", h.GetBoardHandler)
		authed.PATCH("/boards/:boardID", h.RenameBoardHandler)
		authed.DELETE("/boards/:boardID", h.DeleteBoardHandler)
		authed.POST("/boards/:boardID/reload", h.ReloadBoardHandler)
		authed.GET("/boards/:boardID/events", h.BoardEventsHandler)

		authed.POST("/boards/:boardID/lists", h.CreateListHandler)
		authed.PATCH("/lists/:listID", h.RenameListHandler)
		authed.DELETE("/lists/:listID", h.DeleteListHandler)

		authed.POST("/lists/:listID/tasks", h.CreateTaskHandler)
		authed.GET("/tasks/:taskID", h.GetTaskHandler)
		authed.PATCH("/tasks/:taskID", h.UpdateTaskHandler)
		authed.DELETE("/tasks/:taskID", h.DeleteTaskHandler)

		authed.POST("/boards/:boardID/drag/start", h.DragStartHandler)
		authed.POST("/boards/:boardID/drag/end", h.DragEndHandler)
		authed.POST("/boards/:boardID/drag/cancel", h.DragCancelHandler)
		authed.POST("/boards/:boardID/moves", h.MoveHandler)

		authed.POST("/generate", h.GenerateHandler)
		authed.POST("/imports/trello", h.TrelloImportHandler)
	}
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail writes the response for err. Errors without a more specific status
// are logged and reported as 500.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, board.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, board.ErrDragInProgress), errors.Is(err, board.ErrNotDragging):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrMissingToken), errors.Is(err, session.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		zap.L().Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

// ownedBoard loads a board of the signed-in user. Boards of other users are
// reported as missing.
func (h *Handler) ownedBoard(c *gin.Context, boardID string) (*models.Board, bool) {
	b, err := h.Store.GetBoard(c.Request.Context(), boardID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if b.UserID != currentSession(c).UserID {
		notFound(c, "board")
		return nil, false
	}
	return b, true
}

func (h *Handler) ownedList(c *gin.Context, listID string) (*models.List, bool) {
	l, err := h.Store.GetList(c.Request.Context(), listID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	b, err := h.Store.GetBoard(c.Request.Context(), l.BoardID)
	if err != nil || b.UserID != currentSession(c).UserID {
		notFound(c, "list")
		return nil, false
	}
	return l, true
}

func (h *Handler) ownedTask(c *gin.Context, taskID string) (*models.Task, *models.List, bool) {
	t, err := h.Store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.fail(c, err)
		return nil, nil, false
	}
	l, err := h.Store.GetList(c.Request.Context(), t.ListID)
	if err != nil {
		notFound(c, "task")
		return nil, nil, false
	}
	b, err := h.Store.GetBoard(c.Request.Context(), l.BoardID)
	if err != nil || b.UserID != currentSession(c).UserID {
		notFound(c, "task")
		return nil, nil, false
	}
	return t, l, true
}

// engine returns the ordering engine of an owned board, loading it on first use.
func (h *Handler) engine(c *gin.Context, boardID string) (*board.Engine, bool) {
	if _, ok := h.ownedBoard(c, boardID); !ok {
		return nil, false
	}
	e, err := h.Boards.Get(c.Request.Context(), boardID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return e, true
}
