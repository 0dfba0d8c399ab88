package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/chxlky/taskboard/integrations"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type generateRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) GenerateHandler(c *gin.Context) {
	if h.Generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Text generation is not configured"})
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
		return
	}

	description, err := h.Generator.Generate(c.Request.Context(), req.Title)
	if errors.Is(err, integrations.ErrEmptyTitle) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
		return
	}
	if err != nil {
		zap.L().Error("Error generating description", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to generate description"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"description": description})
}

type trelloImportRequest struct {
	BoardID string `json:"board_id" binding:"required"`
}

// TrelloImportHandler copies a Trello board into a new board of the caller.
func (h *Handler) TrelloImportHandler(c *gin.Context) {
	if h.Trello == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Trello import is not configured"})
		return
	}
	var req trelloImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	tb, err := h.Trello.FetchBoard(ctx, req.BoardID)
	if err != nil {
		zap.L().Error("Error fetching Trello board", zap.String("boardID", req.BoardID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch Trello board"})
		return
	}

	b, lists, tasks := integrations.ConvertTrelloBoard(tb, currentSession(c).UserID, time.Now())
	if err := h.Store.ImportBoard(ctx, &b, lists, tasks); err != nil {
		h.fail(c, err)
		return
	}
	for _, t := range tasks {
		h.Calendar.Sync(t)
	}

	zap.L().Info("Imported Trello board",
		zap.String("trelloBoardID", req.BoardID),
		zap.String("board_id", b.ID),
		zap.Int("lists", len(lists)),
		zap.Int("tasks", len(tasks)),
	)
	c.JSON(http.StatusCreated, gin.H{"board": b, "lists": len(lists), "tasks": len(tasks)})
}
