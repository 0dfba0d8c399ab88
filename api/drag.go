package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/chxlky/taskboard/internal/board"
	"github.com/chxlky/taskboard/internal/events"
	"github.com/gin-gonic/gin"
)

type moveView struct {
	TaskID     string  `json:"task_id"`
	FromListID string  `json:"from_list_id"`
	ToListID   string  `json:"to_list_id"`
	Position   float64 `json:"position"`
	Phase      string  `json:"phase"`
	Error      string  `json:"error,omitempty"`
}

func newMoveView(m *board.Move) moveView {
	v := moveView{
		TaskID:     m.TaskID,
		FromListID: m.FromListID,
		ToListID:   m.ToListID,
		Position:   m.Position,
		Phase:      m.Phase().String(),
	}
	if err := m.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

type dropTarget struct {
	OverID   string `json:"over_id"`
	OverKind string `json:"over_kind"`
}

// target returns nil when no drop target was given.
func (d dropTarget) target() (*board.Target, error) {
	if d.OverID == "" {
		return nil, nil
	}
	kind, err := board.ParseTargetKind(d.OverKind)
	if err != nil {
		return nil, err
	}
	return &board.Target{ID: d.OverID, Kind: kind}, nil
}

type dragStartRequest struct {
	TaskID string `json:"task_id" binding:"required"`
}

func (h *Handler) DragStartHandler(c *gin.Context) {
	var req dragStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, ok := h.engine(c, c.Param("boardID"))
	if !ok {
		return
	}

	m, err := e.BeginDrag(req.TaskID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      board.PhaseDragging.String(),
		"task":       m.Task(),
		"started_at": m.StartedAt,
	})
}

// DragEndHandler drops the dragged task. Without over_id the gesture is
// cancelled. With ?wait=true the response is sent once the move is persisted
// or rolled back.
func (h *Handler) DragEndHandler(c *gin.Context) {
	var req dropTarget
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	over, err := req.target()
	if err != nil {
		badRequest(c, err)
		return
	}
	e, ok := h.engine(c, c.Param("boardID"))
	if !ok {
		return
	}

	m, err := e.EndDrag(c.Request.Context(), over)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondMove(c, m)
}

func (h *Handler) DragCancelHandler(c *gin.Context) {
	e, ok := h.engine(c, c.Param("boardID"))
	if !ok {
		return
	}
	e.CancelDrag()
	c.JSON(http.StatusOK, gin.H{"state": board.PhaseIdle.String()})
}

type moveRequest struct {
	TaskID string `json:"task_id" binding:"required"`
	dropTarget
}

// MoveHandler runs a whole drag gesture in one request.
func (h *Handler) MoveHandler(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	over, err := req.target()
	if err != nil {
		badRequest(c, err)
		return
	}
	e, ok := h.engine(c, c.Param("boardID"))
	if !ok {
		return
	}

	m, err := e.ApplyDrag(c.Request.Context(), req.TaskID, over)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondMove(c, m)
}

func (h *Handler) respondMove(c *gin.Context, m *board.Move) {
	if m == nil {
		c.JSON(http.StatusOK, gin.H{"moved": false})
		return
	}
	if c.Query("wait") == "true" {
		// The move settles on its own even if the client goes away.
		_ = m.Wait(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{"moved": true, "move": newMoveView(m)})
}

// BoardEventsHandler streams the move notifications of a board.
func (h *Handler) BoardEventsHandler(c *gin.Context) {
	b, ok := h.ownedBoard(c, c.Param("boardID"))
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sub, err := h.Bus.Subscribe(ctx, events.BoardChannel(b.ID))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer sub.Close()

	startStream(c)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			heartbeat(c)
		case data, ok := <-sub.C:
			if !ok {
				return
			}
			var ev events.Event
			if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
				ev.Type = "message"
			}
			c.SSEvent(ev.Type, json.RawMessage(data))
			c.Writer.Flush()
		}
	}
}
