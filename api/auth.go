package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chxlky/taskboard/internal/models"
	"github.com/chxlky/taskboard/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const heartbeatInterval = 25 * time.Second

// RequireSession validates the bearer token and puts the session into the
// request context. Event streams may pass the token as ?token= instead,
// since EventSource cannot set headers.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": session.ErrInvalidToken.Error()})
				return
			}
			token = strings.TrimSpace(parts[1])
		} else {
			token = c.Query("token")
		}

		s, err := h.Sessions.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrMissingToken) || errors.Is(err, session.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			zap.L().Error("Failed to validate session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.Request = c.Request.WithContext(session.NewContext(c.Request.Context(), s))
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	s, _ := session.FromContext(c.Request.Context())
	return s
}

type registerRequest struct {
	FullName string `json:"full_name" binding:"required,min=3"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) RegisterHandler(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.Auth.Register(c.Request.Context(), req.Email, req.FullName, req.Password)
	switch {
	case errors.Is(err, session.ErrEmailExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, session.ErrWeakPassword):
		badRequest(c, err)
		return
	case err != nil:
		h.fail(c, err)
		return
	}
	zap.L().Info("User registered", zap.String("user_id", user.ID))

	h.issue(c, user, http.StatusCreated)
}

func (h *Handler) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.Auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, session.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	h.issue(c, user, http.StatusOK)
}

func (h *Handler) issue(c *gin.Context, user *models.User, status int) {
	token, s, err := h.Sessions.Issue(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, gin.H{"token": token, "session": s, "user": user})
}

func (h *Handler) LogoutHandler(c *gin.Context) {
	if err := h.Sessions.Revoke(c.Request.Context(), currentSession(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

func (h *Handler) SessionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": currentSession(c)})
}

// SessionEventsHandler streams the session changes of the signed-in user.
// The stream ends when this session is signed out.
func (h *Handler) SessionEventsHandler(c *gin.Context) {
	s := currentSession(c)
	ctx := c.Request.Context()

	sub, err := h.Sessions.Subscribe(ctx, s.UserID)
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
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent(change.Type, change)
			c.Writer.Flush()
			if change.Type == session.ChangeSignedOut && change.SessionID == s.ID {
				return
			}
		}
	}
}

func startStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
}

func heartbeat(c *gin.Context) {
	c.Writer.WriteString(": ping\n\n")
	c.Writer.Flush()
}
