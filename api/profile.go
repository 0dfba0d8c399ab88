package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chxlky/taskboard/internal/avatars"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) GetProfileHandler(c *gin.Context) {
	user, err := h.Store.GetUserByID(c.Request.Context(), currentSession(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type profileRequest struct {
	FullName string `json:"full_name" binding:"required,min=3"`
}

func (h *Handler) UpdateProfileHandler(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	userID := currentSession(c).UserID

	if err := h.Store.UpdateUserName(ctx, userID, strings.TrimSpace(req.FullName)); err != nil {
		h.fail(c, err)
		return
	}
	user, err := h.Store.GetUserByID(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Sessions.ProfileUpdated(ctx, userID)
	c.JSON(http.StatusOK, user)
}

// UploadAvatarHandler stores the multipart file "avatar" as the user's
// picture and removes the one it replaces.
func (h *Handler) UploadAvatarHandler(c *gin.Context) {
	if h.Avatars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Avatar uploads are not configured"})
		return
	}
	header, err := c.FormFile("avatar")
	if err != nil {
		badRequest(c, err)
		return
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	userID := currentSession(c).UserID
	user, err := h.Store.GetUserByID(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	url, err := h.Avatars.Save(userID, file)
	switch {
	case errors.Is(err, avatars.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case errors.Is(err, avatars.ErrUnsupportedType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.fail(c, err)
		return
	}

	if err := h.Store.UpdateUserAvatar(ctx, userID, url); err != nil {
		if rerr := h.Avatars.Remove(url); rerr != nil {
			zap.L().Warn("Failed to remove unused avatar", zap.String("url", url), zap.Error(rerr))
		}
		h.fail(c, err)
		return
	}
	h.removeAvatar(user.AvatarURL)

	user.AvatarURL = url
	h.Sessions.ProfileUpdated(ctx, userID)
	c.JSON(http.StatusOK, user)
}

func (h *Handler) DeleteAvatarHandler(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentSession(c).UserID
	user, err := h.Store.GetUserByID(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if user.AvatarURL == "" {
		c.JSON(http.StatusOK, user)
		return
	}

	if err := h.Store.UpdateUserAvatar(ctx, userID, ""); err != nil {
		h.fail(c, err)
		return
	}
	h.removeAvatar(user.AvatarURL)

	user.AvatarURL = ""
	h.Sessions.ProfileUpdated(ctx, userID)
	c.JSON(http.StatusOK, user)
}

func (h *Handler) removeAvatar(url string) {
	if h.Avatars == nil || url == "" {
		return
	}
	if err := h.Avatars.Remove(url); err != nil {
		zap.L().Warn("Failed to remove old avatar", zap.String("url", url), zap.Error(err))
	}
}
