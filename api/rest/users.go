package rest

import (
	"errors"
	"net/http"

	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/profile"
	"github.com/gin-gonic/gin"
)

// UserHandler handles profile REST endpoints.
type UserHandler struct {
	profiles *profile.Service
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(profiles *profile.Service) *UserHandler {
	return &UserHandler{profiles: profiles}
}

// Me handles GET /api/users/me: the caller's full profile.
func (h *UserHandler) Me(c *gin.Context) {
	u, err := h.profiles.GetByID(mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

type updateRequest struct {
	DisplayName *string                `json:"display_name"`
	AvatarURL   *string                `json:"avatar_url"`
	Settings    map[string]interface{} `json:"settings"`
}

// UpdateMe handles PUT /api/users/me: partial profile merge.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := map[string]interface{}{}
	if req.DisplayName != nil {
		fields["display_name"] = *req.DisplayName
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = *req.AvatarURL
	}
	if req.Settings != nil {
		fields["settings"] = req.Settings
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err := h.profiles.Update(mw.GetUserID(c), fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// ByUsername handles GET /api/users/:username: public profile by handle.
// The match is exact and case-sensitive.
func (h *UserHandler) ByUsername(c *gin.Context) {
	u, err := h.profiles.GetByUsername(c.Param("username"))
	if err != nil {
		if errors.Is(err, profile.ErrInvalidUsername) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u.Public()})
}
