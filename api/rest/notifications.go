package rest

import (
	"net/http"
	"strconv"

	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/notify"
	"github.com/gin-gonic/gin"
)

// NotificationHandler handles the notification feed REST endpoints.
type NotificationHandler struct {
	notify *notify.Service
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(n *notify.Service) *NotificationHandler {
	return &NotificationHandler{notify: n}
}

// List handles GET /api/notifications. Optional filters: ?category= and
// ?unread=true.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)
	category := c.Query("category")
	unreadOnly := c.Query("unread") == "true"

	items, err := h.notify.List(userID, category, unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// UnreadCount handles GET /api/notifications/unread.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notify.UnreadCount(mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead handles POST /api/notifications/:id/read. Marking an already
// read or missing notification is a no-op.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := mw.GetUserID(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.notify.MarkAsRead(userID, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// MarkAllRead handles POST /api/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.notify.MarkAllAsRead(mw.GetUserID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// ClearAll handles DELETE /api/notifications.
func (h *NotificationHandler) ClearAll(c *gin.Context) {
	if err := h.notify.ClearAll(mw.GetUserID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
