package rest

import (
	"net/http"
	"strconv"

	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/realtime"
	"github.com/eroomgame/eroom-server/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, c cache.Cache, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, cache: c, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var users, conversations, messages, pending int64
	h.db.Model(&model.User{}).Count(&users)
	h.db.Model(&model.Conversation{}).Count(&conversations)
	h.db.Model(&model.Message{}).Count(&messages)
	h.db.Model(&model.FriendRequest{}).
		Where("status = ?", model.RequestPending).Count(&pending)

	online, _ := h.cache.SMembers(c.Request.Context(), realtime.OnlineSetKey)

	c.JSON(http.StatusOK, gin.H{
		"users":            users,
		"conversations":    conversations,
		"messages":         messages,
		"pending_requests": pending,
		"online_users":     len(online),
		"scheduler_tasks":  h.sched.ListTickers(),
	})
}

// ListOnline returns the IDs of users with an open event stream.
// GET /api/admin/online
func (h *AdminHandler) ListOnline(c *gin.Context) {
	members, err := h.cache.SMembers(c.Request.Context(), realtime.OnlineSetKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, perr := strconv.ParseInt(m, 10, 64); perr == nil {
			ids = append(ids, id)
		}
	}
	c.JSON(http.StatusOK, gin.H{"online": ids, "count": len(ids)})
}

// BanAccount bans or unbans a user account.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := model.StatusNormal
	if req.Ban {
		status = model.StatusBanned
	}
	result := h.db.Model(&model.User{}).Where("id = ?", userID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	h.logger.Info("admin updated account status",
		zap.Int64("user_id", userID), zap.Int("status", status))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
