package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/eroomgame/eroom-server/audit"
	"github.com/eroomgame/eroom-server/cache"
	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/realtime"
	"github.com/eroomgame/eroom-server/social"
	"github.com/gin-gonic/gin"
)

// SocialHandler handles follow/friend/block REST endpoints.
type SocialHandler struct {
	social *social.Service
	cache  cache.Cache
	audit  *audit.Service
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(soc *social.Service, c cache.Cache, a *audit.Service) *SocialHandler {
	return &SocialHandler{social: soc, cache: c, audit: a}
}

// friendView is a friend-list entry with live presence.
type friendView struct {
	model.PublicProfile
	Online bool `json:"online"`
}

// ListFriends handles GET /api/social/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	userID := mw.GetUserID(c)
	friends, err := h.social.Friends(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	result := make([]friendView, len(friends))
	for i, f := range friends {
		online, _ := h.cache.SIsMember(ctx, realtime.OnlineSetKey, strconv.FormatInt(f.ID, 10))
		result[i] = friendView{PublicProfile: f.Public(), Online: online}
	}
	c.JSON(http.StatusOK, gin.H{"friends": result})
}

// ListFollowers handles GET /api/social/followers.
func (h *SocialHandler) ListFollowers(c *gin.Context) {
	h.listEdge(c, h.social.Followers, "followers")
}

// ListFollowing handles GET /api/social/following.
func (h *SocialHandler) ListFollowing(c *gin.Context) {
	h.listEdge(c, h.social.Following, "following")
}

// ListBlocked handles GET /api/social/blocked.
func (h *SocialHandler) ListBlocked(c *gin.Context) {
	h.listEdge(c, h.social.Blocked, "blocked")
}

func (h *SocialHandler) listEdge(c *gin.Context, fetch func(int64) ([]model.User, error), key string) {
	users, err := fetch(mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	result := make([]model.PublicProfile, len(users))
	for i, u := range users {
		result[i] = u.Public()
	}
	c.JSON(http.StatusOK, gin.H{key: result})
}

// Follow handles POST /api/social/follow/:id.
func (h *SocialHandler) Follow(c *gin.Context) {
	userID := mw.GetUserID(c)
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	err = h.social.Follow(c.Request.Context(), userID, targetID)
	h.logAction(c, userID, "follow", targetID, err)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "following"})
	case errors.Is(err, social.ErrSelfRelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot follow yourself"})
	case errors.Is(err, social.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Unfollow handles DELETE /api/social/follow/:id.
func (h *SocialHandler) Unfollow(c *gin.Context) {
	userID := mw.GetUserID(c)
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	err = h.social.Unfollow(userID, targetID)
	h.logAction(c, userID, "unfollow", targetID, err)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "unfollowed"})
	case errors.Is(err, social.ErrSelfRelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot unfollow yourself"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type friendRequestBody struct {
	RecipientID int64  `json:"recipient_id" binding:"required"`
	Message     string `json:"message" binding:"max=255"`
}

// SendFriendRequest handles POST /api/social/friends/request.
func (h *SocialHandler) SendFriendRequest(c *gin.Context) {
	userID := mw.GetUserID(c)
	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fr, err := h.social.SendFriendRequest(c.Request.Context(), userID, req.RecipientID, req.Message)
	h.logAction(c, userID, "friend_request", req.RecipientID, err)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"request": fr})
	case errors.Is(err, social.ErrSelfRelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot friend yourself"})
	case errors.Is(err, social.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, social.ErrAlreadyFriends):
		c.JSON(http.StatusConflict, gin.H{"error": "already friends"})
	case errors.Is(err, social.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": "a request is already pending"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ListFriendRequests handles GET /api/social/friends/requests: the
// caller's pending incoming requests.
func (h *SocialHandler) ListFriendRequests(c *gin.Context) {
	reqs, err := h.social.PendingRequests(mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

type respondBody struct {
	Accept bool `json:"accept"`
}

// RespondFriendRequest handles POST /api/social/friends/requests/:id.
func (h *SocialHandler) RespondFriendRequest(c *gin.Context) {
	userID := mw.GetUserID(c)
	reqID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body respondBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.social.RespondToFriendRequest(c.Request.Context(), reqID, userID, body.Accept)
	h.logAction(c, userID, "friend_respond", reqID, err)
	switch {
	case err == nil && body.Accept:
		c.JSON(http.StatusOK, gin.H{"message": "accepted"})
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "rejected"})
	case errors.Is(err, social.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// RemoveFriend handles DELETE /api/social/friends/:id.
func (h *SocialHandler) RemoveFriend(c *gin.Context) {
	userID := mw.GetUserID(c)
	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	err = h.social.RemoveFriend(userID, otherID)
	h.logAction(c, userID, "friend_remove", otherID, err)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "removed"})
	case errors.Is(err, social.ErrSelfRelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ToggleBlock handles POST /api/social/block/:id. The client confirms
// with the user before calling; blocking does not unfollow or unfriend.
func (h *SocialHandler) ToggleBlock(c *gin.Context) {
	userID := mw.GetUserID(c)
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	blocked, err := h.social.ToggleBlock(userID, targetID)
	h.logAction(c, userID, "toggle_block", targetID, err)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"blocked": blocked})
	case errors.Is(err, social.ErrSelfRelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot block yourself"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *SocialHandler) logAction(c *gin.Context, userID int64, action string, targetID int64, err error) {
	entry := audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  &userID,
		Action:  action,
		Request: map[string]int64{"target_id": targetID},
		IP:      c.ClientIP(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}
