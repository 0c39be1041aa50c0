package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/eroomgame/eroom-server/audit"
	"github.com/eroomgame/eroom-server/messaging"
	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/social"
	"github.com/gin-gonic/gin"
)

// ConversationHandler handles direct-message REST endpoints.
type ConversationHandler struct {
	messaging *messaging.Service
	social    *social.Service
	audit     *audit.Service
	pageSize  int
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(msg *messaging.Service, soc *social.Service, a *audit.Service, pageSize int) *ConversationHandler {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ConversationHandler{messaging: msg, social: soc, audit: a, pageSize: pageSize}
}

// conversationView is one conversation rendered for a specific viewer:
// the other participant's info, the viewer's unread count, and which
// participants currently block the other side. Blocked is the viewer's
// own direction, kept alongside BlockedBy for cheap client checks.
type conversationView struct {
	ID           int64                  `json:"id"`
	Other        *model.ParticipantInfo `json:"other,omitempty"`
	OtherID      int64                  `json:"other_id"`
	LastContent  string                 `json:"last_content"`
	LastSenderID int64                  `json:"last_sender_id"`
	LastType     string                 `json:"last_type"`
	LastSentAt   *int64                 `json:"last_sent_at,omitempty"`
	Unread       int                    `json:"unread"`
	Blocked      bool                   `json:"blocked"`
	BlockedBy    []int64                `json:"blocked_by"`
	UpdatedAt    int64                  `json:"updated_at"`
}

func (h *ConversationHandler) render(conv *model.Conversation, viewerID int64) conversationView {
	otherID := conv.Other(viewerID)
	view := conversationView{
		ID:           conv.ID,
		OtherID:      otherID,
		LastContent:  conv.LastContent,
		LastSenderID: conv.LastSenderID,
		LastType:     conv.LastType,
		Unread:       conv.UnreadFor(viewerID),
		BlockedBy:    []int64{},
		UpdatedAt:    conv.UpdatedAt.UnixMilli(),
	}
	if conv.LastSentAt != nil {
		ms := conv.LastSentAt.UnixMilli()
		view.LastSentAt = &ms
	}
	if info, ok := conv.ParticipantMap()[strconv.FormatInt(otherID, 10)]; ok {
		view.Other = &info
	}
	if blockers, err := h.social.BlockersAmong(viewerID, otherID); err == nil {
		view.BlockedBy = blockers
		for _, id := range blockers {
			if id == viewerID {
				view.Blocked = true
			}
		}
	}
	// The viewer's blocked relationship suppresses the preview, not the
	// thread itself.
	if view.Blocked {
		view.LastContent = ""
	}
	return view
}

type openBody struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// Open handles POST /api/conversations: get or create the thread with
// another user.
func (h *ConversationHandler) Open(c *gin.Context) {
	userID := mw.GetUserID(c)
	var body openBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.messaging.GetOrCreateConversation(userID, body.UserID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"conversation": h.render(conv, userID)})
	case errors.Is(err, messaging.ErrSelfConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
	case errors.Is(err, messaging.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// List handles GET /api/conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)
	convs, err := h.messaging.ListConversations(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	views := make([]conversationView, len(convs))
	for i := range convs {
		views[i] = h.render(&convs[i], userID)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// Get handles GET /api/conversations/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	userID := mw.GetUserID(c)
	convID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	conv, err := h.messaging.Conversation(convID, userID)
	if err != nil {
		h.writeThreadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": h.render(conv, userID)})
}

// Messages handles GET /api/conversations/:id/messages. The page holds
// the newest messages; ?before=<msg_id> walks older history. Messages
// tagged as hidden for the viewer are filtered out before rendering.
func (h *ConversationHandler) Messages(c *gin.Context) {
	userID := mw.GetUserID(c)
	convID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	limit := h.pageSize
	if v := c.Query("limit"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var beforeID int64
	if v := c.Query("before"); v != "" {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil && n > 0 {
			beforeID = n
		}
	}

	msgs, err := h.messaging.Messages(convID, userID, limit, beforeID)
	if err != nil {
		h.writeThreadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messaging.VisibleTo(msgs, userID)})
}

type sendBody struct {
	Content string `json:"content" binding:"required"`
	Type    string `json:"type"`
}

// Send handles POST /api/conversations/:id/messages.
func (h *ConversationHandler) Send(c *gin.Context) {
	userID := mw.GetUserID(c)
	convID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body sendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messaging.SendMessage(c.Request.Context(), convID, userID, body.Content, body.Type)
	h.audit.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  &userID,
		Action:  "send_message",
		Request: map[string]interface{}{"conversation_id": convID, "type": body.Type},
		IP:      c.ClientIP(),
		Error:   errString(err),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	case errors.Is(err, messaging.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
	case errors.Is(err, messaging.ErrTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message exceeds 1000 characters"})
	default:
		h.writeThreadError(c, err)
	}
}

// MarkRead handles POST /api/conversations/:id/read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userID := mw.GetUserID(c)
	convID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.messaging.MarkMessagesAsRead(c.Request.Context(), convID, userID); err != nil {
		h.writeThreadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

type reactionBody struct {
	Emoji string `json:"emoji" binding:"required,max=16"`
}

// React handles POST /api/conversations/:id/messages/:msg_id/reactions.
func (h *ConversationHandler) React(c *gin.Context) {
	userID := mw.GetUserID(c)
	msgID, err := strconv.ParseInt(c.Param("msg_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body reactionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.messaging.AddReaction(c.Request.Context(), msgID, userID, body.Emoji)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	case errors.Is(err, messaging.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, messaging.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// History handles GET /api/conversations/:id/history: the cached recent
// tail, cheaper than a DB page for the initial render.
func (h *ConversationHandler) History(c *gin.Context) {
	userID := mw.GetUserID(c)
	convID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if _, err := h.messaging.Conversation(convID, userID); err != nil {
		h.writeThreadError(c, err)
		return
	}
	msgs := h.messaging.RecentHistory(c.Request.Context(), convID, int64(h.pageSize))
	c.JSON(http.StatusOK, gin.H{"messages": messaging.VisibleTo(msgs, userID)})
}

func (h *ConversationHandler) writeThreadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messaging.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, messaging.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
