package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/config"
	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles the SSE event stream.
type Handler struct {
	pubsub cache.PubSub
	sec    config.SecurityConfig
	c      cache.Cache
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, sec: sec, logger: logger}
}

// ServeEvents handles GET /events?token=<jwt>[&conversation=<id>].
// EventSource cannot set headers, so the token travels as a query param.
// The stream carries the user's channel (notifications, conversation list
// updates, read receipts). Passing ?conversation= additionally subscribes
// to one thread's live message channel.
func (h *Handler) ServeEvents(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, mw.SessionKey(tokenStr))
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}
	userID := claims.UserID

	channels := []string{realtime.UserChannel(userID)}
	if convParam := c.Query("conversation"); convParam != "" {
		convID, perr := strconv.ParseInt(convParam, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation"})
			return
		}
		channels = append(channels, realtime.ConversationChannel(convID))
	}

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, channels...)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	h.setOnline(userID, true)
	defer h.setOnline(userID, false)

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			h.writeEvent(c, msg.Payload)

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeEvent unwraps the event envelope so clients can addEventListener
// on the event type instead of switching on a payload field.
func (h *Handler) writeEvent(c *gin.Context, payload string) {
	var ev realtime.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Type == "" {
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		c.Writer.Flush()
		return
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
	c.Writer.Flush()
}

// setOnline maintains the presence roster. Best effort; a stale entry is
// corrected the next time the user connects or disconnects.
func (h *Handler) setOnline(userID int64, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	member := strconv.FormatInt(userID, 10)
	var err error
	if online {
		err = h.c.SAdd(ctx, realtime.OnlineSetKey, member)
	} else {
		err = h.c.SRem(ctx, realtime.OnlineSetKey, member)
	}
	if err != nil {
		h.logger.Warn("presence update failed",
			zap.Int64("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
}
