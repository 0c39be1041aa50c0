package rest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/eroomgame/eroom-server/api/rest"
	"github.com/eroomgame/eroom-server/config"
	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/notify"
	"github.com/eroomgame/eroom-server/profile"
	"github.com/eroomgame/eroom-server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNotifySetup(t *testing.T) (r *gin.Engine, svc *notify.Service, userID int64, token string) {
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	sec := testSecurity()
	logger := zap.NewNop()

	profiles := profile.NewService(db, logger)
	svc = notify.NewService(db, ps, logger)
	authH := rest.NewAuthHandler(db, profiles, c, sec, config.SocialConfig{}, logger)
	notifH := rest.NewNotificationHandler(svc)

	r = gin.New()
	r.POST("/api/auth/register", authH.Register)
	g := r.Group("/api/notifications", mw.Auth(sec, c))
	g.GET("", notifH.List)
	g.GET("/unread", notifH.UnreadCount)
	g.POST("/:id/read", notifH.MarkRead)
	g.POST("/read-all", notifH.MarkAllRead)
	g.DELETE("", notifH.ClearAll)

	userID, token = registerUser(t, r, "notifuser", "notifuser@example.com")
	return r, svc, userID, token
}

func seedNotification(t *testing.T, svc *notify.Service, userID int64, typ string) *model.Notification {
	t.Helper()
	n, err := svc.Create(context.Background(), userID, typ, "title", "body", nil)
	require.NoError(t, err)
	return n
}

func TestNotificationsList(t *testing.T) {
	r, svc, userID, token := newNotifySetup(t)
	seedNotification(t, svc, userID, model.NotifFollow)
	seedNotification(t, svc, userID, model.NotifMessage)

	w := getJSON(r, "/api/notifications", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Notifications []struct {
			Type     string `json:"type"`
			Category string `json:"category"`
		} `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Notifications, 2)
}

func TestNotificationsList_CategoryFilter(t *testing.T) {
	r, svc, userID, token := newNotifySetup(t)
	seedNotification(t, svc, userID, model.NotifFollow)
	seedNotification(t, svc, userID, model.NotifMessage)

	w := getJSON(r, "/api/notifications?category="+model.CategoryMessage,
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Notifications []struct {
			Type string `json:"type"`
		} `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, model.NotifMessage, resp.Notifications[0].Type)
}

func TestNotificationsUnreadCount(t *testing.T) {
	r, svc, userID, token := newNotifySetup(t)
	seedNotification(t, svc, userID, model.NotifFollow)
	n := seedNotification(t, svc, userID, model.NotifMessage)

	w := getJSON(r, "/api/notifications/unread", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["count"])

	w2 := postJSON(r, fmt.Sprintf("/api/notifications/%d/read", n.ID), nil,
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w2.Code)

	w3 := getJSON(r, "/api/notifications/unread", "Authorization", "Bearer "+token)
	require.NoError(t, json.Unmarshal(w3.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["count"])
}

func TestNotificationsMarkRead_MissingIsNoop(t *testing.T) {
	r, _, _, token := newNotifySetup(t)

	w := postJSON(r, "/api/notifications/9999/read", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotificationsMarkAllRead(t *testing.T) {
	r, svc, userID, token := newNotifySetup(t)
	seedNotification(t, svc, userID, model.NotifFollow)
	seedNotification(t, svc, userID, model.NotifFriendRequest)

	w := postJSON(r, "/api/notifications/read-all", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	w2 := getJSON(r, "/api/notifications/unread", "Authorization", "Bearer "+token)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	assert.Equal(t, float64(0), resp["count"])
}

func TestNotificationsClearAll(t *testing.T) {
	r, svc, userID, token := newNotifySetup(t)
	seedNotification(t, svc, userID, model.NotifFollow)

	w := doJSON(r, http.MethodDelete, "/api/notifications", nil,
		"Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)

	w2 := getJSON(r, "/api/notifications", "Authorization", "Bearer "+token)
	var resp struct {
		Notifications []json.RawMessage `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	assert.Len(t, resp.Notifications, 0)
}

func TestNotifications_ScopedToOwner(t *testing.T) {
	r, svc, userID, _ := newNotifySetup(t)
	seedNotification(t, svc, userID, model.NotifFollow)
	_, otherToken := registerUser(t, r, "someoneelse", "someoneelse@example.com")

	w := getJSON(r, "/api/notifications", "Authorization", "Bearer "+otherToken)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Notifications []json.RawMessage `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Notifications, 0)
}
