// Package notify maintains the per-user notification feed. Entries are
// created as side effects of social and messaging mutations and only ever
// mutate by being marked read, until an explicit clear-all.
package notify

import (
	"context"
	"encoding/json"

	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/realtime"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service owns the notifications table and pushes feed events.
type Service struct {
	db     *gorm.DB
	pubsub cache.PubSub
	logger *zap.Logger
}

// NewService creates a notification Service.
func NewService(db *gorm.DB, ps cache.PubSub, logger *zap.Logger) *Service {
	return &Service{db: db, pubsub: ps, logger: logger}
}

// Create appends a notification to userID's feed and pushes it on the
// user's event channel. The category is derived from the type.
func (s *Service) Create(ctx context.Context, userID int64, typ, title, body string, data map[string]interface{}) (*model.Notification, error) {
	var payload datatypes.JSON
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		payload = datatypes.JSON(b)
	}
	n := &model.Notification{
		UserID:   userID,
		Type:     typ,
		Category: model.NotificationCategory(typ),
		Title:    title,
		Body:     body,
		Data:     payload,
	}
	if err := s.db.Create(n).Error; err != nil {
		return nil, err
	}
	if err := realtime.Publish(ctx, s.pubsub, realtime.UserChannel(userID), realtime.Event{
		Type: realtime.EventNotification,
		Data: n,
	}); err != nil {
		s.logger.Warn("notification push failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return n, nil
}

// List returns userID's notifications newest first, optionally filtered by
// category and/or unread state.
func (s *Service) List(userID int64, category string, unreadOnly bool) ([]model.Notification, error) {
	q := s.db.Where("user_id = ?", userID)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var ns []model.Notification
	if err := q.Order("created_at DESC").Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

// UnreadCount returns the number of unread notifications for userID.
func (s *Service) UnreadCount(userID int64) (int64, error) {
	var n int64
	err := s.db.Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	return n, err
}

// MarkAsRead marks one notification read. Idempotent: marking an
// already-read or missing notification is not an error.
func (s *Service) MarkAsRead(userID, id int64) error {
	return s.db.Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true).Error
}

// MarkAllAsRead marks every notification of userID read. Idempotent.
func (s *Service) MarkAllAsRead(userID int64) error {
	return s.db.Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
}

// ClearAll bulk-removes all of userID's notifications. Irreversible.
func (s *Service) ClearAll(userID int64) error {
	return s.db.Where("user_id = ?", userID).Delete(&model.Notification{}).Error
}
