// Package messaging owns two-party conversations: lazy idempotent thread
// creation, message append, unread accounting, read receipts, reactions,
// and block-aware visibility tagging. Live delivery goes through the
// pub/sub layer; the SSE endpoint turns those channels into client streams.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/notify"
	"github.com/eroomgame/eroom-server/realtime"
	"github.com/eroomgame/eroom-server/social"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrEmptyMessage         = errors.New("messaging: empty message")
	ErrTooLong              = errors.New("messaging: message too long")
	ErrSelfConversation     = errors.New("messaging: cannot converse with yourself")
	ErrNotParticipant       = errors.New("messaging: not a participant")
	ErrConversationNotFound = errors.New("messaging: conversation not found")
	ErrMessageNotFound      = errors.New("messaging: message not found")
	ErrUserNotFound         = errors.New("messaging: user not found")
)

// Service owns the conversations and messages tables.
type Service struct {
	db          *gorm.DB
	cache       cache.Cache
	pubsub      cache.PubSub
	social      *social.Service
	notify      *notify.Service
	historySize int
	logger      *zap.Logger
}

// NewService creates a messaging Service. historySize bounds the cached
// recent-message list per conversation.
func NewService(db *gorm.DB, c cache.Cache, ps cache.PubSub, soc *social.Service, n *notify.Service, historySize int, logger *zap.Logger) *Service {
	if historySize <= 0 {
		historySize = 100
	}
	return &Service{
		db: db, cache: c, pubsub: ps,
		social: soc, notify: n,
		historySize: historySize, logger: logger,
	}
}

func historyKey(convID int64) string {
	return fmt.Sprintf("conv:%d:history", convID)
}

// GetOrCreateConversation returns the thread for the unordered user pair,
// creating it with zeroed unread counters and cached participant info on
// first message-intent. Idempotent in either argument order.
func (s *Service) GetOrCreateConversation(a, b int64) (*model.Conversation, error) {
	if a == b {
		return nil, ErrSelfConversation
	}
	key := model.PairKey(a, b)

	var conv model.Conversation
	err := s.db.Where("pair_key = ?", key).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	low, high := a, b
	if low > high {
		low, high = high, low
	}
	var userLow, userHigh model.User
	if err := s.db.First(&userLow, low).Error; err != nil {
		return nil, ErrUserNotFound
	}
	if err := s.db.First(&userHigh, high).Error; err != nil {
		return nil, ErrUserNotFound
	}

	participants, err := json.Marshal(map[string]model.ParticipantInfo{
		fmt.Sprintf("%d", low):  {Username: userLow.Username, DisplayName: userLow.DisplayName, AvatarURL: userLow.AvatarURL},
		fmt.Sprintf("%d", high): {Username: userHigh.Username, DisplayName: userHigh.DisplayName, AvatarURL: userHigh.AvatarURL},
	})
	if err != nil {
		return nil, err
	}

	conv = model.Conversation{
		PairKey:      key,
		LowID:        low,
		HighID:       high,
		Participants: datatypes.JSON(participants),
	}
	if err := s.db.Create(&conv).Error; err != nil {
		// Concurrent first-message-intent for the same pair: the unique
		// pair key makes one side lose, so fall back to the winner's row.
		var existing model.Conversation
		if ferr := s.db.Where("pair_key = ?", key).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &conv, nil
}

// Conversation loads a thread and verifies userID participates in it.
func (s *Service) Conversation(convID, userID int64) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.db.First(&conv, convID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return &conv, nil
}

// ListConversations returns userID's threads, most recently updated first.
func (s *Service) ListConversations(userID int64) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.Where("low_id = ? OR high_id = ?", userID, userID).
		Order("updated_at DESC").Find(&convs).Error
	return convs, err
}

// SendMessage appends a message, overwrites the conversation's lastMessage
// snapshot, and increments the other side's unread counter, atomically.
// Content is validated locally before any write. Messages between
// mutually-blocked parties still persist; suppression is render-side via
// the BlockedFor tag.
func (s *Service) SendMessage(ctx context.Context, convID, senderID int64, content, msgType string) (*model.Message, error) {
	conv, err := s.Conversation(convID, senderID)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len([]rune(content)) > model.MaxMessageRunes {
		return nil, ErrTooLong
	}
	if msgType == "" {
		msgType = model.MessageText
	}

	var sender model.User
	if err := s.db.First(&sender, senderID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	otherID := conv.Other(senderID)
	blockers, err := s.social.BlockersAmong(conv.LowID, conv.HighID)
	if err != nil {
		return nil, err
	}
	// Hidden from every participant who blocked the other party, except
	// the sender's own view of their message.
	blockedFor := make([]int64, 0, len(blockers))
	otherBlocked := false
	for _, id := range blockers {
		if id == senderID {
			continue
		}
		blockedFor = append(blockedFor, id)
		if id == otherID {
			otherBlocked = true
		}
	}

	now := time.Now()
	msg := &model.Message{
		ConversationID: convID,
		SenderID:       senderID,
		SenderName:     sender.Username,
		Content:        content,
		Type:           msgType,
		ReadBy:         model.EncodeIDs([]int64{senderID}),
	}
	if len(blockedFor) > 0 {
		msg.BlockedFor = model.EncodeIDs(blockedFor)
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Updates(map[string]interface{}{
				"last_content":            content,
				"last_sender_id":          senderID,
				"last_type":               msgType,
				"last_sent_at":            now,
				conv.UnreadColumn(otherID): gorm.Expr(conv.UnreadColumn(otherID) + " + 1"),
			}).Error
	}); err != nil {
		return nil, err
	}

	s.cacheRecent(ctx, convID, msg)
	s.publishMessage(ctx, conv, msg)

	// The blocker asked not to see the sender; skip their notification too.
	if !otherBlocked {
		_, nerr := s.notify.Create(ctx, otherID, model.NotifMessage,
			"New message", sender.DisplayName+" sent you a message",
			map[string]interface{}{
				"conversation_id": convID,
				"sender_id":       senderID,
				"sender_name":     sender.Username,
				"avatar_url":      sender.AvatarURL,
			})
		if nerr != nil {
			s.logger.Warn("message notification failed", zap.Int64("user_id", otherID), zap.Error(nerr))
		}
	}
	return msg, nil
}

// Messages returns up to limit of the thread's newest messages, ascending
// by creation time. beforeID pages backwards: only messages with a smaller
// id are returned, so a client walks older history one page at a time.
// BlockedFor tags ride along; VisibleTo filters for one participant.
func (s *Service) Messages(convID, userID int64, limit int, beforeID int64) ([]model.Message, error) {
	if _, err := s.Conversation(convID, userID); err != nil {
		return nil, err
	}
	// Newest-first so a limited page anchors at the tail, then reversed
	// back to ascending for rendering.
	q := s.db.Where("conversation_id = ?", convID).Order("id DESC")
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []model.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// VisibleTo drops messages tagged hidden for userID. History from before a
// block stays visible; only messages tagged at send time disappear.
func VisibleTo(msgs []model.Message, userID int64) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.HiddenFrom(userID) {
			out = append(out, m)
		}
	}
	return out
}

// MarkMessagesAsRead zeroes userID's unread counter and adds userID to the
// ReadBy set of every unread message addressed to them. Invoked when a
// user opens or focuses a thread. Idempotent; the other counter is
// untouched.
func (s *Service) MarkMessagesAsRead(ctx context.Context, convID, userID int64) error {
	conv, err := s.Conversation(convID, userID)
	if err != nil {
		return err
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Update(conv.UnreadColumn(userID), 0).Error; err != nil {
			return err
		}
		var msgs []model.Message
		if err := tx.Where("conversation_id = ? AND sender_id <> ?", convID, userID).
			Find(&msgs).Error; err != nil {
			return err
		}
		for i := range msgs {
			ids := msgs[i].ReadByIDs()
			if containsID(ids, userID) {
				continue
			}
			ids = append(ids, userID)
			if err := tx.Model(&msgs[i]).Update("read_by", model.EncodeIDs(ids)).Error; err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := realtime.Publish(ctx, s.pubsub, realtime.ConversationChannel(convID), realtime.Event{
		Type: realtime.EventRead,
		Data: map[string]interface{}{"conversation_id": convID, "user_id": userID},
	}); err != nil {
		s.logger.Warn("read receipt push failed", zap.Int64("conv_id", convID), zap.Error(err))
	}
	return nil
}

// AddReaction appends an emoji reaction to a message. One user may react
// multiple times with different emoji; re-sending the same emoji is a
// no-op.
func (s *Service) AddReaction(ctx context.Context, msgID, userID int64, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ErrEmptyMessage
	}
	var msg model.Message
	if err := s.db.First(&msg, msgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if _, err := s.Conversation(msg.ConversationID, userID); err != nil {
		return err
	}

	reactions := msg.ReactionList()
	for _, r := range reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return nil
		}
	}
	reactions = append(reactions, model.Reaction{UserID: userID, Emoji: emoji, At: time.Now()})
	encoded, err := json.Marshal(reactions)
	if err != nil {
		return err
	}
	if err := s.db.Model(&msg).Update("reactions", datatypes.JSON(encoded)).Error; err != nil {
		return err
	}

	if err := realtime.Publish(ctx, s.pubsub, realtime.ConversationChannel(msg.ConversationID), realtime.Event{
		Type: realtime.EventReaction,
		Data: map[string]interface{}{"message_id": msgID, "user_id": userID, "emoji": emoji},
	}); err != nil {
		s.logger.Warn("reaction push failed", zap.Int64("message_id", msgID), zap.Error(err))
	}
	return nil
}

// RecentHistory returns the cached tail of a conversation, newest first.
// Misses are not an error; callers fall back to the DB.
func (s *Service) RecentHistory(ctx context.Context, convID int64, count int64) []model.Message {
	raw, err := s.cache.LRange(ctx, historyKey(convID), 0, count-1)
	if err != nil {
		return nil
	}
	msgs := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		var m model.Message
		if json.Unmarshal([]byte(r), &m) == nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func (s *Service) cacheRecent(ctx context.Context, convID int64, msg *model.Message) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := historyKey(convID)
	if err := s.cache.LPush(ctx, key, string(encoded)); err != nil {
		return
	}
	_ = s.cache.LTrim(ctx, key, 0, int64(s.historySize)-1)
}

func (s *Service) publishMessage(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	if err := realtime.Publish(ctx, s.pubsub, realtime.ConversationChannel(conv.ID), realtime.Event{
		Type: realtime.EventMessage,
		Data: msg,
	}); err != nil {
		s.logger.Warn("message push failed", zap.Int64("conv_id", conv.ID), zap.Error(err))
	}
	for _, uid := range []int64{conv.LowID, conv.HighID} {
		if err := realtime.Publish(ctx, s.pubsub, realtime.UserChannel(uid), realtime.Event{
			Type: realtime.EventConversation,
			Data: map[string]interface{}{"conversation_id": conv.ID},
		}); err != nil {
			s.logger.Warn("conversation push failed", zap.Int64("user_id", uid), zap.Error(err))
		}
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
