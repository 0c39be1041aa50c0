// Package social mutates the follow/friend/block graph. Every two-sided
// change (follow counters, friendship pairs) is written in a single DB
// transaction; the reconcile job backstops anything that still drifts.
package social

import (
	"context"
	"errors"
	"time"

	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSelfRelation     = errors.New("social: cannot target yourself")
	ErrUserNotFound     = errors.New("social: user not found")
	ErrAlreadyFriends   = errors.New("social: already friends")
	ErrDuplicateRequest = errors.New("social: friend request already pending")
	ErrRequestNotFound  = errors.New("social: friend request not found")
)

// Service owns the relationship edge tables and the denormalized counters.
type Service struct {
	db     *gorm.DB
	notify *notify.Service
	logger *zap.Logger
}

// NewService creates a social Service.
func NewService(db *gorm.DB, n *notify.Service, logger *zap.Logger) *Service {
	return &Service{db: db, notify: n, logger: logger}
}

// Follow adds a directional follow edge and bumps both counters.
// Idempotent: following an already-followed user is a no-op.
func (s *Service) Follow(ctx context.Context, followerID, targetID int64) error {
	if followerID == targetID {
		return ErrSelfRelation
	}
	follower, target, err := s.loadPair(followerID, targetID)
	if err != nil {
		return err
	}

	var existing model.Follow
	err = s.db.Where("follower_id = ? AND target_id = ?", followerID, targetID).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model.Follow{FollowerID: followerID, TargetID: targetID}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.User{}).Where("id = ?", followerID).
			Update("following_count", gorm.Expr("following_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ?", targetID).
			Update("follower_count", gorm.Expr("follower_count + 1")).Error
	}); err != nil {
		return err
	}

	_, nerr := s.notify.Create(ctx, targetID, model.NotifFollow,
		"New follower", follower.DisplayName+" started following you",
		map[string]interface{}{
			"sender_id":   follower.ID,
			"sender_name": follower.Username,
			"avatar_url":  follower.AvatarURL,
		})
	if nerr != nil {
		s.logger.Warn("follow notification failed", zap.Int64("target", target.ID), zap.Error(nerr))
	}
	return nil
}

// Unfollow removes the follow edge. Idempotent no-op if not following.
func (s *Service) Unfollow(followerID, targetID int64) error {
	if followerID == targetID {
		return ErrSelfRelation
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND target_id = ?", followerID, targetID).
			Delete(&model.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&model.User{}).Where("id = ? AND following_count > 0", followerID).
			Update("following_count", gorm.Expr("following_count - 1")).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ? AND follower_count > 0", targetID).
			Update("follower_count", gorm.Expr("follower_count - 1")).Error
	})
}

// IsFollowing reports whether follower follows target.
func (s *Service) IsFollowing(followerID, targetID int64) (bool, error) {
	var n int64
	err := s.db.Model(&model.Follow{}).
		Where("follower_id = ? AND target_id = ?", followerID, targetID).
		Count(&n).Error
	return n > 0, err
}

// AreFriends reports whether the pair holds an accepted friendship (the
// a→b direction is authoritative; the reconciler keeps both in step).
func (s *Service) AreFriends(a, b int64) (bool, error) {
	var n int64
	err := s.db.Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id = ?", a, b).
		Count(&n).Error
	return n > 0, err
}

// SendFriendRequest creates a pending request from sender to recipient and
// notifies the recipient. Fails when already friends, or when a pending
// request already exists in either direction.
func (s *Service) SendFriendRequest(ctx context.Context, senderID, recipientID int64, message string) (*model.FriendRequest, error) {
	if senderID == recipientID {
		return nil, ErrSelfRelation
	}
	sender, _, err := s.loadPair(senderID, recipientID)
	if err != nil {
		return nil, err
	}

	friends, err := s.AreFriends(senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, ErrAlreadyFriends
	}

	var pending int64
	err = s.db.Model(&model.FriendRequest{}).
		Where("status = ? AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
			model.RequestPending, senderID, recipientID, recipientID, senderID).
		Count(&pending).Error
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, ErrDuplicateRequest
	}

	req := &model.FriendRequest{
		SenderID:    senderID,
		SenderName:  sender.Username,
		RecipientID: recipientID,
		Message:     message,
		Status:      model.RequestPending,
	}
	if err := s.db.Create(req).Error; err != nil {
		return nil, err
	}

	_, nerr := s.notify.Create(ctx, recipientID, model.NotifFriendRequest,
		"Friend request", sender.DisplayName+" wants to be your friend",
		map[string]interface{}{
			"request_id":  req.ID,
			"sender_id":   sender.ID,
			"sender_name": sender.Username,
			"avatar_url":  sender.AvatarURL,
			"message":     message,
		})
	if nerr != nil {
		s.logger.Warn("friend request notification failed", zap.Int64("recipient", recipientID), zap.Error(nerr))
	}
	return req, nil
}

// RespondToFriendRequest transitions a pending request addressed to userID
// to accepted or rejected. Accepting writes both friendship directions and
// both friendCount counters in one transaction, then notifies the sender.
// Rejecting keeps the request as a record and mutates nothing else.
func (s *Service) RespondToFriendRequest(ctx context.Context, requestID, userID int64, accept bool) error {
	var req model.FriendRequest
	err := s.db.Where("id = ? AND recipient_id = ? AND status = ?",
		requestID, userID, model.RequestPending).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()
	if !accept {
		return s.db.Model(&req).Updates(map[string]interface{}{
			"status":       model.RequestRejected,
			"responded_at": now,
		}).Error
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&req).Updates(map[string]interface{}{
			"status":       model.RequestAccepted,
			"responded_at": now,
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.Friendship{UserID: req.SenderID, FriendID: req.RecipientID}).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.Friendship{UserID: req.RecipientID, FriendID: req.SenderID}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.User{}).Where("id = ?", req.SenderID).
			Update("friend_count", gorm.Expr("friend_count + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ?", req.RecipientID).
			Update("friend_count", gorm.Expr("friend_count + 1")).Error
	}); err != nil {
		return err
	}

	recipient, err := s.userByID(req.RecipientID)
	if err == nil {
		_, nerr := s.notify.Create(ctx, req.SenderID, model.NotifFriendAccepted,
			"Friend request accepted", recipient.DisplayName+" accepted your friend request",
			map[string]interface{}{
				"request_id":  req.ID,
				"sender_id":   recipient.ID,
				"sender_name": recipient.Username,
				"avatar_url":  recipient.AvatarURL,
			})
		if nerr != nil {
			s.logger.Warn("accept notification failed", zap.Int64("sender", req.SenderID), zap.Error(nerr))
		}
	}
	return nil
}

// RemoveFriend deletes both friendship directions and decrements both
// counters. Idempotent if the pair is not currently friends.
func (s *Service) RemoveFriend(userID, otherID int64) error {
	if userID == otherID {
		return ErrSelfRelation
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			userID, otherID, otherID, userID).Delete(&model.Friendship{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&model.User{}).Where("id = ? AND friend_count > 0", userID).
			Update("friend_count", gorm.Expr("friend_count - 1")).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ? AND friend_count > 0", otherID).
			Update("friend_count", gorm.Expr("friend_count - 1")).Error
	})
}

// ToggleBlock flips targetID's membership in userID's block set and
// reports the new state. Blocking does not cascade to follow or friend
// edges; messaging reads the block table when tagging message visibility.
func (s *Service) ToggleBlock(userID, targetID int64) (blocked bool, err error) {
	if userID == targetID {
		return false, ErrSelfRelation
	}
	var existing model.Block
	err = s.db.Where("blocker_id = ? AND target_id = ?", userID, targetID).
		First(&existing).Error
	if err == nil {
		if err := s.db.Delete(&existing).Error; err != nil {
			return true, err
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := s.db.Create(&model.Block{BlockerID: userID, TargetID: targetID}).Error; err != nil {
		return false, err
	}
	return true, nil
}

// HasBlocked reports whether blocker has blocked target.
func (s *Service) HasBlocked(blockerID, targetID int64) (bool, error) {
	var n int64
	err := s.db.Model(&model.Block{}).
		Where("blocker_id = ? AND target_id = ?", blockerID, targetID).
		Count(&n).Error
	return n > 0, err
}

// BlockersAmong returns which of a and b currently block the other. Used
// by messaging to compute per-message visibility tags.
func (s *Service) BlockersAmong(a, b int64) ([]int64, error) {
	var rows []model.Block
	err := s.db.Where("(blocker_id = ? AND target_id = ?) OR (blocker_id = ? AND target_id = ?)",
		a, b, b, a).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	blockers := make([]int64, 0, len(rows))
	for _, r := range rows {
		blockers = append(blockers, r.BlockerID)
	}
	return blockers, nil
}

// Followers lists the users following userID.
func (s *Service) Followers(userID int64) ([]model.User, error) {
	return s.edgeUsers("JOIN follows ON follows.follower_id = users.id AND follows.target_id = ?", userID)
}

// Following lists the users userID follows.
func (s *Service) Following(userID int64) ([]model.User, error) {
	return s.edgeUsers("JOIN follows ON follows.target_id = users.id AND follows.follower_id = ?", userID)
}

// Friends lists userID's friends.
func (s *Service) Friends(userID int64) ([]model.User, error) {
	return s.edgeUsers("JOIN friendships ON friendships.friend_id = users.id AND friendships.user_id = ?", userID)
}

// Blocked lists the users userID has blocked.
func (s *Service) Blocked(userID int64) ([]model.User, error) {
	return s.edgeUsers("JOIN blocks ON blocks.target_id = users.id AND blocks.blocker_id = ?", userID)
}

// PendingRequests lists the pending requests addressed to userID, newest
// first.
func (s *Service) PendingRequests(userID int64) ([]model.FriendRequest, error) {
	var reqs []model.FriendRequest
	err := s.db.Where("recipient_id = ? AND status = ?", userID, model.RequestPending).
		Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}

func (s *Service) edgeUsers(join string, userID int64) ([]model.User, error) {
	var users []model.User
	err := s.db.Model(&model.User{}).Joins(join, userID).Find(&users).Error
	return users, err
}

func (s *Service) loadPair(a, b int64) (*model.User, *model.User, error) {
	ua, err := s.userByID(a)
	if err != nil {
		return nil, nil, err
	}
	ub, err := s.userByID(b)
	if err != nil {
		return nil, nil, err
	}
	return ua, ub, nil
}

func (s *Service) userByID(id int64) (*model.User, error) {
	var u model.User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
