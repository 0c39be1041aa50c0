package model

import (
	"time"

	"gorm.io/datatypes"
)

// Notification types.
const (
	NotifFriendRequest  = "friend_request"
	NotifFriendAccepted = "friend_request_accepted"
	NotifMessage        = "message"
	NotifGameInvite     = "game_invite"
	NotifSystem         = "system"
	NotifAchievement    = "achievement"
	NotifFollow         = "follow"
)

// Notification categories, derived from the type.
const (
	CategoryMessage = "message"
	CategoryFriend  = "friend"
	CategoryFollow  = "follow"
	CategorySystem  = "system"
)

// Notification is one entry in a user's feed. Category is a pure function
// of Type, stored denormalized so feed filters are a plain WHERE clause.
type Notification struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID   int64  `gorm:"index:idx_notif_user;not null" json:"user_id"`
	Type     string `gorm:"size:32;not null" json:"type"`
	Category string `gorm:"size:16;not null" json:"category"`
	Title    string `gorm:"size:128" json:"title"`
	Body     string `gorm:"size:255" json:"body"`

	// Data carries cross-references: sender id/name/avatar, related
	// request id, related conversation id.
	Data datatypes.JSON `json:"data"`

	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `gorm:"autoCreateTime:milli;index:idx_notif_created" json:"created_at"`
}

// NotificationCategory maps a notification type to its feed category.
// Unrecognized types fall back to system.
func NotificationCategory(typ string) string {
	switch typ {
	case NotifMessage:
		return CategoryMessage
	case NotifFriendRequest, NotifFriendAccepted:
		return CategoryFriend
	case NotifFollow:
		return CategoryFollow
	default:
		return CategorySystem
	}
}
