package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Message types.
const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageSystem = "system"
)

// ParticipantInfo is the display info cached on a conversation for each of
// its two participants, so conversation lists render without user lookups.
type ParticipantInfo struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Conversation is a two-party message thread. The participant pair is
// stored canonically (LowID < HighID) with a unique PairKey, so requesting
// the thread for an existing pair in either argument order resolves to the
// same row instead of creating a duplicate.
type Conversation struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PairKey string `gorm:"uniqueIndex;size:42;not null" json:"-"`
	LowID   int64  `gorm:"index:idx_conv_low;not null" json:"low_id"`
	HighID  int64  `gorm:"index:idx_conv_high;not null" json:"high_id"`

	// Participants maps user id (as string key) to cached display info.
	Participants datatypes.JSON `json:"participants"`

	// Last message snapshot, denormalized for list rendering.
	LastContent  string     `gorm:"size:1000" json:"last_content"`
	LastSenderID int64      `json:"last_sender_id"`
	LastType     string     `gorm:"size:16" json:"last_type"`
	LastSentAt   *time.Time `json:"last_sent_at"`

	// Per-participant unread counters, keyed by the canonical order.
	UnreadLow  int `gorm:"default:0" json:"-"`
	UnreadHigh int `gorm:"default:0" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index:idx_conv_updated" json:"updated_at"`
}

// PairKey returns the canonical identity of an unordered user pair.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// HasParticipant reports whether the user belongs to this conversation.
func (c *Conversation) HasParticipant(userID int64) bool {
	return userID == c.LowID || userID == c.HighID
}

// Other returns the id of the participant that is not userID.
func (c *Conversation) Other(userID int64) int64 {
	if userID == c.LowID {
		return c.HighID
	}
	return c.LowID
}

// UnreadFor returns the unread counter for the given participant.
func (c *Conversation) UnreadFor(userID int64) int {
	if userID == c.LowID {
		return c.UnreadLow
	}
	return c.UnreadHigh
}

// UnreadColumn returns the column name holding userID's unread counter.
func (c *Conversation) UnreadColumn(userID int64) string {
	if userID == c.LowID {
		return "unread_low"
	}
	return "unread_high"
}

// ParticipantMap decodes the cached participant info. Missing or corrupt
// JSON yields an empty map rather than an error; display info is advisory.
func (c *Conversation) ParticipantMap() map[string]ParticipantInfo {
	m := make(map[string]ParticipantInfo)
	if len(c.Participants) > 0 {
		_ = json.Unmarshal(c.Participants, &m)
	}
	return m
}
