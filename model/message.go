package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// MaxMessageRunes bounds message content, counted in runes after trimming.
const MaxMessageRunes = 1000

// Reaction is one emoji reaction on a message.
type Reaction struct {
	UserID int64     `json:"user_id"`
	Emoji  string    `json:"emoji"`
	At     time.Time `json:"at"`
}

// Message belongs to exactly one conversation. Content is immutable after
// send; only ReadBy and Reactions mutate. BlockedFor lists participant ids
// whose view of this message is suppressed because they had blocked the
// sender at send time.
type Message struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID int64  `gorm:"index:idx_msg_conv;not null" json:"conversation_id"`
	SenderID       int64  `gorm:"not null" json:"sender_id"`
	SenderName     string `gorm:"size:20" json:"sender_name"`
	Content        string `gorm:"size:1000" json:"content"`
	Type           string `gorm:"size:16;default:'text'" json:"type"`

	ReadBy     datatypes.JSON `json:"read_by"`     // []int64
	Reactions  datatypes.JSON `json:"reactions"`   // []Reaction
	BlockedFor datatypes.JSON `json:"blocked_for"` // []int64

	CreatedAt time.Time `gorm:"autoCreateTime:milli;index:idx_msg_created" json:"created_at"`
}

// ReadByIDs decodes the ReadBy set.
func (m *Message) ReadByIDs() []int64 {
	return decodeIDs(m.ReadBy)
}

// BlockedForIDs decodes the BlockedFor set.
func (m *Message) BlockedForIDs() []int64 {
	return decodeIDs(m.BlockedFor)
}

// HiddenFrom reports whether the message must not be rendered for userID.
func (m *Message) HiddenFrom(userID int64) bool {
	for _, id := range m.BlockedForIDs() {
		if id == userID {
			return true
		}
	}
	return false
}

// ReactionList decodes the reactions.
func (m *Message) ReactionList() []Reaction {
	var rs []Reaction
	if len(m.Reactions) > 0 {
		_ = json.Unmarshal(m.Reactions, &rs)
	}
	return rs
}

func decodeIDs(raw datatypes.JSON) []int64 {
	var ids []int64
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ids)
	}
	return ids
}

// EncodeIDs marshals an id set for storage in a JSON column.
func EncodeIDs(ids []int64) datatypes.JSON {
	b, _ := json.Marshal(ids)
	return datatypes.JSON(b)
}
