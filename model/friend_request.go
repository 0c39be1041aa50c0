package model

import "time"

// Friend request statuses. A request is terminal once accepted or rejected.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// FriendRequest is a pending bidirectional-friendship proposal. Sender
// display fields are denormalized at send time so the recipient's inbox
// renders without profile lookups.
type FriendRequest struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    int64      `gorm:"index:idx_request_sender;not null" json:"sender_id"`
	SenderName  string     `gorm:"size:20" json:"sender_name"`
	RecipientID int64      `gorm:"index:idx_request_recipient;not null" json:"recipient_id"`
	Message     string     `gorm:"size:255" json:"message"`
	Status      string     `gorm:"size:16;default:'pending'" json:"status"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	RespondedAt *time.Time `json:"responded_at"`
}
