package model

import "time"

// Friendship is one direction of an accepted friend relationship. Accepting
// a request writes both directions in a single transaction; a row without
// its mirror is an inconsistency the reconcile job repairs.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:idx_friendship_pair;not null" json:"user_id"`
	FriendID  int64     `gorm:"uniqueIndex:idx_friendship_pair;not null" json:"friend_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Block is a directional edge: the blocker no longer wants to see the
// target. It does not remove follow or friend edges; messaging uses it to
// tag new messages as hidden for the blocker.
type Block struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockerID int64     `gorm:"uniqueIndex:idx_block_pair;not null" json:"blocker_id"`
	TargetID  int64     `gorm:"uniqueIndex:idx_block_pair;not null" json:"target_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
