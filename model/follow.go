package model

import "time"

// Follow is a directional edge: the follower sees the target's activity.
// The pair is unique so repeated follows collapse to a single row.
type Follow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FollowerID int64     `gorm:"uniqueIndex:idx_follow_pair;not null" json:"follower_id"`
	TargetID   int64     `gorm:"uniqueIndex:idx_follow_pair;not null;index:idx_follow_target" json:"target_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
