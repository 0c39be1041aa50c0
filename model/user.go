package model

import (
	"regexp"
	"time"

	"gorm.io/datatypes"
)

// Username rules: 3-20 chars, letters/digits/underscore, case-preserved.
var UsernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// AuthProvider identifies how an account was created.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Account status values.
const (
	StatusBanned = 0
	StatusNormal = 1
)

// User is the identity anchor: profile data plus denormalized social
// counters. The follower/following/friend/block sets themselves live in
// their own edge tables; the counts here exist only for cheap display and
// are recounted by the reconcile job when they drift.
type User struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"uniqueIndex;size:20;not null" json:"username"`
	DisplayName  string `gorm:"size:64" json:"display_name"`
	Email        string `gorm:"uniqueIndex;size:128;not null" json:"email"`
	PasswordHash string `gorm:"size:64" json:"-"` // empty for federated accounts
	Provider     string `gorm:"size:16;default:'password'" json:"provider"`
	AvatarURL    string `gorm:"size:255" json:"avatar_url"`

	Level   int   `gorm:"default:1" json:"level"`
	Points  int64 `gorm:"default:0" json:"points"`
	Credits int64 `gorm:"default:0" json:"credits"`

	// Stats holds gameplay counters (maps completed/created, play time,
	// win rate, clear time). Opaque to the social layer.
	Stats    datatypes.JSON `json:"stats"`
	Settings datatypes.JSON `json:"settings"` // privacy/preferences/notifications

	FollowerCount  int `gorm:"default:0" json:"follower_count"`
	FollowingCount int `gorm:"default:0" json:"following_count"`
	FriendCount    int `gorm:"default:0" json:"friend_count"`

	Status      int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `gorm:"size:45" json:"-"`
}

// PublicProfile is the shape returned for other users: no email, no
// login metadata.
type PublicProfile struct {
	ID             int64          `json:"id"`
	Username       string         `json:"username"`
	DisplayName    string         `json:"display_name"`
	AvatarURL      string         `json:"avatar_url"`
	Level          int            `json:"level"`
	Points         int64          `json:"points"`
	Stats          datatypes.JSON `json:"stats"`
	FollowerCount  int            `json:"follower_count"`
	FollowingCount int            `json:"following_count"`
	FriendCount    int            `json:"friend_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Public strips private fields for display to other users.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		AvatarURL:      u.AvatarURL,
		Level:          u.Level,
		Points:         u.Points,
		Stats:          u.Stats,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
		FriendCount:    u.FriendCount,
		CreatedAt:      u.CreatedAt,
	}
}
