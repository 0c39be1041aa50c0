// Package profile is the user repository: lookups by id/handle, partial
// profile updates, and account provisioning (handle derivation included).
package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eroomgame/eroom-server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("profile: user not found")
	ErrInvalidUsername = errors.New("profile: invalid username")
	ErrUsernameTaken   = errors.New("profile: username already taken")
	ErrEmailTaken      = errors.New("profile: email already registered")
)

// updatableFields is the whitelist for partial profile updates. Social
// counters are deliberately excluded: they belong to the social manager
// and the reconcile job.
var updatableFields = map[string]bool{
	"display_name": true,
	"avatar_url":   true,
	"settings":     true,
	"stats":        true,
	"level":        true,
	"points":       true,
	"credits":      true,
}

// Service provides CRUD over user rows.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a profile Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// GetByID returns the user with the given id.
func (s *Service) GetByID(id int64) (*model.User, error) {
	var u model.User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByUsername resolves a handle to a user. The match is exact and
// case-sensitive: handles are case-preserved, and a case-insensitive
// collation must not make "Alice" resolve "alice".
func (s *Service) GetByUsername(handle string) (*model.User, error) {
	if !model.UsernameRe.MatchString(handle) {
		return nil, ErrInvalidUsername
	}
	var u model.User
	if err := s.db.Where("username = ?", handle).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if u.Username != handle {
		return nil, ErrNotFound
	}
	return &u, nil
}

// GetByEmail returns the user registered under the given email.
func (s *Service) GetByEmail(email string) (*model.User, error) {
	var u model.User
	if err := s.db.Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user, mapping unique-index violations to the
// matching taken error.
func (s *Service) Create(u *model.User) error {
	if !model.UsernameRe.MatchString(u.Username) {
		return ErrInvalidUsername
	}
	if err := s.db.Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			if _, lookErr := s.GetByEmail(u.Email); lookErr == nil {
				return ErrEmailTaken
			}
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// Update merges whitelisted partial fields into the stored user row.
func (s *Service) Update(id int64, fields map[string]interface{}) error {
	patch := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if updatableFields[k] {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return nil
	}
	res := s.db.Model(&model.User{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GenerateUsername derives a free handle from a base string by sanitizing
// it and probing with numeric suffixes until an unused handle is found.
// Two concurrent signups with the same base can still race; the unique
// index on username turns the loser into a retryable conflict.
func (s *Service) GenerateUsername(base string) (string, error) {
	candidate := sanitizeHandle(base)
	if _, err := s.GetByUsername(candidate); errors.Is(err, ErrNotFound) {
		return candidate, nil
	}
	for i := 1; i < 1000; i++ {
		suffix := fmt.Sprintf("%d", i)
		trimmed := candidate
		if len(trimmed)+len(suffix) > 20 {
			trimmed = trimmed[:20-len(suffix)]
		}
		probe := trimmed + suffix
		if _, err := s.GetByUsername(probe); errors.Is(err, ErrNotFound) {
			return probe, nil
		}
	}
	return "", fmt.Errorf("profile: no free handle for base %q", base)
}

// ProvisionFederated finds or creates the account for a federated sign-in.
// New accounts get default settings, a derived handle, and the signup
// bonus credit grant. The second return reports whether a new account was
// created.
func (s *Service) ProvisionFederated(provider, email, displayName, avatarURL string, bonusCredits int64) (*model.User, bool, error) {
	if u, err := s.GetByEmail(email); err == nil {
		return u, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	base := displayName
	if base == "" {
		base = strings.SplitN(email, "@", 2)[0]
	}
	handle, err := s.GenerateUsername(base)
	if err != nil {
		return nil, false, err
	}

	u := &model.User{
		Username:    handle,
		DisplayName: displayName,
		Email:       email,
		Provider:    provider,
		AvatarURL:   avatarURL,
		Credits:     bonusCredits,
		Settings:    defaultSettings(),
		Status:      1,
	}
	if err := s.Create(u); err != nil {
		return nil, false, err
	}
	s.logger.Info("federated account provisioned",
		zap.String("provider", provider),
		zap.String("username", handle),
		zap.Int64("user_id", u.ID))
	return u, true, nil
}

func defaultSettings() datatypes.JSON {
	return datatypes.JSON(`{"privacy":{"profile_public":true,"show_online":true},"notifications":{"messages":true,"friends":true,"follows":true}}`)
}

// sanitizeHandle strips disallowed characters and forces the 3-20 length
// bounds, falling back to "player" when nothing usable remains.
func sanitizeHandle(base string) string {
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	h := b.String()
	if len(h) < 3 {
		h = "player" + h
	}
	if len(h) > 20 {
		h = h[:20]
	}
	return h
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
