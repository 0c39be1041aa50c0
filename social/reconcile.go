package social

import (
	"github.com/eroomgame/eroom-server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler repairs relationship state that escaped a transaction: it
// mirrors one-sided friendship rows and recounts drifted denormalized
// counters. It runs as a periodic scheduler task.
type Reconciler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(db *gorm.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// Run performs one reconcile pass.
func (r *Reconciler) Run() {
	healed, err := r.healFriendships()
	if err != nil {
		r.logger.Error("friendship heal failed", zap.Error(err))
	} else if healed > 0 {
		r.logger.Warn("healed one-sided friendships", zap.Int("count", healed))
	}

	fixed, err := r.recountUsers()
	if err != nil {
		r.logger.Error("counter recount failed", zap.Error(err))
	} else if fixed > 0 {
		r.logger.Warn("repaired drifted social counters", zap.Int("users", fixed))
	}
}

// healFriendships creates the missing mirror row for every friendship
// whose reverse direction is absent.
func (r *Reconciler) healFriendships() (int, error) {
	var orphans []model.Friendship
	err := r.db.Raw(`
		SELECT f1.* FROM friendships f1
		LEFT JOIN friendships f2
		  ON f2.user_id = f1.friend_id AND f2.friend_id = f1.user_id
		WHERE f2.id IS NULL`).Scan(&orphans).Error
	if err != nil {
		return 0, err
	}
	for _, f := range orphans {
		mirror := model.Friendship{UserID: f.FriendID, FriendID: f.UserID}
		if err := r.db.Create(&mirror).Error; err != nil {
			return 0, err
		}
	}
	return len(orphans), nil
}

// recountUsers recomputes the three denormalized counters from the edge
// tables and rewrites any user row whose stored values drifted.
func (r *Reconciler) recountUsers() (int, error) {
	fixed := 0
	var users []model.User
	err := r.db.FindInBatches(&users, 200, func(tx *gorm.DB, _ int) error {
		for _, u := range users {
			var followers, following, friends int64
			if err := r.db.Model(&model.Follow{}).Where("target_id = ?", u.ID).Count(&followers).Error; err != nil {
				return err
			}
			if err := r.db.Model(&model.Follow{}).Where("follower_id = ?", u.ID).Count(&following).Error; err != nil {
				return err
			}
			if err := r.db.Model(&model.Friendship{}).Where("user_id = ?", u.ID).Count(&friends).Error; err != nil {
				return err
			}
			if int(followers) == u.FollowerCount &&
				int(following) == u.FollowingCount &&
				int(friends) == u.FriendCount {
				continue
			}
			if err := r.db.Model(&model.User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
				"follower_count":  followers,
				"following_count": following,
				"friend_count":    friends,
			}).Error; err != nil {
				return err
			}
			fixed++
		}
		return nil
	}).Error
	return fixed, err
}
