package testutil

import (
	"testing"

	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/config"
	dbadapter "github.com/eroomgame/eroom-server/db"
	"github.com/eroomgame/eroom-server/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates an in-memory SQLite DB and runs AutoMigrate.
// It requires no external services.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: ":memory:",
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.Config{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// CreateUser inserts a user with sane defaults for tests.
func CreateUser(t *testing.T, db *gorm.DB, username, email string) *model.User {
	t.Helper()
	u := &model.User{
		Username:    username,
		DisplayName: username,
		Email:       email,
		Status:      1,
	}
	require.NoError(t, db.Create(u).Error, "CreateUser: %s", username)
	return u
}
