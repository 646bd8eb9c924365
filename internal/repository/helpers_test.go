package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"tush00nka/bbbab_teamchat/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	user := &model.User{Username: username, Password: "hash"}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))
	return user
}

func createChannel(t *testing.T, db *gorm.DB, creator *model.User, visibility model.Visibility) *model.Channel {
	t.Helper()
	channel := &model.Channel{
		Name:       "general-" + string(visibility),
		Visibility: visibility,
		CreatorID:  creator.ID,
	}
	require.NoError(t, NewChannelRepository(db).Create(context.Background(), channel))
	return channel
}
