package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/policy"
	"tush00nka/bbbab_teamchat/internal/presence"
	"tush00nka/bbbab_teamchat/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type publishedEvent struct {
	name    broadcast.Name
	event   broadcast.Event
	exclude uint
}

type revocation struct {
	channelID uint
	userID    uint
}

// recordingPublisher запоминает опубликованные события и снятые подписки
type recordingPublisher struct {
	mu      sync.Mutex
	events  []publishedEvent
	revoked []revocation
}

func (p *recordingPublisher) Publish(_ context.Context, name broadcast.Name, event broadcast.Event, exclude uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{name: name, event: event, exclude: exclude})
}

func (p *recordingPublisher) PublishChannel(ctx context.Context, channelID uint, event broadcast.Event, exclude uint) {
	p.Publish(ctx, broadcast.PrivateChannel(channelID), event, exclude)
	p.Publish(ctx, broadcast.PresenceChannel(channelID), event, exclude)
}

func (p *recordingPublisher) PublishUser(ctx context.Context, userID uint, event broadcast.Event) {
	p.Publish(ctx, broadcast.PrivateUser(userID), event, 0)
}

func (p *recordingPublisher) Revoke(_ context.Context, channelID, userID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, revocation{channelID: channelID, userID: userID})
}

func (p *recordingPublisher) revocations() []revocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]revocation(nil), p.revoked...)
}

// on события, опубликованные в name
func (p *recordingPublisher) on(name broadcast.Name) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) names(name broadcast.Name) []string {
	var out []string
	for _, e := range p.on(name) {
		out = append(out, e.event.EventName())
	}
	return out
}

type testEnv struct {
	db            *gorm.DB
	users         repository.UserRepository
	channelRepo   repository.ChannelRepository
	messageRepo   repository.MessageRepository
	members       repository.MembershipRepository
	policy        *policy.Policy
	coordinator   *presence.Coordinator
	events        *recordingPublisher
	channels      ChannelService
	messages      MessageService
	reactions     ReactionService
	notifications NotificationService
	typing        TypingService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return db
}

// newTestEnv собирает сервисы поверх sqlite; blobs может быть nil
func newTestEnv(t *testing.T, blobs BlobStore) *testEnv {
	t.Helper()

	db := newTestDB(t)
	env := &testEnv{
		db:          db,
		users:       repository.NewUserRepository(db),
		channelRepo: repository.NewChannelRepository(db),
		messageRepo: repository.NewMessageRepository(db),
		members:     repository.NewMembershipRepository(db),
		coordinator: presence.New(presence.Config{}, nil),
		events:      &recordingPublisher{},
	}
	t.Cleanup(env.coordinator.Close)

	env.policy = policy.New(env.members)
	env.notifications = NewNotificationService(repository.NewNotificationRepository(db), env.events)
	env.channels = NewChannelService(env.channelRepo, env.members, env.users, env.policy, blobs, env.events)
	env.messages = NewMessageService(env.messageRepo, env.channelRepo, env.members, env.users, env.policy, blobs, env.notifications, env.events)
	env.reactions = NewReactionService(repository.NewReactionRepository(db), env.messageRepo, env.channelRepo, env.users, env.policy, env.events)
	env.typing = NewTypingService(env.channelRepo, env.policy, env.coordinator, env.events, 1)
	return env
}

func (e *testEnv) user(t *testing.T, username string) *model.User {
	t.Helper()
	user := &model.User{Username: username, Password: "hash"}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user
}

func (e *testEnv) channel(t *testing.T, creator *model.User, visibility model.Visibility) *model.Channel {
	t.Helper()
	channel, err := e.channels.CreateChannel(context.Background(), creator.ID, CreateChannelInput{
		Name:       "general",
		Visibility: visibility,
	})
	require.NoError(t, err)
	return channel
}

func (e *testEnv) post(t *testing.T, channelID uint, author *model.User, parentID *uint) *model.Message {
	t.Helper()
	msg, err := e.messages.PostMessage(context.Background(), PostMessageInput{
		ChannelID: channelID,
		UserID:    author.ID,
		Content:   "hello from " + author.Username,
		ParentID:  parentID,
	})
	require.NoError(t, err)
	return msg
}
