package service

import (
	"context"
	"io"
	"time"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/presence"
	"tush00nka/bbbab_teamchat/internal/repository"
)

// Publisher публикует события рассылки; реализуется broadcast.Dispatcher
type Publisher interface {
	Publish(ctx context.Context, name broadcast.Name, event broadcast.Event, exclude uint)
	PublishChannel(ctx context.Context, channelID uint, event broadcast.Event, exclude uint)
	PublishUser(ctx context.Context, userID uint, event broadcast.Event)
	// Revoke снимает живые подписки пользователя на ленты канала
	Revoke(ctx context.Context, channelID, userID uint)
}

//go:generate mockgen -destination=mocks/blob_store.go -package=mocks . BlobStore

// BlobStore хранилище файлов вложений
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// PresenceReader то, что сервисам нужно от координатора присутствия
type PresenceReader interface {
	Roster(scope presence.Scope) presence.Snapshot
	Typing(channelID, userID uint) (presence.TypingState, error)
}

type UserService interface {
	Register(ctx context.Context, input RegisterInput) (*model.User, string, error)
	Login(ctx context.Context, username, password string) (*model.User, string, error)
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
	SearchUsers(ctx context.Context, prompt string) ([]model.User, error)
	Online(ctx context.Context) ([]model.User, error)
	Touch(ctx context.Context, userID uint) error
	PruneActivity(ctx context.Context) (int64, error)
	OnPresenceChange(change presence.Change)
}

type ChannelService interface {
	CreateChannel(ctx context.Context, userID uint, input CreateChannelInput) (*model.Channel, error)
	ListChannels(ctx context.Context, userID uint, visibility model.Visibility, page repository.Page) ([]model.Channel, int64, error)
	SearchChannels(ctx context.Context, userID uint, query string) ([]model.Channel, error)
	JoinedChannelIDs(ctx context.Context, userID uint) ([]uint, error)
	GetChannel(ctx context.Context, userID, channelID uint) (*model.Channel, error)
	UpdateChannel(ctx context.Context, userID, channelID uint, input UpdateChannelInput) (*model.Channel, error)
	DeleteChannel(ctx context.Context, userID, channelID uint) error
	JoinChannel(ctx context.Context, userID, channelID uint) (*model.Channel, error)
	LeaveChannel(ctx context.Context, userID, channelID uint) error
	Members(ctx context.Context, userID, channelID uint, page repository.Page) ([]model.ChannelMember, int64, error)
	DirectChannel(ctx context.Context, userID, otherUserID uint) (*model.Channel, bool, error)
}

type MessageService interface {
	PostMessage(ctx context.Context, input PostMessageInput) (*model.Message, error)
	EditMessage(ctx context.Context, messageID, userID uint, content string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID uint) error
	ListMessages(ctx context.Context, channelID, userID uint, parentID *uint, page repository.Page) ([]model.Message, int64, error)
	AttachmentURL(ctx context.Context, attachmentID, userID uint) (string, error)
	ReclaimAttachments(ctx context.Context) (int, error)
}

type ReactionService interface {
	ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (*ReactionResult, error)
	ListReactions(ctx context.Context, messageID, userID uint) ([]model.ReactionCount, error)
}

type TypingService interface {
	Typing(ctx context.Context, channelID, userID uint) (presence.TypingState, error)
}

type NotificationService interface {
	Notify(ctx context.Context, notifications ...*model.Notification) error
	List(ctx context.Context, userID uint, filter repository.NotificationFilter) ([]model.Notification, int64, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID uint) (*model.Notification, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
}
