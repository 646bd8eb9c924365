package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"
	"tush00nka/bbbab_teamchat/internal/policy"
	"tush00nka/bbbab_teamchat/internal/repository"
)

const (
	maxChannelName   = 255
	searchMinLength  = 2
	searchMaxLength  = 100
	searchMaxResults = 20
)

type CreateChannelInput struct {
	Name        string
	Description string
	Visibility  model.Visibility
}

// UpdateChannelInput nil-поля не меняются
type UpdateChannelInput struct {
	Name        *string
	Description *string
}

// channelService реализация ChannelService
type channelService struct {
	channels repository.ChannelRepository
	members  repository.MembershipRepository
	users    repository.UserRepository
	policy   *policy.Policy
	blobs    BlobStore
	events   Publisher
}

// NewChannelService создает новый экземпляр ChannelService
func NewChannelService(
	channels repository.ChannelRepository,
	members repository.MembershipRepository,
	users repository.UserRepository,
	access *policy.Policy,
	blobs BlobStore,
	events Publisher,
) ChannelService {
	return &channelService{
		channels: channels,
		members:  members,
		users:    users,
		policy:   access,
		blobs:    blobs,
		events:   events,
	}
}

// CreateChannel создает канал; создатель становится участником с ролью admin
func (s *channelService) CreateChannel(ctx context.Context, userID uint, input CreateChannelInput) (*model.Channel, error) {
	name, err := validChannelName(input.Name)
	if err != nil {
		return nil, err
	}
	if input.Visibility == "" {
		input.Visibility = model.VisibilityPublic
	}
	if !input.Visibility.Valid() {
		return nil, apperr.Invalidf("unknown channel type %q", input.Visibility)
	}
	if input.Visibility == model.VisibilityDirect {
		return nil, apperr.Invalidf("direct channels are created with the direct endpoint")
	}

	channel := &model.Channel{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Visibility:  input.Visibility,
		CreatorID:   userID,
	}
	if err := s.channels.Create(ctx, channel); err != nil {
		return nil, err
	}

	created, err := s.channels.GetByID(ctx, channel.ID)
	if err != nil {
		return nil, err
	}
	if !created.IsPrivate() {
		s.events.Publish(ctx, broadcast.PublicChannels, broadcast.ChannelUpdated{Channel: created}, userID)
	}
	return created, nil
}

func (s *channelService) ListChannels(ctx context.Context, userID uint, visibility model.Visibility, page repository.Page) ([]model.Channel, int64, error) {
	if visibility != "" && !visibility.Valid() {
		return nil, 0, apperr.Invalidf("unknown channel type %q", visibility)
	}
	return s.channels.ListForUser(ctx, userID, visibility, page)
}

// SearchChannels ищет среди публичных каналов и каналов пользователя
func (s *channelService) SearchChannels(ctx context.Context, userID uint, query string) ([]model.Channel, error) {
	query = strings.TrimSpace(query)
	length := utf8.RuneCountInString(query)
	if length < searchMinLength || length > searchMaxLength {
		return nil, apperr.Invalidf("query must be between %d and %d characters", searchMinLength, searchMaxLength)
	}
	return s.channels.Search(ctx, userID, query, searchMaxResults)
}

func (s *channelService) JoinedChannelIDs(ctx context.Context, userID uint) ([]uint, error) {
	return s.members.ChannelIDsForUser(ctx, userID)
}

// GetChannel возвращает канал с участниками. Для чужого закрытого канала
// ответ совпадает с ответом на несуществующий.
func (s *channelService) GetChannel(ctx context.Context, userID, channelID uint) (*model.Channel, error) {
	channel, err := s.channels.GetWithMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanRead(ctx, userID, channel); err != nil {
		return nil, err
	}
	return channel, nil
}

func (s *channelService) UpdateChannel(ctx context.Context, userID, channelID uint, input UpdateChannelInput) (*model.Channel, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanUpdateChannel(ctx, userID, channel); err != nil {
		return nil, err
	}

	if input.Name != nil {
		name, err := validChannelName(*input.Name)
		if err != nil {
			return nil, err
		}
		input.Name = &name
	}
	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		input.Description = &description
	}

	updated, err := s.channels.Update(ctx, channelID, input.Name, input.Description)
	if err != nil {
		return nil, err
	}

	s.events.PublishChannel(ctx, channelID, broadcast.ChannelUpdated{Channel: updated}, userID)
	if !updated.IsPrivate() {
		s.events.Publish(ctx, broadcast.PublicChannels, broadcast.ChannelUpdated{Channel: updated}, userID)
	}
	return updated, nil
}

// DeleteChannel удаляет канал со всем содержимым. После удаления подписки на
// ленты канала уже не проходят проверку, поэтому участники узнают об этом
// через свои личные ленты.
func (s *channelService) DeleteChannel(ctx context.Context, userID, channelID uint) error {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.policy.CanDeleteChannel(ctx, userID, channel); err != nil {
		return err
	}

	memberIDs, err := s.members.MemberIDs(ctx, channelID)
	if err != nil {
		return err
	}

	paths, err := s.channels.Delete(ctx, channelID)
	if err != nil {
		return err
	}
	s.releaseBlobs(ctx, paths)

	event := broadcast.ChannelDeleted{ChannelID: channelID}
	for _, memberID := range memberIDs {
		s.events.Revoke(ctx, channelID, memberID)
		s.events.PublishUser(ctx, memberID, event)
	}
	if !channel.IsPrivate() {
		s.events.Publish(ctx, broadcast.PublicChannels, event, 0)
	}
	return nil
}

// JoinChannel вступление в публичный канал
func (s *channelService) JoinChannel(ctx context.Context, userID, channelID uint) (*model.Channel, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanJoin(ctx, userID, channel); err != nil {
		return nil, err
	}

	// проверка выше не защищает от гонки, ее решает уникальный индекс
	if err := s.members.AddMember(ctx, channelID, userID, model.RoleMember); err != nil {
		return nil, err
	}

	member, err := s.summaryOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.events.PublishChannel(ctx, channelID, broadcast.UserJoinedChannel{ChannelID: channelID, User: member}, userID)
	return channel, nil
}

func (s *channelService) LeaveChannel(ctx context.Context, userID, channelID uint) error {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.policy.CanLeave(ctx, userID, channel); err != nil {
		return err
	}

	member, err := s.summaryOf(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.members.RemoveMember(ctx, channelID, userID); err != nil {
		return err
	}
	s.events.Revoke(ctx, channelID, userID)

	s.events.PublishChannel(ctx, channelID, broadcast.UserLeftChannel{ChannelID: channelID, User: member}, userID)
	return nil
}

func (s *channelService) Members(ctx context.Context, userID, channelID uint, page repository.Page) ([]model.ChannelMember, int64, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.policy.CanRead(ctx, userID, channel); err != nil {
		return nil, 0, err
	}
	return s.members.Members(ctx, channelID, page)
}

// DirectChannel создает личный канал с otherUserID либо возвращает существующий.
// Второе значение сообщает, был ли канал создан этим вызовом.
func (s *channelService) DirectChannel(ctx context.Context, userID, otherUserID uint) (*model.Channel, bool, error) {
	if otherUserID == 0 {
		return nil, false, apperr.Invalidf("user_id is required")
	}
	if userID == otherUserID {
		return nil, false, apperr.Invalidf("cannot create a direct message channel with yourself")
	}

	if existing, err := s.channels.FindDirect(ctx, userID, otherUserID); err == nil {
		return existing, false, nil
	} else if !apperr.Is(err, apperr.NotFound) {
		return nil, false, err
	}

	me, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	other, err := s.users.FindByID(ctx, otherUserID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, false, apperr.Invalidf("user %d does not exist", otherUserID)
		}
		return nil, false, err
	}

	meName, otherName := me.Summary().Name, other.Summary().Name
	channel := &model.Channel{
		Name:        fmt.Sprintf("DM: %s & %s", meName, otherName),
		Description: fmt.Sprintf("Direct message between %s and %s", meName, otherName),
		CreatorID:   userID,
	}
	_, created, err := s.channels.CreateDirect(ctx, channel, otherUserID)
	if err != nil {
		return nil, false, err
	}

	// перечитываем вместе с участниками
	direct, err := s.channels.FindDirect(ctx, userID, otherUserID)
	if err != nil {
		return nil, false, err
	}
	return direct, created, nil
}

func (s *channelService) summaryOf(ctx context.Context, userID uint) (model.UserSummary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.UserSummary{}, err
	}
	return user.Summary(), nil
}

// releaseBlobs освобождает файлы удаленного канала. Строк вложений уже нет,
// поэтому неудача только логируется.
func (s *channelService) releaseBlobs(ctx context.Context, paths []string) {
	if s.blobs == nil {
		return
	}
	for _, path := range paths {
		if err := s.blobs.Delete(ctx, path); err != nil {
			logger.Log.Warn("failed to release attachment", "path", path, "error", err)
		}
	}
}

func validChannelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalidf("channel name is required")
	}
	if utf8.RuneCountInString(name) > maxChannelName {
		return "", apperr.Invalidf("channel name must be at most %d characters", maxChannelName)
	}
	return name, nil
}
