package service

import (
	"context"
	"strings"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/policy"
	"tush00nka/bbbab_teamchat/internal/repository"

	"github.com/forPelevin/gomoji"
)

// ReactionResult итог переключения и новый агрегат реакций сообщения
type ReactionResult struct {
	State     repository.ToggleResult `json:"state"`
	Reactions []model.ReactionCount   `json:"reactions"`
}

type reactionService struct {
	reactions repository.ReactionRepository
	messages  repository.MessageRepository
	channels  repository.ChannelRepository
	users     repository.UserRepository
	policy    *policy.Policy
	events    Publisher
}

func NewReactionService(
	reactions repository.ReactionRepository,
	messages repository.MessageRepository,
	channels repository.ChannelRepository,
	users repository.UserRepository,
	access *policy.Policy,
	events Publisher,
) ReactionService {
	return &reactionService{
		reactions: reactions,
		messages:  messages,
		channels:  channels,
		users:     users,
		policy:    access,
		events:    events,
	}
}

// ValidateReaction реакция должна быть ровно одним эмодзи без других символов
func ValidateReaction(reaction string) error {
	emojis := gomoji.CollectAll(reaction)
	if len(emojis) != 1 || emojis[0].Character != reaction {
		return apperr.Invalidf("reaction must be a single emoji")
	}
	return nil
}

func (s *reactionService) ToggleReaction(ctx context.Context, messageID, userID uint, emoji string) (*ReactionResult, error) {
	emoji = strings.TrimSpace(emoji)
	if err := ValidateReaction(emoji); err != nil {
		return nil, err
	}

	msg, err := s.readable(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}

	state, err := s.reactions.Toggle(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	counts, err := s.reactions.Aggregate(ctx, messageID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.events.PublishChannel(ctx, msg.ChannelID, broadcast.ReactionToggled{
		MessageID: messageID,
		ChannelID: msg.ChannelID,
		User:      user.Summary(),
		Emoji:     emoji,
		State:     string(state),
		Reactions: counts,
	}, userID)

	return &ReactionResult{State: state, Reactions: counts}, nil
}

func (s *reactionService) ListReactions(ctx context.Context, messageID, userID uint) ([]model.ReactionCount, error) {
	if _, err := s.readable(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return s.reactions.Aggregate(ctx, messageID)
}

func (s *reactionService) readable(ctx context.Context, messageID, userID uint) (*model.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	channel, err := s.channels.GetByID(ctx, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanRead(ctx, userID, channel); err != nil {
		return nil, err
	}
	return msg, nil
}
