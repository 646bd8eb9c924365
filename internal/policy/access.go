// Package policy решает, кто и что может делать с каналом.
// Все проверки возвращают явную ошибку apperr, пустой результат отказом не считается.
package policy

import (
	"context"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
)

// MembershipReader чтение членства, которого достаточно для решений о доступе
type MembershipReader interface {
	RoleOf(ctx context.Context, channelID, userID uint) (model.Role, error)
}

type Policy struct {
	members MembershipReader
}

func New(members MembershipReader) *Policy {
	return &Policy{members: members}
}

// Deny формирует отказ. Для закрытых каналов не-участник получает NotFound,
// чтобы нельзя было отличить чужой приватный канал от несуществующего.
func Deny(channel *model.Channel, isMember bool, message string) error {
	if channel.IsPrivate() && !isMember {
		return apperr.NotFoundf("channel not found")
	}
	return apperr.New(apperr.Forbidden, message)
}

func (p *Policy) role(ctx context.Context, channel *model.Channel, userID uint) (model.Role, error) {
	return p.members.RoleOf(ctx, channel.ID, userID)
}

// CanRead участник может читать сообщения и список участников
func (p *Policy) CanRead(ctx context.Context, userID uint, channel *model.Channel) error {
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	if role == model.RoleNone {
		return Deny(channel, false, "you are not a member of this channel")
	}
	return nil
}

// CanPost писать может только участник
func (p *Policy) CanPost(ctx context.Context, userID uint, channel *model.Channel) error {
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	if role == model.RoleNone {
		return Deny(channel, false, "you must join the channel before posting")
	}
	return nil
}

// CanSubscribe одно правило для приватной и presence-ленты канала: членство
func (p *Policy) CanSubscribe(ctx context.Context, userID uint, channel *model.Channel) error {
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	if role == model.RoleNone {
		return Deny(channel, false, "subscription requires channel membership")
	}
	return nil
}

// CanJoin вступить можно только в публичный канал и только один раз
func (p *Policy) CanJoin(ctx context.Context, userID uint, channel *model.Channel) error {
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	isMember := role != model.RoleNone

	if channel.Visibility != model.VisibilityPublic {
		if isMember {
			return apperr.Conflictf("already a member of this channel")
		}
		return Deny(channel, false, "cannot join a private channel")
	}
	if isMember {
		return apperr.Conflictf("already a member of this channel")
	}
	return nil
}

// CanLeave личный канал покинуть нельзя, создатель канала тоже не уходит
func (p *Policy) CanLeave(ctx context.Context, userID uint, channel *model.Channel) error {
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	if role == model.RoleNone {
		if channel.IsPrivate() {
			return apperr.NotFoundf("channel not found")
		}
		return apperr.NotFoundf("not a member of this channel")
	}
	if channel.Visibility == model.VisibilityDirect {
		return apperr.New(apperr.Forbidden, "direct channels cannot be left")
	}
	return nil
}

// CanEditMessage редактирует только автор
func (p *Policy) CanEditMessage(ctx context.Context, userID uint, msg *model.Message, channel *model.Channel) error {
	if msg.UserID == userID {
		return nil
	}
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	return Deny(channel, role != model.RoleNone, "only the author can edit this message")
}

// CanModerate удалить сообщение может автор, админ канала или его создатель
func (p *Policy) CanModerate(ctx context.Context, userID uint, msg *model.Message, channel *model.Channel) error {
	if msg.UserID == userID || channel.CreatorID == userID {
		return nil
	}
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	if role == model.RoleAdmin {
		return nil
	}
	return Deny(channel, role != model.RoleNone, "you cannot delete this message")
}

func (p *Policy) CanUpdateChannel(ctx context.Context, userID uint, channel *model.Channel) error {
	return p.creatorOnly(ctx, userID, channel, "only the creator can update the channel")
}

func (p *Policy) CanDeleteChannel(ctx context.Context, userID uint, channel *model.Channel) error {
	return p.creatorOnly(ctx, userID, channel, "only the creator can delete the channel")
}

func (p *Policy) creatorOnly(ctx context.Context, userID uint, channel *model.Channel, message string) error {
	if channel.CreatorID == userID {
		return nil
	}
	role, err := p.role(ctx, channel, userID)
	if err != nil {
		return err
	}
	return Deny(channel, role != model.RoleNone, message)
}
