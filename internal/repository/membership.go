package repository

import (
	"context"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"gorm.io/gorm"
)

// MembershipRepository хранилище участников каналов
type MembershipRepository interface {
	IsMember(ctx context.Context, channelID, userID uint) (bool, error)
	RoleOf(ctx context.Context, channelID, userID uint) (model.Role, error)
	AddMember(ctx context.Context, channelID, userID uint, role model.Role) error
	RemoveMember(ctx context.Context, channelID, userID uint) error
	Members(ctx context.Context, channelID uint, page Page) ([]model.ChannelMember, int64, error)
	MemberIDs(ctx context.Context, channelID uint) ([]uint, error)
	ChannelIDsForUser(ctx context.Context, userID uint) ([]uint, error)
}

type membershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) IsMember(ctx context.Context, channelID, userID uint) (bool, error) {
	role, err := r.RoleOf(ctx, channelID, userID)
	if err != nil {
		return false, err
	}
	return role != model.RoleNone, nil
}

func (r *membershipRepository) RoleOf(ctx context.Context, channelID, userID uint) (model.Role, error) {
	var roles []model.Role
	err := r.db.WithContext(ctx).
		Model(&model.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Limit(1).
		Pluck("role", &roles).Error
	if err != nil {
		return model.RoleNone, translate(err, "membership")
	}
	if len(roles) == 0 {
		return model.RoleNone, nil
	}
	return roles[0], nil
}

// AddMember добавляет участника. Уникальность пары (канал, пользователь)
// обеспечивает индекс: второй конкурентный INSERT получает Conflict.
func (r *membershipRepository) AddMember(ctx context.Context, channelID, userID uint, role model.Role) error {
	if role != model.RoleAdmin && role != model.RoleMember {
		return apperr.Invalidf("unknown role %q", role)
	}

	member := model.ChannelMember{
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
		JoinedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&member).Error; err != nil {
		if apperr.Is(translate(err, "membership"), apperr.Conflict) {
			return apperr.Wrap(err, apperr.Conflict, "already a member of this channel")
		}
		return translate(err, "membership")
	}
	return nil
}

// RemoveMember удаляет участника одним условным DELETE: строка создателя канала
// под условие не попадает.
func (r *membershipRepository) RemoveMember(ctx context.Context, channelID, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Where("NOT EXISTS (SELECT 1 FROM channels WHERE channels.id = ? AND channels.creator_id = ?)", channelID, userID).
		Delete(&model.ChannelMember{})
	if res.Error != nil {
		return translate(res.Error, "membership")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var creators int64
	err := r.db.WithContext(ctx).
		Model(&model.Channel{}).
		Where("id = ? AND creator_id = ?", channelID, userID).
		Count(&creators).Error
	if err != nil {
		return translate(err, "channel")
	}
	if creators > 0 {
		return apperr.Forbiddenf("the creator cannot leave the channel; transfer ownership or delete the channel instead")
	}
	return apperr.NotFoundf("not a member of this channel")
}

func (r *membershipRepository) Members(ctx context.Context, channelID uint, page Page) ([]model.ChannelMember, int64, error) {
	page = page.normalize(20)

	var total int64
	q := r.db.WithContext(ctx).Model(&model.ChannelMember{}).Where("channel_id = ?", channelID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "membership")
	}

	var members []model.ChannelMember
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("channel_id = ?", channelID).
		Order("joined_at ASC, id ASC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&members).Error
	if err != nil {
		return nil, 0, translate(err, "membership")
	}

	for i := range members {
		if members[i].User != nil {
			members[i].User.SanitizePassword()
		}
	}

	return members, total, nil
}

func (r *membershipRepository) MemberIDs(ctx context.Context, channelID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.ChannelMember{}).
		Where("channel_id = ?", channelID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, translate(err, "membership")
}

func (r *membershipRepository) ChannelIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.ChannelMember{}).
		Where("user_id = ?", userID).
		Order("channel_id ASC").
		Pluck("channel_id", &ids).Error
	return ids, translate(err, "membership")
}
