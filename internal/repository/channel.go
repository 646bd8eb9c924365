package repository

import (
	"context"
	"strings"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"gorm.io/gorm"
)

type ChannelRepository interface {
	Create(ctx context.Context, channel *model.Channel) error
	CreateDirect(ctx context.Context, channel *model.Channel, otherUserID uint) (*model.Channel, bool, error)
	FindDirect(ctx context.Context, user1ID, user2ID uint) (*model.Channel, error)
	GetByID(ctx context.Context, channelID uint) (*model.Channel, error)
	GetWithMembers(ctx context.Context, channelID uint) (*model.Channel, error)
	Update(ctx context.Context, channelID uint, name, description *string) (*model.Channel, error)
	Delete(ctx context.Context, channelID uint) ([]string, error)
	ListForUser(ctx context.Context, userID uint, visibility model.Visibility, page Page) ([]model.Channel, int64, error)
	Search(ctx context.Context, userID uint, query string, limit int) ([]model.Channel, error)
}

type channelRepository struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

// Create создает канал и запись создателя с ролью admin в одной транзакции
func (r *channelRepository) Create(ctx context.Context, channel *model.Channel) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Creator", "Members").Create(channel).Error; err != nil {
			return err
		}
		return tx.Create(&model.ChannelMember{
			ChannelID: channel.ID,
			UserID:    channel.CreatorID,
			Role:      model.RoleAdmin,
			JoinedAt:  time.Now().UTC(),
		}).Error
	})
	return translate(err, "channel")
}

// CreateDirect создает личный канал либо возвращает уже существующий.
// Пара пользователей защищена уникальным DirectKey, поэтому два конкурентных
// вызова сходятся к одному каналу. Второе значение сообщает, был ли канал создан.
func (r *channelRepository) CreateDirect(ctx context.Context, channel *model.Channel, otherUserID uint) (*model.Channel, bool, error) {
	key := model.DirectKeyFor(channel.CreatorID, otherUserID)
	channel.DirectKey = &key
	channel.Visibility = model.VisibilityDirect

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Creator", "Members").Create(channel).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		members := []model.ChannelMember{
			{ChannelID: channel.ID, UserID: channel.CreatorID, Role: model.RoleAdmin, JoinedAt: now},
			{ChannelID: channel.ID, UserID: otherUserID, Role: model.RoleMember, JoinedAt: now},
		}
		return tx.Create(&members).Error
	})
	if err == nil {
		return channel, true, nil
	}

	if apperr.Is(translate(err, "channel"), apperr.Conflict) {
		existing, findErr := r.FindDirect(ctx, channel.CreatorID, otherUserID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	return nil, false, translate(err, "channel")
}

func (r *channelRepository) FindDirect(ctx context.Context, user1ID, user2ID uint) (*model.Channel, error) {
	var channel model.Channel
	err := r.db.WithContext(ctx).
		Preload("Members").
		Where("direct_key = ?", model.DirectKeyFor(user1ID, user2ID)).
		First(&channel).Error
	if err != nil {
		return nil, translate(err, "channel")
	}
	return &channel, nil
}

func (r *channelRepository) GetByID(ctx context.Context, channelID uint) (*model.Channel, error) {
	var channel model.Channel
	if err := r.db.WithContext(ctx).Preload("Creator").First(&channel, channelID).Error; err != nil {
		return nil, translate(err, "channel")
	}
	sanitizeCreator(&channel)
	return &channel, nil
}

func (r *channelRepository) GetWithMembers(ctx context.Context, channelID uint) (*model.Channel, error) {
	var channel model.Channel
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, id ASC") }).
		Preload("Members.User").
		First(&channel, channelID).Error
	if err != nil {
		return nil, translate(err, "channel")
	}
	sanitizeCreator(&channel)
	for i := range channel.Members {
		if channel.Members[i].User != nil {
			channel.Members[i].User.SanitizePassword()
		}
	}
	return &channel, nil
}

func (r *channelRepository) Update(ctx context.Context, channelID uint, name, description *string) (*model.Channel, error) {
	updates := map[string]any{}
	if name != nil {
		updates["name"] = *name
	}
	if description != nil {
		updates["description"] = *description
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&model.Channel{}).Where("id = ?", channelID).Updates(updates)
		if res.Error != nil {
			return nil, translate(res.Error, "channel")
		}
		if res.RowsAffected == 0 {
			return nil, apperr.NotFoundf("channel not found")
		}
	}

	return r.GetByID(ctx, channelID)
}

// Delete удаляет канал каскадно: реакции, вложения, сообщения, участников.
// Возвращает пути файлов вложений, которые нужно освободить в хранилище.
func (r *channelRepository) Delete(ctx context.Context, channelID uint) ([]string, error) {
	var paths []string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Unscoped().Model(&model.Message{}).Select("id").Where("channel_id = ?", channelID)

		if err := tx.Model(&model.Attachment{}).
			Where("message_id IN (?)", messageIDs).
			Pluck("file_path", &paths).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.MessageReaction{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("channel_id = ?", channelID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", channelID).Delete(&model.ChannelMember{}).Error; err != nil {
			return err
		}

		res := tx.Where("id = ?", channelID).Delete(&model.Channel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFoundf("channel not found")
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "channel")
	}

	return paths, nil
}

func (r *channelRepository) ListForUser(ctx context.Context, userID uint, visibility model.Visibility, page Page) ([]model.Channel, int64, error) {
	page = page.normalize(15)

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("EXISTS (SELECT 1 FROM channel_members cm WHERE cm.channel_id = channels.id AND cm.user_id = ?)", userID)
		if visibility != "" {
			db = db.Where("visibility = ?", visibility)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Channel{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "channel")
	}

	var channels []model.Channel
	err := r.db.WithContext(ctx).Scopes(scope).Preload("Creator").
		Order("created_at DESC, id DESC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&channels).Error
	if err != nil {
		return nil, 0, translate(err, "channel")
	}
	for i := range channels {
		sanitizeCreator(&channels[i])
	}

	return channels, total, nil
}

// likeEscaper экранирует метасимволы LIKE; парный ESCAPE '\' стоит в запросе
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search ищет подстроку в имени и описании среди публичных каналов и каналов пользователя
func (r *channelRepository) Search(ctx context.Context, userID uint, query string, limit int) ([]model.Channel, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"

	var channels []model.Channel
	err := r.db.WithContext(ctx).
		Preload("Creator").
		Where(`LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'`, pattern, pattern).
		Where(r.db.Where("visibility = ?", model.VisibilityPublic).
			Or("EXISTS (SELECT 1 FROM channel_members cm WHERE cm.channel_id = channels.id AND cm.user_id = ?)", userID)).
		Order("name ASC").
		Limit(limit).
		Find(&channels).Error
	if err != nil {
		return nil, translate(err, "channel")
	}
	for i := range channels {
		sanitizeCreator(&channels[i])
	}
	return channels, nil
}

func sanitizeCreator(c *model.Channel) {
	if c.Creator != nil {
		c.Creator.SanitizePassword()
	}
}
