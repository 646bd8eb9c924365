package repository

import (
	"context"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"gorm.io/gorm"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, messageID uint) (*model.Message, error)
	UpdateContent(ctx context.Context, messageID uint, content string) (*model.Message, error)
	SoftDelete(ctx context.Context, msg *model.Message) error
	List(ctx context.Context, channelID uint, parentID *uint, page Page) ([]model.Message, int64, error)
	LiveReplyCount(ctx context.Context, parentID uint) (int64, error)
	Attachments(ctx context.Context, messageID uint) ([]model.Attachment, error)
	Attachment(ctx context.Context, attachmentID uint) (*model.Attachment, error)
	OrphanedAttachments(ctx context.Context, limit int) ([]model.Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID uint) error
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create сохраняет сообщение вместе с вложениями. Для ответа в треде в той же
// транзакции увеличивается счетчик родителя: условный UPDATE проверяет, что
// родитель жив, лежит в том же канале и сам не является ответом.
func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if msg.ParentMessageID != nil {
			now := time.Now().UTC()
			res := tx.Model(&model.Message{}).
				Where("id = ? AND channel_id = ? AND parent_message_id IS NULL", *msg.ParentMessageID, msg.ChannelID).
				UpdateColumns(map[string]any{
					"thread_reply_count": gorm.Expr("thread_reply_count + ?", 1),
					"last_reply_at":      now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return apperr.NotFoundf("parent message not found")
			}
		}

		return tx.Omit("User").Create(msg).Error
	})
	return translate(err, "message")
}

func (r *messageRepository) GetByID(ctx context.Context, messageID uint) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		First(&msg, messageID).Error
	if err != nil {
		return nil, translate(err, "message")
	}
	return &msg, nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, messageID uint, content string) (*model.Message, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ?", messageID).
		Update("content", content)
	if res.Error != nil {
		return nil, translate(res.Error, "message")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFoundf("message not found")
	}
	return r.GetByID(ctx, messageID)
}

// SoftDelete помечает сообщение удаленным и, если это ответ, уменьшает счетчик
// родителя (не ниже нуля). Оба изменения выполняются одной транзакцией;
// повторное удаление дает NotFound и счетчик не трогает.
func (r *messageRepository) SoftDelete(ctx context.Context, msg *model.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", msg.ID).Delete(&model.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperr.NotFoundf("message not found")
		}

		if msg.ParentMessageID == nil {
			return nil
		}

		return tx.Unscoped().
			Model(&model.Message{}).
			Where("id = ?", *msg.ParentMessageID).
			UpdateColumn("thread_reply_count",
				gorm.Expr("CASE WHEN thread_reply_count > 0 THEN thread_reply_count - 1 ELSE 0 END")).Error
	})
	return translate(err, "message")
}

// List возвращает корневые сообщения канала либо ответы треда, новые первыми
func (r *messageRepository) List(ctx context.Context, channelID uint, parentID *uint, page Page) ([]model.Message, int64, error) {
	page = page.normalize(25)

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("channel_id = ?", channelID)
		if parentID != nil {
			return db.Where("parent_message_id = ?", *parentID)
		}
		return db.Where("parent_message_id IS NULL")
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Message{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "message")
	}

	var messages []model.Message
	err := r.db.WithContext(ctx).
		Scopes(scope).
		Preload("User").
		Preload("Attachments").
		Order("created_at DESC, id DESC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&messages).Error
	if err != nil {
		return nil, 0, translate(err, "message")
	}

	for i := range messages {
		if messages[i].User != nil {
			messages[i].User.SanitizePassword()
		}
	}

	return messages, total, nil
}

func (r *messageRepository) LiveReplyCount(ctx context.Context, parentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("parent_message_id = ?", parentID).
		Count(&count).Error
	return count, translate(err, "message")
}

func (r *messageRepository) Attachments(ctx context.Context, messageID uint) ([]model.Attachment, error) {
	var attachments []model.Attachment
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&attachments).Error
	return attachments, translate(err, "attachment")
}

func (r *messageRepository) Attachment(ctx context.Context, attachmentID uint) (*model.Attachment, error) {
	var attachment model.Attachment
	if err := r.db.WithContext(ctx).First(&attachment, attachmentID).Error; err != nil {
		return nil, translate(err, "attachment")
	}
	return &attachment, nil
}

// OrphanedAttachments вложения удаленных сообщений, чьи файлы еще не освобождены
func (r *messageRepository) OrphanedAttachments(ctx context.Context, limit int) ([]model.Attachment, error) {
	if limit <= 0 {
		limit = 100
	}

	deleted := r.db.Unscoped().Model(&model.Message{}).Select("id").Where("deleted_at IS NOT NULL")

	var attachments []model.Attachment
	err := r.db.WithContext(ctx).
		Where("message_id IN (?)", deleted).
		Order("id ASC").
		Limit(limit).
		Find(&attachments).Error
	return attachments, translate(err, "attachment")
}

func (r *messageRepository) DeleteAttachment(ctx context.Context, attachmentID uint) error {
	err := r.db.WithContext(ctx).Delete(&model.Attachment{}, attachmentID).Error
	return translate(err, "attachment")
}
