package repository

import (
	"context"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"gorm.io/gorm"
)

// NotificationFilter фильтр списка уведомлений; Read == nil означает все
type NotificationFilter struct {
	Read *bool
	Page Page
}

type NotificationRepository interface {
	Create(ctx context.Context, notifications ...*model.Notification) error
	List(ctx context.Context, userID uint, filter NotificationFilter) ([]model.Notification, int64, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID uint) (*model.Notification, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notifications ...*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Create(notifications).Error, "notification")
}

func (r *notificationRepository) List(ctx context.Context, userID uint, filter NotificationFilter) ([]model.Notification, int64, error) {
	page := filter.Page.normalize(20)

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", userID)
		if filter.Read != nil {
			if *filter.Read {
				return db.Where("read_at IS NOT NULL")
			}
			return db.Where("read_at IS NULL")
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Notification{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "notification")
	}

	var notifications []model.Notification
	err := r.db.WithContext(ctx).
		Scopes(scope).
		Order("created_at DESC, id DESC").
		Offset(page.offset()).
		Limit(page.Size).
		Find(&notifications).Error
	if err != nil {
		return nil, 0, translate(err, "notification")
	}
	return notifications, total, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return count, translate(err, "notification")
}

// MarkRead отмечает уведомление прочитанным. Чужое уведомление неотличимо
// от несуществующего.
func (r *notificationRepository) MarkRead(ctx context.Context, userID, notificationID uint) (*model.Notification, error) {
	var notification model.Notification
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error
	if err != nil {
		if apperr.Is(translate(err, "notification"), apperr.NotFound) {
			return nil, apperr.NotFoundf("notification not found")
		}
		return nil, translate(err, "notification")
	}

	if notification.ReadAt != nil {
		return &notification, nil
	}

	now := time.Now().UTC()
	err = r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND read_at IS NULL", notification.ID).
		Update("read_at", now).Error
	if err != nil {
		return nil, translate(err, "notification")
	}
	notification.ReadAt = &now
	return &notification, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", time.Now().UTC())
	if res.Error != nil {
		return 0, translate(res.Error, "notification")
	}
	return res.RowsAffected, nil
}
