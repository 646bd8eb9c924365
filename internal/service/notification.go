package service

import (
	"context"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/repository"
)

type notificationService struct {
	notifications repository.NotificationRepository
	events        Publisher
}

func NewNotificationService(notifications repository.NotificationRepository, events Publisher) NotificationService {
	return &notificationService{notifications: notifications, events: events}
}

// Notify сохраняет уведомления и отправляет каждое в ленту адресата
func (s *notificationService) Notify(ctx context.Context, notifications ...*model.Notification) error {
	if err := s.notifications.Create(ctx, notifications...); err != nil {
		return err
	}
	for _, n := range notifications {
		s.events.PublishUser(ctx, n.UserID, broadcast.NotificationCreated{Notification: n})
	}
	return nil
}

func (s *notificationService) List(ctx context.Context, userID uint, filter repository.NotificationFilter) ([]model.Notification, int64, error) {
	return s.notifications.List(ctx, userID, filter)
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.notifications.UnreadCount(ctx, userID)
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID uint) (*model.Notification, error) {
	return s.notifications.MarkRead(ctx, userID, notificationID)
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return s.notifications.MarkAllRead(ctx, userID)
}
