package model

import (
	"time"

	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationThreadReply   NotificationType = "thread_reply"
	NotificationDirectMessage NotificationType = "direct_message"
)

type Notification struct {
	ID        uint             `gorm:"primarykey" json:"id"`
	CreatedAt time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	UserID    uint             `gorm:"not null;index" json:"user_id"`
	Type      NotificationType `gorm:"size:32;not null" json:"type"`
	Data      datatypes.JSON   `json:"data"`
	ReadAt    *time.Time       `json:"read_at"`
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
