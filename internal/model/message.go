package model

import (
	"time"

	"gorm.io/gorm"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

type Message struct {
	ID               uint           `gorm:"primarykey" json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	ChannelID        uint           `gorm:"not null;index" json:"channel_id"`
	UserID           uint           `gorm:"not null;index" json:"user_id"`
	ParentMessageID  *uint          `gorm:"index" json:"parent_message_id"`
	Content          string         `gorm:"type:text;not null" json:"content"`
	Type             MessageType    `gorm:"size:16;not null;default:text" json:"type"`
	ThreadReplyCount int            `gorm:"not null;default:0" json:"thread_reply_count"`
	LastReplyAt      *time.Time     `json:"last_reply_at"`

	User        *User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
}

func (m *Message) IsReply() bool {
	return m.ParentMessageID != nil
}

type Attachment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	MessageID uint      `gorm:"not null;index" json:"message_id"`
	FileName  string    `gorm:"size:255;not null" json:"file_name"`
	FilePath  string    `gorm:"size:1024;not null" json:"file_path"`
	FileType  string    `gorm:"size:255" json:"file_type"`
	FileSize  int64     `json:"file_size"`
}

type MessageReaction struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reaction" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reaction" json:"user_id"`
	Emoji     string    `gorm:"size:64;not null;uniqueIndex:idx_reaction" json:"emoji"`
}

// ReactionCount агрегат реакций сообщения по одному эмодзи
type ReactionCount struct {
	Emoji   string `json:"emoji"`
	Count   int64  `json:"count"`
	UserIDs []uint `json:"user_ids"`
}
