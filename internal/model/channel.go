package model

import (
	"fmt"
	"time"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityDirect  Visibility = "direct"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityDirect:
		return true
	}
	return false
}

type Role string

const (
	RoleNone   Role = ""
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Channel struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Name        string     `gorm:"size:255;not null;index" json:"name"`
	Description string     `json:"description"`
	Visibility  Visibility `gorm:"size:16;not null;default:public;index" json:"type"`
	CreatorID   uint       `gorm:"not null;index" json:"creator_id"`
	Creator     *User      `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`

	// DirectKey заполнен только у личных каналов: dm:{меньший id}:{больший id}
	DirectKey *string `gorm:"uniqueIndex;size:64" json:"-"`

	Members []ChannelMember `gorm:"foreignKey:ChannelID" json:"members,omitempty"`
}

func (c *Channel) IsPrivate() bool {
	return c.Visibility != VisibilityPublic
}

// DirectKeyFor ключ личного канала для неупорядоченной пары пользователей
func DirectKeyFor(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

type ChannelMember struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	ChannelID uint      `gorm:"not null;uniqueIndex:idx_channel_member" json:"channel_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_channel_member;index" json:"user_id"`
	Role      Role      `gorm:"size:16;not null;default:member" json:"role"`
	JoinedAt  time.Time `gorm:"not null" json:"joined_at"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
