package model

import (
	"time"
)

type User struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Username    string     `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Password    string     `json:"-"`
	DisplayName string     `json:"display_name"`
	LastSeenAt  *time.Time `json:"last_seen_at"`

	// IsOnline вычисляется проекцией присутствия, в базе не хранится
	IsOnline bool `gorm:"-" json:"is_online"`
}

func (u *User) SanitizePassword() {
	u.Password = ""
}

func (u *User) EnsureDisplayName() {
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
}

// Summary короткое представление пользователя для событий и ростера присутствия
type UserSummary struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func (u *User) Summary() UserSummary {
	u.EnsureDisplayName()
	return UserSummary{ID: u.ID, Name: u.DisplayName}
}
