package repository

import (
	"context"
	"strings"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"

	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id uint) (*model.User, error)
	FindByIDs(ctx context.Context, ids []uint) ([]model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	TouchLastSeen(ctx context.Context, id uint, at time.Time) error
	RecentlySeen(ctx context.Context, since time.Time) ([]uint, error)
	Search(ctx context.Context, prompt string, limit int) ([]model.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	user.EnsureDisplayName()
	return translate(r.db.WithContext(ctx).Create(user).Error, "user")
}

func (r *userRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []uint) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	var users []model.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&users).Error
	if err != nil {
		return nil, translate(err, "user")
	}
	for i := range users {
		users[i].SanitizePassword()
	}
	return users, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

func (r *userRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", username).Count(&count).Error
	if err != nil {
		return false, translate(err, "user")
	}
	return count > 0, nil
}

// TouchLastSeen обновляет отметку последней активности без изменения updated_at
func (r *userRepository) TouchLastSeen(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		UpdateColumn("last_seen_at", at.UTC()).Error
	return translate(err, "user")
}

// RecentlySeen возвращает пользователей, активных начиная с since
func (r *userRepository) RecentlySeen(ctx context.Context, since time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("last_seen_at >= ?", since.UTC()).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, translate(err, "user")
}

func (r *userRepository) Search(ctx context.Context, prompt string, limit int) ([]model.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	var users []model.User
	err := r.db.WithContext(ctx).
		Where("LOWER(username) LIKE ?", "%"+strings.ToLower(prompt)+"%").
		Order("username ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, translate(err, "user")
	}
	for i := range users {
		users[i].SanitizePassword()
	}
	return users, nil
}
