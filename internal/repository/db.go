package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true, // уникальные индексы -> gorm.ErrDuplicatedKey
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Настройка пула соединений
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate создает таблицы и индексы
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Channel{},
		&model.ChannelMember{},
		&model.Message{},
		&model.Attachment{},
		&model.MessageReaction{},
		&model.Notification{},
	)
}

// Page параметры пагинации
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize(defaultSize int) Page {
	if p.Size <= 0 || p.Size > 100 {
		p.Size = defaultSize
	}
	if p.Number <= 0 {
		p.Number = 1
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// translate приводит ошибки хранилища к классам apperr
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case apperr.KindOf(err) != apperr.Unknown:
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFoundf("%s not found", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Wrap(err, apperr.Conflict, what+" already exists")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(err, apperr.Unavailable, "request cancelled")
	default:
		return apperr.Wrap(err, apperr.Unavailable, "datastore unavailable")
	}
}
