package repository

import (
	"context"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"gorm.io/gorm"
)

// ToggleResult итог переключения реакции
type ToggleResult string

const (
	ReactionAdded   ToggleResult = "added"
	ReactionRemoved ToggleResult = "removed"
)

type ReactionRepository interface {
	Toggle(ctx context.Context, messageID, userID uint, emoji string) (ToggleResult, error)
	Aggregate(ctx context.Context, messageID uint) ([]model.ReactionCount, error)
}

type reactionRepository struct {
	db       *gorm.DB
	attempts int
}

func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db, attempts: 3}
}

// Toggle снимает реакцию, если она была, иначе ставит. DELETE и INSERT идут
// по уникальному индексу (message, user, emoji), поэтому параллельные
// переключения одной тройки не оставляют дублей. Проигравший гонку INSERT
// повторяет переключение заново.
func (r *reactionRepository) Toggle(ctx context.Context, messageID, userID uint, emoji string) (ToggleResult, error) {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		result, err := r.toggleOnce(ctx, messageID, userID, emoji)
		if err == nil {
			return result, nil
		}
		lastErr = translate(err, "reaction")
		if !apperr.Is(lastErr, apperr.Conflict) {
			return "", lastErr
		}
	}
	return "", apperr.Wrap(lastErr, apperr.Unavailable, "reaction is being changed concurrently, retry")
}

func (r *reactionRepository) toggleOnce(ctx context.Context, messageID, userID uint, emoji string) (ToggleResult, error) {
	var result ToggleResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
			Delete(&model.MessageReaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			result = ReactionRemoved
			return nil
		}

		if err := tx.Create(&model.MessageReaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		}).Error; err != nil {
			return err
		}
		result = ReactionAdded
		return nil
	})
	return result, err
}

// Aggregate группирует реакции сообщения по эмодзи в порядке первой постановки
func (r *reactionRepository) Aggregate(ctx context.Context, messageID uint) ([]model.ReactionCount, error) {
	var reactions []model.MessageReaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, translate(err, "reaction")
	}

	index := make(map[string]int)
	counts := make([]model.ReactionCount, 0)
	for _, reaction := range reactions {
		i, ok := index[reaction.Emoji]
		if !ok {
			i = len(counts)
			index[reaction.Emoji] = i
			counts = append(counts, model.ReactionCount{Emoji: reaction.Emoji})
		}
		counts[i].Count++
		counts[i].UserIDs = append(counts[i].UserIDs, reaction.UserID)
	}
	return counts, nil
}
