package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"github.com/redis/go-redis/v9"
)

// PresenceCache разделяемая между узлами отметка активности пользователей.
// Хранится в одном ZSET: член это id пользователя, score это unix-время отметки.
type PresenceCache interface {
	Touch(ctx context.Context, userID uint, at time.Time) error
	ActiveSince(ctx context.Context, since time.Time) ([]uint, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type presenceCache struct {
	rdb *redis.Client
	key string
}

// NewPresenceCache создает кеш присутствия поверх клиента Redis
func NewPresenceCache(rdb *redis.Client) PresenceCache {
	return &presenceCache{rdb: rdb, key: "presence:last_seen"}
}

func (c *presenceCache) Touch(ctx context.Context, userID uint, at time.Time) error {
	if userID == 0 {
		return apperr.Invalidf("userID cannot be zero")
	}
	err := c.rdb.ZAdd(ctx, c.key, redis.Z{
		Score:  float64(at.Unix()),
		Member: strconv.FormatUint(uint64(userID), 10),
	}).Err()
	if err != nil {
		return apperr.Wrap(err, apperr.Unavailable, "presence cache unavailable")
	}
	return nil
}

// ActiveSince возвращает пользователей с отметкой не раньше since
func (c *presenceCache) ActiveSince(ctx context.Context, since time.Time) ([]uint, error) {
	members, err := c.rdb.ZRangeByScore(ctx, c.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return []uint{}, nil
		}
		return nil, apperr.Wrap(err, apperr.Unavailable, "presence cache unavailable")
	}

	users := make([]uint, 0, len(members))
	for _, member := range members {
		var userID uint
		if _, err := fmt.Sscanf(member, "%d", &userID); err == nil {
			users = append(users, userID)
		}
	}
	return users, nil
}

// Prune удаляет отметки старше before
func (c *presenceCache) Prune(ctx context.Context, before time.Time) (int64, error) {
	removed, err := c.rdb.ZRemRangeByScore(ctx, c.key, "-inf", "("+strconv.FormatInt(before.Unix(), 10)).Result()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.Unavailable, "presence cache unavailable")
	}
	return removed, nil
}
