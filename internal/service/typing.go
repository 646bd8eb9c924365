package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/policy"
	"tush00nka/bbbab_teamchat/internal/presence"
	"tush00nka/bbbab_teamchat/internal/repository"

	"golang.org/x/time/rate"
)

// limiterIdle после стольких секунд без сигналов ограничитель пары удаляется
const limiterIdle = time.Minute

type limiterKey struct {
	channelID uint
	userID    uint
}

type idleLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

type typingService struct {
	channels repository.ChannelRepository
	policy   *policy.Policy
	presence PresenceReader
	events   Publisher

	rps       float64
	now       func() time.Time
	mu        sync.Mutex
	limiters  map[limiterKey]*idleLimiter
	lastSweep time.Time
}

// NewTypingService rps ограничивает рассылку сигналов пользователя в одном канале
func NewTypingService(channels repository.ChannelRepository, access *policy.Policy, presence PresenceReader, events Publisher, rps float64) TypingService {
	if rps <= 0 {
		rps = 2
	}
	return &typingService{
		channels: channels,
		policy:   access,
		presence: presence,
		events:   events,
		rps:      rps,
		now:      time.Now,
		limiters: make(map[limiterKey]*idleLimiter),
	}
}

// allow ограничивает рассылку по паре (канал, пользователь). Раз в limiterIdle
// из пула выбрасываются пары, молчавшие дольше limiterIdle.
func (s *typingService) allow(channelID, userID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdle {
		for key, l := range s.limiters {
			if now.Sub(l.lastUsed) >= limiterIdle {
				delete(s.limiters, key)
			}
		}
		s.lastSweep = now
	}

	key := limiterKey{channelID: channelID, userID: userID}
	l, ok := s.limiters[key]
	if !ok {
		l = &idleLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), 1)}
		s.limiters[key] = l
	}
	l.lastUsed = now
	return l.limiter.AllowN(now, 1)
}

func (s *typingService) limiterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// Typing продлевает окно набора текста. Частые сигналы продлевают окно,
// но рассылаются не чаще rps в секунду.
func (s *typingService) Typing(ctx context.Context, channelID, userID uint) (presence.TypingState, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return presence.TypingState{}, err
	}
	if err := s.policy.CanPost(ctx, userID, channel); err != nil {
		return presence.TypingState{}, err
	}

	state, err := s.presence.Typing(channelID, userID)
	if err != nil {
		if errors.Is(err, presence.ErrNotPresent) {
			return presence.TypingState{}, apperr.Invalidf("subscribe to %s before sending typing signals", broadcast.PresenceChannel(channelID))
		}
		return presence.TypingState{}, err
	}

	if s.allow(channelID, userID) {
		s.events.PublishChannel(ctx, channelID, broadcast.UserTyping{
			ChannelID:   channelID,
			User:        state.Member,
			ExpiresInMs: state.ExpiresIn.Milliseconds(),
		}, userID)
	}
	return state, nil
}
