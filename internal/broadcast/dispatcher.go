// Package broadcast доставляет типизированные события подписчикам логических каналов.
// Доставка best-effort: не более одного раза, переполненный буфер теряет событие.
package broadcast

import (
	"context"
	"sync"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"
)

type ChannelReader interface {
	GetByID(ctx context.Context, channelID uint) (*model.Channel, error)
}

type UserReader interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

type SubscribePolicy interface {
	CanSubscribe(ctx context.Context, userID uint, channel *model.Channel) error
}

// Transport локальные подписчики, обычно websocket-хаб
type Transport interface {
	Subscribers(name Name) []uint
	Deliver(name Name, userID uint, event Event, frame []byte) bool
	// Evict снимает подписки пользователя на name; true, если было что снимать
	Evict(name Name, userID uint) bool
}

// Relay пересылка событий между экземплярами сервиса
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

// Decision результат авторизации подписки
type Decision struct {
	Allowed bool
	Member  *model.UserSummary
	Reason  error
}

func Allow() Decision { return Decision{Allowed: true} }

func AllowWithMetadata(member model.UserSummary) Decision {
	return Decision{Allowed: true, Member: &member}
}

func Deny(reason error) Decision { return Decision{Reason: reason} }

type Dispatcher struct {
	channels ChannelReader
	users    UserReader
	policy   SubscribePolicy
	metrics  *Metrics

	mu        sync.RWMutex
	transport Transport
	relay     Relay
	origin    string
}

func NewDispatcher(channels ChannelReader, users UserReader, policy SubscribePolicy, metrics *Metrics) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		channels: channels,
		users:    users,
		policy:   policy,
		metrics:  metrics,
	}
}

// AttachTransport подключает локальный транспорт. Хаб сам зависит от
// диспетчера, поэтому подключается после создания.
func (d *Dispatcher) AttachTransport(t Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transport = t
}

// AttachRelay включает пересылку через relay; origin метит события этого узла
func (d *Dispatcher) AttachRelay(r Relay, origin string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relay = r
	d.origin = origin
}

// Authorize проверяет право userID подписаться на name. Отказ возвращается
// в Decision; ошибка означает сбой хранилища.
func (d *Dispatcher) Authorize(ctx context.Context, userID uint, name string) (Decision, error) {
	if userID == 0 {
		return Deny(apperr.New(apperr.Unauthenticated, "authentication required")), nil
	}
	target, err := Parse(name)
	if err != nil {
		return Deny(err), nil
	}

	check, err := d.checker(ctx, target)
	if err != nil {
		return Decision{}, err
	}
	decision, err := check(userID)
	if err != nil || !decision.Allowed || target.Kind != KindPresence {
		return decision, err
	}

	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return Deny(apperr.New(apperr.Unauthenticated, "unknown user")), nil
		}
		return Decision{}, err
	}
	return AllowWithMetadata(user.Summary()), nil
}

// checker готовит проверку для всех подписчиков одного канала, загружая канал один раз
func (d *Dispatcher) checker(ctx context.Context, target Target) (func(userID uint) (Decision, error), error) {
	switch target.Feed {
	case FeedChannelList, FeedGlobal:
		return func(uint) (Decision, error) { return Allow(), nil }, nil

	case FeedUser:
		return func(userID uint) (Decision, error) {
			if userID != target.ID {
				return Deny(apperr.New(apperr.Forbidden, "cannot subscribe to another user's feed")), nil
			}
			return Allow(), nil
		}, nil

	case FeedChannel:
		channel, err := d.channels.GetByID(ctx, target.ID)
		if err != nil {
			if apperr.Is(err, apperr.NotFound) {
				return func(uint) (Decision, error) { return Deny(err), nil }, nil
			}
			return nil, err
		}
		return func(userID uint) (Decision, error) {
			if err := d.policy.CanSubscribe(ctx, userID, channel); err != nil {
				if apperr.Is(err, apperr.Unavailable) {
					return Decision{}, err
				}
				return Deny(err), nil
			}
			return Allow(), nil
		}, nil
	}
	return nil, apperr.Invalidf("unknown broadcast channel %q", target.Name)
}

// Publish отправляет событие всем подписчикам name, кроме exclude.
// При настроенном relay событие уходит через него и возвращается на все узлы.
func (d *Dispatcher) Publish(ctx context.Context, name Name, event Event, exclude uint) {
	d.metrics.Published.WithLabelValues(event.EventName()).Inc()

	d.mu.RLock()
	relay, origin := d.relay, d.origin
	d.mu.RUnlock()

	if relay != nil {
		env, err := NewEnvelope(name, event, exclude, origin)
		if err == nil {
			err = relay.Publish(ctx, env)
		}
		if err == nil {
			return
		}
		logger.Log.Warn("broadcast relay failed, delivering locally",
			"channel", name, "event", event.EventName(), "error", err)
	}

	d.Deliver(ctx, name, event, exclude)
}

// PublishChannel публикует событие чата в приватную и presence-ленту канала
func (d *Dispatcher) PublishChannel(ctx context.Context, channelID uint, event Event, exclude uint) {
	d.Publish(ctx, PrivateChannel(channelID), event, exclude)
	d.Publish(ctx, PresenceChannel(channelID), event, exclude)
}

// PublishUser адресное событие пользователю
func (d *Dispatcher) PublishUser(ctx context.Context, userID uint, event Event) {
	d.Publish(ctx, PrivateUser(userID), event, 0)
}

// Deliver доставляет событие локальным подписчикам, заново проверяя доступ
// каждого. Возвращает число доставленных копий.
func (d *Dispatcher) Deliver(ctx context.Context, name Name, event Event, exclude uint) int {
	d.mu.RLock()
	transport := d.transport
	d.mu.RUnlock()
	if transport == nil {
		return 0
	}

	subscribers := transport.Subscribers(name)
	if len(subscribers) == 0 {
		return 0
	}

	eventName := event.EventName()
	target, err := Parse(string(name))
	if err != nil {
		d.metrics.Denied.WithLabelValues(eventName).Add(float64(len(subscribers)))
		return 0
	}
	check, err := d.checker(ctx, target)
	if err != nil {
		logger.Log.Error("broadcast authorization failed", "channel", name, "error", err)
		d.metrics.Denied.WithLabelValues(eventName).Add(float64(len(subscribers)))
		return 0
	}

	frame, err := EncodeFrame(name, event)
	if err != nil {
		logger.Log.Error("broadcast encode failed", "channel", name, "event", eventName, "error", err)
		return 0
	}

	delivered := 0
	for _, userID := range subscribers {
		if userID == exclude {
			continue
		}
		decision, err := check(userID)
		if err != nil || !decision.Allowed {
			d.metrics.Denied.WithLabelValues(eventName).Inc()
			continue
		}
		if transport.Deliver(name, userID, event, frame) {
			delivered++
			d.metrics.Delivered.WithLabelValues(eventName).Inc()
		} else {
			d.metrics.Dropped.WithLabelValues(eventName).Inc()
		}
	}
	return delivered
}

// Revoke снимает подписки userID на обе ленты канала на всех узлах.
// Вызывается, когда пользователь перестал быть участником канала.
func (d *Dispatcher) Revoke(ctx context.Context, channelID, userID uint) {
	event := SubscriptionRevoked{ChannelID: channelID, UserID: userID}

	d.mu.RLock()
	relay, origin := d.relay, d.origin
	d.mu.RUnlock()

	if relay != nil {
		env, err := NewEnvelope(PrivateUser(userID), event, 0, origin)
		if err == nil {
			err = relay.Publish(ctx, env)
		}
		if err == nil {
			return
		}
		logger.Log.Warn("broadcast relay failed, revoking locally",
			"channel_id", channelID, "user_id", userID, "error", err)
	}

	d.evict(event)
}

func (d *Dispatcher) evict(ev SubscriptionRevoked) int {
	d.mu.RLock()
	transport := d.transport
	d.mu.RUnlock()
	if transport == nil {
		return 0
	}

	evicted := 0
	for _, name := range []Name{PrivateChannel(ev.ChannelID), PresenceChannel(ev.ChannelID)} {
		if transport.Evict(name, ev.UserID) {
			evicted++
			d.metrics.Evicted.Inc()
		}
	}
	return evicted
}

// DeliverPresence доставляет изменение состава только подписчикам этого узла.
// Seq присутствия локален для координатора узла, поэтому через relay такие
// события не ходят.
func (d *Dispatcher) DeliverPresence(ctx context.Context, name Name, event Event) int {
	d.metrics.Published.WithLabelValues(event.EventName()).Inc()
	return d.Deliver(ctx, name, event, 0)
}

// DeliverEnvelope принимает событие, пришедшее через relay
func (d *Dispatcher) DeliverEnvelope(ctx context.Context, env Envelope) error {
	event, err := env.Decode()
	if err != nil {
		return err
	}
	if revoked, ok := event.(SubscriptionRevoked); ok {
		d.evict(revoked)
		return nil
	}
	d.Deliver(ctx, env.Channel, event, env.Exclude)
	return nil
}
