package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannels map[uint]*model.Channel

func (f fakeChannels) GetByID(_ context.Context, id uint) (*model.Channel, error) {
	if ch, ok := f[id]; ok {
		return ch, nil
	}
	return nil, apperr.NotFoundf("channel not found")
}

type fakeUsers struct{}

func (fakeUsers) FindByID(_ context.Context, id uint) (*model.User, error) {
	return &model.User{ID: id, Username: "user"}, nil
}

// fakePolicy: members[channelID]: множество участников
type fakePolicy struct {
	mu      sync.Mutex
	members map[uint]map[uint]bool
}

func (p *fakePolicy) CanSubscribe(_ context.Context, userID uint, channel *model.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[channel.ID][userID] {
		return nil
	}
	if channel.IsPrivate() {
		return apperr.NotFoundf("channel not found")
	}
	return apperr.New(apperr.Forbidden, "not a member")
}

func (p *fakePolicy) remove(channelID, userID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members[channelID], userID)
}

type delivery struct {
	name   Name
	userID uint
	event  Event
}

type fakeTransport struct {
	mu          sync.Mutex
	subscribers map[Name][]uint
	full        map[uint]bool
	got         []delivery
}

func (t *fakeTransport) Subscribers(name Name) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint(nil), t.subscribers[name]...)
}

func (t *fakeTransport) Deliver(name Name, userID uint, event Event, _ []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full[userID] {
		return false
	}
	t.got = append(t.got, delivery{name: name, userID: userID, event: event})
	return true
}

func (t *fakeTransport) Evict(name Name, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.subscribers[name][:0:0]
	for _, id := range t.subscribers[name] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	evicted := len(kept) != len(t.subscribers[name])
	t.subscribers[name] = kept
	return evicted
}

func (t *fakeTransport) recipients(name Name) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []uint
	for _, d := range t.got {
		if d.name == name {
			ids = append(ids, d.userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type fixture struct {
	dispatcher *Dispatcher
	transport  *fakeTransport
	policy     *fakePolicy
	metrics    *Metrics
}

func newFixture() *fixture {
	channels := fakeChannels{
		1: {ID: 1, Visibility: model.VisibilityPublic, CreatorID: 10},
		2: {ID: 2, Visibility: model.VisibilityPrivate, CreatorID: 10},
	}
	policy := &fakePolicy{members: map[uint]map[uint]bool{
		1: {10: true, 11: true},
		2: {10: true, 11: true},
	}}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(channels, fakeUsers{}, policy, metrics)
	transport := &fakeTransport{subscribers: map[Name][]uint{}, full: map[uint]bool{}}
	d.AttachTransport(transport)
	return &fixture{dispatcher: d, transport: transport, policy: policy, metrics: metrics}
}

func TestAuthorize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   uint
		channel  string
		allowed  bool
		kind     apperr.Kind
		metadata bool
	}{
		{"member private feed", 11, "private-channel.1", true, 0, false},
		{"member presence feed", 11, "presence-channel.2", true, 0, true},
		{"stranger public channel", 12, "private-channel.1", false, apperr.Forbidden, false},
		{"stranger private channel", 12, "presence-channel.2", false, apperr.NotFound, false},
		{"missing channel", 11, "private-channel.99", false, apperr.NotFound, false},
		{"own user feed", 12, "private-user.12", true, 0, false},
		{"foreign user feed", 12, "private-user.11", false, apperr.Forbidden, false},
		{"global presence", 12, "presence-global", true, 0, true},
		{"public list", 12, "public.channels", true, 0, false},
		{"garbage", 12, "private-channel.x", false, apperr.ValidationFailed, false},
		{"anonymous", 0, "public.channels", false, apperr.Unauthenticated, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := f.dispatcher.Authorize(ctx, tt.userID, tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.kind, apperr.KindOf(decision.Reason), "got %v", decision.Reason)
			}
			assert.Equal(t, tt.metadata, decision.Member != nil)
		})
	}
}

func TestPublishRevalidatesSubscribers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	name := PrivateChannel(2)
	f.transport.subscribers[name] = []uint{10, 11, 12}

	f.dispatcher.Publish(ctx, name, ChannelDeleted{ChannelID: 2}, 0)
	// 12 подписан, но участником не является
	assert.Equal(t, []uint{10, 11}, f.transport.recipients(name))

	// 11 вышел из канала, но соединение еще подписано
	f.policy.remove(2, 11)
	f.transport.got = nil
	f.dispatcher.Publish(ctx, name, ChannelDeleted{ChannelID: 2}, 0)
	assert.Equal(t, []uint{10}, f.transport.recipients(name))

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Published.WithLabelValues("channel.deleted")))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.Denied.WithLabelValues("channel.deleted")))
}

func TestPublishExcludesSenderAndCountsDrops(t *testing.T) {
	f := newFixture()
	name := PrivateChannel(1)
	f.transport.subscribers[name] = []uint{10, 11}
	f.transport.full[11] = true

	f.dispatcher.Publish(context.Background(), name, UserTyping{ChannelID: 1, User: model.UserSummary{ID: 10}}, 10)

	assert.Empty(t, f.transport.recipients(name))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Dropped.WithLabelValues("user.typing")))
}

func TestPublishChannelHitsBothFeeds(t *testing.T) {
	f := newFixture()
	f.transport.subscribers[PrivateChannel(1)] = []uint{10}
	f.transport.subscribers[PresenceChannel(1)] = []uint{11}

	f.dispatcher.PublishChannel(context.Background(), 1, MessageDeleted{MessageID: 5, ChannelID: 1}, 0)

	assert.Equal(t, []uint{10}, f.transport.recipients(PrivateChannel(1)))
	assert.Equal(t, []uint{11}, f.transport.recipients(PresenceChannel(1)))
}

type fakeRelay struct {
	envelopes []Envelope
	err       error
}

func (r *fakeRelay) Publish(_ context.Context, env Envelope) error {
	if r.err != nil {
		return r.err
	}
	r.envelopes = append(r.envelopes, env)
	return nil
}

func TestRelayRoundTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	relay := &fakeRelay{}
	f.dispatcher.AttachRelay(relay, "node-a")
	f.transport.subscribers[PrivateUser(11)] = []uint{11}

	f.dispatcher.PublishUser(ctx, 11, NotificationCreated{Notification: &model.Notification{ID: 3, UserID: 11}})

	// локальная доставка идет только через relay
	assert.Empty(t, f.transport.recipients(PrivateUser(11)))
	require.Len(t, relay.envelopes, 1)
	assert.Equal(t, "node-a", relay.envelopes[0].Origin)

	require.NoError(t, f.dispatcher.DeliverEnvelope(ctx, relay.envelopes[0]))
	assert.Equal(t, []uint{11}, f.transport.recipients(PrivateUser(11)))
	got := f.transport.got[0].event.(NotificationCreated)
	assert.Equal(t, uint(3), got.Notification.ID)
}

func TestRelayFailureFallsBackToLocal(t *testing.T) {
	f := newFixture()
	f.dispatcher.AttachRelay(&fakeRelay{err: errors.New("broker down")}, "node-a")
	f.transport.subscribers[PublicChannels] = []uint{12}

	f.dispatcher.Publish(context.Background(), PublicChannels, ChannelUpdated{Channel: &model.Channel{ID: 1}}, 0)
	assert.Equal(t, []uint{12}, f.transport.recipients(PublicChannels))
}

func TestRevokeDropsBothChannelFeeds(t *testing.T) {
	f := newFixture()
	f.transport.subscribers[PrivateChannel(2)] = []uint{10, 11}
	f.transport.subscribers[PresenceChannel(2)] = []uint{11}
	f.transport.subscribers[PrivateUser(11)] = []uint{11}

	f.dispatcher.Revoke(context.Background(), 2, 11)

	assert.Equal(t, []uint{10}, f.transport.Subscribers(PrivateChannel(2)))
	assert.Empty(t, f.transport.Subscribers(PresenceChannel(2)))
	assert.Equal(t, []uint{11}, f.transport.Subscribers(PrivateUser(11)))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Evicted))
}

func TestRevokeTravelsThroughRelay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	relay := &fakeRelay{}
	f.dispatcher.AttachRelay(relay, "node-a")
	f.transport.subscribers[PresenceChannel(2)] = []uint{10, 11}

	f.dispatcher.Revoke(ctx, 2, 11)
	// пока конверт не вернулся, локальные подписки на месте
	assert.Equal(t, []uint{10, 11}, f.transport.Subscribers(PresenceChannel(2)))
	require.Len(t, relay.envelopes, 1)
	assert.Equal(t, "subscription.revoked", relay.envelopes[0].Event)

	require.NoError(t, f.dispatcher.DeliverEnvelope(ctx, relay.envelopes[0]))
	assert.Equal(t, []uint{10}, f.transport.Subscribers(PresenceChannel(2)))
	// служебное событие клиентам не отдается
	assert.Empty(t, f.transport.got)
}

func TestRevokeFallsBackToLocalWhenRelayFails(t *testing.T) {
	f := newFixture()
	f.dispatcher.AttachRelay(&fakeRelay{err: errors.New("broker down")}, "node-a")
	f.transport.subscribers[PrivateChannel(1)] = []uint{11}

	f.dispatcher.Revoke(context.Background(), 1, 11)
	assert.Empty(t, f.transport.Subscribers(PrivateChannel(1)))
}

func TestDeliverPresenceStaysLocal(t *testing.T) {
	f := newFixture()
	relay := &fakeRelay{}
	f.dispatcher.AttachRelay(relay, "node-a")
	f.transport.subscribers[PresenceChannel(1)] = []uint{10}

	n := f.dispatcher.DeliverPresence(context.Background(), PresenceChannel(1),
		PresenceJoining{Member: model.UserSummary{ID: 11}, Seq: 1})

	assert.Equal(t, 1, n)
	assert.Empty(t, relay.envelopes)
	assert.Equal(t, []uint{10}, f.transport.recipients(PresenceChannel(1)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Published.WithLabelValues("presence.joining")))
}
