package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/httputils"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"
	"tush00nka/bbbab_teamchat/internal/presence"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// Authorizer решает, можно ли подписаться на логический канал
type Authorizer interface {
	Authorize(ctx context.Context, userID uint, name string) (broadcast.Decision, error)
}

// Presence координатор присутствия
type Presence interface {
	Join(scope presence.Scope, member presence.Member) presence.Snapshot
	Leave(scope presence.Scope, userID uint)
	Heartbeat(scope presence.Scope, userID uint) error
	Roster(scope presence.Scope) presence.Snapshot
}

// HubOptions опции хаба
type HubOptions struct {
	MaxConnectionsPerUser int
	CleanupInterval       time.Duration
	// OnActivity вызывается при подключении и heartbeat глобального присутствия
	OnActivity func(userID uint)
}

// Hub держит соединения и комнаты, по одной на логический канал.
// Реализует broadcast.Transport.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[broadcast.Name]*Room
	userClients map[uint]map[*Client]bool
	options     HubOptions
	authorizer  Authorizer
	presence    Presence
	upgrader    *websocket.Upgrader
	shutdown    chan struct{}
	closeOnce   sync.Once
	metrics     *Metrics
}

// Metrics метрики
type Metrics struct {
	FramesSent     atomic.Int64
	FramesReceived atomic.Int64
	Connections    atomic.Int64
	Errors         atomic.Int64
}

// NewHub создает новый хаб
func NewHub(authorizer Authorizer, presence Presence, upgrader *websocket.Upgrader, options ...HubOptions) *Hub {
	opts := HubOptions{
		MaxConnectionsPerUser: 10,
		CleanupInterval:       5 * time.Minute,
	}
	if len(options) > 0 {
		opts = options[0]
		if opts.CleanupInterval <= 0 {
			opts.CleanupInterval = 5 * time.Minute
		}
		if opts.MaxConnectionsPerUser <= 0 {
			opts.MaxConnectionsPerUser = 10
		}
	}
	if opts.OnActivity == nil {
		opts.OnActivity = func(uint) {}
	}

	hub := &Hub{
		rooms:       make(map[broadcast.Name]*Room),
		userClients: make(map[uint]map[*Client]bool),
		options:     opts,
		authorizer:  authorizer,
		presence:    presence,
		upgrader:    upgrader,
		shutdown:    make(chan struct{}),
		metrics:     &Metrics{},
	}

	// Запускаем сборщик пустых комнат
	go hub.cleanupLoop()

	return hub
}

func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Serve поднимает websocket-соединение пользователя и обслуживает его до закрытия
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, member model.UserSummary) {
	if h.connectionCount(member.ID) >= h.options.MaxConnectionsPerUser {
		httputils.ResponseError(w, http.StatusTooManyRequests, "too many connections")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("ws upgrade failed", "user_id", member.ID, "error", err)
		return
	}

	// контекст запроса закончится вместе с обработчиком, соединение живет дольше
	client := NewClient(context.Background(), conn, member)
	h.register(client)
	h.presence.Join(presence.GlobalScope, member)
	h.options.OnActivity(member.ID)

	go func() {
		if err := client.WritePump(); err != nil {
			logger.Log.Debug("ws write error", "user_id", member.ID, "error", err)
		}
	}()

	client.ReadPump(h.handleIncoming)
	h.disconnect(client)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.userClients[client.UserID]; !exists {
		h.userClients[client.UserID] = make(map[*Client]bool)
	}
	h.userClients[client.UserID][client] = true
	h.metrics.Connections.Inc()
}

func (h *Hub) connectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

// disconnect снимает все подписки клиента и его глобальное присутствие
func (h *Hub) disconnect(client *Client) {
	for _, sub := range client.subscriptions() {
		h.unsubscribe(client, sub.target.Name)
	}
	h.presence.Leave(presence.GlobalScope, client.UserID)

	h.mu.Lock()
	if clients, exists := h.userClients[client.UserID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userClients, client.UserID)
		}
	}
	h.mu.Unlock()
	h.metrics.Connections.Dec()
}

func (h *Hub) handleIncoming(client *Client, ev InEvent) {
	h.metrics.FramesReceived.Inc()

	switch ev.Type {
	case InSubscribe:
		h.subscribe(client, ev.Channel)
	case InUnsubscribe:
		if h.unsubscribe(client, broadcast.Name(ev.Channel)) {
			client.SendJSON(ControlEvent{Event: EventUnsubscribed, Channel: ev.Channel})
		}
	case InHeartbeat:
		h.heartbeat(client, ev.Channel)
	default:
		h.sendError(client, ev.Channel, apperr.Invalidf("unknown frame type %q", ev.Type))
	}
}

func (h *Hub) subscribe(client *Client, channel string) {
	decision, err := h.authorizer.Authorize(client.ctx, client.UserID, channel)
	if err != nil {
		h.sendError(client, channel, err)
		return
	}
	if !decision.Allowed {
		h.sendSubscriptionError(client, channel, decision.Reason)
		return
	}

	target, err := broadcast.Parse(channel)
	if err != nil {
		h.sendSubscriptionError(client, channel, err)
		return
	}

	sub := &subscription{target: target}
	if target.Kind == broadcast.KindPresence {
		sub.scope = scopeOf(target)
		sub.roster = presence.NewRoster(sub.scope)
	}
	if !client.addSubscription(sub) {
		client.SendJSON(ControlEvent{Event: EventSubscribed, Channel: channel})
		return
	}

	// в комнату до снимка: изменения между ними осядут в ростере
	h.addToRoom(target.Name, client)
	client.SendJSON(ControlEvent{Event: EventSubscribed, Channel: channel})

	if sub.roster == nil {
		return
	}

	var snapshot presence.Snapshot
	if target.Feed == broadcast.FeedChannel {
		member := client.Member
		if decision.Member != nil {
			member = *decision.Member
		}
		snapshot = h.presence.Join(sub.scope, member)
	} else {
		snapshot = h.presence.Roster(sub.scope)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	pending := sub.roster.Load(snapshot)
	h.sendEvent(client, target.Name, broadcast.PresenceHere{Members: snapshot.Members, Seq: snapshot.Seq})
	for _, change := range pending {
		h.sendEvent(client, target.Name, presenceEvent(change))
	}
}

func (h *Hub) unsubscribe(client *Client, name broadcast.Name) bool {
	sub, ok := client.removeSubscription(name)
	if !ok {
		return false
	}

	if room, exists := h.roomIfExists(name); exists {
		room.remove(client)
	}
	if sub.roster != nil && sub.target.Feed == broadcast.FeedChannel {
		h.presence.Leave(sub.scope, client.UserID)
	}
	return true
}

// heartbeat продлевает присутствие. Для канала доступ проверяется заново:
// вышедший из канала пользователь теряет подписку вместо продления.
func (h *Hub) heartbeat(client *Client, channel string) {
	scope := presence.GlobalScope
	if channel != "" && channel != string(broadcast.PresenceGlobal) {
		sub, ok := client.subscription(broadcast.Name(channel))
		if !ok || sub.roster == nil || sub.target.Feed != broadcast.FeedChannel {
			h.sendError(client, channel, apperr.NotFoundf("not subscribed to %s", channel))
			return
		}

		decision, err := h.authorizer.Authorize(client.ctx, client.UserID, channel)
		if err != nil {
			h.sendError(client, channel, err)
			return
		}
		if !decision.Allowed {
			h.unsubscribe(client, sub.target.Name)
			h.sendSubscriptionError(client, channel, decision.Reason)
			return
		}
		scope = sub.scope
	}

	if err := h.presence.Heartbeat(scope, client.UserID); err != nil {
		h.sendError(client, channel, apperr.Wrap(err, apperr.NotFound, "presence expired, subscribe again"))
		return
	}
	if scope == presence.GlobalScope {
		h.options.OnActivity(client.UserID)
	}
}

// Evict снимает подписку name со всех соединений пользователя на этом узле.
// Для presence-ленты канала пользователь уходит из состава.
func (h *Hub) Evict(name broadcast.Name, userID uint) bool {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.userClients[userID]))
	for client := range h.userClients[userID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	evicted := false
	for _, client := range clients {
		if h.unsubscribe(client, name) {
			evicted = true
			client.SendJSON(ControlEvent{Event: EventUnsubscribed, Channel: string(name)})
		}
	}
	return evicted
}

// Subscribers пользователи, подписанные на name на этом узле
func (h *Hub) Subscribers(name broadcast.Name) []uint {
	room, exists := h.roomIfExists(name)
	if !exists {
		return nil
	}
	return room.userIDs()
}

// Deliver отдает кадр всем соединениям пользователя, подписанным на name.
// События присутствия проходят через ростер подписки.
func (h *Hub) Deliver(name broadcast.Name, userID uint, event broadcast.Event, frame []byte) bool {
	room, exists := h.roomIfExists(name)
	if !exists {
		return false
	}

	change, isPresence := changeOf(name, event)
	delivered := false
	for _, client := range room.clientsOf(userID) {
		if !isPresence {
			if client.SendRaw(frame) {
				delivered = true
				h.metrics.FramesSent.Inc()
			}
			continue
		}

		sub, ok := client.subscription(name)
		if !ok || sub.roster == nil {
			continue
		}
		sub.mu.Lock()
		// до снимка изменение копится в ростере и уйдет вместе со снимком
		loaded := sub.roster.Loaded()
		applied := sub.roster.Apply(change)
		if applied && client.SendRaw(frame) {
			h.metrics.FramesSent.Inc()
		}
		sub.mu.Unlock()
		if applied || !loaded {
			delivered = true
		}
	}
	return delivered
}

func (h *Hub) sendEvent(client *Client, name broadcast.Name, event broadcast.Event) {
	frame, err := broadcast.EncodeFrame(name, event)
	if err != nil {
		logger.Log.Error("ws encode failed", "event", event.EventName(), "error", err)
		return
	}
	if client.SendRaw(frame) {
		h.metrics.FramesSent.Inc()
	}
}

func (h *Hub) sendSubscriptionError(client *Client, channel string, reason error) {
	client.SendJSON(ControlEvent{
		Event:   EventSubscriptionError,
		Channel: channel,
		Data:    ErrorData{Status: httputils.StatusOf(reason), Message: apperr.MessageOf(reason)},
	})
}

func (h *Hub) sendError(client *Client, channel string, err error) {
	h.metrics.Errors.Inc()
	client.SendJSON(ControlEvent{
		Event:   EventError,
		Channel: channel,
		Data:    ErrorData{Status: httputils.StatusOf(err), Message: apperr.MessageOf(err)},
	})
}

// addToRoom добавляет клиента в комнату, создавая ее при необходимости.
// Под h.mu, чтобы уборка пустых комнат не удалила комнату между созданием и добавлением.
func (h *Hub) addToRoom(name broadcast.Name, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, exists := h.rooms[name]
	if !exists {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	room.add(client)
}

func (h *Hub) roomIfExists(name broadcast.Name) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, exists := h.rooms[name]
	return room, exists
}

// RoomCount число комнат, включая пустые, еще не убранные сборщиком
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Shutdown закрывает все соединения
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() { close(h.shutdown) })

	h.mu.RLock()
	var clients []*Client
	for _, set := range h.userClients {
		for client := range set {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.Close()
	}
}

// cleanupLoop периодически удаляет пустые комнаты
func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(h.options.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.cleanupInactiveRooms()
		}
	}
}

func (h *Hub) cleanupInactiveRooms() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, room := range h.rooms {
		if room.IsEmpty() && room.IsInactive(h.options.CleanupInterval) {
			delete(h.rooms, name)
		}
	}
}

func scopeOf(target broadcast.Target) presence.Scope {
	if target.Feed == broadcast.FeedChannel {
		return presence.ChannelScope(target.ID)
	}
	return presence.GlobalScope
}

func changeOf(name broadcast.Name, event broadcast.Event) (presence.Change, bool) {
	target, err := broadcast.Parse(string(name))
	if err != nil || target.Kind != broadcast.KindPresence {
		return presence.Change{}, false
	}
	scope := scopeOf(target)
	switch e := event.(type) {
	case broadcast.PresenceJoining:
		return presence.Change{Scope: scope, Kind: presence.Joined, Member: e.Member, Seq: e.Seq}, true
	case broadcast.PresenceLeaving:
		return presence.Change{Scope: scope, Kind: presence.Left, Member: e.Member, Seq: e.Seq}, true
	}
	return presence.Change{}, false
}

// PresenceFeed лента присутствия и событие для изменения состава области
func PresenceFeed(change presence.Change) (broadcast.Name, broadcast.Event) {
	name := broadcast.PresenceGlobal
	if id, ok := change.Scope.ChannelID(); ok {
		name = broadcast.PresenceChannel(id)
	}
	return name, presenceEvent(change)
}

func presenceEvent(change presence.Change) broadcast.Event {
	if change.Kind == presence.Joined {
		return broadcast.PresenceJoining{Member: change.Member, Seq: change.Seq}
	}
	return broadcast.PresenceLeaving{Member: change.Member, Seq: change.Seq}
}

// Room подписчики одного логического канала
type Room struct {
	name        broadcast.Name
	mu          sync.RWMutex
	clients     map[*Client]bool
	lastActive  atomic.Time
	activeCount atomic.Int32
}

// NewRoom создает новую комнату
func NewRoom(name broadcast.Name) *Room {
	room := &Room{
		name:    name,
		clients: make(map[*Client]bool),
	}
	room.lastActive.Store(time.Now())
	return room
}

func (r *Room) add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.clients[client] {
		r.clients[client] = true
		r.activeCount.Inc()
	}
	r.lastActive.Store(time.Now())
}

func (r *Room) remove(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[client] {
		delete(r.clients, client)
		r.activeCount.Dec()
	}
	r.lastActive.Store(time.Now())
}

func (r *Room) userIDs() []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uint]bool, len(r.clients))
	ids := make([]uint, 0, len(r.clients))
	for client := range r.clients {
		if !seen[client.UserID] {
			seen[client.UserID] = true
			ids = append(ids, client.UserID)
		}
	}
	return ids
}

func (r *Room) clientsOf(userID uint) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var clients []*Client
	for client := range r.clients {
		if client.UserID == userID {
			clients = append(clients, client)
		}
	}
	r.lastActive.Store(time.Now())
	return clients
}

// IsEmpty проверяет, пуста ли комната
func (r *Room) IsEmpty() bool {
	return r.activeCount.Load() == 0
}

// IsInactive проверяет, неактивна ли комната
func (r *Room) IsInactive(idle time.Duration) bool {
	return time.Since(r.lastActive.Load()) > idle
}
