package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"
	"tush00nka/bbbab_teamchat/internal/presence"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Константы
const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 16 * 1024 // 16KB
	maxSendChannelSize = 256
)

// Типы входящих кадров
const (
	InSubscribe   = "subscribe"
	InUnsubscribe = "unsubscribe"
	InHeartbeat   = "heartbeat"
)

// Служебные события хаба
const (
	EventSubscribed        = "subscription_succeeded"
	EventSubscriptionError = "subscription_error"
	EventUnsubscribed      = "unsubscribed"
	EventError             = "error"
)

// InEvent входящий кадр клиента
type InEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// ControlEvent служебный исходящий кадр
type ControlEvent struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorData тело ошибки в служебном кадре
type ErrorData struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// subscription подписка клиента; для presence-каналов держит ростер,
// который отсеивает изменения, уже учтенные в снимке
type subscription struct {
	mu     sync.Mutex
	target broadcast.Target
	scope  presence.Scope
	roster *presence.Roster
}

// Client представляет WebSocket соединение
type Client struct {
	UserID uint
	Member model.UserSummary

	ctx      context.Context
	cancel   context.CancelFunc
	conn     *websocket.Conn
	send     chan []byte
	mu       sync.RWMutex
	isClosed bool
	limiter  *rate.Limiter

	subsMu sync.Mutex
	subs   map[broadcast.Name]*subscription
}

// NewClient создает нового клиента
func NewClient(ctx context.Context, conn *websocket.Conn, member model.UserSummary) *Client {
	ctx, cancel := context.WithCancel(ctx)

	return &Client{
		UserID:  member.ID,
		Member:  member,
		ctx:     ctx,
		cancel:  cancel,
		conn:    conn,
		send:    make(chan []byte, maxSendChannelSize),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		subs:    make(map[broadcast.Name]*subscription),
	}
}

// SetRateLimit устанавливает лимит входящих кадров в секунду
func (c *Client) SetRateLimit(perSecond float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// CheckRateLimit проверяет лимит частоты
func (c *Client) CheckRateLimit() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiter.Allow()
}

func (c *Client) subscription(name broadcast.Name) (*subscription, bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	sub, ok := c.subs[name]
	return sub, ok
}

func (c *Client) addSubscription(sub *subscription) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, exists := c.subs[sub.target.Name]; exists {
		return false
	}
	c.subs[sub.target.Name] = sub
	return true
}

func (c *Client) removeSubscription(name broadcast.Name) (*subscription, bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	sub, ok := c.subs[name]
	delete(c.subs, name)
	return sub, ok
}

func (c *Client) subscriptions() []*subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	return subs
}

// ReadPump читает кадры клиента до закрытия соединения
func (c *Client) ReadPump(handleIncoming func(*Client, InEvent)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev InEvent
			if err := c.conn.ReadJSON(&ev); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logger.Log.Debug("ws client read error", "user_id", c.UserID, "error", err)
				}
				return
			}

			if !c.CheckRateLimit() {
				c.SendJSON(ControlEvent{Event: EventError, Data: ErrorData{Status: 429, Message: "too many frames"}})
				continue
			}

			handleIncoming(c, ev)
		}
	}
}

// WritePump отправляет сообщения клиенту
func (c *Client) WritePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				// Канал закрыт
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}

			// каждый кадр отдельным сообщением, клиент разбирает их по одному
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return err
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// SendJSON отправляет JSON сообщение
func (c *Client) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("ws client marshal error", "error", err)
		return false
	}

	return c.SendRaw(data)
}

// SendRaw кладет кадр в очередь; при переполнении кадр теряется
func (c *Client) SendRaw(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isClosed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close закрывает соединение
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return
	}

	c.isClosed = true
	c.cancel()
	close(c.send)
	c.conn.Close()
}

// IsClosed проверяет, закрыто ли соединение
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isClosed
}
