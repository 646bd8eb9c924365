package broadcast

import (
	"encoding/json"
	"fmt"

	"tush00nka/bbbab_teamchat/internal/model"
)

// Event закрытый набор событий рассылки. Реализовать его можно только в этом пакете.
type Event interface {
	EventName() string
	sealed()
}

type MessageSent struct {
	Message *model.Message `json:"message"`
}

type MessageUpdated struct {
	Message *model.Message `json:"message"`
}

type MessageDeleted struct {
	MessageID        uint  `json:"message_id"`
	ChannelID        uint  `json:"channel_id"`
	ParentMessageID  *uint `json:"parent_message_id,omitempty"`
	ThreadReplyCount *int  `json:"thread_reply_count,omitempty"`
}

type ReactionToggled struct {
	MessageID uint                  `json:"message_id"`
	ChannelID uint                  `json:"channel_id"`
	User      model.UserSummary     `json:"user"`
	Emoji     string                `json:"emoji"`
	State     string                `json:"state"`
	Reactions []model.ReactionCount `json:"reactions"`
}

type ChannelUpdated struct {
	Channel *model.Channel `json:"channel"`
}

type ChannelDeleted struct {
	ChannelID uint `json:"channel_id"`
}

type UserJoinedChannel struct {
	ChannelID uint              `json:"channel_id"`
	User      model.UserSummary `json:"user"`
}

type UserLeftChannel struct {
	ChannelID uint              `json:"channel_id"`
	User      model.UserSummary `json:"user"`
}

type UserTyping struct {
	ChannelID   uint              `json:"channel_id"`
	User        model.UserSummary `json:"user"`
	ExpiresInMs int64             `json:"expires_in_ms"`
}

type PresenceJoining struct {
	Member model.UserSummary `json:"member"`
	Seq    uint64            `json:"seq"`
}

type PresenceLeaving struct {
	Member model.UserSummary `json:"member"`
	Seq    uint64            `json:"seq"`
}

// PresenceHere снимок состава, отправляется подписчику сразу после подписки
type PresenceHere struct {
	Members []model.UserSummary `json:"members"`
	Seq     uint64              `json:"seq"`
}

type NotificationCreated struct {
	Notification *model.Notification `json:"notification"`
}

// SubscriptionRevoked служебное событие между узлами: снять подписки
// пользователя на ленты канала. Клиентам не рассылается.
type SubscriptionRevoked struct {
	ChannelID uint `json:"channel_id"`
	UserID    uint `json:"user_id"`
}

func (MessageSent) EventName() string         { return "message.sent" }
func (MessageUpdated) EventName() string      { return "message.updated" }
func (MessageDeleted) EventName() string      { return "message.deleted" }
func (ReactionToggled) EventName() string     { return "message.reaction" }
func (ChannelUpdated) EventName() string      { return "channel.updated" }
func (ChannelDeleted) EventName() string      { return "channel.deleted" }
func (UserJoinedChannel) EventName() string   { return "channel.user.joined" }
func (UserLeftChannel) EventName() string     { return "channel.user.left" }
func (UserTyping) EventName() string          { return "user.typing" }
func (PresenceJoining) EventName() string     { return "presence.joining" }
func (PresenceLeaving) EventName() string     { return "presence.leaving" }
func (PresenceHere) EventName() string        { return "presence.here" }
func (NotificationCreated) EventName() string { return "notification.created" }
func (SubscriptionRevoked) EventName() string { return "subscription.revoked" }

func (MessageSent) sealed()         {}
func (MessageUpdated) sealed()      {}
func (MessageDeleted) sealed()      {}
func (ReactionToggled) sealed()     {}
func (ChannelUpdated) sealed()      {}
func (ChannelDeleted) sealed()      {}
func (UserJoinedChannel) sealed()   {}
func (UserLeftChannel) sealed()     {}
func (UserTyping) sealed()          {}
func (PresenceJoining) sealed()     {}
func (PresenceLeaving) sealed()     {}
func (PresenceHere) sealed()        {}
func (NotificationCreated) sealed() {}
func (SubscriptionRevoked) sealed() {}

// Frame то, что получает клиент по websocket
type Frame struct {
	Channel Name   `json:"channel"`
	Event   string `json:"event"`
	Data    Event  `json:"data"`
}

func EncodeFrame(name Name, event Event) ([]byte, error) {
	return json.Marshal(Frame{Channel: name, Event: event.EventName(), Data: event})
}

// Envelope событие в пути между узлами
type Envelope struct {
	Channel Name            `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Exclude uint            `json:"exclude,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

func NewEnvelope(name Name, event Event, exclude uint, origin string) (Envelope, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: name, Event: event.EventName(), Data: data, Exclude: exclude, Origin: origin}, nil
}

// Decode восстанавливает типизированное событие из конверта
func (e Envelope) Decode() (Event, error) {
	var event Event
	switch e.Event {
	case "message.sent":
		event = &MessageSent{}
	case "message.updated":
		event = &MessageUpdated{}
	case "message.deleted":
		event = &MessageDeleted{}
	case "message.reaction":
		event = &ReactionToggled{}
	case "channel.updated":
		event = &ChannelUpdated{}
	case "channel.deleted":
		event = &ChannelDeleted{}
	case "channel.user.joined":
		event = &UserJoinedChannel{}
	case "channel.user.left":
		event = &UserLeftChannel{}
	case "user.typing":
		event = &UserTyping{}
	case "presence.joining":
		event = &PresenceJoining{}
	case "presence.leaving":
		event = &PresenceLeaving{}
	case "presence.here":
		event = &PresenceHere{}
	case "notification.created":
		event = &NotificationCreated{}
	case "subscription.revoked":
		event = &SubscriptionRevoked{}
	default:
		return nil, fmt.Errorf("unknown event %q", e.Event)
	}
	if err := json.Unmarshal(e.Data, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return deref(event), nil
}

func deref(event Event) Event {
	switch v := event.(type) {
	case *MessageSent:
		return *v
	case *MessageUpdated:
		return *v
	case *MessageDeleted:
		return *v
	case *ReactionToggled:
		return *v
	case *ChannelUpdated:
		return *v
	case *ChannelDeleted:
		return *v
	case *UserJoinedChannel:
		return *v
	case *UserLeftChannel:
		return *v
	case *UserTyping:
		return *v
	case *PresenceJoining:
		return *v
	case *PresenceLeaving:
		return *v
	case *PresenceHere:
		return *v
	case *NotificationCreated:
		return *v
	case *SubscriptionRevoked:
		return *v
	}
	return event
}
