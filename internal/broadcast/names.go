package broadcast

import (
	"fmt"
	"strconv"
	"strings"

	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
)

// Kind вид логического канала рассылки
type Kind int

const (
	KindPublic Kind = iota
	KindPrivate
	KindPresence
)

func (k Kind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindPresence:
		return "presence"
	default:
		return "public"
	}
}

// Feed на что указывает логический канал
type Feed string

const (
	FeedChannel     Feed = "channel"
	FeedUser        Feed = "user"
	FeedGlobal      Feed = "global"
	FeedChannelList Feed = "channels"
)

// Name логическое имя канала рассылки, например private-channel.12
type Name string

const (
	PresenceGlobal Name = "presence-global"
	PublicChannels Name = "public.channels"
)

func PrivateChannel(channelID uint) Name {
	return Name(fmt.Sprintf("private-channel.%d", channelID))
}

func PresenceChannel(channelID uint) Name {
	return Name(fmt.Sprintf("presence-channel.%d", channelID))
}

func PrivateUser(userID uint) Name {
	return Name(fmt.Sprintf("private-user.%d", userID))
}

// Target разобранное имя канала
type Target struct {
	Name Name
	Kind Kind
	Feed Feed
	ID   uint
}

// Parse разбирает имя. Неизвестные имена дают ValidationFailed.
func Parse(raw string) (Target, error) {
	name := Name(raw)
	switch name {
	case PresenceGlobal:
		return Target{Name: name, Kind: KindPresence, Feed: FeedGlobal}, nil
	case PublicChannels:
		return Target{Name: name, Kind: KindPublic, Feed: FeedChannelList}, nil
	}

	prefix, rawID, ok := strings.Cut(raw, ".")
	if !ok {
		return Target{}, apperr.Invalidf("unknown broadcast channel %q", raw)
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		return Target{}, apperr.Invalidf("unknown broadcast channel %q", raw)
	}

	switch prefix {
	case "private-channel":
		return Target{Name: name, Kind: KindPrivate, Feed: FeedChannel, ID: uint(id)}, nil
	case "presence-channel":
		return Target{Name: name, Kind: KindPresence, Feed: FeedChannel, ID: uint(id)}, nil
	case "private-user":
		return Target{Name: name, Kind: KindPrivate, Feed: FeedUser, ID: uint(id)}, nil
	}
	return Target{}, apperr.Invalidf("unknown broadcast channel %q", raw)
}
