// Package presence хранит эфемерное состояние присутствия и набора текста.
// Состояние живет только в памяти процесса и теряется при перезапуске.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tush00nka/bbbab_teamchat/internal/model"
)

var ErrNotPresent = errors.New("user is not present in scope")

// Scope область присутствия: глобальная или канал
type Scope string

const GlobalScope Scope = "global"

func ChannelScope(channelID uint) Scope {
	return Scope(fmt.Sprintf("channel:%d", channelID))
}

// ChannelID возвращает id канала для канальной области
func (s Scope) ChannelID() (uint, bool) {
	rest, ok := strings.CutPrefix(string(s), "channel:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

type Member = model.UserSummary

type ChangeKind string

const (
	Joined ChangeKind = "joined"
	Left   ChangeKind = "left"
)

// Change изменение состава области. Seq строго растет в пределах области.
type Change struct {
	Scope  Scope      `json:"scope"`
	Kind   ChangeKind `json:"kind"`
	Member Member     `json:"member"`
	Seq    uint64     `json:"seq"`
}

// Snapshot состав области на момент Seq
type Snapshot struct {
	Scope   Scope    `json:"scope"`
	Members []Member `json:"members"`
	Seq     uint64   `json:"seq"`
}

// TypingState активный сигнал набора текста
type TypingState struct {
	ChannelID uint          `json:"channel_id"`
	Member    Member        `json:"user"`
	ExpiresIn time.Duration `json:"-"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type Config struct {
	HeartbeatTimeout time.Duration
	TypingTTL        time.Duration
}

type entry struct {
	member Member
	conns  int
	gen    uint64
	timer  *time.Timer
}

type scopeState struct {
	seq     uint64
	members map[uint]*entry
}

type typingKey struct {
	channelID uint
	userID    uint
}

type typingEntry struct {
	gen       uint64
	timer     *time.Timer
	expiresAt time.Time
}

type Coordinator struct {
	mu sync.Mutex
	// emitMu берется до отпускания mu, поэтому onChange видит изменения в порядке Seq
	emitMu   sync.Mutex
	scopes   map[Scope]*scopeState
	typing   map[typingKey]*typingEntry
	cfg      Config
	onChange func(Change)
	now      func() time.Time
	closed   bool
}

// New создает координатор. onChange вызывается вне блокировки состояния для
// каждого изменения состава, в порядке Seq внутри области. Из onChange нельзя
// вызывать методы координатора.
func New(cfg Config, onChange func(Change)) *Coordinator {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 3 * time.Second
	}
	if onChange == nil {
		onChange = func(Change) {}
	}
	return &Coordinator{
		scopes:   make(map[Scope]*scopeState),
		typing:   make(map[typingKey]*typingEntry),
		cfg:      cfg,
		onChange: onChange,
		now:      time.Now,
	}
}

func (c *Coordinator) state(scope Scope) *scopeState {
	st, ok := c.scopes[scope]
	if !ok {
		st = &scopeState{members: make(map[uint]*entry)}
		c.scopes[scope] = st
	}
	return st
}

// Join отмечает еще одно соединение пользователя в области и возвращает
// снимок состава, снятый под той же блокировкой.
func (c *Coordinator) Join(scope Scope, member Member) Snapshot {
	c.mu.Lock()
	st := c.state(scope)
	e, ok := st.members[member.ID]
	var change *Change
	if !ok {
		e = &entry{member: member}
		st.members[member.ID] = e
		st.seq++
		change = &Change{Scope: scope, Kind: Joined, Member: member, Seq: st.seq}
	}
	e.conns++
	c.armLocked(scope, e)
	snap := snapshotLocked(scope, st)
	if change == nil {
		c.mu.Unlock()
		return snap
	}
	c.emitUnlock(*change)
	return snap
}

// Heartbeat продлевает присутствие
func (c *Coordinator) Heartbeat(scope Scope, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.scopes[scope]
	if !ok {
		return ErrNotPresent
	}
	e, ok := st.members[userID]
	if !ok {
		return ErrNotPresent
	}
	c.armLocked(scope, e)
	return nil
}

// Leave закрывает одно соединение; пользователь уходит с последним
func (c *Coordinator) Leave(scope Scope, userID uint) {
	c.mu.Lock()
	st, ok := c.scopes[scope]
	if !ok {
		c.mu.Unlock()
		return
	}
	e, ok := st.members[userID]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.conns--
	if e.conns > 0 {
		c.mu.Unlock()
		return
	}
	c.emitUnlock(c.removeLocked(scope, st, e))
}

// emitUnlock отпускает mu и передает изменение в onChange, сохраняя порядок
func (c *Coordinator) emitUnlock(change Change) {
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	c.onChange(change)
}

func (c *Coordinator) armLocked(scope Scope, e *entry) {
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	userID := e.member.ID
	e.timer = time.AfterFunc(c.cfg.HeartbeatTimeout, func() { c.expire(scope, userID, gen) })
}

func (c *Coordinator) expire(scope Scope, userID uint, gen uint64) {
	c.mu.Lock()
	st, ok := c.scopes[scope]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	e, ok := st.members[userID]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return
	}
	c.emitUnlock(c.removeLocked(scope, st, e))
}

func (c *Coordinator) removeLocked(scope Scope, st *scopeState, e *entry) Change {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(st.members, e.member.ID)
	st.seq++

	if channelID, ok := scope.ChannelID(); ok {
		c.clearTypingLocked(typingKey{channelID: channelID, userID: e.member.ID})
	}

	return Change{Scope: scope, Kind: Left, Member: e.member, Seq: st.seq}
}

// Typing запускает или продлевает окно набора текста. Сигнала остановки нет:
// состояние снимается только по истечении окна или при уходе из канала.
func (c *Coordinator) Typing(channelID, userID uint) (TypingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.scopes[ChannelScope(channelID)]
	if !ok {
		return TypingState{}, ErrNotPresent
	}
	e, ok := st.members[userID]
	if !ok {
		return TypingState{}, ErrNotPresent
	}

	key := typingKey{channelID: channelID, userID: userID}
	te, ok := c.typing[key]
	if !ok {
		te = &typingEntry{}
		c.typing[key] = te
	} else if te.timer != nil {
		te.timer.Stop()
	}
	te.gen++
	gen := te.gen
	te.expiresAt = c.now().Add(c.cfg.TypingTTL)
	te.timer = time.AfterFunc(c.cfg.TypingTTL, func() { c.expireTyping(key, gen) })

	return TypingState{
		ChannelID: channelID,
		Member:    e.member,
		ExpiresIn: c.cfg.TypingTTL,
		ExpiresAt: te.expiresAt,
	}, nil
}

func (c *Coordinator) expireTyping(key typingKey, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if te, ok := c.typing[key]; ok && te.gen == gen {
		delete(c.typing, key)
	}
}

func (c *Coordinator) clearTypingLocked(key typingKey) {
	if te, ok := c.typing[key]; ok {
		te.timer.Stop()
		delete(c.typing, key)
	}
}

// TypingUsers пользователи, набирающие текст в канале
func (c *Coordinator) TypingUsers(channelID uint) []uint {
	c.mu.Lock()
	defer c.mu.Unlock()

	var users []uint
	for key := range c.typing {
		if key.channelID == channelID {
			users = append(users, key.userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (c *Coordinator) Roster(scope Scope) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.scopes[scope]
	if !ok {
		return Snapshot{Scope: scope, Members: []Member{}}
	}
	return snapshotLocked(scope, st)
}

func (c *Coordinator) IsPresent(scope Scope, userID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.scopes[scope]
	if !ok {
		return false
	}
	_, ok = st.members[userID]
	return ok
}

// Close останавливает все таймеры
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, st := range c.scopes {
		for _, e := range st.members {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
	}
	for _, te := range c.typing {
		te.timer.Stop()
	}
}

func snapshotLocked(scope Scope, st *scopeState) Snapshot {
	members := make([]Member, 0, len(st.members))
	for _, e := range st.members {
		members = append(members, e.member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return Snapshot{Scope: scope, Members: members, Seq: st.seq}
}
