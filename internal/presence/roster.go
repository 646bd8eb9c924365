package presence

import (
	"sort"
	"sync"
)

// Roster сводит снимок состава и поток изменений без потерь и дублей.
// Изменения, пришедшие до снимка, копятся; после снимка все, что не новее
// его Seq, отбрасывается, остальное применяется по порядку.
type Roster struct {
	mu      sync.Mutex
	scope   Scope
	loaded  bool
	seq     uint64
	members map[uint]Member
	pending []Change
}

func NewRoster(scope Scope) *Roster {
	return &Roster{scope: scope, members: make(map[uint]Member)}
}

// Load применяет снимок и возвращает накопленные изменения, которые новее него
func (r *Roster) Load(s Snapshot) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loaded = true
	r.seq = s.Seq
	r.members = make(map[uint]Member, len(s.Members))
	for _, m := range s.Members {
		r.members[m.ID] = m
	}

	pending := r.pending
	r.pending = nil
	sort.Slice(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })

	var applied []Change
	for _, ch := range pending {
		if r.applyLocked(ch) {
			applied = append(applied, ch)
		}
	}
	return applied
}

// Apply принимает изменение. Возвращает true, если оно применено сразу;
// до снимка изменение откладывается, устаревшее отбрасывается.
func (r *Roster) Apply(ch Change) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch.Scope != r.scope {
		return false
	}
	if !r.loaded {
		r.pending = append(r.pending, ch)
		return false
	}
	return r.applyLocked(ch)
}

func (r *Roster) applyLocked(ch Change) bool {
	if ch.Seq <= r.seq {
		return false
	}
	switch ch.Kind {
	case Joined:
		r.members[ch.Member.ID] = ch.Member
	case Left:
		delete(r.members, ch.Member.ID)
	}
	r.seq = ch.Seq
	return true
}

func (r *Roster) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *Roster) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Members текущий состав, упорядоченный по id
func (r *Roster) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}
