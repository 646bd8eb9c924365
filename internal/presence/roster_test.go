package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterBuffersUntilSnapshot(t *testing.T) {
	scope := ChannelScope(3)
	r := NewRoster(scope)

	// изменения пришли раньше снимка и не по порядку
	assert.False(t, r.Apply(Change{Scope: scope, Kind: Joined, Member: bob(), Seq: 3}))
	assert.False(t, r.Apply(Change{Scope: scope, Kind: Joined, Member: alice(), Seq: 2}))
	assert.False(t, r.Apply(Change{Scope: scope, Kind: Left, Member: alice(), Seq: 4}))

	applied := r.Load(Snapshot{Scope: scope, Members: []Member{alice()}, Seq: 2})
	require.Len(t, applied, 2)
	assert.Equal(t, uint64(3), applied[0].Seq)
	assert.Equal(t, uint64(4), applied[1].Seq)

	assert.Equal(t, []Member{bob()}, r.Members())
	assert.Equal(t, uint64(4), r.Seq())

	// дубль старого изменения отбрасывается
	assert.False(t, r.Apply(Change{Scope: scope, Kind: Joined, Member: alice(), Seq: 2}))
	assert.True(t, r.Apply(Change{Scope: scope, Kind: Joined, Member: alice(), Seq: 5}))
	assert.Equal(t, []Member{alice(), bob()}, r.Members())

	assert.False(t, r.Apply(Change{Scope: GlobalScope, Kind: Left, Member: alice(), Seq: 9}))
}

// Снимок и поток берутся от живого координатора параллельно с чужими
// входами и выходами; итоговый состав должен совпасть с координатором.
func TestRosterConvergesWithCoordinator(t *testing.T) {
	scope := ChannelScope(9)
	r := NewRoster(scope)
	c := New(Config{HeartbeatTimeout: time.Minute}, func(ch Change) { r.Apply(ch) })
	defer c.Close()

	var wg sync.WaitGroup
	for i := 10; i < 40; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			c.Join(scope, Member{ID: id})
			if id%3 == 0 {
				c.Leave(scope, id)
			}
		}(uint(i))
	}

	r.Load(c.Join(scope, alice()))
	wg.Wait()

	assert.Equal(t, c.Roster(scope).Members, r.Members())
	assert.Equal(t, c.Roster(scope).Seq, r.Seq())
}
