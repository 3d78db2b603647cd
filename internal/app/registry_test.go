package app

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/concort/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndPeers(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeChannel(), newFakeChannel()

	assert.Nil(t, r.Register(a, "m1", "p1"))
	assert.Nil(t, r.Register(b, "m1", "p2"))

	peers := r.PeersOf("m1")
	require.Len(t, peers, 2)
	got := map[domain.ParticipantID]bool{}
	for _, p := range peers {
		got[p.Participant] = true
	}
	assert.True(t, got["p1"] && got["p2"])
	assert.Len(t, r.ChannelsFor("m1"), 2)
	assert.Empty(t, r.ChannelsFor("other"))

	ch, ok := r.ChannelFor("p1")
	require.True(t, ok)
	assert.Same(t, a, ch)

	matches, participants := r.Len()
	assert.Equal(t, 1, matches)
	assert.Equal(t, 2, participants)
}

func TestRegistrySupersede(t *testing.T) {
	r := NewRegistry()
	old, fresh := newFakeChannel(), newFakeChannel()

	r.Register(old, "m1", "p1")
	superseded := r.Register(fresh, "m2", "p1")
	assert.Same(t, old, superseded)
	assert.Empty(t, r.ChannelsFor("m1"))

	// Late teardown of the old channel must not evict the new one.
	assert.False(t, r.Unregister(old, "m1", "p1"))
	ch, ok := r.ChannelFor("p1")
	require.True(t, ok)
	assert.Same(t, fresh, ch)
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	a := newFakeChannel()
	r.Register(a, "m1", "p1")

	assert.True(t, r.Unregister(a, "m1", "p1"))
	assert.False(t, r.Unregister(a, "m1", "p1"))
	_, ok := r.ChannelFor("p1")
	assert.False(t, ok)
	matches, participants := r.Len()
	assert.Zero(t, matches)
	assert.Zero(t, participants)
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := newFakeChannel()
			pid := domain.ParticipantID(string(rune('a' + i%26)))
			r.Register(ch, "m1", pid)
			_ = r.PeersOf("m1")
			r.Unregister(ch, "m1", pid)
		}()
	}
	wg.Wait()
	matches, _ := r.Len()
	assert.Zero(t, matches)
}

func TestMatchLocksReleased(t *testing.T) {
	var l matchLocks
	var wg sync.WaitGroup
	counter := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.acquire("m1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Zero(t, l.size())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("p1"))
	assert.True(t, rl.Allow("p1"))
	assert.False(t, rl.Allow("p1"))
	assert.True(t, rl.Allow("p2"), "limits are per participant")

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("p1"))

	rl.Forget("p1")
	assert.True(t, rl.Allow("p1"))

	disabled := NewRateLimiter(0, time.Second)
	assert.Nil(t, disabled)
	assert.True(t, disabled.Allow("p1"))
}
