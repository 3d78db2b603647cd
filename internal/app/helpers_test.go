package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
	"github.com/dkeye/concort/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	return openStoreAt(t, filepath.Join(t.TempDir(), "concort.db"))
}

func openStoreAt(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// requireContiguousRanks checks the partition is ranked 1..N in
// eligibility order and returns its size.
func requireContiguousRanks(t *testing.T, s *sqlite.Store, g domain.Gender) int {
	t.Helper()
	waiting, err := s.LoadWaitingParticipants(context.Background(), g)
	require.NoError(t, err)
	for i, p := range waiting {
		require.NotNil(t, p.QueueRank, "participant %s has no rank", p.ID)
		require.Equal(t, i+1, *p.QueueRank, "participant %s", p.ID)
		if i > 0 {
			require.False(t, p.EligibleAt.Before(waiting[i-1].EligibleAt))
		}
	}
	return len(waiting)
}

// newReady registers a participant with a complete profile.
func newReady(t *testing.T, e *Engine, name string, g domain.Gender) domain.ParticipantID {
	t.Helper()
	ctx := context.Background()
	p, err := e.Register(ctx)
	require.NoError(t, err)
	_, err = e.UpdateProfile(ctx, p.ID, domain.Profile{Name: name, Gender: g})
	require.NoError(t, err)
	return p.ID
}

// fakeChannel records outbound events. Inbound events are fed through in.
type fakeChannel struct {
	mu      sync.Mutex
	events  []core.Event
	fail    error
	block   bool
	closed  bool
	code    int
	in      chan core.InboundEvent
	decode  chan struct{}
	closeCh chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:      make(chan core.InboundEvent, 16),
		decode:  make(chan struct{}, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeChannel) Send(ctx context.Context, ev core.Event) error {
	c.mu.Lock()
	fail, block, closed := c.fail, c.block, c.closed
	c.mu.Unlock()
	if closed {
		return core.ErrChannelClosed
	}
	if fail != nil {
		return fail
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Receive(ctx context.Context) (core.InboundEvent, error) {
	select {
	case ev := <-c.in:
		return ev, nil
	case <-c.decode:
		return core.InboundEvent{}, errors.New("decode frame: bad json")
	case <-c.closeCh:
		return core.InboundEvent{}, core.ErrChannelClosed
	case <-ctx.Done():
		return core.InboundEvent{}, core.ErrChannelClosed
	}
}

func (c *fakeChannel) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.code = code
	close(c.closeCh)
}

func (c *fakeChannel) setFail(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *fakeChannel) setBlock() {
	c.mu.Lock()
	c.block = true
	c.mu.Unlock()
}

func (c *fakeChannel) snapshot() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Event(nil), c.events...)
}

func (c *fakeChannel) closeCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.closed
}

func (c *fakeChannel) messages() []core.MessageEvent {
	var out []core.MessageEvent
	for _, ev := range c.snapshot() {
		if m, ok := ev.(core.MessageEvent); ok {
			out = append(out, m)
		}
	}
	return out
}

// fakeIdentity treats the credential as the participant ID.
type fakeIdentity struct{}

func (fakeIdentity) Resolve(_ context.Context, credential string) (domain.ParticipantID, error) {
	if credential == "" || credential == "bad" {
		return "", domain.ErrUnauthenticated
	}
	return domain.ParticipantID(credential), nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
