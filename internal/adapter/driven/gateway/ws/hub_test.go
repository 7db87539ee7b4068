package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type stubClient struct {
	id     string
	user   domain.UserID
	mu     sync.Mutex
	events []domain.Event
	closed bool
	err    error
}

func newStubClient(user domain.UserID) *stubClient {
	return &stubClient{id: uuid.NewString(), user: user}
}

func (c *stubClient) ID() string            { return c.id }
func (c *stubClient) UserID() domain.UserID { return c.user }

func (c *stubClient) Send(e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *stubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubClient) received() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *stubClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run()
	}()
	t.Cleanup(func() {
		h.Stop()
		<-done
	})
	return h
}

func TestHubFansOutToEverySocketOfUser(t *testing.T) {
	h := startHub(t)
	alice, bob := domain.NewUserID(), domain.NewUserID()

	phone, laptop, other := newStubClient(alice), newStubClient(alice), newStubClient(bob)
	for _, c := range []*stubClient{phone, laptop, other} {
		require.NoError(t, h.Register(c))
	}
	require.Eventually(t, func() bool { return h.Online(alice) && h.Online(bob) }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.SendEvent(context.Background(), alice, domain.Event{Name: domain.EventCallEnded}))
	assert.Len(t, phone.received(), 1)
	assert.Len(t, laptop.received(), 1)
	assert.Empty(t, other.received())
}

func TestHubUnregister(t *testing.T) {
	h := startHub(t)
	alice := domain.NewUserID()
	c := newStubClient(alice)
	require.NoError(t, h.Register(c))
	require.Eventually(t, func() bool { return h.Online(alice) }, time.Second, 5*time.Millisecond)

	h.Unregister(c)
	require.Eventually(t, func() bool { return !h.Online(alice) }, time.Second, 5*time.Millisecond)
	assert.True(t, c.isClosed())

	assert.NoError(t, h.SendEvent(context.Background(), alice, domain.Event{Name: domain.EventCallEnded}),
		"offline users are not an error")
}

func TestHubSendFailsOnlyWhenEverySocketFails(t *testing.T) {
	h := startHub(t)
	alice := domain.NewUserID()
	good, bad := newStubClient(alice), newStubClient(alice)
	bad.err = ErrSlowConsumer
	require.NoError(t, h.Register(good))
	require.NoError(t, h.Register(bad))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.clients[alice]) == 2
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, h.SendEvent(context.Background(), alice, domain.Event{Name: domain.EventMessageNew}))

	good.err = ErrClosed
	assert.ErrorIs(t, h.SendEvent(context.Background(), alice, domain.Event{Name: domain.EventMessageNew}), ErrClosed)
}

func TestHubStopClosesClients(t *testing.T) {
	h := NewHub(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run()
	}()

	c := newStubClient(domain.NewUserID())
	require.NoError(t, h.Register(c))
	h.Stop()
	<-done

	assert.True(t, c.isClosed())
	assert.ErrorIs(t, h.Register(newStubClient(domain.NewUserID())), ErrHubStopped)
}
