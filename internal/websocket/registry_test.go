package websocket

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu       sync.Mutex
	received [][]byte
	fail     bool
	closed   int
}

func (h *fakeHandle) Enqueue(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("stalled")
	}
	h.received = append(h.received, payload)
	return nil
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *fakeHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func TestRegistry_BroadcastSkipsOrigin(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeHandle{}, &fakeHandle{}
	connA, connB := uuid.New(), uuid.New()
	r.Register(connA, uuid.New(), a)
	r.Register(connB, uuid.New(), b)

	n := r.BroadcastExcept(connA, []byte("hi"), Everyone)

	assert.Equal(t, 1, n)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
}

func TestRegistry_FailingConnectionDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry()
	a, b, c := &fakeHandle{}, &fakeHandle{fail: true}, &fakeHandle{}
	connA, connB, connC := uuid.New(), uuid.New(), uuid.New()
	r.Register(connA, uuid.New(), a)
	r.Register(connB, uuid.New(), b)
	r.Register(connC, uuid.New(), c)

	n := r.BroadcastExcept(connA, []byte("hi"), Everyone)

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, c.count())
	assert.Equal(t, 1, b.closeCount(), "failed connection should be closed")
	assert.Equal(t, 2, r.Count(), "failed connection should be unregistered")

	// Later broadcasts no longer reach it.
	r.BroadcastExcept(connA, []byte("again"), Everyone)
	assert.Equal(t, 2, c.count())
	assert.Equal(t, 1, b.closeCount())
}

func TestRegistry_AudienceScopesDelivery(t *testing.T) {
	r := NewRegistry()
	alice, bob, eve := uuid.New(), uuid.New(), uuid.New()
	hAlice, hBob, hEve := &fakeHandle{}, &fakeHandle{}, &fakeHandle{}
	connAlice := uuid.New()
	r.Register(connAlice, alice, hAlice)
	r.Register(uuid.New(), bob, hBob)
	r.Register(uuid.New(), eve, hEve)

	n := r.BroadcastExcept(connAlice, []byte("hi"), Participants([]uuid.UUID{alice, bob}))

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, hBob.count())
	assert.Equal(t, 0, hEve.count())
}

func TestRegistry_SameUserOnSeveralConnections(t *testing.T) {
	r := NewRegistry()
	alice, bob := uuid.New(), uuid.New()
	tab1, tab2, phone := &fakeHandle{}, &fakeHandle{}, &fakeHandle{}
	connTab1 := uuid.New()
	r.Register(connTab1, alice, tab1)
	r.Register(uuid.New(), alice, tab2)
	r.Register(uuid.New(), bob, phone)

	assert.Equal(t, 2, r.UserConnections(alice))

	r.BroadcastExcept(connTab1, []byte("hi"), Participants([]uuid.UUID{alice, bob}))

	assert.Equal(t, 0, tab1.count())
	assert.Equal(t, 1, tab2.count(), "sender's other connections receive the message")
	assert.Equal(t, 1, phone.count())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandle{}
	conn := uuid.New()
	r.Register(conn, uuid.New(), h)

	assert.True(t, r.Unregister(conn))
	assert.False(t, r.Unregister(conn))
	assert.Equal(t, 1, h.closeCount())
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	handles := []*fakeHandle{{}, {}, {}}
	for _, h := range handles {
		r.Register(uuid.New(), uuid.New(), h)
	}

	r.CloseAll()

	assert.Equal(t, 0, r.Count())
	for _, h := range handles {
		assert.Equal(t, 1, h.closeCount())
	}
}

func TestRegistry_ConcurrentRegisterAndBroadcast(t *testing.T) {
	r := NewRegistry()
	origin := uuid.New()
	r.Register(origin, uuid.New(), &fakeHandle{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			conn := uuid.New()
			r.Register(conn, uuid.New(), &fakeHandle{})
			r.Unregister(conn)
		}()
		go func() {
			defer wg.Done()
			r.BroadcastExcept(origin, []byte("x"), Everyone)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, r.Count())
}

func TestChatLocks_SerialisesAndReleases(t *testing.T) {
	locks := newChatLocks()
	chatID := uuid.New()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(chatID)
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, locks.size())
}

func TestChatLocks_DifferentChatsDoNotBlock(t *testing.T) {
	locks := newChatLocks()
	unlockA := locks.Lock(uuid.New())
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(uuid.New())
		unlock()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, locks.size())
}
