package lobby

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	out    chan any
	fail   atomic.Bool
	closed atomic.Bool
}

func newFakeConn(buf int) *fakeConn { return &fakeConn{out: make(chan any, buf)} }

func (c *fakeConn) Send(payload any) error {
	if c.fail.Load() || c.closed.Load() {
		return errors.New("send failed")
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return errors.New("outbox full")
	}
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// helper: receive one payload with a timeout so tests never hang
func recvPayload(t *testing.T, ch <-chan any, within time.Duration) any {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(within):
		t.Fatalf("timed out waiting for payload")
		return nil
	}
}

func recvNoPayload(t *testing.T, ch <-chan any, within time.Duration) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("expected no payload within %v, but got: %+v", within, p)
	case <-time.After(within):
	}
}

func newTestLobby(t *testing.T) *Lobby {
	t.Helper()
	l := New(context.Background(), "s1", zap.NewNop())
	t.Cleanup(l.Shutdown)
	return l
}

func TestLobby_BroadcastReachesAllClients(t *testing.T) {
	l := newTestLobby(t)
	a, b := newFakeConn(4), newFakeConn(4)
	l.Register("a", a)
	l.Register("b", b)

	n := l.Broadcast("hello")
	assert.Equal(t, 2, n)
	assert.Equal(t, "hello", recvPayload(t, a.out, 100*time.Millisecond))
	assert.Equal(t, "hello", recvPayload(t, b.out, 100*time.Millisecond))
}

func TestLobby_BroadcastPrunesDeadConnection(t *testing.T) {
	l := newTestLobby(t)
	alive, dead := newFakeConn(4), newFakeConn(4)
	dead.fail.Store(true)
	l.Register("alive", alive)
	l.Register("dead", dead)

	n := l.Broadcast("x")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, l.NumClients())
	assert.True(t, dead.closed.Load())
	assert.Equal(t, "x", recvPayload(t, alive.out, 100*time.Millisecond))
}

func TestLobby_DropSlowClient(t *testing.T) {
	l := newTestLobby(t)
	slow := newFakeConn(1)
	l.Register("slow", slow)

	l.Broadcast(1)
	l.Broadcast(2)

	assert.Equal(t, 0, l.View().NumClients, "expected slow client to be dropped")
}

func TestLobby_BroadcastKeepsOrderPerRecipient(t *testing.T) {
	l := newTestLobby(t)
	c := newFakeConn(64)
	l.Register("c", c)

	for i := range 50 {
		l.Broadcast(i)
	}
	for i := range 50 {
		assert.Equal(t, i, recvPayload(t, c.out, 100*time.Millisecond))
	}
}

func TestLobby_RegisterSameIDClosesStale(t *testing.T) {
	l := newTestLobby(t)
	first, second := newFakeConn(4), newFakeConn(4)

	l.Register("c1", first)
	l.Register("c1", second)

	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())
	assert.Equal(t, 1, l.NumClients())

	l.Broadcast("after")
	recvNoPayload(t, first.out, 20*time.Millisecond)
	assert.Equal(t, "after", recvPayload(t, second.out, 100*time.Millisecond))
}

func TestLobby_RegisterSameConnTwiceKeepsIt(t *testing.T) {
	l := newTestLobby(t)
	c := newFakeConn(4)
	l.Register("c1", c)
	l.Register("c1", c)
	assert.False(t, c.closed.Load())
	assert.Equal(t, 1, l.NumClients())
}

func TestLobby_UnregisterIgnoresReplacedConn(t *testing.T) {
	l := newTestLobby(t)
	first, second := newFakeConn(4), newFakeConn(4)
	l.Register("c1", first)
	l.Register("c1", second)

	// the old socket's reader exits late and tries to unregister
	l.Unregister("c1", first)
	assert.Equal(t, 1, l.NumClients())

	l.Unregister("c1", second)
	assert.Equal(t, 0, l.NumClients())
}

func TestLobby_DriverFlag(t *testing.T) {
	l := newTestLobby(t)

	l.Lock()
	assert.True(t, l.TryStartDriver())
	assert.False(t, l.TryStartDriver())
	assert.True(t, l.Driving())
	l.DriverStopped()
	assert.True(t, l.TryStartDriver())
	l.Unlock()
}

func TestLobby_ConcurrentTryStartDriverAdmitsOne(t *testing.T) {
	l := newTestLobby(t)
	var started atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock()
			defer l.Unlock()
			if l.TryStartDriver() {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), started.Load())
}

func TestLobby_ShutdownClosesClients(t *testing.T) {
	l := New(context.Background(), "s1", zap.NewNop())
	c := newFakeConn(1)
	l.Register("c", c)

	l.Shutdown()
	assert.True(t, c.closed.Load())
	assert.Equal(t, 0, l.NumClients())
	require.Error(t, l.Context().Err())
}
