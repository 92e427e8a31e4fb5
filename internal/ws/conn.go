package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	outboxSize   = 64
	writeTimeout = 3 * time.Second
)

var (
	errClosed = errors.New("connection closed")
	errSlow   = errors.New("outbox full")
)

// conn adapts a websocket to lobby.Conn. Send only queues; a single writer
// goroutine drains the outbox so payloads go out in the order they were
// queued.
type conn struct {
	ws      *websocket.Conn
	out     chan any
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:      ws,
		out:     make(chan any, outboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (c *conn) Send(payload any) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return errSlow
	}
}

// queue waits for outbox room. It is for replies on the connection's own
// reader goroutine, where waiting only slows that client down.
func (c *conn) queue(ctx context.Context, payload any) error {
	select {
	case c.out <- payload:
		return nil
	case <-c.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer, which then closes the socket and unblocks the
// reader.
func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *conn) writeLoop(ctx context.Context, log *zap.Logger) {
	defer close(c.stopped)
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			// whatever was queued before Close still goes out
			for len(c.out) > 0 {
				if err := c.write(ctx, <-c.out); err != nil {
					break
				}
			}
			_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
			return
		case payload := <-c.out:
			if err := c.write(ctx, payload); err != nil {
				log.Debug("write failed", zap.Error(err))
				_ = c.ws.CloseNow()
				return
			}
		}
	}
}

func (c *conn) write(ctx context.Context, payload any) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, payload)
}
