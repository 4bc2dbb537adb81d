package http

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/meetrelay/internal/core"
)

// wsConn adapts a WebSocket to core.Conn. Sends are queued and written by a
// single writer goroutine so the relay never blocks on a slow peer.
type wsConn struct {
	id           string
	conn         *websocket.Conn
	out          chan []byte
	done         chan struct{}
	closed       atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newWSConn(id string, conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *wsConn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &wsConn{
		id:           id,
		conn:         conn,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Open() bool { return !c.closed.Load() }

func (c *wsConn) Send(payload []byte) error {
	if c.closed.Load() {
		return core.ErrConnClosed
	}
	select {
	case <-c.done:
		return core.ErrConnClosed
	case c.out <- payload:
		return nil
	default:
		return core.ErrSendQueueFull
	}
}

// markClosed stops accepting sends. The out channel is never closed, so a
// concurrent Send cannot panic.
func (c *wsConn) markClosed() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *wsConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case payload := <-c.out:
			if err := c.write(ctx, payload); err != nil {
				return err
			}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *wsConn) write(ctx context.Context, payload []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}
