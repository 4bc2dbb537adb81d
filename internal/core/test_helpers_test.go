package core

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id     string
	out    chan []byte
	closed atomic.Bool

	mu      sync.Mutex
	sendErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, out: make(chan []byte, 64)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Open() bool { return !c.closed.Load() }

func (c *fakeConn) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func mustReceive(t *testing.T, c *fakeConn) map[string]any {
	t.Helper()

	select {
	case payload := <-c.out:
		var msg map[string]any
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("%s: invalid payload %s: %v", c.id, payload, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: expected a message", c.id)
		return nil
	}
}

func mustReceiveRaw(t *testing.T, c *fakeConn) []byte {
	t.Helper()

	select {
	case payload := <-c.out:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: expected a message", c.id)
		return nil
	}
}

func assertSilent(t *testing.T, c *fakeConn) {
	t.Helper()

	select {
	case payload := <-c.out:
		t.Fatalf("%s: unexpected message %s", c.id, payload)
	default:
	}
}

func participantIDs(t *testing.T, msg map[string]any) []int64 {
	t.Helper()

	raw, ok := msg["participants"].([]any)
	if !ok {
		t.Fatalf("participants missing in %v", msg)
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		ids = append(ids, int64(v.(float64)))
	}
	return ids
}

func joinMsg(classroomID, userID int64) []byte {
	b, _ := json.Marshal(map[string]any{"type": "join", "classroomId": classroomID, "fromUserId": userID})
	return b
}
