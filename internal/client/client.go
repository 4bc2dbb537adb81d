// Package client is a minimal meeting signaling client used by the smoke
// tools and tests.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/meetrelay/internal/proto"
)

// Envelope is the union of every field a meeting message may carry.
// Payload holds the SDP or ICE candidate for relay messages and
// {"raised": bool} for raise-hand.
type Envelope struct {
	Type         string          `json:"type"`
	ClassroomID  proto.ID        `json:"classroomId"`
	FromUserID   proto.ID        `json:"fromUserId,omitempty"`
	ToUserID     proto.ID        `json:"toUserId,omitempty"`
	UserID       proto.ID        `json:"userId,omitempty"`
	Participants []proto.ID      `json:"participants,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Client is one signaling connection bound to a classroom and user.
type Client struct {
	conn        *websocket.Conn
	classroomID int64
	userID      int64
}

// Dial connects to a relay endpoint such as ws://localhost:8080/ws/meet.
func Dial(ctx context.Context, url string, classroomID, userID int64) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn, classroomID: classroomID, userID: userID}, nil
}

// UserID returns the id this client announces.
func (c *Client) UserID() int64 { return c.userID }

// Join announces the client and waits for the existing-participants reply.
func (c *Client) Join(ctx context.Context) ([]int64, error) {
	if err := c.Send(ctx, proto.TypeJoin); err != nil {
		return nil, err
	}
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if env.Type != proto.TypeExistingParticipants {
			continue
		}
		ids := make([]int64, 0, len(env.Participants))
		for _, id := range env.Participants {
			ids = append(ids, int64(id))
		}
		return ids, nil
	}
}

// Signal sends an offer, answer or ice-candidate to another user.
func (c *Client) Signal(ctx context.Context, kind string, toUserID int64, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return c.write(ctx, Envelope{Type: kind, ToUserID: proto.ID(toUserID), Payload: raw})
}

// RaiseHand broadcasts the hand state to the classroom.
func (c *Client) RaiseHand(ctx context.Context, raised bool) error {
	raw, err := json.Marshal(map[string]bool{"raised": raised})
	if err != nil {
		return err
	}
	return c.write(ctx, Envelope{Type: proto.TypeRaiseHand, Payload: raw})
}

// Leave exits the classroom but keeps the socket open.
func (c *Client) Leave(ctx context.Context) error {
	return c.Send(ctx, proto.TypeLeave)
}

// Send writes a message that carries only its type and the client's ids.
// Unlike Join it does not wait for a reply.
func (c *Client) Send(ctx context.Context, kind string) error {
	return c.write(ctx, Envelope{Type: kind})
}

// Receive blocks for the next message from the relay.
func (c *Client) Receive(ctx context.Context) (Envelope, error) {
	var env Envelope
	if err := wsjson.Read(ctx, c.conn, &env); err != nil {
		return Envelope{}, fmt.Errorf("read: %w", err)
	}
	return env, nil
}

// Close performs a normal closure.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) write(ctx context.Context, env Envelope) error {
	env.ClassroomID = proto.ID(c.classroomID)
	env.FromUserID = proto.ID(c.userID)
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}
