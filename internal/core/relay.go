package core

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/meetrelay/internal/proto"
)

// Relay brokers meeting signaling between connections. It owns the room and
// session registries and is safe for concurrent use by any number of
// connections. Messages from a single connection, and that connection's
// Disconnect, must be delivered sequentially.
type Relay struct {
	rooms    *RoomRegistry
	sessions *SessionRegistry
	counters counters
	log      *zerolog.Logger
}

// NewRelay creates a relay with empty registries.
func NewRelay(logger *zerolog.Logger) *Relay {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Relay{
		rooms:    NewRoomRegistry(),
		sessions: NewSessionRegistry(),
		log:      logger,
	}
}

// Rooms exposes the room registry for read-only inspection.
func (r *Relay) Rooms() *RoomRegistry { return r.rooms }

// Sessions exposes the session registry for read-only inspection.
func (r *Relay) Sessions() *SessionRegistry { return r.sessions }

// HandleMessage parses and dispatches one inbound payload from conn.
// Malformed and unknown messages are logged and dropped.
func (r *Relay) HandleMessage(conn Conn, data []byte) {
	msg, err := proto.Parse(data)
	if err != nil {
		r.counters.malformed.Add(1)
		r.log.Warn().Err(err).Str("conn_id", conn.ID()).Int("size", len(data)).Msg("dropping malformed message")
		return
	}
	r.Dispatch(conn, msg)
}

// Dispatch applies an already parsed message.
func (r *Relay) Dispatch(conn Conn, msg proto.Message) {
	switch m := msg.(type) {
	case proto.Join:
		r.join(conn, m)
	case proto.Signal:
		r.relay(m)
	case proto.RaiseHand:
		r.raiseHand(m)
	case proto.Leave:
		r.leave(conn.ID())
	case proto.Unknown:
		r.counters.unknown.Add(1)
		r.log.Warn().Str("conn_id", conn.ID()).Str("type", m.Kind).Msg("unknown meeting message type")
	default:
		r.counters.unknown.Add(1)
		r.log.Warn().Str("conn_id", conn.ID()).Msgf("unhandled message %T", msg)
	}
}

// Disconnect runs the departure cleanup for a connection whose transport
// closed. It is idempotent and interchangeable with a leave message.
func (r *Relay) Disconnect(connID string) {
	r.leave(connID)
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Rooms:        r.rooms.Len(),
		Sessions:     r.sessions.Len(),
		Joins:        r.counters.joins.Load(),
		Leaves:       r.counters.leaves.Load(),
		Relayed:      r.counters.relayed.Load(),
		Broadcast:    r.counters.broadcast.Load(),
		Dropped:      r.counters.dropped.Load(),
		SendFailures: r.counters.sendFailures.Load(),
		Malformed:    r.counters.malformed.Load(),
		Unknown:      r.counters.unknown.Load(),
	}
}

func (r *Relay) join(conn Conn, msg proto.Join) {
	// A connection is in at most one room; switching classrooms is a leave
	// followed by a join.
	if prev, ok := r.sessions.Lookup(conn.ID()); ok && prev.ClassroomID != msg.ClassroomID {
		r.leave(conn.ID())
	}

	existing := r.rooms.Join(msg.ClassroomID, &Participant{UserID: msg.UserID, Conn: conn})
	r.sessions.Record(conn.ID(), msg.ClassroomID, msg.UserID)
	r.counters.joins.Add(1)

	// The transport may have closed while the join was in flight; a closed
	// connection must not stay registered.
	if !conn.Open() {
		r.leave(conn.ID())
		return
	}

	payload, err := json.Marshal(proto.NewExistingParticipants(msg.ClassroomID, existing))
	if err != nil {
		r.log.Error().Err(err).Msg("encode existing-participants")
		return
	}
	r.send(conn, payload)

	r.log.Info().
		Str("conn_id", conn.ID()).
		Int64("classroom_id", msg.ClassroomID).
		Int64("user_id", msg.UserID).
		Int("existing_peers", len(existing)).
		Msg("participant joined meeting")
}

func (r *Relay) relay(msg proto.Signal) {
	room, ok := r.rooms.Get(msg.ClassroomID)
	if !ok {
		r.drop(msg.Kind, msg.ClassroomID, msg.ToUserID, "room not found")
		return
	}
	target, ok := room.Find(msg.ToUserID)
	if !ok {
		r.drop(msg.Kind, msg.ClassroomID, msg.ToUserID, "target not in room")
		return
	}
	if !target.Conn.Open() {
		r.drop(msg.Kind, msg.ClassroomID, msg.ToUserID, "target connection closed")
		return
	}
	if r.send(target.Conn, msg.Raw) {
		r.counters.relayed.Add(1)
	}
}

func (r *Relay) raiseHand(msg proto.RaiseHand) {
	room, ok := r.rooms.Get(msg.ClassroomID)
	if !ok {
		r.counters.dropped.Add(1)
		r.log.Debug().Int64("classroom_id", msg.ClassroomID).Msg("raise-hand for unknown room")
		return
	}
	r.broadcast(room, msg.Raw)
}

// leave performs departure cleanup at most once per session. Returns false
// when there was nothing to clean up.
func (r *Relay) leave(connID string) bool {
	info, ok := r.sessions.TakeAndClear(connID)
	if !ok {
		return false
	}
	r.counters.leaves.Add(1)

	_, room, remaining := r.rooms.RemoveParticipant(info.ClassroomID, connID)
	if room != nil && remaining > 0 {
		payload, err := json.Marshal(proto.NewParticipantLeft(info.ClassroomID, info.UserID))
		if err != nil {
			r.log.Error().Err(err).Msg("encode participant-left")
		} else {
			r.broadcast(room, payload)
		}
	}

	r.log.Info().
		Str("conn_id", connID).
		Int64("classroom_id", info.ClassroomID).
		Int64("user_id", info.UserID).
		Int("remaining", remaining).
		Msg("participant left meeting")
	return true
}

// broadcast delivers payload to every open connection of room. One failing
// recipient does not stop delivery to the rest.
func (r *Relay) broadcast(room *Room, payload []byte) {
	for _, p := range room.Participants() {
		if r.send(p.Conn, payload) {
			r.counters.broadcast.Add(1)
		}
	}
}

// send is best-effort: closed connections are skipped and failures are
// counted and logged, never returned.
func (r *Relay) send(conn Conn, payload []byte) bool {
	if !conn.Open() {
		return false
	}
	if err := conn.Send(payload); err != nil {
		r.counters.sendFailures.Add(1)
		ev := r.log.Debug()
		if errors.Is(err, ErrSendQueueFull) {
			ev = r.log.Warn()
		}
		ev.Err(err).Str("conn_id", conn.ID()).Msg("send failed")
		return false
	}
	return true
}

func (r *Relay) drop(kind string, classroomID, toUserID int64, reason string) {
	r.counters.dropped.Add(1)
	r.log.Debug().
		Str("type", kind).
		Int64("classroom_id", classroomID).
		Int64("to_user_id", toUserID).
		Str("reason", reason).
		Msg("dropping relay message")
}
