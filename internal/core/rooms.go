package core

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// RoomRegistry maps classroom ids to live rooms. A room is registered while
// it has at least one participant and is dropped as soon as the last one
// leaves. All mutations for one classroom run under the map's per-key
// compute lock, so a join can never land in a room that is being removed.
type RoomRegistry struct {
	rooms *xsync.MapOf[int64, *Room]
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: xsync.NewMapOf[int64, *Room]()}
}

// Get looks up a room without creating it.
func (r *RoomRegistry) Get(classroomID int64) (*Room, bool) {
	return r.rooms.Load(classroomID)
}

// Join adds p to the room for classroomID, creating the room if needed, and
// returns the user ids of the participants that were already there.
func (r *RoomRegistry) Join(classroomID int64, p *Participant) []int64 {
	var existing []int64
	r.rooms.Compute(classroomID, func(room *Room, loaded bool) (*Room, bool) {
		if !loaded || room == nil {
			room = newRoom(classroomID)
		}
		existing = room.add(p)
		return room, false
	})
	return existing
}

// RemoveParticipant removes the entry for connID from the room. When the
// room becomes empty it is deregistered. It reports the removed participant,
// the room it was removed from and how many participants remain; removing
// an absent entry is a no-op.
func (r *RoomRegistry) RemoveParticipant(classroomID int64, connID string) (*Participant, *Room, int) {
	var (
		removed   *Participant
		from      *Room
		remaining int
	)
	r.rooms.Compute(classroomID, func(room *Room, loaded bool) (*Room, bool) {
		if !loaded || room == nil {
			// Nothing registered; ask Compute to leave the key absent.
			return nil, true
		}
		from = room
		removed, remaining = room.remove(connID)
		return room, remaining == 0
	})
	if removed == nil {
		return nil, nil, remaining
	}
	return removed, from, remaining
}

// Len returns the number of registered rooms.
func (r *RoomRegistry) Len() int {
	return r.rooms.Size()
}

// Range calls fn for each registered room until fn returns false.
func (r *RoomRegistry) Range(fn func(room *Room) bool) {
	r.rooms.Range(func(_ int64, room *Room) bool {
		return fn(room)
	})
}
