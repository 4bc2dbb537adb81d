package core

import (
	"cmp"
	"slices"
	"sync"
)

// Participant is one connection's membership in a room.
type Participant struct {
	UserID int64
	Conn   Conn

	seq uint64
}

// Room groups the connections currently in one classroom's meeting.
// Membership is mutated only through RoomRegistry so that an empty room is
// never left registered.
type Room struct {
	ClassroomID int64

	mu           sync.RWMutex
	participants map[string]*Participant
	nextSeq      uint64
}

func newRoom(classroomID int64) *Room {
	return &Room{
		ClassroomID:  classroomID,
		participants: make(map[string]*Participant),
	}
}

// add inserts p keyed by its connection and returns the user ids of every
// other participant in join order, captured under the same lock.
func (r *Room) add(p *Participant) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Conn.ID()
	others := make([]*Participant, 0, len(r.participants))
	for connID, existing := range r.participants {
		if connID != id {
			others = append(others, existing)
		}
	}
	sortBySeq(others)

	userIDs := make([]int64, 0, len(others))
	for _, o := range others {
		userIDs = append(userIDs, o.UserID)
	}

	r.nextSeq++
	p.seq = r.nextSeq
	r.participants[id] = p
	return userIDs
}

// remove deletes the participant for connID. Returns the removed entry and
// the number of participants left.
func (r *Room) remove(connID string) (*Participant, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connID]
	if ok {
		delete(r.participants, connID)
	}
	return p, len(r.participants)
}

// Participants returns a snapshot of the room in join order.
func (r *Room) Participants() []*Participant {
	r.mu.RLock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sortBySeq(out)
	return out
}

// Find returns the earliest-joined participant with the given user id.
// The earliest entry is returned even if its connection is closed; later
// devices of the same user are intentionally not tried.
func (r *Room) Find(userID int64) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Participant
	for _, p := range r.participants {
		if p.UserID != userID {
			continue
		}
		if found == nil || p.seq < found.seq {
			found = p
		}
	}
	return found, found != nil
}

// Len returns the number of participants.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Empty returns true if no participants are in the room.
func (r *Room) Empty() bool {
	return r.Len() == 0
}

func sortBySeq(ps []*Participant) {
	slices.SortFunc(ps, func(a, b *Participant) int {
		return cmp.Compare(a.seq, b.seq)
	})
}
