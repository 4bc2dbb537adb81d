package core

import "github.com/puzpuzpuz/xsync/v3"

// SessionInfo records where a connection last joined.
type SessionInfo struct {
	ClassroomID int64
	UserID      int64
}

// SessionRegistry is the reverse index from connection id to the room it
// joined, so a disconnect can be cleaned up without routing information.
type SessionRegistry struct {
	sessions *xsync.MapOf[string, SessionInfo]
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: xsync.NewMapOf[string, SessionInfo]()}
}

// Record stores the session for connID, replacing any previous one.
func (s *SessionRegistry) Record(connID string, classroomID, userID int64) {
	s.sessions.Store(connID, SessionInfo{ClassroomID: classroomID, UserID: userID})
}

// Lookup returns the session for connID without removing it.
func (s *SessionRegistry) Lookup(connID string) (SessionInfo, bool) {
	return s.sessions.Load(connID)
}

// TakeAndClear atomically removes and returns the session for connID. Only
// the first caller for a given session observes ok == true.
func (s *SessionRegistry) TakeAndClear(connID string) (SessionInfo, bool) {
	return s.sessions.LoadAndDelete(connID)
}

// Len returns the number of recorded sessions.
func (s *SessionRegistry) Len() int {
	return s.sessions.Size()
}
