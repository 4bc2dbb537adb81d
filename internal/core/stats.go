package core

import "sync/atomic"

// Stats is a point-in-time copy of the relay counters.
type Stats struct {
	Rooms        int   `json:"rooms"`
	Sessions     int   `json:"sessions"`
	Joins        int64 `json:"joins"`
	Leaves       int64 `json:"leaves"`
	Relayed      int64 `json:"relayed"`
	Broadcast    int64 `json:"broadcast"`
	Dropped      int64 `json:"dropped"`
	SendFailures int64 `json:"send_failures"`
	Malformed    int64 `json:"malformed"`
	Unknown      int64 `json:"unknown"`
}

type counters struct {
	joins        atomic.Int64
	leaves       atomic.Int64
	relayed      atomic.Int64
	broadcast    atomic.Int64
	dropped      atomic.Int64
	sendFailures atomic.Int64
	malformed    atomic.Int64
	unknown      atomic.Int64
}
