package core

// Conn is the relay's view of one live bidirectional channel. The transport
// owns the underlying socket; the relay only sends and inspects state.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Open reports whether the connection can still accept messages.
	Open() bool
	// Send queues payload for delivery. It must not block indefinitely and
	// returns an error when the connection is closed or saturated.
	Send(payload []byte) error
}
