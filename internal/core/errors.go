package core

import "errors"

var (
	// ErrConnClosed is returned by Conn.Send after the connection closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned by Conn.Send when a slow consumer is
	// not draining its outbound queue.
	ErrSendQueueFull = errors.New("send queue full")
)
