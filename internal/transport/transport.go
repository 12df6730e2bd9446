// Package transport defines the bidirectional text-frame stream a chat
// session runs over. Implementations live in their own packages.
package transport

import "context"

// Handler receives stream notifications. A stream calls its handler from a
// single goroutine, one notification at a time, in arrival order.
type Handler interface {
	// OnReady reports that the connection is established.
	OnReady()
	// OnFrame delivers one inbound text frame.
	OnFrame(raw string)
	// OnClose reports that the peer closed the connection.
	OnClose()
	// OnError reports a connection failure. No notification follows it.
	OnError(err error)
}

// Stream is a bidirectional text-frame stream.
type Stream interface {
	// Start begins connecting and returns immediately. Progress is
	// reported through h.
	Start(ctx context.Context, h Handler)
	// Send writes one frame. It must not call back into the handler.
	Send(frame string) error
	// Close releases the connection. It is safe to call more than once and
	// no notification is delivered for a close the caller initiated.
	Close() error
}

// Factory creates a fresh, unstarted stream.
type Factory func() Stream
