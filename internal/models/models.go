package models

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrSessionClosed   = errors.New("session closed")
	ErrNotOpen         = errors.New("session is not open")
	ErrAlreadyOpen     = errors.New("session already opened")
	ErrEmptyMessage    = errors.New("empty message")
	ErrTransport       = errors.New("transport error")
)

// Identity is the participant of a session and the room it talks in.
type Identity struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

type EventKind string

const (
	EventJoined       EventKind = "joined"
	EventLeft         EventKind = "left"
	EventMessage      EventKind = "message"
	EventRaw          EventKind = "raw"
	EventError        EventKind = "error"
	EventDisconnected EventKind = "disconnected"
)

// ChatEvent is the normalized form of one inbound frame or of a
// connection-level notification.
type ChatEvent struct {
	Kind EventKind `json:"kind"`
	User string    `json:"user,omitempty"`
	Text string    `json:"text,omitempty"`
	Err  error     `json:"-"`
}

// Terminal reports whether no further events follow this one.
func (e ChatEvent) Terminal() bool {
	return e.Kind == EventDisconnected
}

// SessionState is the lifecycle phase of a session. States only move forward.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type FrameType string

const (
	FrameTypeJoin    FrameType = "join"
	FrameTypeLeave   FrameType = "leave"
	FrameTypeMessage FrameType = "message"
)

// Frame is the structured wire payload shared by client and server.
// Message is a pointer so a missing field can be told apart from an empty one.
type Frame struct {
	Type    FrameType `json:"type"`
	User    string    `json:"user,omitempty"`
	Room    string    `json:"room,omitempty"`
	Message *string   `json:"message,omitempty"`
}
