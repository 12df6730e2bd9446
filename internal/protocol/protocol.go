// Package protocol encodes outbound chat frames and decodes inbound ones.
//
// Two wire variants exist. Textual sends space-separated commands
// ("join bob lobby", "message hi"); Structured sends JSON objects tagged
// with a "type" field. Both receive the same inbound format: JSON objects,
// possibly interleaved with plain-text status lines from the server.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"roomchat/internal/models"
)

// Codec is the wire strategy a session is configured with.
type Codec interface {
	// Name identifies the variant in logs and configuration.
	Name() string
	// Join encodes the join announcement. It fails when the identity
	// cannot be represented in this variant.
	Join(id models.Identity) (string, error)
	// Message encodes one chat message.
	Message(id models.Identity, text string) string
	// Leave encodes the leave announcement. ok is false when the variant
	// sends none and relies on the server noticing the closed connection.
	Leave(id models.Identity) (frame string, ok bool)
	// Decode maps one inbound frame to an event.
	Decode(raw string) models.ChatEvent
}

const (
	NameTextual    = "textual"
	NameStructured = "structured"

	leaveLiteral = "leave"
)

// New returns the codec registered under name. literalLeave selects the
// plain "leave" frame for the structured variant.
func New(name string, literalLeave bool) (Codec, error) {
	switch name {
	case NameTextual:
		return Textual{}, nil
	case NameStructured, "":
		return Structured{LeaveLiteral: literalLeave}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", name)
	}
}

// Textual is the command-string variant.
type Textual struct{}

func (Textual) Name() string { return NameTextual }

func (Textual) Join(id models.Identity) (string, error) {
	if strings.IndexFunc(id.Username, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: username %q cannot be sent in a join command", models.ErrInvalidIdentity, id.Username)
	}
	return "join " + id.Username + " " + id.Room, nil
}

func (Textual) Message(_ models.Identity, text string) string {
	return "message " + text
}

func (Textual) Leave(models.Identity) (string, bool) {
	return "", false
}

func (Textual) Decode(raw string) models.ChatEvent {
	return Decode(raw)
}

// Structured is the JSON variant.
type Structured struct {
	// LeaveLiteral sends the bare string "leave" instead of a JSON leave frame.
	LeaveLiteral bool
}

func (Structured) Name() string { return NameStructured }

func (Structured) Join(id models.Identity) (string, error) {
	return marshal(models.Frame{Type: models.FrameTypeJoin, User: id.Username, Room: id.Room})
}

func (Structured) Message(id models.Identity, text string) string {
	// Marshal of plain strings cannot fail.
	frame, _ := marshal(models.Frame{
		Type:    models.FrameTypeMessage,
		User:    id.Username,
		Room:    id.Room,
		Message: &text,
	})
	return frame
}

func (s Structured) Leave(id models.Identity) (string, bool) {
	if s.LeaveLiteral {
		return leaveLiteral, true
	}
	frame, err := marshal(models.Frame{Type: models.FrameTypeLeave, User: id.Username, Room: id.Room})
	if err != nil {
		return "", false
	}
	return frame, true
}

func (Structured) Decode(raw string) models.ChatEvent {
	return Decode(raw)
}

// Decode parses raw as a structured frame and falls back to a raw event
// carrying the frame verbatim. It never fails.
func Decode(raw string) models.ChatEvent {
	frame, ok := ParseFrame(raw)
	if !ok {
		return models.ChatEvent{Kind: models.EventRaw, Text: raw}
	}

	switch frame.Type {
	case models.FrameTypeJoin:
		return models.ChatEvent{Kind: models.EventJoined, User: frame.User}
	case models.FrameTypeLeave:
		return models.ChatEvent{Kind: models.EventLeft, User: frame.User}
	case models.FrameTypeMessage:
		if frame.Message == nil {
			return models.ChatEvent{Kind: models.EventRaw, User: frame.User, Text: raw}
		}
		return models.ChatEvent{Kind: models.EventMessage, User: frame.User, Text: *frame.Message}
	default:
		return models.ChatEvent{Kind: models.EventRaw, User: frame.User, Text: raw}
	}
}

// ParseFrame decodes raw when it is a JSON object with string fields.
func ParseFrame(raw string) (models.Frame, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return models.Frame{}, false
	}
	var frame models.Frame
	if err := json.Unmarshal([]byte(trimmed), &frame); err != nil {
		return models.Frame{}, false
	}
	return frame, true
}

func marshal(frame models.Frame) (string, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s frame: %w", frame.Type, err)
	}
	return string(data), nil
}
