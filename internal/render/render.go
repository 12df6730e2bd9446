// Package render formats chat events for display.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"roomchat/internal/content"
	"roomchat/internal/models"

	"github.com/yuin/goldmark"
)

const (
	FormatText = "text"
	FormatHTML = "html"

	closedNotice = "Connection closed."
)

// Renderer turns one event into one line of output.
type Renderer func(ev models.ChatEvent) (string, error)

// New returns the renderer for format.
func New(format string) (Renderer, error) {
	switch format {
	case FormatText, "":
		return func(ev models.ChatEvent) (string, error) { return Text(ev), nil }, nil
	case FormatHTML:
		return HTML, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Text renders ev the way the web client printed it.
func Text(ev models.ChatEvent) string {
	switch ev.Kind {
	case models.EventMessage:
		return ev.User + ": " + ev.Text
	case models.EventJoined:
		return ev.User + " has joined the room."
	case models.EventLeft:
		return ev.User + " has left the room."
	case models.EventError:
		return "error: " + ev.Text
	case models.EventDisconnected:
		return closedNotice
	default:
		return ev.Text
	}
}

// HTML renders ev as a sanitized fragment. Message text is treated as markdown.
func HTML(ev models.ChatEvent) (string, error) {
	switch ev.Kind {
	case models.EventMessage:
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(ev.Text), &buf); err != nil {
			return "", fmt.Errorf("failed to render message: %w", err)
		}
		body := strings.TrimSpace(content.Sanitize(buf.String()))
		return fmt.Sprintf(`<div class="chat-message"><strong>%s</strong> %s</div>`, content.Escape(ev.User), body), nil
	case models.EventError:
		return `<p class="chat-error">` + content.Escape(Text(ev)) + `</p>`, nil
	default:
		return "<p>" + content.Escape(Text(ev)) + "</p>", nil
	}
}
