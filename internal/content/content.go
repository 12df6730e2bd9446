package content

import (
	"fmt"
	"html/template"
	"strings"
	"unicode"

	"roomchat/internal/models"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.UGCPolicy()

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for message bodies coming from the server before they are rendered.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// ValidateUsername checks that the username is not blank.
// Any case and any characters are allowed otherwise.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username cannot be empty", models.ErrInvalidIdentity)
	}
	return nil
}

// ValidateRoom checks that the room is not empty, all-lowercase and free of whitespace.
func ValidateRoom(room string) error {
	if room == "" {
		return fmt.Errorf("%w: room cannot be empty", models.ErrInvalidIdentity)
	}
	if room != strings.ToLower(room) {
		return fmt.Errorf("%w: room must be entered in lower case", models.ErrInvalidIdentity)
	}
	if strings.IndexFunc(room, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: room cannot contain spaces", models.ErrInvalidIdentity)
	}
	return nil
}

func ValidateIdentity(id models.Identity) error {
	if err := ValidateUsername(id.Username); err != nil {
		return err
	}
	return ValidateRoom(id.Room)
}
