package stream

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Event lets a producer choose the event type of a value.
type Event struct {
	Type string
	Data interface{}
}

// EventTyper is implemented by values that name their own event type.
type EventTyper interface {
	EventType() string
}

// ErrorPayload is the data of a terminal error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// SanitizeEventType strips control characters and caps the length at
// maxLen runes. An empty result falls back to fallback.
func SanitizeEventType(eventType string, maxLen int, fallback string) string {
	clean := sanitize(eventType, maxLen)
	if clean == "" {
		return fallback
	}
	return clean
}

// SanitizeMessage strips control characters from an error message and caps
// its length at maxLen runes.
func SanitizeMessage(msg string, maxLen int) string {
	return sanitize(msg, maxLen)
}

func sanitize(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))

	n := 0
	for _, r := range s {
		if maxLen > 0 && n >= maxLen {
			break
		}
		if r == utf8.RuneError || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
