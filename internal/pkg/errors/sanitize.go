package errors

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxPublicMessage bounds messages that leave the process in job events.
const MaxPublicMessage = 240

// Sanitize reduces a raw message to something safe to show a caller:
// first line only, no markup, collapsed whitespace, bounded length.
func Sanitize(msg string) string {
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	if i := strings.Index(msg, "<"); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.Join(strings.Fields(msg), " ")
	msg = strings.TrimRight(msg, " :;,-")

	if utf8.RuneCountInString(msg) > MaxPublicMessage {
		r := []rune(msg)
		msg = string(r[:MaxPublicMessage]) + "..."
	}
	return msg
}

// Public returns the caller-facing message for err. Coded errors expose
// their own message; anything else is sanitized whole.
func Public(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		if s := Sanitize(e.Message); s != "" {
			return s
		}
	}
	if s := Sanitize(err.Error()); s != "" {
		return s
	}
	return "internal error"
}
