package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"
)

// ValidateMessageContent validates agent reply content. Emptiness after
// trimming is checked by the controller; this guards size and encoding.
func ValidateMessageContent(content string) error {
	if len(content) > 10000 {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ParseSessionID validates and parses a session id path parameter.
func ParseSessionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid session id")
	}
	return id, nil
}
