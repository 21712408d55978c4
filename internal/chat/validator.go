package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/teamchat/chat-app/internal/apperr"
)

const (
	MaxMessageBytes = 4000 // stays under the 4KB frame limit with the envelope
	MaxTextChars    = 2000 // max character count
)

// ValidateMessage trims surrounding whitespace from text and checks that what
// is left meets content requirements. It returns the trimmed text.
func ValidateMessage(text string) (string, error) {
	const op = "chat.validate"

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return "", apperr.Validation(op, "message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return "", apperr.Validation(op, fmt.Sprintf("message exceeds %d byte limit", MaxMessageBytes))
	}
	if !utf8.ValidString(text) {
		return "", apperr.Validation(op, "message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return "", apperr.Validation(op, fmt.Sprintf("message exceeds %d character limit", MaxTextChars))
	}
	return text, nil
}
