package message

import (
	"unicode/utf8"

	"github.com/loqui/messenger/internal/errs"
)

const (
	// MaxContentBytes caps the raw content size of a single message.
	MaxContentBytes = 4096

	// MaxContentChars caps the character count of a single message.
	MaxContentChars = 2000
)

// ValidateContent checks message content against size and encoding limits.
// Text messages require non-empty content; other kinds may use content as an
// optional caption.
func ValidateContent(kind Kind, content string) error {
	if content == "" {
		if kind == KindText {
			return errs.Validationf("message content is empty")
		}
		return nil
	}
	if len(content) > MaxContentBytes {
		return errs.Validationf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return errs.Validationf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return errs.Validationf("message contains invalid UTF-8")
	}
	return nil
}
