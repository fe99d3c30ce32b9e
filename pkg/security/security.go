package security

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors. pkg/core re-exports them under the same names.
var (
	ErrInvalidKind      = errors.New("jobflow: invalid job kind (must be alphanumeric, start with letter)")
	ErrKindTooLong      = errors.New("jobflow: job kind too long")
	ErrInvalidQueueName = errors.New("jobflow: invalid queue name")
	ErrQueueNameTooLong = errors.New("jobflow: queue name too long")
	ErrPayloadTooLarge  = errors.New("jobflow: job payload exceeds size limit")
	ErrUniqueKeyTooLong = errors.New("jobflow: unique key exceeds maximum length")
)

const (
	MaxKindLength         = 255
	MaxQueueNameLength    = 255
	MaxUniqueKeyLength    = 255
	MaxPayloadSize        = 1 << 20
	MaxErrorMessageLength = 4096
	MaxRetries            = 100
	MaxConcurrency        = 1000
)

// Kinds and queue names share one grammar: a letter, then letters, digits
// and "_-.:". The queue wildcard "*" is therefore never a valid kind.
var nameGrammar = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.:]*$`)

type nameRule struct {
	max     int
	invalid error
	tooLong error
}

var (
	kindRule  = nameRule{max: MaxKindLength, invalid: ErrInvalidKind, tooLong: ErrKindTooLong}
	queueRule = nameRule{max: MaxQueueNameLength, invalid: ErrInvalidQueueName, tooLong: ErrQueueNameTooLong}
)

func (r nameRule) check(name string) error {
	switch {
	case len(name) > r.max:
		return r.tooLong
	case !nameGrammar.MatchString(name):
		return r.invalid
	}
	return nil
}

// ValidateKind checks a job kind, as enqueued, bound in a registry or named
// by a graph task.
func ValidateKind(kind string) error { return kindRule.check(kind) }

// ValidateQueueName checks a queue name.
func ValidateQueueName(name string) error { return queueRule.check(name) }

// ValidatePayload enforces MaxPayloadSize.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	return nil
}

// ValidateUniqueKey enforces MaxUniqueKeyLength.
func ValidateUniqueKey(key string) error {
	if len(key) > MaxUniqueKeyLength {
		return ErrUniqueKeyTooLong
	}
	return nil
}

// SanitizeErrorMessage drops control characters other than whitespace and
// cuts msg to MaxErrorMessageLength runes, ending in "..." when cut.
func SanitizeErrorMessage(msg string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			return r
		}
		return -1
	}, msg)

	if utf8.RuneCountInString(clean) <= MaxErrorMessageLength {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:MaxErrorMessageLength-3]) + "..."
}

// ClampRetries bounds n to [0, MaxRetries].
func ClampRetries(n int) int { return min(max(n, 0), MaxRetries) }

// ClampConcurrency bounds n to [1, MaxConcurrency].
func ClampConcurrency(n int) int { return min(max(n, 1), MaxConcurrency) }
