package notify

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Delivery limits.
const (
	MaxSMSLength   = 160
	MaxAttempts    = 3
	InitialBackoff = time.Second
	MaxBackoff     = 60 * time.Second
)

// TruncateMessage shortens message to at most MaxSMSLength bytes,
// preferring to cut at a space in the second half and appending "...".
// Multi-byte characters are never split.
func TruncateMessage(message string) string {
	if len(message) <= MaxSMSLength {
		return message
	}

	cut := MaxSMSLength - 3
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	if cut == 0 {
		return "..."
	}

	head := message[:cut]
	if i := strings.LastIndexByte(head, ' '); i > cut/2 {
		head = head[:i]
	}
	return head + "..."
}

// Backoff returns the wait before attempt (zero-based): nothing before the
// first, then InitialBackoff doubling up to MaxBackoff.
func Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	d := InitialBackoff << uint(shift)
	if d > MaxBackoff || d <= 0 {
		return MaxBackoff
	}
	return d
}
