package notify

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateMessage(t *testing.T) {
	long := strings.Repeat("word ", 60)

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, out string)
	}{
		{
			name:  "short unchanged",
			input: "PhoneCheck ALERT: Call did not connect - 503",
			check: func(t *testing.T, out string) {
				assert.Equal(t, "PhoneCheck ALERT: Call did not connect - 503", out)
			},
		},
		{
			name:  "exactly max unchanged",
			input: strings.Repeat("a", MaxSMSLength),
			check: func(t *testing.T, out string) {
				assert.Len(t, out, MaxSMSLength)
				assert.False(t, strings.HasSuffix(out, "..."))
			},
		},
		{
			name:  "cut on word boundary",
			input: long,
			check: func(t *testing.T, out string) {
				assert.LessOrEqual(t, len(out), MaxSMSLength)
				assert.True(t, strings.HasSuffix(out, "word..."))
			},
		},
		{
			name:  "no space falls back to hard cut",
			input: strings.Repeat("x", 300),
			check: func(t *testing.T, out string) {
				assert.Len(t, out, MaxSMSLength)
				assert.True(t, strings.HasSuffix(out, "..."))
			},
		},
		{
			name:  "multibyte never split",
			input: strings.Repeat("é", 200),
			check: func(t *testing.T, out string) {
				assert.LessOrEqual(t, len(out), MaxSMSLength)
				assert.True(t, utf8.ValidString(out))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, TruncateMessage(tt.input))
		})
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, MaxBackoff},
		{64, MaxBackoff},
		{1 << 30, MaxBackoff},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}
