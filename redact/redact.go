// Package redact masks personal data before it reaches the logs.
package redact

import (
	"strings"
	"unicode/utf8"
)

// PhoneNumber keeps the last four digits of phone and masks the rest.
// Formatting characters are dropped: "(555) 123-4567" becomes "******4567".
func PhoneNumber(phone string) string {
	var digits []byte
	for i := 0; i < len(phone); i++ {
		if c := phone[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

// Email keeps the first character of the local part and the domain.
// Strings without a local part are returned unchanged.
func Email(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	return maskUser(email[:at]) + email[at:]
}

// SIPURI masks the user part of a sip: or sips: URI.
func SIPURI(uri string) string {
	var prefix string
	switch {
	case strings.HasPrefix(uri, "sip:"):
		prefix = "sip:"
	case strings.HasPrefix(uri, "sips:"):
		prefix = "sips:"
	default:
		return uri
	}
	rest := uri[len(prefix):]
	at := strings.IndexByte(rest, '@')
	if at < 0 {
		return uri
	}
	user := rest[:at]
	if user == "" {
		return prefix + "*" + rest[at:]
	}
	return prefix + maskUser(user) + rest[at:]
}

func maskUser(user string) string {
	r, size := utf8.DecodeRuneInString(user)
	if size == len(user) {
		return "*"
	}
	return string(r) + "***"
}
