// Package limits provides centralized datagram size limits for the phone check.
// This ensures consistent validation across the SIP, RTP and STUN components.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxSIPMessage is the largest SIP message sent or accepted over UDP.
	// RFC 3261 section 18.1.1 recommends staying under the path MTU; 4 KiB
	// covers any response a trunk sends for INVITE, ACK and BYE.
	MaxSIPMessage = 4096

	// MaxRTPDatagram is the receive buffer for RTP media. A 20 ms G.711
	// packet is 172 bytes; the margin covers CSRC lists and extensions.
	MaxRTPDatagram = 2048

	// MaxSTUNMessage is the receive buffer for STUN Binding responses.
	MaxSTUNMessage = 1024

	// MinRTPHeader is the fixed RTP header size.
	MinRTPHeader = 12

	// STUNHeaderSize is the fixed STUN message header size.
	STUNHeaderSize = 20

	// MaxHeaderValue bounds a single SIP header value built from configuration.
	MaxHeaderValue = 512
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageTooShort indicates message is shorter than its fixed header
	ErrMessageTooShort = errors.New("message too short")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateSIPMessage validates an outgoing or received SIP message.
func ValidateSIPMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxSIPMessage {
		return fmt.Errorf("%w: SIP message size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxSIPMessage)
	}
	return nil
}

// ValidateRTPDatagram checks that a datagram can hold an RTP header.
func ValidateRTPDatagram(datagram []byte) error {
	if len(datagram) < MinRTPHeader {
		return fmt.Errorf("%w: RTP datagram %d bytes, need %d", ErrMessageTooShort, len(datagram), MinRTPHeader)
	}
	if len(datagram) > MaxRTPDatagram {
		return fmt.Errorf("%w: RTP datagram size %d exceeds limit %d", ErrMessageTooLarge, len(datagram), MaxRTPDatagram)
	}
	return nil
}

// ValidateSTUNMessage checks that a datagram can hold a STUN header.
func ValidateSTUNMessage(message []byte) error {
	if len(message) < STUNHeaderSize {
		return fmt.Errorf("%w: STUN message %d bytes, need %d", ErrMessageTooShort, len(message), STUNHeaderSize)
	}
	if len(message) > MaxSTUNMessage {
		return fmt.Errorf("%w: STUN message size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxSTUNMessage)
	}
	return nil
}
