package rtp

import "errors"

// Sentinel errors for rtp package operations.
var (
	// ErrNotRTP indicates a datagram that is too short or not RTP version 2.
	ErrNotRTP = errors.New("not an RTP v2 packet")

	// ErrTruncated indicates CSRC or extension words extend past the datagram.
	ErrTruncated = errors.New("truncated RTP header")

	// ErrReceiverClosed indicates the receiver socket has been closed.
	ErrReceiverClosed = errors.New("receiver closed")
)
