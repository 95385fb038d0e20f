package transport

import "errors"

// Socket errors.
var (
	// ErrResolve indicates a host name could not be resolved.
	ErrResolve = errors.New("address resolution failed")

	// ErrSocket indicates a bind, send or receive failure.
	ErrSocket = errors.New("socket error")

	// ErrReadTimeout indicates no datagram arrived before the read timeout.
	ErrReadTimeout = errors.New("read timeout")

	// ErrClosed indicates the socket has been closed.
	ErrClosed = errors.New("socket closed")
)
