package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval bounds how long a blocked read goes without checking
// for cancellation.
const DefaultPollInterval = 50 * time.Millisecond

// UDPSocket wraps a UDP connection with context-aware reads and an optional
// packet tap. It is shared by the SIP transport, the RTP receiver and the
// STUN client.
type UDPSocket struct {
	conn         *net.UDPConn
	tap          atomic.Value // tapHolder
	pollInterval time.Duration
	closed       atomic.Bool
}

type tapHolder struct{ tap PacketTap }

// ListenUDP binds an IPv4 UDP socket on addr (for example "0.0.0.0:0").
func ListenUDP(addr string) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolve, addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", ErrSocket, addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ListenUDP",
		"local_addr": conn.LocalAddr().String(),
	}).Debug("UDP socket bound")

	return NewUDPSocket(conn), nil
}

// NewUDPSocket wraps an existing connection.
func NewUDPSocket(conn *net.UDPConn) *UDPSocket {
	return &UDPSocket{conn: conn, pollInterval: DefaultPollInterval}
}

// SetTap installs a tap that observes every datagram sent or received.
// A nil tap disables observation.
func (s *UDPSocket) SetTap(tap PacketTap) {
	s.tap.Store(tapHolder{tap: tap})
}

// SetPollInterval changes the cancellation polling granularity.
func (s *UDPSocket) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// LocalAddr returns the bound address.
func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// LocalPort returns the bound port.
func (s *UDPSocket) LocalPort() int {
	return s.LocalAddr().Port
}

// WriteTo sends one datagram to addr.
func (s *UDPSocket) WriteTo(b []byte, addr *net.UDPAddr) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.conn.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrSocket, addr, err)
	}
	s.observe(Outbound, addr, b)
	return nil
}

// ReadFrom waits for one datagram.
//
// The wait ends when a datagram arrives, when timeout elapses (ErrReadTimeout)
// or when ctx is done (ctx.Err()). A non-positive timeout waits on ctx alone.
func (s *UDPSocket) ReadFrom(ctx context.Context, buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		if s.closed.Load() {
			return 0, nil, ErrClosed
		}

		slice := s.pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, nil, ErrReadTimeout
			}
			if remaining < slice {
				slice = remaining
			}
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(slice))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return 0, nil, ErrClosed
			}
			return 0, nil, fmt.Errorf("%w: receive: %v", ErrSocket, err)
		}

		s.observe(Inbound, addr, buf[:n])
		return n, addr, nil
	}
}

// Close closes the socket. It is safe to call more than once.
func (s *UDPSocket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

func (s *UDPSocket) observe(dir Direction, remote *net.UDPAddr, data []byte) {
	h, ok := s.tap.Load().(tapHolder)
	if !ok || h.tap == nil {
		return
	}
	h.tap.Capture(dir, s.LocalAddr(), remote, data)
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
