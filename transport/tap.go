package transport

import "net"

// Direction tells a PacketTap which way a datagram travelled.
type Direction uint8

const (
	// Inbound datagrams were received from remote.
	Inbound Direction = iota
	// Outbound datagrams were sent to remote.
	Outbound
)

// String returns "in" or "out".
func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// PacketTap observes raw datagrams for debugging captures.
//
// Capture must not retain data after returning.
type PacketTap interface {
	Capture(dir Direction, local, remote *net.UDPAddr, data []byte)
}
