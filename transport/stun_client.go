// Package transport provides the UDP plumbing shared by the phone check's
// SIP, RTP and STUN components.
//
// This file implements a STUN (Session Traversal Utilities for NAT) client
// for public address discovery through an external STUN server.
package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phonecheck/limits"
)

const (
	stunHeaderSize = limits.STUNHeaderSize

	// DefaultSTUNTimeout is the wait for a Binding response.
	DefaultSTUNTimeout = 3 * time.Second
)

// STUNErrorKind classifies STUN discovery failures.
type STUNErrorKind int

const (
	STUNResolution STUNErrorKind = iota
	STUNSend
	STUNTimeout
	STUNBadMagic
	STUNTransactionMismatch
	STUNUnknownFamily
	STUNTruncated
	STUNErrorResponse
	STUNUnexpectedType
	STUNNoMappedAddress
	STUNReceive
)

var stunKindNames = map[STUNErrorKind]string{
	STUNResolution:          "resolution",
	STUNSend:                "send",
	STUNTimeout:             "timeout",
	STUNBadMagic:            "bad magic cookie",
	STUNTransactionMismatch: "transaction ID mismatch",
	STUNUnknownFamily:       "unknown address family",
	STUNTruncated:           "truncated",
	STUNErrorResponse:       "error response",
	STUNUnexpectedType:      "unexpected message type",
	STUNNoMappedAddress:     "no mapped address",
	STUNReceive:             "receive",
}

// String returns a short name for the kind.
func (k STUNErrorKind) String() string {
	if s, ok := stunKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// STUNError is returned by every failing STUN operation.
type STUNError struct {
	Kind   STUNErrorKind
	Server string
	Err    error
}

func (e *STUNError) Error() string {
	msg := "STUN " + e.Kind.String()
	if e.Server != "" {
		msg += " (" + e.Server + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *STUNError) Unwrap() error {
	return e.Err
}

func stunErr(kind STUNErrorKind, format string, args ...interface{}) *STUNError {
	return &STUNError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsSTUNKind reports whether err is a STUNError of the given kind.
func IsSTUNKind(err error, kind STUNErrorKind) bool {
	var se *STUNError
	return errors.As(err, &se) && se.Kind == kind
}

// STUNClient provides STUN-based public address discovery.
type STUNClient struct {
	servers []string
	timeout time.Duration
}

// NewSTUNClient creates a STUN client for the given "host:port" servers.
func NewSTUNClient(servers ...string) *STUNClient {
	sc := &STUNClient{timeout: DefaultSTUNTimeout}
	sc.SetServers(servers)
	return sc
}

// SetServers allows customizing the STUN servers list
func (sc *STUNClient) SetServers(servers []string) {
	sc.servers = make([]string, len(servers))
	copy(sc.servers, servers)
}

// SetTimeout sets the timeout for STUN operations
func (sc *STUNClient) SetTimeout(timeout time.Duration) {
	sc.timeout = timeout
}

// DiscoverPublicAddress binds a fresh socket and asks each server in turn
// for the socket's reflexive address.
func (sc *STUNClient) DiscoverPublicAddress(ctx context.Context) (*net.UDPAddr, error) {
	sock, err := ListenUDP("0.0.0.0:0")
	if err != nil {
		return nil, &STUNError{Kind: STUNSend, Err: err}
	}
	defer sock.Close()

	return sc.DiscoverOn(ctx, sock)
}

// DiscoverOn asks each server in turn for the reflexive address of sock.
// Running discovery on the media socket yields the NAT mapping that media
// will actually arrive on.
func (sc *STUNClient) DiscoverOn(ctx context.Context, sock *UDPSocket) (*net.UDPAddr, error) {
	if len(sc.servers) == 0 {
		return nil, &STUNError{Kind: STUNResolution, Err: errors.New("no STUN servers configured")}
	}

	var lastErr error
	for _, server := range sc.servers {
		addr, err := sc.query(ctx, sock, server)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function":    "STUNClient.DiscoverOn",
				"server":      server,
				"public_addr": addr.String(),
			}).Info("STUN discovery succeeded")
			return addr, nil
		}
		lastErr = err

		logrus.WithFields(logrus.Fields{
			"function": "STUNClient.DiscoverOn",
			"server":   server,
			"error":    err.Error(),
		}).Warn("STUN discovery failed")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// query performs one Binding transaction against server.
func (sc *STUNClient) query(ctx context.Context, sock *UDPSocket, server string) (*net.UDPAddr, error) {
	serverAddr, err := resolveSTUNServer(ctx, server)
	if err != nil {
		return nil, err
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, &STUNError{Kind: STUNSend, Server: server, Err: err}
	}

	if err := sock.WriteTo(req.Raw, serverAddr); err != nil {
		return nil, &STUNError{Kind: STUNSend, Server: server, Err: err}
	}

	buf := make([]byte, limits.MaxSTUNMessage)
	deadline := time.Now().Add(sc.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &STUNError{Kind: STUNTimeout, Server: server, Err: ErrReadTimeout}
		}

		n, from, err := sock.ReadFrom(ctx, buf, remaining)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				return nil, &STUNError{Kind: STUNTimeout, Server: server, Err: err}
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &STUNError{Kind: STUNReceive, Server: server, Err: err}
		}

		addr, err := ParseBindingResponse(buf[:n], req.TransactionID[:])
		if IsSTUNKind(err, STUNTransactionMismatch) || IsSTUNKind(err, STUNBadMagic) {
			// Late answers and media sharing the socket are not ours.
			logrus.WithFields(logrus.Fields{
				"function": "STUNClient.query",
				"server":   server,
				"from":     from.String(),
				"error":    err.Error(),
			}).Debug("Ignoring unrelated datagram")
			continue
		}
		if err != nil {
			var se *STUNError
			if errors.As(err, &se) {
				se.Server = server
			}
			return nil, err
		}
		return addr, nil
	}
}

// resolveSTUNServer resolves "host:port" to an IPv4 UDP address.
func resolveSTUNServer(ctx context.Context, server string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return nil, &STUNError{Kind: STUNResolution, Server: server, Err: err}
	}
	port, err := net.LookupPort("udp", portStr)
	if err != nil {
		return nil, &STUNError{Kind: STUNResolution, Server: server, Err: err}
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		if err == nil {
			err = errors.New("no IPv4 address")
		}
		return nil, &STUNError{Kind: STUNResolution, Server: server, Err: err}
	}
	return &net.UDPAddr{IP: ips[0], Port: port}, nil
}

// ParseBindingResponse validates a Binding response and returns the mapped
// address, preferring XOR-MAPPED-ADDRESS over MAPPED-ADDRESS. Only IPv4
// mappings are accepted.
func ParseBindingResponse(response, expectedTransactionID []byte) (*net.UDPAddr, error) {
	if len(response) < stunHeaderSize {
		return nil, stunErr(STUNTruncated, "response is %d bytes", len(response))
	}
	if !stun.IsMessage(response) {
		return nil, stunErr(STUNBadMagic, "cookie 0x%08x", binary.BigEndian.Uint32(response[4:8]))
	}

	m := &stun.Message{Raw: response}
	if err := m.Decode(); err != nil {
		return nil, &STUNError{Kind: STUNTruncated, Err: err}
	}
	if !bytes.Equal(m.TransactionID[:], expectedTransactionID) {
		return nil, stunErr(STUNTransactionMismatch, "response %x", m.TransactionID[:])
	}

	switch m.Type {
	case stun.BindingSuccess:
	case stun.BindingError:
		var code stun.ErrorCodeAttribute
		if err := code.GetFrom(m); err == nil {
			return nil, stunErr(STUNErrorResponse, "server returned Binding Error %s", code.String())
		}
		return nil, stunErr(STUNErrorResponse, "server returned Binding Error")
	default:
		return nil, stunErr(STUNUnexpectedType, "message type %s", m.Type)
	}

	return mappedAddress(m)
}

// mappedAddress extracts XOR-MAPPED-ADDRESS, falling back to the legacy
// MAPPED-ADDRESS.
func mappedAddress(m *stun.Message) (*net.UDPAddr, error) {
	if v, err := m.Get(stun.AttrXORMappedAddress); err == nil {
		// GetFrom reads the family before any length check and pads short values.
		if len(v) < 8 {
			return nil, stunErr(STUNTruncated, "XOR-MAPPED-ADDRESS is %d bytes", len(v))
		}
		var xa stun.XORMappedAddress
		if err := xa.GetFrom(m); err != nil {
			return nil, addressErr("XOR-MAPPED-ADDRESS", err)
		}
		return ipv4Mapping(xa.IP, xa.Port)
	}

	v, err := m.Get(stun.AttrMappedAddress)
	if err != nil {
		return nil, stunErr(STUNNoMappedAddress, "response carries no mapped address")
	}
	if len(v) < 8 {
		return nil, stunErr(STUNTruncated, "MAPPED-ADDRESS is %d bytes", len(v))
	}
	var ma stun.MappedAddress
	if err := ma.GetFrom(m); err != nil {
		return nil, addressErr("MAPPED-ADDRESS", err)
	}
	return ipv4Mapping(ma.IP, ma.Port)
}

// addressErr classifies a pion attribute decode failure.
func addressErr(attr string, err error) *STUNError {
	var de *stun.DecodeErr
	if errors.As(err, &de) && de.IsPlaceChildren("family") {
		return &STUNError{Kind: STUNUnknownFamily, Err: fmt.Errorf("%s: %w", attr, err)}
	}
	return &STUNError{Kind: STUNTruncated, Err: fmt.Errorf("%s: %w", attr, err)}
}

func ipv4Mapping(ip net.IP, port int) (*net.UDPAddr, error) {
	if len(ip) != net.IPv4len {
		return nil, stunErr(STUNUnknownFamily, "family IPv6 is not supported")
	}
	return &net.UDPAddr{IP: net.IPv4(ip[0], ip[1], ip[2], ip[3]), Port: port}, nil
}
