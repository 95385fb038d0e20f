package sip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/phonecheck/limits"
	"github.com/opd-ai/phonecheck/transport"
	"github.com/sirupsen/logrus"
)

// ProbeTimeout bounds the wait for the OPTIONS reply.
const ProbeTimeout = 5 * time.Second

// ErrNoMapping is returned when the probe reply lacks received and rport.
var ErrNoMapping = errors.New("no received/rport in Via header")

// ProbeMapping learns the public address of sock as the SIP server sees it.
//
// It sends an OPTIONS request from sock and reads the received and rport
// parameters the server adds to the topmost Via of its reply. Running it on
// the RTP socket reveals carrier-grade NAT mappings that STUN servers on a
// different path may not.
func ProbeMapping(ctx context.Context, sock *transport.UDPSocket, server *net.UDPAddr, timeout time.Duration) (*net.UDPAddr, error) {
	branch := GenerateBranch()
	req, err := BuildOptions(server.IP.String(), sock.LocalPort(), branch)
	if err != nil {
		return nil, err
	}
	if err := sock.WriteTo([]byte(req), server); err != nil {
		return nil, fmt.Errorf("mapping probe send: %w", err)
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, limits.MaxSIPMessage)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("mapping probe: %w", transport.ErrReadTimeout)
		}
		n, from, err := sock.ReadFrom(ctx, buf, remaining)
		if err != nil {
			return nil, fmt.Errorf("mapping probe receive: %w", err)
		}
		if !from.IP.Equal(server.IP) {
			continue
		}
		msg := string(buf[:n])
		if b, ok := ExtractViaBranch(msg); !ok || b != branch {
			continue
		}
		addr, ok := ExtractViaReceived(msg)
		if !ok {
			return nil, ErrNoMapping
		}

		logrus.WithFields(logrus.Fields{
			"function":    "ProbeMapping",
			"server":      server.String(),
			"public_addr": addr.String(),
		}).Info("SIP server reported public mapping")
		return addr, nil
	}
}
