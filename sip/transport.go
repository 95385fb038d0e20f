package sip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/opd-ai/phonecheck/limits"
	"github.com/opd-ai/phonecheck/transport"
	"github.com/sirupsen/logrus"
)

// RFC 3261 INVITE client transaction timers for unreliable transports.
const (
	T1     = 500 * time.Millisecond
	TimerB = 64 * T1
)

// Transport carries SIP messages between one local UDP socket and the
// server, and runs the INVITE client transaction.
type Transport struct {
	sock   *transport.UDPSocket
	server *net.UDPAddr
	local  *net.UDPAddr
	t1     time.Duration
	timerB time.Duration

	onProvisional func(status int)
}

// NewTransport binds an ephemeral IPv4 socket for talking to server.
func NewTransport(server *net.UDPAddr) (*Transport, error) {
	sock, err := transport.ListenUDP("0.0.0.0:0")
	if err != nil {
		return nil, newError(KindTransport, 0, fmt.Errorf("failed to bind SIP socket: %w", err))
	}
	return NewTransportWithSocket(sock, server), nil
}

// NewTransportWithSocket uses an already bound socket.
func NewTransportWithSocket(sock *transport.UDPSocket, server *net.UDPAddr) *Transport {
	t := &Transport{
		sock:   sock,
		server: server,
		t1:     T1,
		timerB: TimerB,
	}
	t.local = &net.UDPAddr{IP: outboundIP(server), Port: sock.LocalPort()}

	logrus.WithFields(logrus.Fields{
		"function":   "NewTransport",
		"local_addr": t.local.String(),
		"server":     server.String(),
	}).Debug("SIP transport bound")

	return t
}

// outboundIP picks the local interface address the kernel would route to
// server. Connecting a UDP socket sends nothing.
func outboundIP(server *net.UDPAddr) net.IP {
	conn, err := net.DialUDP("udp4", nil, server)
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}

// SetTimers overrides T1 and Timer B.
func (t *Transport) SetTimers(t1, timerB time.Duration) {
	if t1 > 0 {
		t.t1 = t1
	}
	if timerB > 0 {
		t.timerB = timerB
	}
}

// SetProvisionalHandler registers fn to be called with the status of the
// first provisional response of each transaction.
func (t *Transport) SetProvisionalHandler(fn func(status int)) {
	t.onProvisional = fn
}

// LocalAddr returns the address used in Via and Contact.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.local
}

// Server returns the remote SIP address.
func (t *Transport) Server() *net.UDPAddr {
	return t.server
}

// Socket exposes the underlying socket.
func (t *Transport) Socket() *transport.UDPSocket {
	return t.sock
}

// Send transmits one message to the server.
func (t *Transport) Send(msg string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Transport.Send",
		"method":   requestMethod(msg),
		"bytes":    len(msg),
	}).Trace("Sending SIP message")

	if err := t.sock.WriteTo([]byte(msg), t.server); err != nil {
		return newError(KindTransport, 0, fmt.Errorf("failed to send SIP message: %w", err))
	}
	return nil
}

// Receive waits up to timeout for the next datagram and returns it as text.
// A quiet socket yields an error matching transport.ErrReadTimeout and a
// cancelled context yields ctx.Err().
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	buf := make([]byte, limits.MaxSIPMessage)
	n, from, err := t.sock.ReadFrom(ctx, buf, timeout)
	if err != nil {
		return "", err
	}
	if err := limits.ValidateSIPMessage(buf[:n]); err != nil {
		return "", newError(KindProtocol, 0, err)
	}

	msg := strings.ToValidUTF8(string(buf[:n]), "\uFFFD")
	logrus.WithFields(logrus.Fields{
		"function": "Transport.Receive",
		"from":     from.String(),
		"bytes":    n,
	}).Trace("Received SIP message")
	return msg, nil
}

// SendInviteAwaitFinal runs a client transaction for request and returns
// the first final response whose Via branch matches the request.
//
// The request is retransmitted with Timer A starting at T1 and doubling,
// capped by the time left on Timer B, until any response arrives. After a
// provisional response retransmission stops and the wait for a final
// response continues until Timer B.
//
// Parameters:
//   - ctx: Cancels the wait
//   - request: An INVITE or other request built by this package
//
// Returns:
//   - string: The final response
//   - error: *Error of kind TransactionTimeout, Transport or Cancelled
func (t *Transport) SendInviteAwaitFinal(ctx context.Context, request string) (string, error) {
	branch, _ := ExtractViaBranch(request)
	method := requestMethod(request)

	start := time.Now()
	deadlineB := start.Add(t.timerB)
	timerA := t.t1
	nextSend := start.Add(timerA)
	provisional := false
	retransmits := 0

	if err := t.Send(request); err != nil {
		return "", err
	}

	for {
		now := time.Now()
		if !now.Before(deadlineB) {
			return "", t.timeoutError(method, retransmits)
		}
		wait := deadlineB.Sub(now)
		if !provisional {
			if untilA := nextSend.Sub(now); untilA < wait {
				wait = untilA
			}
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		msg, err := t.Receive(ctx, wait)
		switch {
		case err == nil:
			code, ok := ParseStatusCode(msg)
			if !ok {
				continue
			}
			if b, ok := ExtractViaBranch(msg); ok && branch != "" && b != branch {
				logrus.WithFields(logrus.Fields{
					"function": "Transport.SendInviteAwaitFinal",
					"branch":   b,
					"status":   code,
				}).Debug("Ignoring response for another transaction")
				continue
			}
			if code < 200 {
				if !provisional {
					logrus.WithFields(logrus.Fields{
						"function":    "Transport.SendInviteAwaitFinal",
						"method":      method,
						"status":      code,
						"retransmits": retransmits,
					}).Debug("Provisional response, retransmission stopped")
					if t.onProvisional != nil {
						t.onProvisional(code)
					}
				}
				provisional = true
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function":    "Transport.SendInviteAwaitFinal",
				"method":      method,
				"status":      code,
				"retransmits": retransmits,
			}).Debug("Final response received")
			return msg, nil

		case errors.Is(err, transport.ErrReadTimeout):
			if provisional {
				continue
			}
			now = time.Now()
			if !now.Before(deadlineB) {
				return "", t.timeoutError(method, retransmits)
			}
			retransmits++
			logrus.WithFields(logrus.Fields{
				"function": "Transport.SendInviteAwaitFinal",
				"method":   method,
				"attempt":  retransmits + 1,
				"timer_a":  timerA.String(),
			}).Warn("No response, retransmitting")
			if err := t.Send(request); err != nil {
				return "", err
			}
			timerA *= 2
			if remaining := deadlineB.Sub(now); timerA > remaining {
				timerA = remaining
			}
			nextSend = now.Add(timerA)

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", newError(KindCancelled, 0, err)

		case errors.As(err, new(*Error)):
			// Oversized or empty datagram; keep waiting.
			continue

		default:
			return "", newError(KindTransport, 0, err)
		}
	}
}

func (t *Transport) timeoutError(method string, retransmits int) error {
	return newError(KindTransactionTimeout, 0,
		fmt.Errorf("%w: %s timer B %s after %d retransmits", ErrTransactionTimeout, method, t.timerB, retransmits))
}

// Close releases the socket.
func (t *Transport) Close() error {
	return t.sock.Close()
}

// requestMethod returns the method token of a request start line, or
// "response" for responses.
func requestMethod(msg string) string {
	if IsResponse(msg) {
		return "response"
	}
	if i := strings.IndexByte(msg, ' '); i > 0 {
		return msg[:i]
	}
	return ""
}
