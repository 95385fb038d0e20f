package sip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/phonecheck/transport"
	"github.com/sirupsen/logrus"
)

// BYE response waits.
const (
	ByeTimeout          = 5 * time.Second
	CancelledByeTimeout = 2 * time.Second
)

// Credentials authenticate the user agent against digest challenges.
type Credentials struct {
	Username string
	Password string
}

// Dialog drives the INVITE dialog of one call over a Transport.
//
// A Dialog is used from a single goroutine.
type Dialog struct {
	party     Party
	transport *Transport
	sm        *StateMachine

	cseq         uint32 // CSeq of the last INVITE
	inviteBranch string
	toTag        string
	answer       *Answer
	status       int
	byeSent      bool
	authRetried  bool
	byeTimeout   time.Duration
	cancelledBye time.Duration
}

// NewDialog creates an idle dialog. The first INVITE uses CSeq 1.
func NewDialog(party Party, t *Transport) *Dialog {
	d := &Dialog{
		party:        party,
		transport:    t,
		sm:           NewStateMachine(party.CallID),
		byeTimeout:   ByeTimeout,
		cancelledBye: CancelledByeTimeout,
	}
	t.SetProvisionalHandler(func(int) {
		if d.sm.State() == StateInviting {
			_ = d.sm.Fire(EventProvisional)
		}
	})
	return d
}

// SetByeTimeouts overrides the BYE response waits.
func (d *Dialog) SetByeTimeouts(normal, cancelled time.Duration) {
	if normal > 0 {
		d.byeTimeout = normal
	}
	if cancelled > 0 {
		d.cancelledBye = cancelled
	}
}

// State returns the current call state.
func (d *Dialog) State() CallState { return d.sm.State() }

// StateHistory returns every state the call passed through.
func (d *Dialog) StateHistory() []CallState { return d.sm.History() }

// CSeq returns the CSeq of the last INVITE sent.
func (d *Dialog) CSeq() uint32 { return d.cseq }

// Status returns the last final status received, or zero.
func (d *Dialog) Status() int { return d.status }

// AuthRetried reports whether a digest challenge was answered.
func (d *Dialog) AuthRetried() bool { return d.authRetried }

// ToTag returns the remote tag learned from the final response.
func (d *Dialog) ToTag() string { return d.toTag }

// RemoteRTP returns the media address from the 2xx SDP answer, if any.
func (d *Dialog) RemoteRTP() *net.UDPAddr {
	if d.answer == nil {
		return nil
	}
	return d.answer.RTPAddr
}

// Invite runs the INVITE phase: send the offer, answer at most one digest
// challenge, and ACK the final response.
//
// On success the dialog is Established and the 2xx response is returned.
// Any other outcome leaves the dialog Failed and returns an *Error.
func (d *Dialog) Invite(ctx context.Context, offer Offer, creds Credentials) (string, error) {
	if err := d.sm.Fire(EventSendInvite); err != nil {
		return "", err
	}
	d.cseq = 1

	resp, err := d.sendInvite(ctx, offer, nil)
	if err != nil {
		return "", err
	}

	if isChallenge(d.status) {
		resp, err = d.answerChallenge(ctx, resp, offer, creds)
		if err != nil {
			return "", err
		}
	}

	if d.status >= 200 && d.status < 300 {
		return resp, d.accept(resp)
	}
	return "", d.reject(resp)
}

func isChallenge(status int) bool {
	return status == 401 || status == 407
}

// sendInvite sends one INVITE transaction with a fresh branch.
func (d *Dialog) sendInvite(ctx context.Context, offer Offer, auth *AuthHeader) (string, error) {
	d.inviteBranch = GenerateBranch()

	var (
		req string
		err error
	)
	if auth != nil {
		req, err = BuildInviteWithAuth(d.party, d.cseq, d.inviteBranch, offer, *auth)
	} else {
		req, err = BuildInvite(d.party, d.cseq, d.inviteBranch, offer)
	}
	if err != nil {
		_ = d.sm.Fire(EventAborted)
		return "", newError(KindConfiguration, 0, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dialog.sendInvite",
		"call_id":  d.party.CallID,
		"cseq":     d.cseq,
		"auth":     auth != nil,
	}).Info("Sending INVITE")

	resp, err := d.transport.SendInviteAwaitFinal(ctx, req)
	if err != nil {
		if k, ok := KindOf(err); ok && k == KindTransactionTimeout {
			_ = d.sm.Fire(EventTimerB)
		} else {
			_ = d.sm.Fire(EventAborted)
		}
		return "", err
	}

	d.status, _ = ParseStatusCode(resp)
	d.toTag, _ = ExtractToTag(resp)

	logrus.WithFields(logrus.Fields{
		"function":   "Dialog.sendInvite",
		"call_id":    d.party.CallID,
		"sip_status": d.status,
		"category":   CategoryFromStatus(d.status).String(),
	}).Info("INVITE final response")

	return resp, nil
}

// answerChallenge ACKs a 401/407 and retries once with credentials.
func (d *Dialog) answerChallenge(ctx context.Context, resp string, offer Offer, creds Credentials) (string, error) {
	status := d.status
	if err := d.ackFailure(); err != nil {
		_ = d.sm.Fire(EventAborted)
		return "", err
	}

	if creds.Password == "" {
		_ = d.sm.Fire(EventRejected)
		return "", newError(KindAuth, status, ErrNoPassword)
	}
	header, proxy, ok := ExtractAuthenticateHeader(resp)
	if !ok {
		_ = d.sm.Fire(EventRejected)
		return "", newError(KindAuth, status, ErrNoChallenge)
	}
	challenge, err := ParseChallenge(header)
	if err != nil {
		_ = d.sm.Fire(EventRejected)
		return "", newError(KindAuth, status, fmt.Errorf("%w (challenge %q)", err, header))
	}

	if err := d.sm.Fire(EventChallenged); err != nil {
		return "", err
	}
	d.authRetried = true

	digest := ComputeDigest(challenge, creds.Username, creds.Password, "INVITE", d.party.TargetURI)
	auth := digest.Header(proxy)
	d.cseq++

	logrus.WithFields(logrus.Fields{
		"function":  "Dialog.answerChallenge",
		"call_id":   d.party.CallID,
		"realm":     challenge.Realm,
		"algorithm": challenge.Algorithm.String(),
		"proxy":     proxy,
	}).Info("Retrying INVITE with digest credentials")

	resp, err = d.sendInvite(ctx, offer, &auth)
	if err != nil {
		return "", err
	}
	if isChallenge(d.status) {
		status := d.status
		_ = d.ackFailure()
		_ = d.sm.Fire(EventRejected)
		return "", newError(KindAuth, status, errors.New("credentials rejected after retry"))
	}
	return resp, nil
}

// ackFailure acknowledges a non-2xx final response inside the INVITE
// transaction: same branch and CSeq, To tag from the response.
func (d *Dialog) ackFailure() error {
	ack, err := BuildAck(d.party, d.toTag, d.cseq, d.inviteBranch)
	if err != nil {
		return newError(KindProtocol, d.status, err)
	}
	return d.transport.Send(ack)
}

// accept handles a 2xx: ACK in a new transaction and read the SDP answer.
func (d *Dialog) accept(resp string) error {
	ack, err := BuildAck(d.party, d.toTag, d.cseq, GenerateBranch())
	if err != nil {
		_ = d.sm.Fire(EventAborted)
		return newError(KindProtocol, d.status, err)
	}
	if err := d.transport.Send(ack); err != nil {
		_ = d.sm.Fire(EventAborted)
		return err
	}
	if err := d.sm.Fire(EventAccepted); err != nil {
		return err
	}

	if body := Body(resp); body != "" {
		ans, err := ParseAnswer(body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Dialog.accept",
				"call_id":  d.party.CallID,
				"error":    err.Error(),
			}).Warn("Could not read SDP answer, media address unknown")
		} else {
			d.answer = ans
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Dialog.accept",
		"call_id":    d.party.CallID,
		"sip_status": d.status,
		"to_tag":     d.toTag,
	}).Info("Call established")
	return nil
}

// reject handles a non-2xx, non-challenge final response.
func (d *Dialog) reject(resp string) error {
	_ = d.ackFailure()
	_ = d.sm.Fire(EventRejected)
	cat := CategoryFromStatus(d.status)
	return newError(KindCallRejected, d.status, fmt.Errorf("%d: %s", d.status, cat.Description()))
}

// Hangup sends BYE exactly once and waits for its final response. The
// wait is shortened when cancelled is set and is independent of any
// caller context, so that a cancelled call is still torn down.
//
// It returns the BYE's final status, or zero if none arrived in time.
func (d *Dialog) Hangup(cancelled bool) (int, error) {
	if d.byeSent || !d.sm.Can(EventHangup) {
		return 0, fmt.Errorf("%w: BYE not allowed in state %s", ErrInvalidTransition, d.sm.State())
	}

	cseq := d.cseq + 1
	bye, err := BuildBye(d.party, d.toTag, cseq, GenerateBranch())
	if err != nil {
		return 0, newError(KindProtocol, 0, err)
	}
	d.byeSent = true
	sendErr := d.transport.Send(bye)
	if err := d.sm.Fire(EventHangup); err != nil {
		return 0, err
	}

	wait := d.byeTimeout
	if cancelled {
		wait = d.cancelledBye
	}
	status := 0
	if sendErr == nil {
		status = d.awaitByeResponse(cseq, wait)
	}
	_ = d.sm.Fire(EventByeDone)

	logrus.WithFields(logrus.Fields{
		"function":   "Dialog.Hangup",
		"call_id":    d.party.CallID,
		"cseq":       cseq,
		"bye_status": status,
		"cancelled":  cancelled,
	}).Info("Call terminated")

	return status, sendErr
}

func (d *Dialog) awaitByeResponse(cseq uint32, wait time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	for {
		msg, err := d.transport.Receive(ctx, 0)
		if errors.As(err, new(*Error)) {
			continue
		}
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, transport.ErrReadTimeout) {
				logrus.WithFields(logrus.Fields{
					"function": "Dialog.awaitByeResponse",
					"call_id":  d.party.CallID,
					"error":    err.Error(),
				}).Debug("BYE response wait ended")
			}
			return 0
		}
		code, ok := ParseStatusCode(msg)
		if !ok || code < 200 {
			continue
		}
		if n, method, ok := ExtractCSeq(msg); ok && (method != "BYE" || n != cseq) {
			continue
		}
		return code
	}
}
