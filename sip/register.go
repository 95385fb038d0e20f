package sip

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RegisterExpires is the binding lifetime requested in seconds.
const RegisterExpires = 3600

// Register binds the account at the server, answering one digest
// challenge. It uses its own socket and Call-ID.
func (c *Client) Register(ctx context.Context) error {
	t, err := NewTransport(c.server)
	if err != nil {
		return err
	}
	defer t.Close()
	t.SetTimers(c.config.T1, c.config.TimerB)
	if c.tap != nil {
		t.Socket().SetTap(c.tap)
	}

	party := Party{
		DisplayName: c.config.DisplayName,
		FromURI:     c.fromURI,
		TargetURI:   c.fromURI,
		CallID:      GenerateCallID(t.LocalAddr().IP.String()),
		FromTag:     GenerateTag(),
		Local:       t.LocalAddr(),
	}
	registrar := "sip:" + c.config.Server

	logrus.WithFields(logrus.Fields{
		"function":  "Client.Register",
		"registrar": registrar,
	}).Info("Registering with SIP server")

	req, err := BuildRegister(party, registrar, 1, GenerateBranch(), RegisterExpires, nil)
	if err != nil {
		return newError(KindConfiguration, 0, err)
	}
	resp, err := t.SendInviteAwaitFinal(ctx, req)
	if err != nil {
		return fmt.Errorf("REGISTER request failed: %w", err)
	}

	status, _ := ParseStatusCode(resp)
	if status >= 200 && status < 300 {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Register",
		}).Info("SIP registration successful")
		return nil
	}
	if !isChallenge(status) {
		return newError(KindCallRejected, status, fmt.Errorf("registration rejected with status %d", status))
	}
	if c.config.Password == "" {
		return newError(KindAuth, status, ErrNoPassword)
	}

	header, proxy, ok := ExtractAuthenticateHeader(resp)
	if !ok {
		return newError(KindAuth, status, ErrNoChallenge)
	}
	challenge, err := ParseChallenge(header)
	if err != nil {
		return newError(KindAuth, status, err)
	}
	auth := ComputeDigest(challenge, c.config.Username, c.config.Password, "REGISTER", registrar).Header(proxy)

	req, err = BuildRegister(party, registrar, 2, GenerateBranch(), RegisterExpires, &auth)
	if err != nil {
		return newError(KindConfiguration, 0, err)
	}
	resp, err = t.SendInviteAwaitFinal(ctx, req)
	if err != nil {
		return fmt.Errorf("authenticated REGISTER failed: %w", err)
	}

	status, _ = ParseStatusCode(resp)
	if status >= 200 && status < 300 {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Register",
		}).Info("SIP registration successful (authenticated)")
		return nil
	}
	return newError(KindAuth, status, fmt.Errorf("registration failed with status %d after auth", status))
}
