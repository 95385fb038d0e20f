package sip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/phonecheck/av/audio"
	"github.com/opd-ai/phonecheck/av/rtp"
	"github.com/opd-ai/phonecheck/transport"
	"github.com/sirupsen/logrus"
)

// ClientConfig configures outbound test calls.
type ClientConfig struct {
	Username    string
	Password    string
	Server      string
	Port        int
	Target      string
	DisplayName string

	ListenDuration   time.Duration
	MinAudioDuration time.Duration

	// STUNServer, when set, is queried from the RTP socket to learn the
	// public media address.
	STUNServer string
	// PublicAddress overrides the advertised media address ("ip" or
	// "ip:port"). It takes precedence over STUN.
	PublicAddress string
	// ProbeMapping asks the SIP server for the RTP socket's public mapping
	// with an OPTIONS request when neither PublicAddress nor STUN apply.
	ProbeMapping bool
	// Register sends a REGISTER before each call.
	Register bool
	// Keepalive keeps sending empty RTP toward the remote media address
	// while listening.
	Keepalive bool

	RTP rtp.ReceiverConfig

	// Timer and timeout overrides; zero keeps the RFC defaults.
	T1                  time.Duration
	TimerB              time.Duration
	ByeTimeout          time.Duration
	CancelledByeTimeout time.Duration
}

// Validate checks the fields needed to place a call.
func (c ClientConfig) Validate() error {
	var errs []error
	if c.Server == "" {
		errs = append(errs, errors.New("sip server is required"))
	}
	if c.Target == "" {
		errs = append(errs, errors.New("target is required"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("sip username is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("sip port %d out of range", c.Port))
	}
	if c.ListenDuration <= 0 {
		errs = append(errs, errors.New("listen duration must be positive"))
	}
	if err := checkHeaderSafe(c.Username, c.Server, c.Target, c.DisplayName); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return newError(KindConfiguration, 0, errors.Join(errs...))
	}
	return nil
}

// Client places outbound test calls to a single target.
type Client struct {
	config    ClientConfig
	server    *net.UDPAddr
	fromURI   string
	targetURI string
	stun      *transport.STUNClient
	tap       transport.PacketTap
}

// NewClient validates config and resolves the SIP server.
//
// Parameters:
//   - ctx: Bounds the DNS lookup
//   - config: Account, target and media settings
//
// Returns:
//   - *Client: A client ready to place calls
//   - error: *Error of kind Configuration or Resolution
func NewClient(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.DisplayName == "" {
		config.DisplayName = DefaultDisplayName
	}
	if config.Port == 0 {
		config.Port = 5060
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	server, err := resolveServer(ctx, config.Server, config.Port)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:    config,
		server:    server,
		fromURI:   fmt.Sprintf("sip:%s@%s", config.Username, config.Server),
		targetURI: fmt.Sprintf("sip:%s@%s", config.Target, config.Server),
	}
	if config.STUNServer != "" {
		c.stun = transport.NewSTUNClient(config.STUNServer)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewClient",
		"server":   server.String(),
	}).Info("SIP server resolved")

	return c, nil
}

func resolveServer(ctx context.Context, host string, port int) (*net.UDPAddr, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, newError(KindResolution, 0, fmt.Errorf("failed to resolve SIP server %s: %w", host, err))
	}
	if len(ips) == 0 {
		return nil, newError(KindResolution, 0, fmt.Errorf("no IPv4 address for SIP server %s", host))
	}
	return &net.UDPAddr{IP: ips[0], Port: port}, nil
}

// SetPacketTap mirrors every SIP, RTP and STUN datagram of later calls to tap.
func (c *Client) SetPacketTap(tap transport.PacketTap) {
	c.tap = tap
}

// Server returns the resolved SIP server address.
func (c *Client) Server() *net.UDPAddr {
	return c.server
}

// PlaceCall places one call, listens for audio and hangs up.
//
// It never returns an error: every outcome, including cancellation through
// ctx, is described by the CallResult. Cancellation while connected keeps
// the partial audio and still sends BYE.
func (c *Client) PlaceCall(ctx context.Context) *CallResult {
	started := time.Now()
	res := c.placeCall(ctx)
	res.Duration = time.Since(started)

	kind, _ := res.Kind()
	fields := logrus.Fields{
		"function":       "Client.PlaceCall",
		"call_id":        res.CallID,
		"connected":      res.Connected,
		"audio_received": res.AudioReceived,
		"samples":        len(res.Samples),
		"sip_status":     res.SIPStatus,
		"duration":       res.Duration.String(),
	}
	if res.Err != nil || (res.Connected && !res.AudioReceived) {
		fields["error_category"] = kind.String()
		fields["error"] = res.ErrorText()
		logrus.WithFields(fields).Warn("Call finished with problems")
	} else {
		logrus.WithFields(fields).Info("Call finished")
	}
	return res
}

func (c *Client) placeCall(ctx context.Context) *CallResult {
	if c.config.Register {
		if err := c.Register(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.placeCall",
				"error":    err.Error(),
			}).Warn("SIP registration failed, proceeding with call attempt")
		}
	}

	receiver, err := rtp.NewReceiver(c.config.RTP)
	if err != nil {
		return &CallResult{Err: newError(KindTransport, 0, err)}
	}
	defer receiver.Close()

	t, err := NewTransport(c.server)
	if err != nil {
		return &CallResult{Err: err}
	}
	defer t.Close()
	t.SetTimers(c.config.T1, c.config.TimerB)

	if c.tap != nil {
		receiver.Socket().SetTap(c.tap)
		t.Socket().SetTap(c.tap)
	}

	party := Party{
		DisplayName: c.config.DisplayName,
		FromURI:     c.fromURI,
		TargetURI:   c.targetURI,
		CallID:      GenerateCallID(t.LocalAddr().IP.String()),
		FromTag:     GenerateTag(),
		Local:       t.LocalAddr(),
	}
	res := &CallResult{CallID: party.CallID}

	logrus.WithFields(logrus.Fields{
		"function": "Client.placeCall",
		"call_id":  party.CallID,
		"rtp_port": receiver.LocalPort(),
	}).Info("Initiating call")

	media := c.mediaAddress(ctx, receiver, t)

	dialog := NewDialog(party, t)
	dialog.SetByeTimeouts(c.config.ByeTimeout, c.config.CancelledByeTimeout)
	defer func() { res.States = dialog.StateHistory() }()

	if _, err := dialog.Invite(ctx, Offer{Addr: media}, Credentials{
		Username: c.config.Username,
		Password: c.config.Password,
	}); err != nil {
		res.SIPStatus = dialog.Status()
		res.Err = err
		return res
	}
	res.Connected = true
	res.SIPStatus = dialog.Status()

	if remote := dialog.RemoteRTP(); remote != nil {
		if err := receiver.PunchNAT(ctx, remote); err != nil && ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.placeCall",
				"call_id":  party.CallID,
				"error":    err.Error(),
			}).Warn("NAT punch failed")
		}
		if c.config.Keepalive {
			receiver.EnableKeepalive(remote)
		}
	}

	completed, rerr := receiver.ReceiveFor(ctx, c.config.ListenDuration)
	res.Samples = receiver.SamplesF32()
	res.RTP = receiver.Stats()
	res.AudioReceived = audio.SamplesToDurationMs(len(res.Samples), audio.RecognitionRate) >= c.config.MinAudioDuration.Milliseconds()

	cancelled := !completed || ctx.Err() != nil
	if _, err := dialog.Hangup(cancelled); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.placeCall",
			"call_id":  party.CallID,
			"error":    err.Error(),
		}).Warn("BYE failed")
	}

	switch {
	case rerr != nil:
		res.Err = newError(KindTransport, res.SIPStatus, rerr)
	case cancelled:
		res.Err = newError(KindCancelled, res.SIPStatus, ErrCallCancelled)
	}
	return res
}

// mediaAddress picks the address advertised in the SDP offer: the
// configured public address, then STUN, then the SIP server's view of the
// RTP socket, then the local address.
func (c *Client) mediaAddress(ctx context.Context, receiver *rtp.Receiver, t *Transport) *net.UDPAddr {
	local := &net.UDPAddr{IP: t.LocalAddr().IP, Port: receiver.LocalPort()}

	if c.config.PublicAddress != "" {
		addr, err := ParsePublicAddress(c.config.PublicAddress, receiver.LocalPort())
		if err == nil {
			return addr
		}
		logrus.WithFields(logrus.Fields{
			"function": "Client.mediaAddress",
			"error":    err.Error(),
		}).Warn("Ignoring invalid public address override")
	}

	if c.stun != nil {
		addr, err := c.stun.DiscoverOn(ctx, receiver.Socket())
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function":    "Client.mediaAddress",
				"server":      c.config.STUNServer,
				"public_addr": addr.String(),
			}).Info("STUN discovered public RTP address")
			return addr
		}
		logrus.WithFields(logrus.Fields{
			"function": "Client.mediaAddress",
			"server":   c.config.STUNServer,
			"error":    err.Error(),
		}).Warn("STUN discovery for RTP failed")
	}

	if c.config.ProbeMapping {
		addr, err := ProbeMapping(ctx, receiver.Socket(), c.server, ProbeTimeout)
		if err == nil {
			return addr
		}
		logrus.WithFields(logrus.Fields{
			"function": "Client.mediaAddress",
			"error":    err.Error(),
		}).Warn("SIP mapping probe failed")
	}

	return local
}

// ParsePublicAddress parses "ip" or "ip:port"; a bare IP takes defaultPort.
func ParsePublicAddress(s string, defaultPort int) (*net.UDPAddr, error) {
	if ip := net.ParseIP(s); ip != nil {
		return &net.UDPAddr{IP: ip, Port: defaultPort}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public address %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid public address %q: not an IP", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid public address %q: bad port", s)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}
