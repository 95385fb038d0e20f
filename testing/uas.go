package testing

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	sipgo "github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// StreamConfig describes the G.711 audio a simulated UAS plays after the
// caller ACKs a 2xx.
type StreamConfig struct {
	Packets     int
	PayloadType uint8         // 0 for PCMU, 8 for PCMA
	Fill        byte          // payload byte repeated 160 times
	Interval    time.Duration // defaults to 20 ms
	StartSeq    uint16
}

// UASConfig scripts the behaviour of a SimulatedUAS.
type UASConfig struct {
	// DropInvites ignores the first n INVITE datagrams, retransmissions included.
	DropInvites int
	// Provisional responses sent before the final one; nil means 100 and 180.
	Provisional []int
	// FinalStatus answers INVITEs; zero means 200.
	FinalStatus int

	// Challenge, when set, is sent in a 401 (407 with ProxyAuth) to INVITEs
	// without credentials. Credentials are checked against Username and
	// Password and a bad answer is challenged again.
	Challenge *digest.Challenge
	ProxyAuth bool
	Username  string
	Password  string

	// RegisterStatus answers REGISTER; zero means 200. Challenge applies to
	// REGISTER as well when ChallengeRegister is set.
	RegisterStatus    int
	ChallengeRegister bool

	// NoByeResponse leaves BYE unanswered.
	NoByeResponse bool

	Stream StreamConfig
}

// ReceivedRequest is one request datagram seen by the UAS.
type ReceivedRequest struct {
	Method        string
	CSeq          uint32
	Branch        string
	ToTag         string
	Authorization string
	Raw           string
	From          *net.UDPAddr
	At            time.Time
}

// SimulatedUAS is a loopback SIP user agent server with an RTP source.
// It parses requests with a real SIP stack and answers them by script.
type SimulatedUAS struct {
	config  UASConfig
	conn    *net.UDPConn
	rtpConn *net.UDPConn
	toTag   string

	mu          sync.Mutex
	requests    []ReceivedRequest
	invitesSeen int
	lastFinal   int
	mediaDest   *net.UDPAddr
	streamed    bool
	rtpInbound  int
	authFailure int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSimulatedUAS binds SIP and RTP sockets on 127.0.0.1 and starts serving.
func NewSimulatedUAS(config UASConfig) (*SimulatedUAS, error) {
	if config.Provisional == nil {
		config.Provisional = []int{100, 180}
	}
	if config.FinalStatus == 0 {
		config.FinalStatus = 200
	}
	if config.RegisterStatus == 0 {
		config.RegisterStatus = 200
	}
	if config.Stream.Interval == 0 {
		config.Stream.Interval = 20 * time.Millisecond
	}

	loopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
	conn, err := net.ListenUDP("udp4", loopback)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UAS SIP socket: %w", err)
	}
	rtpConn, err := net.ListenUDP("udp4", loopback)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind UAS RTP socket: %w", err)
	}

	u := &SimulatedUAS{
		config:  config,
		conn:    conn,
		rtpConn: rtpConn,
		toTag:   randomHex(4),
		done:    make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedUAS",
		"sip_addr": conn.LocalAddr().String(),
		"rtp_addr": rtpConn.LocalAddr().String(),
	}).Info("Simulated UAS listening")

	u.wg.Add(2)
	go u.serveSIP()
	go u.serveRTP()
	return u, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Addr returns the SIP address.
func (u *SimulatedUAS) Addr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// RTPAddr returns the address advertised in the SDP answer.
func (u *SimulatedUAS) RTPAddr() *net.UDPAddr {
	return u.rtpConn.LocalAddr().(*net.UDPAddr)
}

// ToTag returns the tag the UAS puts on final responses.
func (u *SimulatedUAS) ToTag() string {
	return u.toTag
}

// Requests returns the received requests with the given method, or all of
// them when method is empty.
func (u *SimulatedUAS) Requests(method string) []ReceivedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []ReceivedRequest
	for _, r := range u.requests {
		if method == "" || r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// WaitForRequests polls until n requests of method arrived or timeout passes.
func (u *SimulatedUAS) WaitForRequests(method string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(u.Requests(method)) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return len(u.Requests(method)) >= n
}

// RTPInbound returns how many datagrams arrived on the RTP socket, such as
// NAT punch and keepalive packets.
func (u *SimulatedUAS) RTPInbound() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rtpInbound
}

// AuthFailures returns how many credentials failed verification.
func (u *SimulatedUAS) AuthFailures() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.authFailure
}

// Close stops the server and waits for its goroutines.
func (u *SimulatedUAS) Close() error {
	select {
	case <-u.done:
		return nil
	default:
	}
	close(u.done)
	err := errors.Join(u.conn.Close(), u.rtpConn.Close())
	u.wg.Wait()
	return err
}

func (u *SimulatedUAS) closed() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

func (u *SimulatedUAS) serveSIP() {
	defer u.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.closed() {
				return
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := sipgo.ParseMessage(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SimulatedUAS.serveSIP",
				"error":    err.Error(),
			}).Warn("Unparseable SIP datagram")
			continue
		}
		req, ok := msg.(*sipgo.Request)
		if !ok {
			continue
		}
		u.handle(req, string(data), from)
	}
}

func (u *SimulatedUAS) serveRTP() {
	defer u.wg.Done()

	buf := make([]byte, 2048)
	for {
		if _, _, err := u.rtpConn.ReadFromUDP(buf); err != nil {
			if u.closed() {
				return
			}
			continue
		}
		u.mu.Lock()
		u.rtpInbound++
		u.mu.Unlock()
	}
}

func (u *SimulatedUAS) handle(req *sipgo.Request, raw string, from *net.UDPAddr) {
	rec := ReceivedRequest{
		Method: req.Method.String(),
		Raw:    raw,
		From:   from,
		At:     time.Now(),
	}
	if cseq := req.CSeq(); cseq != nil {
		rec.CSeq = cseq.SeqNo
	}
	if via := req.Via(); via != nil {
		rec.Branch, _ = via.Params.Get("branch")
	}
	if to := req.To(); to != nil {
		rec.ToTag, _ = to.Params.Get("tag")
	}
	for _, name := range []string{"Authorization", "Proxy-Authorization"} {
		if h := req.GetHeader(name); h != nil {
			rec.Authorization = h.Value()
		}
	}

	u.mu.Lock()
	u.requests = append(u.requests, rec)
	u.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedUAS.handle",
		"method":   rec.Method,
		"cseq":     rec.CSeq,
		"branch":   rec.Branch,
	}).Debug("UAS received request")

	switch req.Method {
	case sipgo.INVITE:
		u.handleInvite(req, rec)
	case sipgo.ACK:
		u.handleAck()
	case sipgo.BYE:
		if !u.config.NoByeResponse {
			u.respond(rec, 200, "", nil, "")
		}
	case sipgo.REGISTER:
		u.handleRegister(rec)
	case sipgo.OPTIONS:
		u.respond(rec, 200, "", nil, "")
	default:
		u.respond(rec, 405, "", nil, "")
	}
}

func (u *SimulatedUAS) handleInvite(req *sipgo.Request, rec ReceivedRequest) {
	u.mu.Lock()
	u.invitesSeen++
	drop := u.invitesSeen <= u.config.DropInvites
	u.mu.Unlock()
	if drop {
		return
	}

	if u.config.Challenge != nil && !u.verify(rec, "INVITE") {
		u.challenge(rec)
		return
	}

	if dest, err := offerAddress(req.Body()); err == nil {
		u.mu.Lock()
		u.mediaDest = dest
		u.mu.Unlock()
	}

	for _, code := range u.config.Provisional {
		u.respond(rec, code, "", nil, "")
	}

	final := u.config.FinalStatus
	u.mu.Lock()
	u.lastFinal = final
	u.mu.Unlock()

	if final >= 200 && final < 300 {
		u.respond(rec, final, u.toTag, nil, u.answerSDP())
		return
	}
	u.respond(rec, final, u.toTag, nil, "")
}

func (u *SimulatedUAS) handleRegister(rec ReceivedRequest) {
	if u.config.ChallengeRegister && u.config.Challenge != nil && !u.verify(rec, "REGISTER") {
		u.challenge(rec)
		return
	}
	u.respond(rec, u.config.RegisterStatus, u.toTag, []string{"Expires: 3600"}, "")
}

// verify checks the request's credentials against the configured account.
func (u *SimulatedUAS) verify(rec ReceivedRequest, method string) bool {
	if rec.Authorization == "" {
		return false
	}
	cred, err := digest.ParseCredentials(rec.Authorization)
	if err == nil && cred.Username == u.config.Username {
		want, derr := digest.Digest(u.config.Challenge, digest.Options{
			Method:   method,
			URI:      cred.URI,
			Username: cred.Username,
			Password: u.config.Password,
			Cnonce:   cred.Cnonce,
			Count:    cred.Nc,
		})
		if derr == nil && want.Response == cred.Response {
			return true
		}
	}

	u.mu.Lock()
	u.authFailure++
	u.mu.Unlock()
	return false
}

func (u *SimulatedUAS) challenge(rec ReceivedRequest) {
	code, header := 401, "WWW-Authenticate"
	if u.config.ProxyAuth {
		code, header = 407, "Proxy-Authenticate"
	}
	u.respond(rec, code, u.toTag, []string{header + ": " + u.config.Challenge.String()}, "")
}

func (u *SimulatedUAS) handleAck() {
	u.mu.Lock()
	start := u.lastFinal >= 200 && u.lastFinal < 300 && !u.streamed && u.config.Stream.Packets > 0 && u.mediaDest != nil
	if start {
		u.streamed = true
	}
	dest := u.mediaDest
	u.mu.Unlock()

	if start {
		u.wg.Add(1)
		go u.stream(dest)
	}
}

func (u *SimulatedUAS) stream(dest *net.UDPAddr) {
	defer u.wg.Done()

	cfg := u.config.Stream
	payload := bytes.Repeat([]byte{cfg.Fill}, 160)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for i := 0; i < cfg.Packets; i++ {
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    cfg.PayloadType,
				SequenceNumber: cfg.StartSeq + uint16(i),
				Timestamp:      uint32(i) * 160,
				SSRC:           0x5eed,
			},
			Payload: payload,
		}
		data, err := pkt.Marshal()
		if err != nil {
			return
		}
		if _, err := u.rtpConn.WriteToUDP(data, dest); err != nil {
			return
		}

		select {
		case <-u.done:
			return
		case <-ticker.C:
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedUAS.stream",
		"packets":  cfg.Packets,
		"dest":     dest.String(),
	}).Debug("UAS finished streaming audio")
}

// offerAddress reads the media destination from an SDP offer.
func offerAddress(body []byte) (*net.UDPAddr, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, err
	}
	if len(sd.MediaDescriptions) == 0 || sd.ConnectionInformation == nil || sd.ConnectionInformation.Address == nil {
		return nil, errors.New("offer has no audio destination")
	}
	ip := net.ParseIP(sd.ConnectionInformation.Address.Address)
	if ip == nil {
		return nil, errors.New("offer has a bad connection address")
	}
	return &net.UDPAddr{IP: ip, Port: sd.MediaDescriptions[0].MediaName.Port.Value}, nil
}

func (u *SimulatedUAS) answerSDP() string {
	addr := u.RTPAddr()
	ip := addr.IP.String()
	sd := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "uas",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "uas",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: addr.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprint(u.config.Stream.PayloadType)},
			},
			Attributes: []sdp.Attribute{sdp.NewPropertyAttribute("sendonly")},
		}},
	}
	out, err := sd.Marshal()
	if err != nil {
		return ""
	}
	return string(out)
}

var reasonPhrases = map[int]string{
	100: "Trying",
	180: "Ringing",
	183: "Session Progress",
	200: "OK",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	480: "Temporarily Unavailable",
	486: "Busy Here",
	500: "Server Internal Error",
	503: "Service Unavailable",
	603: "Decline",
}

// respond answers rec, echoing its Via, From, To, Call-ID and CSeq lines.
// The first Via gets received and rport parameters for the source address.
func (u *SimulatedUAS) respond(rec ReceivedRequest, code int, toTag string, extra []string, body string) {
	reason, ok := reasonPhrases[code]
	if !ok {
		reason = "Status"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SIP/2.0 %d %s\r\n", code, reason)
	firstVia := true
	for _, line := range requestHeaderLines(rec.Raw) {
		name, _, _ := strings.Cut(line, ":")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "via", "v":
			if firstVia {
				line = strings.Replace(line, ";rport", "", 1)
				line += fmt.Sprintf(";received=%s;rport=%d", rec.From.IP, rec.From.Port)
				firstVia = false
			}
		case "to", "t":
			if toTag != "" && !strings.Contains(strings.ToLower(line), "tag=") {
				line += ";tag=" + toTag
			}
		case "from", "f", "call-id", "i", "cseq":
		default:
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	for _, h := range extra {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	if body != "" {
		sb.WriteString("Content-Type: application/sdp\r\n")
	}
	fmt.Fprintf(&sb, "Content-Length: %d\r\n\r\n%s", len(body), body)

	if _, err := u.conn.WriteToUDP([]byte(sb.String()), rec.From); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedUAS.respond",
			"status":   code,
			"error":    err.Error(),
		}).Warn("UAS failed to send response")
	}
}

func requestHeaderLines(raw string) []string {
	head, _, _ := strings.Cut(raw, "\r\n\r\n")
	lines := strings.Split(head, "\r\n")
	if len(lines) <= 1 {
		return nil
	}
	return lines[1:]
}
