package sip

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	sipgo "github.com/emiago/sipgo/sip"
)

// Fixed header values sent by the user agent.
const (
	DefaultDisplayName = "PhoneCheck"
	UserAgentHeader    = "phonecheck/0.1.0"
	BranchMagicCookie  = "z9hG4bK"
	MaxForwards        = 70
	allowHeader        = "INVITE, ACK, CANCEL, BYE"
	contactUser        = "phonecheck"
)

// Party holds the identity fields shared by every request of one call.
type Party struct {
	DisplayName string
	FromURI     string // sip:user@server
	TargetURI   string // sip:target@server
	CallID      string
	FromTag     string
	// Local is the SIP socket address placed in Via and Contact.
	Local *net.UDPAddr
}

// AuthHeader is a computed credentials header for a retried request.
type AuthHeader struct {
	// Name is "Authorization" or "Proxy-Authorization".
	Name  string
	Value string
}

func randomUint64() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// GenerateCallID returns 16 random hex digits followed by @localHost.
func GenerateCallID(localHost string) string {
	return fmt.Sprintf("%016x@%s", randomUint64(), localHost)
}

// GenerateTag returns 8 random hex digits.
func GenerateTag() string {
	return fmt.Sprintf("%08x", randomUint32())
}

// GenerateBranch returns an RFC 3261 branch: the magic cookie followed by
// 16 random hex digits.
func GenerateBranch() string {
	return fmt.Sprintf("%s%016x", BranchMagicCookie, randomUint64())
}

// checkHeaderSafe rejects values that would break out of a header line.
func checkHeaderSafe(values ...string) error {
	for _, v := range values {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("%w: %q", ErrHeaderInjection, v)
		}
	}
	return nil
}

// Validate checks the party fields for header injection.
func (p Party) Validate() error {
	if p.Local == nil {
		return fmt.Errorf("party has no local address")
	}
	return checkHeaderSafe(p.DisplayName, p.FromURI, p.TargetURI, p.CallID, p.FromTag)
}

// viaHost returns the local IP in the form Via and Contact expect.
func (p Party) viaHost() string {
	host := p.Local.IP.String()
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func parseURI(raw string) (sipgo.Uri, error) {
	var u sipgo.Uri
	if err := sipgo.ParseUri(raw, &u); err != nil {
		return u, fmt.Errorf("%w: %q: %v", ErrInvalidURI, raw, err)
	}
	return u, nil
}

func viaHeader(host string, port int, branch string) *sipgo.ViaHeader {
	return &sipgo.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            host,
		Port:            port,
		Params:          sipgo.NewParams().Add("branch", branch).Add("rport", ""),
	}
}

func toHeader(uri sipgo.Uri, tag string) *sipgo.ToHeader {
	to := &sipgo.ToHeader{Address: uri}
	if tag != "" {
		to.Params = sipgo.NewParams().Add("tag", tag)
	}
	return to
}

// newRequest starts a request with the Via, Max-Forwards and From headers
// every dialog request carries.
func (p Party) newRequest(method sipgo.RequestMethod, recipient string, branch string) (*sipgo.Request, error) {
	ruri, err := parseURI(recipient)
	if err != nil {
		return nil, err
	}
	from, err := parseURI(p.FromURI)
	if err != nil {
		return nil, err
	}

	req := sipgo.NewRequest(method, ruri)
	req.AppendHeader(viaHeader(p.viaHost(), p.Local.Port, branch))
	maxForwards := sipgo.MaxForwardsHeader(MaxForwards)
	req.AppendHeader(&maxForwards)
	req.AppendHeader(&sipgo.FromHeader{
		DisplayName: p.DisplayName,
		Address:     from,
		Params:      sipgo.NewParams().Add("tag", p.FromTag),
	})
	return req, nil
}

func (p Party) contact() *sipgo.ContactHeader {
	return &sipgo.ContactHeader{
		Address: sipgo.Uri{User: contactUser, Host: p.viaHost(), Port: p.Local.Port},
	}
}

// finish sets the body, which appends Content-Length, and renders req.
func finish(req *sipgo.Request, body []byte) string {
	req.SetBody(body)
	return req.String()
}

// BuildInvite builds an INVITE carrying the SDP offer.
//
// Parameters:
//   - p: Call identity and local SIP address
//   - cseq: CSeq number for this INVITE
//   - branch: Via branch of the new transaction
//   - offer: Media offer placed in the SDP body
//
// Returns:
//   - string: The CRLF-terminated request
//   - error: ErrHeaderInjection, ErrInvalidURI or an SDP marshal error
func BuildInvite(p Party, cseq uint32, branch string, offer Offer) (string, error) {
	return buildInvite(p, cseq, branch, offer, nil)
}

// BuildInviteWithAuth is BuildInvite with a credentials header placed after
// Contact.
func BuildInviteWithAuth(p Party, cseq uint32, branch string, offer Offer, auth AuthHeader) (string, error) {
	return buildInvite(p, cseq, branch, offer, &auth)
}

func buildInvite(p Party, cseq uint32, branch string, offer Offer, auth *AuthHeader) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := checkHeaderSafe(branch); err != nil {
		return "", err
	}
	if auth != nil {
		if err := checkHeaderSafe(auth.Name, auth.Value); err != nil {
			return "", err
		}
	}

	sdpBody, err := BuildOffer(offer)
	if err != nil {
		return "", err
	}

	req, err := p.newRequest(sipgo.INVITE, p.TargetURI, branch)
	if err != nil {
		return "", err
	}
	req.AppendHeader(toHeader(req.Recipient, ""))
	callID := sipgo.CallIDHeader(p.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sipgo.CSeqHeader{SeqNo: cseq, MethodName: sipgo.INVITE})
	req.AppendHeader(p.contact())
	if auth != nil {
		req.AppendHeader(sipgo.NewHeader(auth.Name, auth.Value))
	}
	contentType := sipgo.ContentTypeHeader("application/sdp")
	req.AppendHeader(&contentType)
	req.AppendHeader(sipgo.NewHeader("Allow", allowHeader))
	req.AppendHeader(sipgo.NewHeader("User-Agent", UserAgentHeader))
	return finish(req, []byte(sdpBody)), nil
}

// buildInDialog builds a bodiless ACK or BYE toward the target with the
// remote tag on To.
func buildInDialog(method sipgo.RequestMethod, p Party, toTag string, cseq uint32, branch string) (*sipgo.Request, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkHeaderSafe(toTag, branch); err != nil {
		return nil, err
	}

	req, err := p.newRequest(method, p.TargetURI, branch)
	if err != nil {
		return nil, err
	}
	req.AppendHeader(toHeader(req.Recipient, toTag))
	callID := sipgo.CallIDHeader(p.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sipgo.CSeqHeader{SeqNo: cseq, MethodName: method})
	return req, nil
}

// BuildAck builds an ACK. For a non-2xx final response branch must be the
// INVITE's branch; for a 2xx it must be a fresh one.
func BuildAck(p Party, toTag string, cseq uint32, branch string) (string, error) {
	req, err := buildInDialog(sipgo.ACK, p, toTag, cseq, branch)
	if err != nil {
		return "", err
	}
	return finish(req, nil), nil
}

// BuildBye builds a BYE for the established dialog.
func BuildBye(p Party, toTag string, cseq uint32, branch string) (string, error) {
	req, err := buildInDialog(sipgo.BYE, p, toTag, cseq, branch)
	if err != nil {
		return "", err
	}
	req.AppendHeader(sipgo.NewHeader("User-Agent", UserAgentHeader))
	return finish(req, nil), nil
}

// BuildRegister builds a REGISTER for the From URI at registrarURI.
// auth may be nil for the first attempt.
func BuildRegister(p Party, registrarURI string, cseq uint32, branch string, expires int, auth *AuthHeader) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := checkHeaderSafe(registrarURI, branch); err != nil {
		return "", err
	}
	if auth != nil {
		if err := checkHeaderSafe(auth.Name, auth.Value); err != nil {
			return "", err
		}
	}
	if expires < 0 {
		expires = 0
	}

	req, err := p.newRequest(sipgo.REGISTER, registrarURI, branch)
	if err != nil {
		return "", err
	}
	aor, err := parseURI(p.FromURI)
	if err != nil {
		return "", err
	}
	req.AppendHeader(toHeader(aor, ""))
	callID := sipgo.CallIDHeader(p.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sipgo.CSeqHeader{SeqNo: cseq, MethodName: sipgo.REGISTER})
	req.AppendHeader(p.contact())
	if auth != nil {
		req.AppendHeader(sipgo.NewHeader(auth.Name, auth.Value))
	}
	exp := sipgo.ExpiresHeader(expires)
	req.AppendHeader(&exp)
	req.AppendHeader(sipgo.NewHeader("User-Agent", UserAgentHeader))
	return finish(req, nil), nil
}

// BuildOptions builds an out-of-dialog OPTIONS ping toward serverHost. The
// Via carries the given local port so that the server's received and rport
// parameters describe the socket it was sent from.
func BuildOptions(serverHost string, localPort int, branch string) (string, error) {
	if err := checkHeaderSafe(serverHost, branch); err != nil {
		return "", err
	}

	host := serverHost
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	target := sipgo.Uri{User: "ping", Host: host}
	req := sipgo.NewRequest(sipgo.OPTIONS, target)
	req.AppendHeader(viaHeader("0.0.0.0", localPort, branch))
	maxForwards := sipgo.MaxForwardsHeader(MaxForwards)
	req.AppendHeader(&maxForwards)
	req.AppendHeader(&sipgo.FromHeader{
		Address: sipgo.Uri{User: contactUser, Host: host},
		Params:  sipgo.NewParams().Add("tag", GenerateTag()),
	})
	req.AppendHeader(toHeader(target, ""))
	callID := sipgo.CallIDHeader(fmt.Sprintf("%016x@%s", randomUint64(), contactUser))
	req.AppendHeader(&callID)
	req.AppendHeader(&sipgo.CSeqHeader{SeqNo: 1, MethodName: sipgo.OPTIONS})
	return finish(req, nil), nil
}
