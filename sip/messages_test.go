package sip

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"testing"

	sipgo "github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// headerNames returns the header names of msg in wire order.
func headerNames(msg string) []string {
	var names []string
	for _, line := range headerLines(msg) {
		if n, _, ok := splitHeader(line); ok {
			names = append(names, n)
		}
	}
	return names
}

func assertVia(t *testing.T, msg, sentBy, branch string) {
	t.Helper()
	v, ok := HeaderValue(msg, "Via")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(v, "SIP/2.0/UDP "+sentBy+";"), v)
	got, ok := ExtractViaBranch(msg)
	require.True(t, ok)
	assert.Equal(t, branch, got)
	assert.Contains(t, strings.Split(v, ";"), "rport")
}

func testParty() Party {
	return Party{
		DisplayName: DefaultDisplayName,
		FromURI:     "sip:alice@pbx.example",
		TargetURI:   "sip:100@pbx.example",
		CallID:      "0123456789abcdef@10.0.0.5",
		FromTag:     "a1b2c3d4",
		Local:       &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 5062},
	}
}

func testOffer() Offer {
	return Offer{Addr: &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 40000}, SessionID: 1, SessionVersion: 1}
}

func TestGenerators(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}@host$`), GenerateCallID("host"))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), GenerateTag())
	assert.Regexp(t, regexp.MustCompile(`^z9hG4bK[0-9a-f]{16}$`), GenerateBranch())
	assert.NotEqual(t, GenerateBranch(), GenerateBranch())
}

func TestBuildInvite(t *testing.T) {
	msg, err := BuildInvite(testParty(), 1, "z9hG4bK1", testOffer())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(msg, "INVITE sip:100@pbx.example SIP/2.0\r\n"))
	assertVia(t, msg, "10.0.0.5:5062", "z9hG4bK1")
	assert.Contains(t, msg, "From: \"PhoneCheck\" <sip:alice@pbx.example>;tag=a1b2c3d4\r\n")
	assert.Contains(t, msg, "To: <sip:100@pbx.example>\r\n")
	assert.Contains(t, msg, "CSeq: 1 INVITE\r\n")
	assert.Contains(t, msg, "Contact: <sip:phonecheck@10.0.0.5:5062>\r\n")
	assert.Contains(t, msg, "Max-Forwards: 70\r\n")
	assert.Contains(t, msg, "User-Agent: phonecheck/0.1.0\r\n")

	body := Body(msg)
	cl, ok := HeaderValue(msg, "Content-Length")
	require.True(t, ok)
	assert.Equal(t, strconv.Itoa(len(body)), cl)
	assert.Contains(t, body, "m=audio 40000 RTP/AVP 0 8")
}

func TestBuildInviteWithAuthHeaderOrder(t *testing.T) {
	auth := AuthHeader{Name: "Proxy-Authorization", Value: `Digest username="alice"`}
	msg, err := BuildInviteWithAuth(testParty(), 2, "z9hG4bK2", testOffer(), auth)
	require.NoError(t, err)

	contact := strings.Index(msg, "Contact:")
	authIdx := strings.Index(msg, "Proxy-Authorization: Digest")
	ctype := strings.Index(msg, "Content-Type:")
	assert.True(t, contact < authIdx && authIdx < ctype, "credentials belong between Contact and Content-Type")
	assert.Contains(t, msg, "CSeq: 2 INVITE\r\n")
}

func TestBuildAckAndBye(t *testing.T) {
	ack, err := BuildAck(testParty(), "remote", 1, "z9hG4bK1")
	require.NoError(t, err)
	assert.Contains(t, ack, "To: <sip:100@pbx.example>;tag=remote\r\n")
	assert.Contains(t, ack, "CSeq: 1 ACK\r\n")
	assert.Equal(t, "", Body(ack))

	bye, err := BuildBye(testParty(), "remote", 3, "z9hG4bK9")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(bye, "BYE sip:100@pbx.example SIP/2.0\r\n"))
	assert.Contains(t, bye, "CSeq: 3 BYE\r\n")
	assert.Contains(t, bye, "Content-Length: 0\r\n\r\n")
}

func TestBuildRegister(t *testing.T) {
	p := testParty()
	msg, err := BuildRegister(p, "sip:pbx.example", 1, "z9hG4bKr", 3600, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "REGISTER sip:pbx.example SIP/2.0\r\n"))
	assert.Contains(t, msg, "To: <sip:alice@pbx.example>\r\n")
	assert.Contains(t, msg, "Expires: 3600\r\n")
	assert.NotContains(t, msg, "Authorization")
}

func TestBuildOptions(t *testing.T) {
	msg, err := BuildOptions("192.0.2.10", 40000, "z9hG4bKo")
	require.NoError(t, err)
	assertVia(t, msg, "0.0.0.0:40000", "z9hG4bKo")
	assert.True(t, strings.HasPrefix(msg, "OPTIONS sip:ping@192.0.2.10 SIP/2.0\r\n"))
	assert.Contains(t, msg, "CSeq: 1 OPTIONS\r\n")
	assert.Contains(t, msg, "Content-Length: 0\r\n\r\n")
}

func TestBuildOptionsIPv6Server(t *testing.T) {
	msg, err := BuildOptions("2001:db8::1", 40000, "z9hG4bKo")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "OPTIONS sip:ping@[2001:db8::1] SIP/2.0\r\n"))
}

func TestBuildInviteHeaderOrder(t *testing.T) {
	msg, err := BuildInvite(testParty(), 1, "z9hG4bK1", testOffer())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Via", "Max-Forwards", "From", "To", "Call-ID", "CSeq", "Contact",
		"Content-Type", "Allow", "User-Agent", "Content-Length",
	}, headerNames(msg))

	cseq, method, ok := ExtractCSeq(msg)
	require.True(t, ok)
	assert.Equal(t, uint32(1), cseq)
	assert.Equal(t, "INVITE", method)
	allow, ok := HeaderValue(msg, "Allow")
	require.True(t, ok)
	assert.Equal(t, "INVITE, ACK, CANCEL, BYE", allow)
}

func TestBuiltRequestsParse(t *testing.T) {
	p := testParty()
	invite, err := BuildInvite(p, 4, "z9hG4bK4", testOffer())
	require.NoError(t, err)
	bye, err := BuildBye(p, "remote", 5, "z9hG4bK5")
	require.NoError(t, err)
	register, err := BuildRegister(p, "sip:pbx.example", 1, "z9hG4bKr", 60, nil)
	require.NoError(t, err)

	for _, raw := range []string{invite, bye, register} {
		msg, err := sipgo.ParseMessage([]byte(raw))
		require.NoError(t, err)
		req, ok := msg.(*sipgo.Request)
		require.True(t, ok)
		assert.Equal(t, p.CallID, req.CallID().Value())
		tag, ok := req.From().Params.Get("tag")
		assert.True(t, ok)
		assert.Equal(t, p.FromTag, tag)
		assert.Equal(t, 5062, req.Via().Port)
	}
}

func TestBuildersRejectInvalidURI(t *testing.T) {
	p := testParty()
	p.TargetURI = "x"
	_, err := BuildInvite(p, 1, "z9hG4bK1", testOffer())
	assert.True(t, errors.Is(err, ErrInvalidURI))

	p = testParty()
	p.FromURI = ""
	_, err = BuildBye(p, "tag", 2, "z9hG4bK2")
	assert.True(t, errors.Is(err, ErrInvalidURI))
}

func TestBuildRegisterWithAuth(t *testing.T) {
	auth := &AuthHeader{Name: "Authorization", Value: `Digest username="alice"`}
	msg, err := BuildRegister(testParty(), "sip:pbx.example", 2, "z9hG4bKr2", 3600, auth)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Via", "Max-Forwards", "From", "To", "Call-ID", "CSeq", "Contact",
		"Authorization", "Expires", "User-Agent", "Content-Length",
	}, headerNames(msg))
	assert.Contains(t, msg, "CSeq: 2 REGISTER\r\n")
}

func TestBuildersRejectHeaderInjection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Party)
	}{
		{"display name", func(p *Party) { p.DisplayName = "Evil\r\nX-Injected: 1" }},
		{"target", func(p *Party) { p.TargetURI = "sip:100@pbx\nVia: x" }},
		{"call id", func(p *Party) { p.CallID = "a\rb" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParty()
			tt.mutate(&p)
			_, err := BuildInvite(p, 1, "z9hG4bK1", testOffer())
			assert.True(t, errors.Is(err, ErrHeaderInjection))
			_, err = BuildBye(p, "tag", 2, "z9hG4bK1")
			assert.True(t, errors.Is(err, ErrHeaderInjection))
		})
	}

	_, err := BuildAck(testParty(), "tag\r\nX: y", 1, "z9hG4bK1")
	assert.True(t, errors.Is(err, ErrHeaderInjection))
}
