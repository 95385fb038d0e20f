package sip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okResponse = "SIP/2.0 200 OK\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.5:5060;branch=z9hG4bKabc;received=203.0.113.7;rport=40000\r\n" +
	"From: \"PhoneCheck\" <sip:alice@pbx.example>;tag=1111\r\n" +
	"To: <sip:100@pbx.example>;tag=as58f4\r\n" +
	"Call-ID: deadbeef@10.0.0.5\r\n" +
	"CSeq: 2 INVITE\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"v=0\n"

func TestParseStatusCode(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want int
		ok   bool
	}{
		{"ok", "SIP/2.0 200 OK\r\n\r\n", 200, true},
		{"ringing", "SIP/2.0 180 Ringing\r\n", 180, true},
		{"busy no reason", "SIP/2.0 486\r\n", 486, true},
		{"request", "INVITE sip:100@pbx SIP/2.0\r\n", 0, false},
		{"empty", "", 0, false},
		{"below range", "SIP/2.0 099 Odd\r\n", 0, false},
		{"above range", "SIP/2.0 700 Odd\r\n", 0, false},
		{"not a number", "SIP/2.0 abc Odd\r\n", 0, false},
		{"http status line", "HTTP/1.1 200 OK\r\n", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStatusCode(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractors(t *testing.T) {
	tag, ok := ExtractToTag(okResponse)
	require.True(t, ok)
	assert.Equal(t, "as58f4", tag)

	branch, ok := ExtractViaBranch(okResponse)
	require.True(t, ok)
	assert.Equal(t, "z9hG4bKabc", branch)

	n, method, ok := ExtractCSeq(okResponse)
	require.True(t, ok)
	assert.Equal(t, uint32(2), n)
	assert.Equal(t, "INVITE", method)

	addr, ok := ExtractViaReceived(okResponse)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7:40000", addr.String())

	assert.Equal(t, "v=0\n", Body(okResponse))
	assert.True(t, IsResponse(okResponse))
}

func TestExtractorsCompactAndCase(t *testing.T) {
	msg := "SIP/2.0 180 Ringing\r\n" +
		"v: SIP/2.0/UDP 10.0.0.5:5060;BRANCH=z9hG4bKxyz\r\n" +
		"t: <sip:100@pbx>;TAG=abc>\r\n" +
		"cseq: 7 invite\r\n" +
		"\r\n"

	branch, ok := ExtractViaBranch(msg)
	require.True(t, ok)
	assert.Equal(t, "z9hG4bKxyz", branch)

	tag, ok := ExtractToTag(msg)
	require.True(t, ok)
	assert.Equal(t, "abc", tag)

	n, method, ok := ExtractCSeq(msg)
	require.True(t, ok)
	assert.Equal(t, uint32(7), n)
	assert.Equal(t, "INVITE", method)
}

func TestExtractorsMissing(t *testing.T) {
	msg := "SIP/2.0 100 Trying\r\nTo: <sip:100@pbx>\r\nCSeq: x INVITE\r\n\r\n"

	_, ok := ExtractToTag(msg)
	assert.False(t, ok)
	_, ok = ExtractViaBranch(msg)
	assert.False(t, ok)
	_, _, ok = ExtractCSeq(msg)
	assert.False(t, ok)
	_, ok = ExtractViaReceived(msg)
	assert.False(t, ok)
	_, _, ok = ExtractAuthenticateHeader(msg)
	assert.False(t, ok)
}

func TestHeaderValueIgnoresBody(t *testing.T) {
	msg := "SIP/2.0 200 OK\r\nCall-ID: a@b\r\n\r\nTo: <sip:x>;tag=body\r\n"
	_, ok := ExtractToTag(msg)
	assert.False(t, ok, "headers after the blank line belong to the body")
}

func TestExtractAuthenticateHeader(t *testing.T) {
	www := "SIP/2.0 401 Unauthorized\r\nWWW-Authenticate: Digest realm=\"pbx\", nonce=\"n\"\r\n\r\n"
	v, proxy, ok := ExtractAuthenticateHeader(www)
	require.True(t, ok)
	assert.False(t, proxy)
	assert.Equal(t, `Digest realm="pbx", nonce="n"`, v)

	prx := "SIP/2.0 407 Proxy Authentication Required\r\nproxy-authenticate: Digest realm=\"p\", nonce=\"m\"\r\n\r\n"
	_, proxy, ok = ExtractAuthenticateHeader(prx)
	require.True(t, ok)
	assert.True(t, proxy)
}

func TestExtractViaReceivedRejectsBadPort(t *testing.T) {
	msg := "SIP/2.0 200 OK\r\nVia: SIP/2.0/UDP 0.0.0.0:1;received=1.2.3.4;rport=70000\r\n\r\n"
	_, ok := ExtractViaReceived(msg)
	assert.False(t, ok)

	msg = "SIP/2.0 200 OK\r\nVia: SIP/2.0/UDP 0.0.0.0:1;rport=5000;received=198.51.100.2\r\n\r\n"
	addr, ok := ExtractViaReceived(msg)
	require.True(t, ok)
	assert.True(t, addr.IP.Equal(net.ParseIP("198.51.100.2")))
	assert.Equal(t, 5000, addr.Port)
}

func TestParamValueNonASCII(t *testing.T) {
	// Multi-byte runes before the key must not shift offsets.
	v, ok := paramValue("<sip:ünïcødé@pbx>;tag=ok", "TAG")
	require.True(t, ok)
	assert.Equal(t, "ok", v)
}
