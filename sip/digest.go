package sip

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// DigestAlgorithm is the hash variant requested by a challenge.
type DigestAlgorithm int

// Supported digest algorithms.
const (
	AlgorithmMD5 DigestAlgorithm = iota
	AlgorithmMD5Sess
)

// String returns the token used in the Authorization header.
func (a DigestAlgorithm) String() string {
	if a == AlgorithmMD5Sess {
		return "MD5-sess"
	}
	return "MD5"
}

// initialNonceCount is the nc value for the first use of a nonce.
const initialNonceCount = "00000001"

// Challenge is a parsed WWW-Authenticate or Proxy-Authenticate header.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	QOP       string
	Algorithm DigestAlgorithm
	Stale     bool
}

// ParseChallenge parses a Digest challenge header value.
//
// Parameters are comma separated key=value pairs, optionally quoted. An
// unterminated quote runs to the end of the input. realm and nonce are
// required and the algorithm, when present, must be MD5 or MD5-sess.
func ParseChallenge(header string) (*Challenge, error) {
	rest := strings.TrimSpace(header)
	if len(rest) >= 7 && strings.EqualFold(rest[:7], "Digest ") {
		rest = rest[7:]
	}
	params := parseAuthParams(rest)

	realm, ok := params["realm"]
	if !ok {
		return nil, fmt.Errorf("%w: missing realm", ErrBadChallenge)
	}
	nonce, ok := params["nonce"]
	if !ok {
		return nil, fmt.Errorf("%w: missing nonce", ErrBadChallenge)
	}

	c := &Challenge{
		Realm:  realm,
		Nonce:  nonce,
		Opaque: params["opaque"],
		QOP:    params["qop"],
		Stale:  strings.EqualFold(params["stale"], "true"),
	}

	switch alg := params["algorithm"]; {
	case alg == "" || strings.EqualFold(alg, "MD5"):
		c.Algorithm = AlgorithmMD5
	case strings.EqualFold(alg, "MD5-sess"):
		c.Algorithm = AlgorithmMD5Sess
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return c, nil
}

// parseAuthParams splits key=value pairs. Keys are lowercased.
func parseAuthParams(s string) map[string]string {
	params := make(map[string]string)
	rest := s
	for {
		rest = strings.TrimLeft(rest, " \t\r\n,")
		if rest == "" {
			return params
		}
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return params
		}
		key := strings.ToLower(strings.TrimSpace(rest[:eq]))
		rest = strings.TrimLeft(rest[eq+1:], " \t")

		var value string
		if strings.HasPrefix(rest, "\"") {
			rest = rest[1:]
			if end := strings.IndexByte(rest, '"'); end >= 0 {
				value, rest = rest[:end], rest[end+1:]
			} else {
				value, rest = rest, ""
			}
		} else {
			end := strings.IndexAny(rest, ", \t\r\n")
			if end < 0 {
				end = len(rest)
			}
			value, rest = rest[:end], rest[end:]
		}
		params[key] = value
	}
}

// selectQOP picks the quality of protection to answer with. "auth" is
// preferred when offered; an offer with neither token yields "".
func selectQOP(offered string) string {
	var hasAuth, hasAuthInt bool
	for _, tok := range strings.Split(offered, ",") {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "auth":
			hasAuth = true
		case "auth-int":
			hasAuthInt = true
		}
	}
	switch {
	case hasAuth:
		return "auth"
	case hasAuthInt:
		return "auth-int"
	default:
		return ""
	}
}

// MD5Hex returns the lowercase hex MD5 of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DigestResponse is a computed set of credentials.
type DigestResponse struct {
	Username  string
	Realm     string
	Nonce     string
	URI       string
	Response  string
	Algorithm DigestAlgorithm
	QOP       string
	CNonce    string
	NC        string
	Opaque    string
}

// ComputeDigest answers a challenge for method and uri. A fresh cnonce is
// drawn when the challenge offers a qop.
func ComputeDigest(c *Challenge, username, password, method, uri string) *DigestResponse {
	var cnonce string
	if selectQOP(c.QOP) != "" {
		var b [8]byte
		_, _ = rand.Read(b[:])
		cnonce = hex.EncodeToString(b[:])
	}
	return computeDigest(c, username, password, method, uri, cnonce)
}

// computeDigest is ComputeDigest with a caller-chosen cnonce.
//
// MD5-sess without a qop hashes HA1 with an empty cnonce.
func computeDigest(c *Challenge, username, password, method, uri, cnonce string) *DigestResponse {
	qop := selectQOP(c.QOP)
	if qop == "" {
		cnonce = ""
	}

	ha1 := MD5Hex(username + ":" + c.Realm + ":" + password)
	if c.Algorithm == AlgorithmMD5Sess {
		ha1 = MD5Hex(ha1 + ":" + c.Nonce + ":" + cnonce)
	}
	ha2 := MD5Hex(method + ":" + uri)

	r := &DigestResponse{
		Username:  username,
		Realm:     c.Realm,
		Nonce:     c.Nonce,
		URI:       uri,
		Algorithm: c.Algorithm,
		Opaque:    c.Opaque,
	}
	if qop != "" {
		r.QOP = qop
		r.CNonce = cnonce
		r.NC = initialNonceCount
		r.Response = MD5Hex(strings.Join([]string{ha1, c.Nonce, r.NC, cnonce, qop, ha2}, ":"))
	} else {
		r.Response = MD5Hex(ha1 + ":" + c.Nonce + ":" + ha2)
	}
	return r
}

// String renders the Authorization header value.
func (r *DigestResponse) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=%s`,
		r.Username, r.Realm, r.Nonce, r.URI, r.Response, r.Algorithm)
	if r.QOP != "" {
		fmt.Fprintf(&sb, `, qop=%s, cnonce="%s", nc=%s`, r.QOP, r.CNonce, r.NC)
	}
	if r.Opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, r.Opaque)
	}
	return sb.String()
}

// Header wraps the response as a request header, using Proxy-Authorization
// when the challenge came from a proxy.
func (r *DigestResponse) Header(proxy bool) AuthHeader {
	name := "Authorization"
	if proxy {
		name = "Proxy-Authorization"
	}
	return AuthHeader{Name: name, Value: r.String()}
}
