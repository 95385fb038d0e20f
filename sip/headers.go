package sip

import (
	"net"
	"strconv"
	"strings"
)

// Compact header forms from RFC 3261 section 7.3.3 that the extractors accept.
var compactNames = map[string]string{
	"to":             "t",
	"via":            "v",
	"from":           "f",
	"call-id":        "i",
	"contact":        "m",
	"content-length": "l",
	"content-type":   "c",
}

// headerLines yields the header lines of msg, stopping at the blank line
// that separates headers from the body. The start line is skipped.
func headerLines(msg string) []string {
	head := msg
	if i := strings.Index(head, "\r\n\r\n"); i >= 0 {
		head = head[:i]
	} else if i := strings.Index(head, "\n\n"); i >= 0 {
		head = head[:i]
	}
	lines := strings.Split(head, "\n")
	if len(lines) <= 1 {
		return nil
	}
	out := lines[1:]
	for i, l := range out {
		out[i] = strings.TrimRight(l, "\r")
	}
	return out
}

// splitHeader splits "Name: value" into its parts.
func splitHeader(line string) (name, value string, ok bool) {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:colon]), strings.TrimSpace(line[colon+1:]), true
}

// matchesName reports whether a header name matches want, in long or
// compact form, ignoring case.
func matchesName(name, want string) bool {
	if strings.EqualFold(name, want) {
		return true
	}
	short, ok := compactNames[strings.ToLower(want)]
	return ok && strings.EqualFold(name, short)
}

// HeaderValue returns the value of the first header called name.
func HeaderValue(msg, name string) (string, bool) {
	for _, line := range headerLines(msg) {
		n, v, ok := splitHeader(line)
		if ok && matchesName(n, name) {
			return v, true
		}
	}
	return "", false
}

// Body returns the message body, or "" when there is none.
func Body(msg string) string {
	if i := strings.Index(msg, "\r\n\r\n"); i >= 0 {
		return msg[i+4:]
	}
	if i := strings.Index(msg, "\n\n"); i >= 0 {
		return msg[i+2:]
	}
	return ""
}

// ParseStatusCode returns the status code of a response. Requests and
// malformed status lines yield false.
func ParseStatusCode(msg string) (int, bool) {
	first := msg
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	fields := strings.Fields(first)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "SIP/") {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 699 {
		return 0, false
	}
	return code, true
}

// IsResponse reports whether msg starts with a SIP status line.
func IsResponse(msg string) bool {
	_, ok := ParseStatusCode(msg)
	return ok
}

// paramValue finds key= inside a header value, ignoring case, and returns
// the value up to the first delimiter.
func paramValue(value, key string) (string, bool) {
	idx := indexFold(value, key+"=")
	if idx < 0 {
		return "", false
	}
	rest := value[idx+len(key)+1:]
	end := strings.IndexAny(rest, ";,>\r\n")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end]), true
}

// indexFold is strings.Index with ASCII case folding. It works on bytes so
// that offsets stay valid for arbitrary input.
func indexFold(s, sub string) int {
	n := len(sub)
	for i := 0; i+n <= len(s); i++ {
		match := true
		for j := 0; j < n; j++ {
			if lowerASCII(s[i+j]) != lowerASCII(sub[j]) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// ExtractToTag returns the tag parameter of the To header.
func ExtractToTag(msg string) (string, bool) {
	v, ok := HeaderValue(msg, "To")
	if !ok {
		return "", false
	}
	return paramValue(v, "tag")
}

// ExtractViaBranch returns the branch parameter of the topmost Via header.
func ExtractViaBranch(msg string) (string, bool) {
	v, ok := HeaderValue(msg, "Via")
	if !ok {
		return "", false
	}
	return paramValue(v, "branch")
}

// ExtractCSeq returns the sequence number and method of the CSeq header.
func ExtractCSeq(msg string) (uint32, string, bool) {
	v, ok := HeaderValue(msg, "CSeq")
	if !ok {
		return 0, "", false
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", false
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(n), strings.ToUpper(fields[1]), true
}

// ExtractAuthenticateHeader returns the digest challenge of a 401 or 407
// response. proxy is true when it came from Proxy-Authenticate.
func ExtractAuthenticateHeader(msg string) (value string, proxy bool, ok bool) {
	for _, line := range headerLines(msg) {
		n, v, ok := splitHeader(line)
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(n, "WWW-Authenticate"):
			return v, false, true
		case strings.EqualFold(n, "Proxy-Authenticate"):
			return v, true, true
		}
	}
	return "", false, false
}

// ExtractViaReceived returns the address the server saw the request come
// from, taken from the received and rport parameters of the topmost Via.
func ExtractViaReceived(msg string) (*net.UDPAddr, bool) {
	v, ok := HeaderValue(msg, "Via")
	if !ok {
		return nil, false
	}
	var (
		ip   net.IP
		port int
	)
	for _, part := range strings.Split(v, ";") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.ToLower(k) {
		case "received":
			ip = net.ParseIP(strings.TrimSpace(val))
		case "rport":
			p, err := strconv.Atoi(strings.TrimSpace(val))
			if err == nil && p > 0 && p < 65536 {
				port = p
			}
		}
	}
	if ip == nil || port == 0 {
		return nil, false
	}
	return &net.UDPAddr{IP: ip, Port: port}, true
}
