package sip

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the SIP layer.
var (
	// ErrHeaderInjection is returned when a display name, URI or tag
	// contains characters that would terminate a header line.
	ErrHeaderInjection = errors.New("header value contains CR or LF")

	// ErrInvalidURI is returned when a configured SIP URI does not parse.
	ErrInvalidURI = errors.New("invalid SIP URI")

	// ErrInvalidTransition is returned when a dialog action is not allowed
	// in the current call state.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrTransactionTimeout is returned when Timer B fires.
	ErrTransactionTimeout = errors.New("transaction timeout")

	// ErrNoChallenge is returned when a 401/407 carries no authenticate header.
	ErrNoChallenge = errors.New("no authenticate header in challenge response")

	// ErrBadChallenge is returned when a digest challenge cannot be parsed.
	ErrBadChallenge = errors.New("malformed digest challenge")

	// ErrUnsupportedAlgorithm is returned for digest algorithms other than
	// MD5 and MD5-sess.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

	// ErrNoPassword is returned when the server demands authentication and
	// no password is configured.
	ErrNoPassword = errors.New("authentication required but no password configured")

	// ErrMalformedResponse is returned when a response has no valid status line.
	ErrMalformedResponse = errors.New("malformed SIP response")

	// ErrNoMedia is returned when an SDP answer has no usable audio stream.
	ErrNoMedia = errors.New("no audio media in SDP")
)

// Kind classifies a call failure.
type Kind int

const (
	// KindConfiguration covers missing or malformed inputs.
	KindConfiguration Kind = iota
	// KindResolution covers DNS failure for the SIP or STUN server.
	KindResolution
	// KindTransport covers socket send and receive failures.
	KindTransport
	// KindTransactionTimeout means Timer B expired.
	KindTransactionTimeout
	// KindProtocol covers malformed responses.
	KindProtocol
	// KindAuth covers missing credentials and rejected retries.
	KindAuth
	// KindCallRejected is a final non-2xx response.
	KindCallRejected
	// KindMediaStarvation means the call connected but too little audio arrived.
	KindMediaStarvation
	// KindCancelled means the context was cancelled during the call.
	KindCancelled
)

// String returns a stable, log-friendly name for the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResolution:
		return "resolution"
	case KindTransport:
		return "transport"
	case KindTransactionTimeout:
		return "transaction_timeout"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindCallRejected:
		return "call_rejected"
	case KindMediaStarvation:
		return "media_starvation"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified call failure. Status is the SIP status code when a
// final response was involved, and zero otherwise.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

// newError wraps err with kind.
func newError(kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, Status: status, Err: err}
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sip %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("sip %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Category returns the status classification of a rejected call.
func (e *Error) Category() Category {
	return CategoryFromStatus(e.Status)
}

// Transient reports whether retrying the same call later may succeed.
//
// Transaction timeouts are transient. Rejections are transient when their
// status category is. Everything else, including auth failures, is not.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTransactionTimeout:
		return true
	case KindCallRejected:
		return e.Category().Transient()
	default:
		return false
	}
}

// KindOf extracts the Kind from err, if err wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a transient *Error.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient()
}
