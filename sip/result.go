package sip

import (
	"errors"
	"time"

	"github.com/opd-ai/phonecheck/av/rtp"
)

// CallResult is the outcome of one call attempt.
type CallResult struct {
	CallID string
	// Connected is true once a 2xx was received and acknowledged.
	Connected bool
	// AudioReceived is true when at least the configured minimum duration
	// of audio was collected.
	AudioReceived bool
	// Samples holds the collected audio as 16 kHz normalised floats.
	Samples []float32
	// SIPStatus is the final INVITE status, or zero when none arrived.
	SIPStatus int
	// Err describes why the call failed or was cut short.
	Err error

	States   []CallState
	RTP      rtp.ReceiverStats
	Duration time.Duration
}

// ErrCallCancelled marks a connected call that was cut short.
var ErrCallCancelled = errors.New("call cancelled")

// ErrorText returns the failure text reported to operators, or "".
//
// Rejections read "<status>: <description>", missing responses read
// "No response from server: <cause>" and cancelled calls read
// "Call cancelled".
func (r *CallResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	var e *Error
	if errors.As(r.Err, &e) {
		switch e.Kind {
		case KindCallRejected:
			return e.Err.Error()
		case KindCancelled:
			return "Call cancelled"
		case KindTransactionTimeout, KindTransport:
			if !r.Connected {
				return "No response from server: " + e.Err.Error()
			}
		}
	}
	return r.Err.Error()
}

// Kind returns the failure kind, if any.
func (r *CallResult) Kind() (Kind, bool) {
	if r.Err == nil {
		if r.Connected && !r.AudioReceived {
			return KindMediaStarvation, true
		}
		return 0, false
	}
	return KindOf(r.Err)
}

// Transient reports whether a fresh attempt may succeed: the call never
// connected and failed for a transient reason.
func (r *CallResult) Transient() bool {
	return !r.Connected && IsTransient(r.Err)
}

// Cancelled reports whether the call was cut short by cancellation.
func (r *CallResult) Cancelled() bool {
	k, ok := KindOf(r.Err)
	return ok && k == KindCancelled
}
