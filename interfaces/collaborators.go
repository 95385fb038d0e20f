package interfaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/opd-ai/phonecheck/sip"
)

// Validation errors for CollaboratorConfig.
var (
	ErrInvalidTimeout       = errors.New("timeout must be positive")
	ErrInvalidRetryAttempts = errors.New("retry attempts must be non-negative")
	ErrMissingEndpoint      = errors.New("real transcriber requires an endpoint URL")
)

// ITranscriber turns 16 kHz mono float samples into text.
// Implementations may block for a long time and must honour ctx.
type ITranscriber interface {
	// Transcribe returns the recognised text, not yet lowercased
	Transcribe(ctx context.Context, samples []float32) (string, error)

	// Name identifies the backend in logs
	Name() string
}

// IPhraseMatcher decides whether a transcript contains the expected phrase.
type IPhraseMatcher interface {
	// Matches reports whether transcript satisfies expected
	Matches(expected, transcript string) bool
}

// IAlerter delivers an out-of-band alert. Implementations apply their own
// retry policy before returning an error.
type IAlerter interface {
	// SendAlert delivers message
	SendAlert(ctx context.Context, message string) error

	// IsSimulation returns true if this is a simulation implementation
	IsSimulation() bool
}

// ICallPlacer places one test call and reports what happened.
type ICallPlacer interface {
	// PlaceCall never fails; the result carries the outcome
	PlaceCall(ctx context.Context) *sip.CallResult
}

// CollaboratorConfig selects and tunes the transcriber and alerter.
type CollaboratorConfig struct {
	// UseSimulation selects in-memory implementations instead of network ones
	UseSimulation bool

	// TranscriberURL is the speech-to-text endpoint for the real transcriber
	TranscriberURL string

	// TranscriberTimeout bounds one transcription request in milliseconds
	TranscriberTimeout int

	// AlertRetryAttempts is the number of delivery attempts per alert
	AlertRetryAttempts int

	// SimulateAlerts keeps the real transcriber but records alerts in
	// memory (dry run, or no SMS credentials)
	SimulateAlerts bool

	// SMS gateway credentials and the number that receives alerts
	SMSAPIUser     string
	SMSAPIPassword string
	SMSDID         string
	AlertPhone     string
}

// Validate checks the configuration bounds.
func (c *CollaboratorConfig) Validate() error {
	if c.TranscriberTimeout <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTimeout, c.TranscriberTimeout)
	}
	if c.AlertRetryAttempts < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRetryAttempts, c.AlertRetryAttempts)
	}
	if !c.UseSimulation && c.TranscriberURL == "" {
		return ErrMissingEndpoint
	}
	return nil
}
