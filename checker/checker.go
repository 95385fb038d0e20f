// Package checker runs one end-to-end phone check: place the call, verify
// that it connected and produced audio, transcribe the audio, look for the
// expected greeting and raise an alert when any step fails.
//
// Alerts are de-duplicated: only the first failure after a passing check
// (or the first check ever) is sent; later consecutive failures are only
// logged.
package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/phonecheck/av/audio"
	"github.com/opd-ai/phonecheck/health"
	"github.com/opd-ai/phonecheck/interfaces"
	"github.com/opd-ai/phonecheck/redact"
	"github.com/opd-ai/phonecheck/sip"
	"github.com/sirupsen/logrus"
)

// DefaultExpectedPhrase is used when Config.ExpectedPhrase is empty.
const DefaultExpectedPhrase = "thank you for calling"

// Alert message prefixes.
const (
	alertPrefix = "PhoneCheck ALERT: "
	errorPrefix = "PhoneCheck ERROR: "
)

// Errors returned by New.
var (
	ErrMissingCollaborator = errors.New("checker requires a placer, transcriber, matcher and alerter")
)

// PlacerFunc builds a fresh call placer for one attempt. Returning an
// error aborts the check with a "PhoneCheck ERROR" alert.
type PlacerFunc func(ctx context.Context) (interfaces.ICallPlacer, error)

// Config tunes a Checker.
type Config struct {
	ExpectedPhrase string
	// SaveAudioPath writes the captured audio as WAV when set.
	SaveAudioPath string
	// Target is only used for logging and is redacted.
	Target string
	// RetryDelay is the pause before the single retry of a transient
	// failure.
	RetryDelay time.Duration
	// Normalize boosts quiet captures before transcription.
	Normalize bool
}

// Status is the verdict of one check.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	// StatusCancelled means the check was interrupted and no verdict was
	// recorded.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome describes one check.
type Outcome struct {
	RunID      string
	Status     Status
	Attempts   int
	Call       *sip.CallResult
	Level      audio.Level
	Transcript string
	// Alert is the alert text for a failed check.
	Alert string
	// AlertSent is false for failures whose alert was suppressed or could
	// not be delivered.
	AlertSent bool
	Duration  time.Duration
}

// Checker runs checks. It is not safe to run two checks concurrently; the
// scheduler guarantees one at a time.
type Checker struct {
	config      Config
	newPlacer   PlacerFunc
	transcriber interfaces.ITranscriber
	matcher     interfaces.IPhraseMatcher
	alerter     interfaces.IAlerter
	metrics     *health.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a Checker. metrics may be nil, in which case a private
// instance tracks alert de-duplication.
//
// Parameters:
//   - config: Phrase and audio options
//   - newPlacer: Builds a call placer per attempt
//   - transcriber: Speech-to-text backend, called after the call has ended
//   - matcher: Compares the lowercased transcript with the expected phrase
//   - alerter: Delivers failure alerts
//   - metrics: Shared health counters, or nil
//
// Returns:
//   - *Checker: The checker
//   - error: ErrMissingCollaborator when a dependency is nil
func New(config Config, newPlacer PlacerFunc, transcriber interfaces.ITranscriber,
	matcher interfaces.IPhraseMatcher, alerter interfaces.IAlerter, metrics *health.Metrics,
) (*Checker, error) {
	if newPlacer == nil || transcriber == nil || matcher == nil || alerter == nil {
		return nil, ErrMissingCollaborator
	}
	if config.ExpectedPhrase == "" {
		config.ExpectedPhrase = DefaultExpectedPhrase
	}
	config.ExpectedPhrase = strings.ToLower(config.ExpectedPhrase)
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	if metrics == nil {
		metrics = health.NewMetrics()
	}

	return &Checker{
		config:      config,
		newPlacer:   newPlacer,
		transcriber: transcriber,
		matcher:     matcher,
		alerter:     alerter,
		metrics:     metrics,
		sleep:       sleepContext,
	}, nil
}

// Run performs one check and returns its outcome. Cancelling ctx stops the
// call (a connected call is still hung up) and yields StatusCancelled.
func (c *Checker) Run(ctx context.Context) *Outcome {
	started := time.Now()
	out := &Outcome{RunID: uuid.NewString()}
	log := logrus.WithFields(logrus.Fields{
		"function": "Checker.Run",
		"run_id":   out.RunID,
		"target":   redact.PhoneNumber(c.config.Target),
	})
	log.Info("Starting phone check")

	defer func() {
		out.Duration = time.Since(started)
		log.WithFields(logrus.Fields{
			"status":   out.Status.String(),
			"attempts": out.Attempts,
			"elapsed":  out.Duration.String(),
		}).Info("Phone check finished")
	}()

	res, err := c.placeWithRetry(ctx, out)
	if err != nil {
		if ctx.Err() != nil {
			out.Status = StatusCancelled
			return out
		}
		c.fail(ctx, out, errorPrefix+err.Error())
		return out
	}
	out.Call = res

	if res.Cancelled() || ctx.Err() != nil {
		log.WithField("connected", res.Connected).Warn("Check cancelled, no verdict recorded")
		out.Status = StatusCancelled
		return out
	}

	if !c.validate(ctx, out, res) {
		return out
	}

	out.Level = audio.MeasureLevel(res.Samples)
	log.WithFields(logrus.Fields{
		"samples": out.Level.Samples,
		"peak_db": out.Level.PeakDB,
		"rms_db":  out.Level.RMSDB,
	}).Info("Audio captured")

	if c.config.SaveAudioPath != "" {
		c.saveAudio(res.Samples)
	}

	transcript, err := c.transcribe(ctx, res.Samples)
	if err != nil {
		if ctx.Err() != nil {
			out.Status = StatusCancelled
			return out
		}
		c.fail(ctx, out, fmt.Sprintf("%sSpeech recognition failed - %v", alertPrefix, err))
		return out
	}
	out.Transcript = transcript
	log.WithField("transcript", transcript).Info("Transcribed")

	if !c.matcher.Matches(c.config.ExpectedPhrase, transcript) {
		log.WithField("expected", c.config.ExpectedPhrase).Warn("Expected phrase not detected")
		c.fail(ctx, out, fmt.Sprintf("%sExpected greeting not detected. Heard: %q", alertPrefix, transcript))
		return out
	}

	log.Info("Expected phrase detected, PBX is healthy")
	out.Status = StatusPassed
	c.metrics.RecordSuccess()
	return out
}

// placeWithRetry places the call, retrying once with a fresh placer when
// the first attempt got no answer at all.
func (c *Checker) placeWithRetry(ctx context.Context, out *Outcome) (*sip.CallResult, error) {
	res, err := c.attempt(ctx, out)
	if err != nil || !noResponse(res) {
		return res, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Checker.placeWithRetry",
		"run_id":   out.RunID,
		"error":    res.ErrorText(),
		"delay":    c.config.RetryDelay.String(),
	}).Warn("First attempt failed, retrying with a fresh connection")

	if err := c.sleep(ctx, c.config.RetryDelay); err != nil {
		return res, nil
	}
	return c.attempt(ctx, out)
}

// noResponse reports whether the call never connected because the server
// did not answer or the socket failed. Rejections such as 486 are not
// retried within the same check.
func noResponse(res *sip.CallResult) bool {
	if res.Connected {
		return false
	}
	kind, ok := res.Kind()
	return ok && (kind == sip.KindTransactionTimeout || kind == sip.KindTransport)
}

func (c *Checker) attempt(ctx context.Context, out *Outcome) (*sip.CallResult, error) {
	placer, err := c.newPlacer(ctx)
	if err != nil {
		return nil, err
	}
	out.Attempts++
	res := placer.PlaceCall(ctx)
	c.metrics.ObserveCall(res)
	return res, nil
}

func (c *Checker) validate(ctx context.Context, out *Outcome, res *sip.CallResult) bool {
	log := logrus.WithFields(logrus.Fields{
		"function":   "Checker.validate",
		"run_id":     out.RunID,
		"call_id":    res.CallID,
		"sip_status": res.SIPStatus,
	})

	if !res.Connected {
		text := res.ErrorText()
		if text == "" {
			text = "Unknown error"
		}
		log.WithField("error", text).Error("Call did not connect")
		c.fail(ctx, out, alertPrefix+"Call did not connect - "+text)
		return false
	}
	if !res.AudioReceived {
		log.Warn("Call connected but no audio received")
		c.fail(ctx, out, alertPrefix+"Call connected but no audio received")
		return false
	}
	return true
}

func (c *Checker) transcribe(ctx context.Context, samples []float32) (string, error) {
	input := samples
	if c.config.Normalize {
		input = make([]float32, len(samples))
		copy(input, samples)
		audio.NewNormalizer().Apply(input)
	}
	text, err := c.transcriber.Transcribe(ctx, input)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(text)), nil
}

func (c *Checker) saveAudio(samples []float32) {
	log := logrus.WithFields(logrus.Fields{
		"function": "Checker.saveAudio",
		"path":     c.config.SaveAudioPath,
	})
	if err := audio.SaveWAV(c.config.SaveAudioPath, samples, audio.RecognitionRate); err != nil {
		log.WithField("error", err.Error()).Warn("Failed to save audio")
		return
	}
	log.Info("Saved audio")
}

// fail records a failed check and alerts unless the previous check had
// already failed.
func (c *Checker) fail(ctx context.Context, out *Outcome, message string) {
	out.Status = StatusFailed
	out.Alert = message

	wasHealthy := c.metrics.LastCheckOK()
	c.metrics.RecordFailure()

	log := logrus.WithFields(logrus.Fields{
		"function": "Checker.fail",
		"run_id":   out.RunID,
		"alert":    message,
	})
	if !wasHealthy {
		log.Warn("Consecutive failure (alert suppressed)")
		return
	}

	if err := c.alerter.SendAlert(ctx, message); err != nil {
		log.WithField("error", err.Error()).Error("Failed to send alert")
		return
	}
	out.AlertSent = true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
