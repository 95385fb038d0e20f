package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opd-ai/phonecheck/redact"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the voip.ms REST API.
const DefaultEndpoint = "https://voip.ms/api/v1/rest.php"

// queuedAlertInterval spaces replayed alerts.
const queuedAlertInterval = 500 * time.Millisecond

// Errors returned by SMSAlerter.
var (
	ErrCircuitOpen   = errors.New("circuit breaker open, alert queued")
	ErrNotConfigured = errors.New("sms alerter is not configured")
)

// APIError is a non-success reply from the SMS API.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "SMS API error: " + e.Status
	}
	return "SMS API error: " + e.Message
}

// Permanent reports whether retrying cannot help, such as bad credentials
// or an invalid number.
func (e *APIError) Permanent() bool {
	text := strings.ToLower(e.Status + " " + e.Message)
	for _, marker := range []string{
		"invalid api credentials", "invalid_credentials", "authentication",
		"invalid did", "invalid_did", "invalid destination", "invalid_dst",
	} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsPermanent reports whether err is an APIError that will not go away on
// retry.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Permanent()
}

// SMSConfig holds voip.ms credentials and the alert destination.
type SMSConfig struct {
	APIUser     string
	APIPassword string
	// DID is the sending number
	DID string
	// Destination is the phone number that receives alerts
	Destination string
	// Endpoint defaults to DefaultEndpoint
	Endpoint string
	// Attempts defaults to MaxAttempts
	Attempts int
	// Timeout bounds one HTTP request, default 30s
	Timeout time.Duration
}

// Configured reports whether every credential field is set.
func (c SMSConfig) Configured() bool {
	return c.APIUser != "" && c.APIPassword != "" && c.DID != "" && c.Destination != ""
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SMSAlerter implements IAlerter over the voip.ms sendSMS method.
type SMSAlerter struct {
	config  SMSConfig
	client  *http.Client
	breaker *CircuitBreaker
	replay  *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewSMSAlerter creates an alerter with its own circuit breaker.
func NewSMSAlerter(config SMSConfig) *SMSAlerter {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Attempts <= 0 {
		config.Attempts = MaxAttempts
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewSMSAlerter",
		"destination": redact.PhoneNumber(config.Destination),
		"attempts":    config.Attempts,
	}).Info("Creating SMS alerter")

	return &SMSAlerter{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: NewCircuitBreaker(),
		replay:  rate.NewLimiter(rate.Every(queuedAlertInterval), 1),
		sleep:   sleepContext,
	}
}

// IsSimulation implements IAlerter.
func (a *SMSAlerter) IsSimulation() bool {
	return false
}

// Breaker exposes the circuit breaker for health reporting.
func (a *SMSAlerter) Breaker() *CircuitBreaker {
	return a.breaker
}

// SendAlert implements IAlerter.
//
// The message is truncated to one SMS. Transient failures are retried with
// backoff; a permanent API error stops immediately. When the breaker is
// open the message is queued and ErrCircuitOpen is returned. A successful
// delivery replays any queued alerts.
func (a *SMSAlerter) SendAlert(ctx context.Context, message string) error {
	if !a.config.Configured() {
		return ErrNotConfigured
	}

	if len(message) > MaxSMSLength {
		short := TruncateMessage(message)
		logrus.WithFields(logrus.Fields{
			"function": "SMSAlerter.SendAlert",
			"from_len": len(message),
			"to_len":   len(short),
		}).Debug("SMS truncated")
		message = short
	}

	log := logrus.WithFields(logrus.Fields{
		"function":    "SMSAlerter.SendAlert",
		"destination": redact.PhoneNumber(a.config.Destination),
	})
	log.WithField("message", message).Info("Sending SMS alert")

	if !a.breaker.Allow() {
		a.breaker.Queue(message)
		log.WithFields(logrus.Fields{
			"pending": a.breaker.Pending(),
			"message": message,
		}).Error("ALERT FALLBACK (SMS unavailable), circuit open")
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt < a.config.Attempts; attempt++ {
		if attempt > 0 {
			wait := Backoff(attempt)
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": wait.String(),
				"error":   lastErr.Error(),
			}).Warn("SMS attempt failed, retrying")
			if err := a.sleep(ctx, wait); err != nil {
				return err
			}
		}

		err := a.post(ctx, message)
		if err == nil {
			log.Info("SMS sent")
			a.breaker.RecordSuccess()
			a.replayQueued(ctx)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsPermanent(err) {
			log.WithField("error", err.Error()).Error("Permanent SMS error, not retrying")
			a.breaker.RecordFailure()
			return err
		}
		lastErr = err
	}

	a.breaker.RecordFailure()
	log.WithFields(logrus.Fields{
		"attempts": a.config.Attempts,
		"error":    lastErr.Error(),
	}).Error("Failed to send SMS")
	if a.breaker.State() == CircuitOpen {
		log.WithField("message", message).Error("ALERT FALLBACK (SMS unavailable)")
	}
	return fmt.Errorf("sms delivery failed after %d attempts: %w", a.config.Attempts, lastErr)
}

// replayQueued sends alerts held while the breaker was open. On the first
// failure the rest go back on the queue.
func (a *SMSAlerter) replayQueued(ctx context.Context) {
	pending := a.breaker.TakePending()
	if len(pending) == 0 {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "SMSAlerter.replayQueued",
		"pending":  len(pending),
	})
	log.Info("Circuit recovered, sending queued alerts")

	for i, msg := range pending {
		err := a.replay.Wait(ctx)
		if err == nil {
			err = a.post(ctx, msg)
		}
		if err != nil {
			log.WithFields(logrus.Fields{
				"index": i,
				"error": err.Error(),
			}).Error("Failed to send queued alert")
			a.breaker.RecordFailure()
			for _, rest := range pending[i:] {
				a.breaker.Queue(rest)
			}
			return
		}
	}
}

func (a *SMSAlerter) post(ctx context.Context, message string) error {
	form := url.Values{
		"api_username": {a.config.APIUser},
		"api_password": {a.config.APIPassword},
		"method":       {"sendSMS"},
		"did":          {a.config.DID},
		"dst":          {a.config.Destination},
		"message":      {message},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS request: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("failed to parse SMS API response (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Status != "success" {
		return &APIError{Status: out.Status, Message: out.Message}
	}
	return nil
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
