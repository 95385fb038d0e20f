package notify

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
)

// Circuit breaker tuning.
const (
	CircuitFailureThreshold = 3
	CircuitOpenDuration     = 5 * time.Minute
	MaxQueuedAlerts         = 10
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed allows every request.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks requests until the open period has passed.
	CircuitOpen
	// CircuitHalfOpen allows a probe request after the open period.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive delivery failures and holds alerts
// that could not be sent while it was open.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	lastSuccess time.Time
	pending     deque.Deque[string]
	now         func() time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{now: time.Now}
}

// Allow reports whether a request may be attempted. An open breaker moves
// to half-open once CircuitOpenDuration has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.openedAt) >= CircuitOpenDuration {
			b.state = CircuitHalfOpen
			logrus.WithFields(logrus.Fields{
				"function": "CircuitBreaker.Allow",
			}).Info("Circuit half-open, probing")
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = CircuitClosed
	b.lastSuccess = b.now()
}

// RecordFailure counts a failed delivery and opens the breaker at the
// threshold. A failed half-open probe reopens it.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures < CircuitFailureThreshold && b.state != CircuitHalfOpen {
		return
	}
	if b.state == CircuitOpen {
		return
	}
	b.state = CircuitOpen
	b.openedAt = b.now()
	logrus.WithFields(logrus.Fields{
		"function": "CircuitBreaker.RecordFailure",
		"failures": b.failures,
	}).Error("Circuit breaker opened")
}

// State returns the current state without advancing it.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Queue stores message for later delivery, dropping the oldest when the
// queue already holds MaxQueuedAlerts.
func (b *CircuitBreaker) Queue(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending.Len() >= MaxQueuedAlerts {
		dropped := b.pending.PopFront()
		logrus.WithFields(logrus.Fields{
			"function": "CircuitBreaker.Queue",
			"dropped":  preview(dropped),
		}).Warn("Alert queue full, dropping oldest")
	}
	b.pending.PushBack(message)
}

// TakePending removes and returns every queued alert, oldest first.
func (b *CircuitBreaker) TakePending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, b.pending.Len())
	for b.pending.Len() > 0 {
		out = append(out, b.pending.PopFront())
	}
	return out
}

// Pending returns the number of queued alerts.
func (b *CircuitBreaker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}
