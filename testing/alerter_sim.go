package testing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SimulatedAlerter records alerts in memory instead of sending them.
type SimulatedAlerter struct {
	mu       sync.Mutex
	alerts   []AlertRecord
	failures int
	err      error
}

// AlertRecord is one alert delivery attempt seen by the simulation.
type AlertRecord struct {
	Message   string
	Timestamp time.Time
	Success   bool
	Error     error
}

// NewSimulatedAlerter creates a new simulated alerter.
func NewSimulatedAlerter() *SimulatedAlerter {
	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedAlerter",
	}).Info("Creating simulated alerter")

	return &SimulatedAlerter{alerts: make([]AlertRecord, 0)}
}

// FailNext makes the next n sends return err.
func (s *SimulatedAlerter) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.err = err
}

// SendAlert implements IAlerter.SendAlert with simulation.
func (s *SimulatedAlerter) SendAlert(ctx context.Context, message string) error {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := AlertRecord{Message: message, Timestamp: time.Now(), Success: true}
	if s.failures > 0 {
		s.failures--
		rec.Success = false
		rec.Error = s.err
	}
	s.alerts = append(s.alerts, rec)

	logrus.WithFields(logrus.Fields{
		"function":     "SimulatedAlerter.SendAlert",
		"message_len":  len(message),
		"success":      rec.Success,
		"total_alerts": len(s.alerts),
	}).Info("Alert delivery simulated")

	return rec.Error
}

// IsSimulation returns true for the simulated alerter.
func (s *SimulatedAlerter) IsSimulation() bool {
	return true
}

// Alerts returns a copy of every recorded attempt.
func (s *SimulatedAlerter) Alerts() []AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AlertRecord, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Delivered returns the messages of successful attempts.
func (s *SimulatedAlerter) Delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, a := range s.alerts {
		if a.Success {
			out = append(out, a.Message)
		}
	}
	return out
}

// ClearAlerts removes all recorded attempts.
func (s *SimulatedAlerter) ClearAlerts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = s.alerts[:0]
}
