// Package scheduler runs the phone check at the top of every hour inside
// business hours.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults.
const (
	DefaultStartHour       = 8
	DefaultEndHour         = 17
	DefaultTolerance       = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// immediateWindow is how far past the hour a check still starts
	// without waiting for the next one.
	immediateWindow = 5 * time.Second
)

// ErrInvalidHours is returned when the business window is empty or out of
// range.
var ErrInvalidHours = errors.New("invalid business hours")

// CheckFunc runs one check. It must return promptly once ctx is cancelled.
type CheckFunc func(ctx context.Context)

// Config sets the business window.
type Config struct {
	Location  *time.Location
	StartHour int
	EndHour   int
	// Tolerance allows the check at EndHour:00 to start slightly late.
	Tolerance time.Duration
	// ShutdownTimeout bounds the wait for an in-flight check on shutdown.
	ShutdownTimeout time.Duration
}

type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler triggers a CheckFunc hourly and never runs two at once.
type Scheduler struct {
	config   Config
	check    CheckFunc
	clock    clock
	running  atomic.Bool
	lastSlot time.Time
}

// New validates config and returns a scheduler for check.
func New(config Config, check CheckFunc) (*Scheduler, error) {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.StartHour == 0 && config.EndHour == 0 {
		config.StartHour, config.EndHour = DefaultStartHour, DefaultEndHour
	}
	if config.StartHour < 0 || config.EndHour > 23 || config.StartHour >= config.EndHour {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidHours, config.StartHour, config.EndHour)
	}
	if config.Tolerance <= 0 {
		config.Tolerance = DefaultTolerance
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Scheduler{config: config, check: check, clock: realClock{}}, nil
}

// InBusinessHours reports whether t falls in [StartHour, EndHour).
func (s *Scheduler) InBusinessHours(t time.Time) bool {
	h := t.In(s.config.Location).Hour()
	return h >= s.config.StartHour && h < s.config.EndHour
}

// WithinWindow is InBusinessHours extended by Tolerance past EndHour:00.
func (s *Scheduler) WithinWindow(t time.Time) bool {
	if s.InBusinessHours(t) {
		return true
	}
	local := t.In(s.config.Location)
	if local.Hour() != s.config.EndHour || local.Minute() != 0 {
		return false
	}
	return time.Duration(local.Second())*time.Second < s.config.Tolerance
}

// UntilNext returns how long to wait from t before the next check. Zero
// means run now: t is within the first seconds of a business hour.
func (s *Scheduler) UntilNext(t time.Time) time.Duration {
	local := t.In(s.config.Location)
	y, m, d := local.Date()
	h := local.Hour()
	loc := s.config.Location

	var next time.Time
	switch {
	case h >= s.config.StartHour && h < s.config.EndHour:
		top := time.Date(y, m, d, h, 0, 0, 0, loc)
		if t.Sub(top) < immediateWindow {
			return 0
		}
		next = time.Date(y, m, d, h+1, 0, 0, 0, loc)
	case h < s.config.StartHour:
		next = time.Date(y, m, d, s.config.StartHour, 0, 0, 0, loc)
	default:
		next = time.Date(y, m, d+1, s.config.StartHour, 0, 0, 0, loc)
	}
	return next.Sub(t)
}

// FormatDuration renders d as "2h 5m" or "42m".
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	hours := secs / 3600
	mins := (secs % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// Running reports whether a check is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Run loops until ctx is cancelled. A check in flight at that moment has
// its own context cancelled and is given ShutdownTimeout to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logrus.WithFields(logrus.Fields{
		"function": "Scheduler.Run",
		"timezone": s.config.Location.String(),
		"window":   fmt.Sprintf("%02d:00-%02d:00", s.config.StartHour, s.config.EndHour),
	})
	log.Info("Scheduler started")

	for {
		if ctx.Err() != nil {
			log.Info("Shutdown requested, stopping scheduler")
			return nil
		}

		if wait := s.UntilNext(s.clock.Now()); wait > 0 {
			log.WithField("wait", FormatDuration(wait)).Info("Next check scheduled")
			select {
			case <-ctx.Done():
				log.Warn("Shutdown during sleep, stopping scheduler")
				return nil
			case <-s.clock.After(wait):
			}
		}

		now := s.clock.Now()
		slot := s.hourSlot(now)
		if !s.WithinWindow(now) || slot.Equal(s.lastSlot) {
			// Already ran this hour or woke outside the window; wait for
			// the next slot.
			if wait := s.UntilNext(now); wait == 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-s.clock.After(immediateWindow):
				}
			}
			continue
		}
		s.lastSlot = slot

		if !s.runGuarded(ctx) {
			return nil
		}
	}
}

func (s *Scheduler) hourSlot(t time.Time) time.Time {
	local := t.In(s.config.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, local.Hour(), 0, 0, 0, s.config.Location)
}

// runGuarded runs one check under the single in-flight guard. It returns
// false when the scheduler should stop.
func (s *Scheduler) runGuarded(ctx context.Context) bool {
	log := logrus.WithFields(logrus.Fields{
		"function": "Scheduler.runGuarded",
	})

	if !s.running.CompareAndSwap(false, true) {
		log.Warn("Skipping scheduled check, previous check still running")
		return true
	}

	checkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.running.Store(false)
		s.check(checkCtx)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
	}

	log.Info("Shutdown during active check, cancelling")
	cancel()
	select {
	case <-done:
		log.Info("In-flight check finished")
	case <-time.After(s.config.ShutdownTimeout):
		log.Warn("Graceful shutdown timeout, check may not have completed cleanly")
	}
	return false
}
