package testing

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// SimulatedTranscriber returns a scripted transcript. When the sample
// buffer is shorter than MinSamples it returns an empty transcript, the way
// a recogniser does on silence.
type SimulatedTranscriber struct {
	mu         sync.Mutex
	transcript string
	err        error
	minSamples int
	calls      int
	lastLen    int
}

// NewSimulatedTranscriber creates a transcriber that answers transcript.
func NewSimulatedTranscriber(transcript string) *SimulatedTranscriber {
	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedTranscriber",
	}).Info("Creating simulated transcriber")

	return &SimulatedTranscriber{transcript: transcript}
}

// SetTranscript changes the scripted answer.
func (s *SimulatedTranscriber) SetTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = text
}

// SetError makes every call fail with err; nil restores success.
func (s *SimulatedTranscriber) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetMinSamples sets the buffer length below which the transcript is empty.
func (s *SimulatedTranscriber) SetMinSamples(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minSamples = n
}

// Transcribe implements ITranscriber.Transcribe with simulation.
func (s *SimulatedTranscriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.lastLen = len(samples)

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedTranscriber.Transcribe",
		"samples":  len(samples),
		"calls":    s.calls,
	}).Info("Transcription simulated")

	if s.err != nil {
		return "", s.err
	}
	if len(samples) < s.minSamples {
		return "", nil
	}
	return s.transcript, nil
}

// Name implements ITranscriber.Name.
func (s *SimulatedTranscriber) Name() string {
	return "simulated"
}

// Calls returns how many times Transcribe ran and the last buffer length.
func (s *SimulatedTranscriber) Calls() (count, lastSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.lastLen
}
