package audio

import "errors"

// Sentinel errors for audio package operations.
var (
	// ErrInvalidSampleRate indicates an unsupported sample rate combination.
	ErrInvalidSampleRate = errors.New("invalid sample rate")

	// ErrNoSamples indicates an export was requested for an empty buffer.
	ErrNoSamples = errors.New("no samples")
)
