// Package audio provides the audio conversions used by the phone check.
//
// This file implements the fused normalisation and upsampling step that turns
// 8 kHz telephone PCM into the 16 kHz float samples speech recognisers expect.
package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sample rates handled by the call pipeline.
const (
	TelephoneRate   uint32 = 8000
	RecognitionRate uint32 = 16000
)

// pcmScale normalises a signed 16-bit sample into [-1, 1).
const pcmScale = 32768.0

// Resampler converts 16-bit PCM into normalised float samples at an
// integer multiple of the input rate using linear interpolation.
//
// The resampler is stateless between calls: every Resample call treats its
// input as a complete, self-contained buffer.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	factor     int
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz, an integer multiple of InputRate
}

// DefaultResamplerConfig returns the 8 kHz to 16 kHz configuration.
func DefaultResamplerConfig() ResamplerConfig {
	return ResamplerConfig{InputRate: TelephoneRate, OutputRate: RecognitionRate}
}

// NewResampler creates a new audio resampler instance.
//
// Parameters:
//   - config: Resampler configuration
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: ErrInvalidSampleRate when the rates are zero or not an integer upsample ratio
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		return nil, fmt.Errorf("%w: input=%d, output=%d", ErrInvalidSampleRate, config.InputRate, config.OutputRate)
	}
	if config.OutputRate < config.InputRate || config.OutputRate%config.InputRate != 0 {
		return nil, fmt.Errorf("%w: %d is not an integer multiple of %d", ErrInvalidSampleRate, config.OutputRate, config.InputRate)
	}

	r := &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		factor:     int(config.OutputRate / config.InputRate),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  r.inputRate,
		"output_rate": r.outputRate,
		"factor":      r.factor,
	}).Debug("Audio resampler created")

	return r, nil
}

// Factor reports how many output samples are produced per input sample.
func (r *Resampler) Factor() int {
	return r.factor
}

// ResampleF32 normalises and upsamples input in a single pass.
//
// Output length is exactly Factor()*len(input). For every input sample s[i]
// the first output is s[i]/32768 and the following ones interpolate linearly
// toward s[i+1]; the final input sample is repeated. Empty input yields an
// empty, non-nil slice.
func (r *Resampler) ResampleF32(input []int16) []float32 {
	out := make([]float32, 0, len(input)*r.factor)
	if r.factor == 2 {
		return appendUpsample2x(out, input)
	}

	n := len(input)
	for i, s := range input {
		cur := float64(s)
		next := cur
		if i+1 < n {
			next = float64(input[i+1])
		}
		for k := 0; k < r.factor; k++ {
			frac := float64(k) / float64(r.factor)
			out = append(out, float32((cur+(next-cur)*frac)/pcmScale))
		}
	}
	return out
}

// Upsample8kTo16k converts 8 kHz PCM into 16 kHz normalised float samples.
func Upsample8kTo16k(input []int16) []float32 {
	return appendUpsample2x(make([]float32, 0, len(input)*2), input)
}

// appendUpsample2x is the hot path for the 8 kHz to 16 kHz case.
func appendUpsample2x(out []float32, input []int16) []float32 {
	n := len(input)
	for i := 0; i < n; i++ {
		cur := int32(input[i])
		next := cur
		if i+1 < n {
			next = int32(input[i+1])
		}
		out = append(out,
			float32(float64(cur)/pcmScale),
			float32(float64(cur+next)/(2*pcmScale)),
		)
	}
	return out
}

// SamplesToDurationMs converts a sample count at rate into milliseconds.
func SamplesToDurationMs(samples int, rate uint32) int64 {
	if rate == 0 {
		return 0
	}
	return int64(samples) * 1000 / int64(rate)
}
