package audio

import (
	"math"

	"github.com/sirupsen/logrus"
)

// silenceFloorDBFS is reported for buffers with no energy at all.
const silenceFloorDBFS = -120.0

// DefaultSilenceThresholdDBFS classifies captures whose RMS level is below it
// as silent.
const DefaultSilenceThresholdDBFS = -60.0

// Level summarises the signal level of a capture.
type Level struct {
	Peak    float64 // largest absolute sample, 0.0 to 1.0
	RMS     float64 // root mean square, 0.0 to 1.0
	PeakDB  float64 // peak in dBFS
	RMSDB   float64 // RMS in dBFS
	Samples int
}

// Silent reports whether the RMS level falls below thresholdDB.
func (l Level) Silent(thresholdDB float64) bool {
	return l.Samples == 0 || l.RMSDB < thresholdDB
}

// MeasureLevel computes the peak and RMS level of normalised samples.
func MeasureLevel(samples []float32) Level {
	lvl := Level{PeakDB: silenceFloorDBFS, RMSDB: silenceFloorDBFS, Samples: len(samples)}
	if len(samples) == 0 {
		return lvl
	}

	var sumSquares float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > lvl.Peak {
			lvl.Peak = v
		}
		sumSquares += v * v
	}
	lvl.RMS = math.Sqrt(sumSquares / float64(len(samples)))
	lvl.PeakDB = toDBFS(lvl.Peak)
	lvl.RMSDB = toDBFS(lvl.RMS)
	return lvl
}

func toDBFS(v float64) float64 {
	if v <= 0 {
		return silenceFloorDBFS
	}
	db := 20 * math.Log10(v)
	if db < silenceFloorDBFS {
		return silenceFloorDBFS
	}
	return db
}

// Normalizer scales a capture so its peak reaches a target level.
//
// Gain is limited to [1, MaxGain]; loud captures are never attenuated and
// near-silent ones are not amplified into noise.
type Normalizer struct {
	TargetPeak float64 // desired peak, 0.0 to 1.0
	MaxGain    float64 // upper bound on the applied gain
}

// NewNormalizer returns a normalizer with defaults tuned for telephone speech.
func NewNormalizer() *Normalizer {
	return &Normalizer{TargetPeak: 0.9, MaxGain: 8.0}
}

// Apply scales samples in place and returns the gain that was used.
func (n *Normalizer) Apply(samples []float32) float64 {
	lvl := MeasureLevel(samples)
	if lvl.Peak == 0 {
		return 1.0
	}

	gain := n.TargetPeak / lvl.Peak
	if gain > n.MaxGain {
		gain = n.MaxGain
	}
	if gain <= 1.0 {
		return 1.0
	}

	for i, s := range samples {
		v := float64(s) * gain
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		samples[i] = float32(v)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Normalizer.Apply",
		"samples":  len(samples),
		"peak_db":  lvl.PeakDB,
		"gain":     gain,
	}).Debug("Normalized captured audio")

	return gain
}
