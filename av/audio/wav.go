package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sirupsen/logrus"
)

// wavHeaderSize is the size of a canonical 44-byte RIFF/WAVE PCM header.
const wavHeaderSize = 44

// WriteWAV encodes normalised float samples as a 16-bit PCM mono WAV stream.
//
// Samples outside [-1, 1] are clipped.
//
// Parameters:
//   - w: destination writer
//   - samples: normalised samples
//   - sampleRate: rate recorded in the header
//
// Returns:
//   - error: ErrNoSamples for empty input or any write error
func WriteWAV(w io.Writer, samples []float32, sampleRate uint32) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}
	if sampleRate == 0 {
		return fmt.Errorf("%w: 0", ErrInvalidSampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], sampleRate*2)
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	var buf [2]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint16(buf[:], uint16(floatToPCM16(s)))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("failed to write WAV data: %w", err)
		}
	}
	return bw.Flush()
}

// SaveWAV writes samples to path, creating or truncating the file.
func SaveWAV(path string, samples []float32, sampleRate uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SaveWAV",
		"path":        path,
		"samples":     len(samples),
		"duration_ms": SamplesToDurationMs(len(samples), sampleRate),
	}).Info("Saved captured audio")
	return nil
}

func floatToPCM16(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
