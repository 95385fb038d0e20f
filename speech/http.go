package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/opd-ai/phonecheck/av/audio"
	"github.com/sirupsen/logrus"
)

// Errors returned by HTTPTranscriber.
var (
	ErrNoSamples      = errors.New("no audio samples to transcribe")
	ErrServerResponse = errors.New("transcription server error")
)

// maxResponseBody caps how much of a server reply is read.
const maxResponseBody = 1 << 20

// HTTPTranscriber posts audio to a whisper.cpp style inference endpoint
// as a 16 kHz mono WAV upload and reads {"text": "..."} back.
type HTTPTranscriber struct {
	endpoint string
	client   *http.Client
	language string
}

// NewHTTPTranscriber creates a transcriber for endpoint, for example
// "http://127.0.0.1:8080/inference". Each request is bounded by timeout.
func NewHTTPTranscriber(endpoint string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		language: "en",
	}
}

// Name implements ITranscriber.
func (h *HTTPTranscriber) Name() string {
	return "http"
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcribe implements ITranscriber.
//
// Parameters:
//   - ctx: Cancels the upload and the wait for the reply
//   - samples: 16 kHz mono audio in [-1, 1]
//
// Returns:
//   - string: The trimmed transcript
//   - error: ErrNoSamples, ErrServerResponse or a transport error
func (h *HTTPTranscriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", ErrNoSamples
	}

	body, contentType, err := h.buildForm(samples)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("failed to read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrServerResponse, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out inferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %v", ErrServerResponse, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrServerResponse, out.Error)
	}

	text := strings.TrimSpace(out.Text)
	logrus.WithFields(logrus.Fields{
		"function": "HTTPTranscriber.Transcribe",
		"samples":  len(samples),
		"elapsed":  time.Since(started).String(),
		"chars":    len(text),
	}).Info("Transcription complete")

	return text, nil
}

func (h *HTTPTranscriber) buildForm(samples []float32) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "call.wav")
	if err != nil {
		return nil, "", err
	}
	if err := audio.WriteWAV(part, samples, audio.RecognitionRate); err != nil {
		return nil, "", fmt.Errorf("failed to encode WAV: %w", err)
	}
	for k, v := range map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        h.language,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
