package speech

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTranscriberUploadsWAV(t *testing.T) {
	var gotFormat, gotLanguage string
	var gotWAV []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		gotFormat = r.FormValue("response_format")
		gotLanguage = r.FormValue("language")

		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		gotWAV, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Thank you for calling.\n"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 2*time.Second)
	samples := make([]float32, 1600)
	text, err := tr.Transcribe(context.Background(), samples)
	require.NoError(t, err)

	assert.Equal(t, "Thank you for calling.", text)
	assert.Equal(t, "json", gotFormat)
	assert.Equal(t, "en", gotLanguage)
	require.Len(t, gotWAV, 44+2*len(samples))
	assert.Equal(t, "RIFF", string(gotWAV[0:4]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(gotWAV[24:28]))
	assert.Equal(t, "http", tr.Name())
}

func TestHTTPTranscriberErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "model not loaded", ErrServerResponse},
		{"bad json", http.StatusOK, "not json", ErrServerResponse},
		{"error field", http.StatusOK, `{"error":"failed to read audio"}`, ErrServerResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPTranscriber(srv.URL, time.Second).Transcribe(context.Background(), []float32{0.1})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPTranscriberNoSamples(t *testing.T) {
	_, err := NewHTTPTranscriber("http://127.0.0.1:1", time.Second).Transcribe(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestHTTPTranscriberHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewHTTPTranscriber(srv.URL, 5*time.Second).Transcribe(ctx, []float32{0})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
