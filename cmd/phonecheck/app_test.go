package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/opd-ai/phonecheck/config"
	"github.com/opd-ai/phonecheck/lockfile"
	simtest "github.com/opd-ai/phonecheck/testing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"SIP_USERNAME", "SIP_PASSWORD", "SIP_SERVER", "SIP_PORT", "SIP_REGISTER", "TARGET_PHONE",
	"EXPECTED_PHRASE", "LISTEN_DURATION_SECS", "MIN_AUDIO_DURATION_MS",
	"STUN_SERVER", "PUBLIC_ADDRESS", "RTP_PORT",
	"TRANSCRIBER_URL", "TRANSCRIBER_TIMEOUT_SECS",
	"VOIPMS_API_USER", "VOIPMS_API_PASS", "VOIPMS_SMS_DID", "ALERT_PHONE", "DRY_RUN",
	"HEALTH_PORT", "LOCK_FILE", "TIMEZONE", "BUSINESS_START_HOUR", "BUSINESS_END_HOUR", "PCAP_FILE",
	"PHONECHECK_USE_SIMULATION", "PHONECHECK_TRANSCRIBER_TIMEOUT", "PHONECHECK_ALERT_ATTEMPTS",
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("LOCK_FILE", filepath.Join(t.TempDir(), "phonecheck.lock"))
	t.Setenv("TIMEZONE", "UTC")
}

func transcriberServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	tests := []struct {
		level   string
		json    bool
		want    logrus.Level
		wantErr bool
	}{
		{level: "debug", want: logrus.DebugLevel},
		{level: "WARN", json: true, want: logrus.WarnLevel},
		{level: "error", want: logrus.ErrorLevel},
		{level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			err := configureLogging(tt.level, tt.json)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logrus.GetLevel())
			_, isJSON := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.json, isJSON)
		})
	}
}

func TestRootCommandFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantAudio string
	}{
		{name: "no audio", args: nil, wantAudio: ""},
		{name: "bare save-audio", args: []string{"--save-audio"}, wantAudio: defaultAudioPath},
		{name: "save-audio with path", args: []string{"--save-audio=greeting.wav"}, wantAudio: "greeting.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCommand()
			require.NoError(t, cmd.ParseFlags(tt.args))
			got, err := cmd.Flags().GetString("save-audio")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAudio, got)
		})
	}

	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.Execute(), "positional arguments are rejected")
}

func TestValidateMode(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SIP_USERNAME", "alice")
	t.Setenv("SIP_PASSWORD", "hunter2")
	t.Setenv("SIP_SERVER", "127.0.0.1")
	t.Setenv("TARGET_PHONE", "555-123-4567")
	t.Setenv("TRANSCRIBER_URL", "http://127.0.0.1:9/inference")

	var out bytes.Buffer
	err := run(context.Background(), &options{validate: true}, &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "********")
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "5551234567")
	assert.Contains(t, text, "resolves to 127.0.0.1")
	assert.Contains(t, text, "configuration is valid")
}

func TestValidateModeReportsErrors(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SIP_SERVER", "127.0.0.1")

	var out bytes.Buffer
	err := run(context.Background(), &options{validate: true}, &out)
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "SIP_USERNAME is required")
	assert.Contains(t, err.Error(), "TRANSCRIBER_URL is required")
	assert.NotEmpty(t, out.String(), "configuration is printed before errors")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	isolateEnv(t)

	err := run(context.Background(), &options{once: true}, &bytes.Buffer{})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func setupOnce(t *testing.T, transcript string) *simtest.SimulatedUAS {
	t.Helper()
	isolateEnv(t)

	uas, err := simtest.NewSimulatedUAS(simtest.UASConfig{
		Stream: simtest.StreamConfig{Packets: 40, PayloadType: 0, Fill: 0xFF, Interval: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { uas.Close() })

	t.Setenv("SIP_USERNAME", "alice")
	t.Setenv("SIP_PASSWORD", "secret")
	t.Setenv("SIP_SERVER", "127.0.0.1")
	t.Setenv("SIP_PORT", strconv.Itoa(uas.Addr().Port))
	t.Setenv("TARGET_PHONE", "5551234567")
	t.Setenv("LISTEN_DURATION_SECS", "1")
	t.Setenv("MIN_AUDIO_DURATION_MS", "100")
	t.Setenv("PUBLIC_ADDRESS", "127.0.0.1")
	t.Setenv("TRANSCRIBER_URL", transcriberServer(t, transcript).URL)
	t.Setenv("DRY_RUN", "true")
	return uas
}

func TestRunOncePasses(t *testing.T) {
	uas := setupOnce(t, "Thank you for calling Acme Plumbing.")
	pcap := filepath.Join(t.TempDir(), "call.pcap")

	err := run(context.Background(), &options{once: true, pcap: pcap}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Len(t, uas.Requests("INVITE"), 1)
	assert.True(t, uas.WaitForRequests("BYE", 1, time.Second))

	info, err := os.Stat(pcap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(24), "pcap holds packets after the file header")
}

func TestRunOnceFailsOnWrongGreeting(t *testing.T) {
	setupOnce(t, "the number you have dialed is not in service")

	err := run(context.Background(), &options{once: true}, &bytes.Buffer{})
	assert.ErrorIs(t, err, errCheckFailed)
}

func TestRunHoldsLock(t *testing.T) {
	setupOnce(t, "thank you for calling")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	held, err := lockfile.Acquire(cfg.LockFile)
	require.NoError(t, err)
	defer held.Release()

	err = run(context.Background(), &options{once: true}, &bytes.Buffer{})
	assert.Error(t, err)
}
