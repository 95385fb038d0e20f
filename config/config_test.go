package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opd-ai/phonecheck/interfaces"
	"github.com/opd-ai/phonecheck/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// clearEnv blanks every key so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for k := range defaults() {
		name := strings.ToUpper(k)
		if _, ok := os.LookupEnv(name); ok {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SIP_USERNAME", "testuser")
	t.Setenv("SIP_PASSWORD", "testpass")
	t.Setenv("SIP_SERVER", "sip.example.com")
	t.Setenv("TARGET_PHONE", "(555) 123-4567")
	t.Setenv("TRANSCRIBER_URL", "http://127.0.0.1:8080/inference")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "testuser", cfg.SIPUsername)
	assert.Equal(t, 5060, cfg.SIPPort)
	assert.Equal(t, 10, cfg.ListenDurationSecs)
	assert.Equal(t, 500, cfg.MinAudioDurationMs)
	assert.Equal(t, "thank you for calling", cfg.ExpectedPhrase)
	assert.Equal(t, "America/Los_Angeles", cfg.Timezone)
	assert.Equal(t, 8, cfg.BusinessStartHour)
	assert.Equal(t, 17, cfg.BusinessEndHour)
	assert.Equal(t, "5551234567", cfg.TargetDigits())
	assert.Empty(t, cfg.HealthAddr())
	assert.False(t, cfg.SMSConfigured())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	t.Setenv("SIP_PORT", "5061")
	t.Setenv("SIP_REGISTER", "true")
	t.Setenv("EXPECTED_PHRASE", "  Welcome To ACME ")
	t.Setenv("HEALTH_PORT", "9090")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, 5061, cfg.SIPPort)
	assert.True(t, cfg.SIPRegister)
	assert.Equal(t, "welcome to acme", cfg.ExpectedPhrase)
	assert.Equal(t, ":9090", cfg.HealthAddr())
}

func TestLoadBadNumber(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	t.Setenv("SIP_PORT", "not_a_number")

	_, err := Load(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sip_port")
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "phonecheck.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
sip_username: from-yaml
sip_server: yaml.example.com
sip_port: 5070
target_phone: "5550000000"
transcriber_url: http://yaml:8080/inference
listen_duration_secs: 20
`), 0o600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SIP_SERVER=dotenv.example.com\nLISTEN_DURATION_SECS=15\n"), 0o600))

	t.Setenv("LISTEN_DURATION_SECS", "12")

	cfg, err := Load(Options{ConfigFile: yamlPath, EnvFile: envPath})
	require.NoError(t, err)

	assert.Equal(t, "from-yaml", cfg.SIPUsername)
	assert.Equal(t, "dotenv.example.com", cfg.SIPServer)
	assert.Equal(t, 5070, cfg.SIPPort)
	assert.Equal(t, 12, cfg.ListenDurationSecs)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.NoError(t, err)
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		SIPUsername:            "user",
		SIPPassword:            "pass",
		SIPServer:              "sip.example.com",
		SIPPort:                5060,
		TargetPhone:            "555-123-4567",
		ExpectedPhrase:         "thank you for calling",
		ListenDurationSecs:     10,
		MinAudioDurationMs:     500,
		TranscriberURL:         "http://localhost:8080/inference",
		TranscriberTimeoutSecs: 60,
		Timezone:               "America/Los_Angeles",
		BusinessStartHour:      8,
		BusinessEndHour:        17,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing username", func(c *Config) { c.SIPUsername = "" }, "SIP_USERNAME"},
		{"missing server", func(c *Config) { c.SIPServer = "" }, "SIP_SERVER"},
		{"bad port", func(c *Config) { c.SIPPort = 70000 }, "SIP_PORT"},
		{"short phone", func(c *Config) { c.TargetPhone = "555-1234" }, "TARGET_PHONE"},
		{"empty phrase", func(c *Config) { c.ExpectedPhrase = "" }, "EXPECTED_PHRASE"},
		{"zero listen", func(c *Config) { c.ListenDurationSecs = 0 }, "LISTEN_DURATION_SECS must be greater than 0"},
		{"long listen", func(c *Config) { c.ListenDurationSecs = 301 }, "too long"},
		{"min audio exceeds listen", func(c *Config) { c.MinAudioDurationMs = 20000 }, "MIN_AUDIO_DURATION_MS"},
		{"bad stun", func(c *Config) { c.STUNServer = "stun.example.com" }, "STUN_SERVER"},
		{"good stun", func(c *Config) { c.STUNServer = "stun.example.com:3478" }, ""},
		{"bad public address", func(c *Config) { c.PublicAddress = "not-an-ip" }, "PUBLIC_ADDRESS"},
		{"missing transcriber", func(c *Config) { c.TranscriberURL = "" }, "TRANSCRIBER_URL is required"},
		{"bad transcriber scheme", func(c *Config) { c.TranscriberURL = "ftp://x/y" }, "http(s) URL"},
		{"partial sms", func(c *Config) { c.VoipMSAPIUser = "u" }, "must be set together"},
		{"full sms", func(c *Config) {
			c.VoipMSAPIUser, c.VoipMSAPIPass, c.VoipMSSMSDID, c.AlertPhone = "u", "p", "5551112222", "5553334444"
		}, ""},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "TIMEZONE"},
		{"empty timezone", func(c *Config) { c.Timezone = "" }, "TIMEZONE is required"},
		{"bad window", func(c *Config) { c.BusinessStartHour = 18 }, "BUSINESS_START_HOUR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	c := &Config{}
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, key := range []string{"SIP_USERNAME", "SIP_SERVER", "TARGET_PHONE", "TRANSCRIBER_URL", "TIMEZONE"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestSchedulerConfigRequiresTimezone(t *testing.T) {
	c := validConfig()
	c.Timezone = ""
	_, err := c.SchedulerConfig()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDerivedConfigs(t *testing.T) {
	c := validConfig()
	c.RTPPort = 40000
	c.VoipMSAPIUser, c.VoipMSAPIPass, c.VoipMSSMSDID, c.AlertPhone = "u@example.com", "p", "5551112222", "5553334444"

	cc := c.ClientConfig()
	assert.Equal(t, "5551234567", cc.Target)
	assert.Equal(t, 10*time.Second, cc.ListenDuration)
	assert.Equal(t, 500*time.Millisecond, cc.MinAudioDuration)
	assert.Equal(t, "0.0.0.0:40000", cc.RTP.ListenAddr)
	assert.True(t, cc.ProbeMapping)

	collab := c.CollaboratorConfig()
	want := interfaces.CollaboratorConfig{
		TranscriberURL:     c.TranscriberURL,
		TranscriberTimeout: 60000,
		AlertRetryAttempts: notify.MaxAttempts,
		SMSAPIUser:         "u@example.com",
		SMSAPIPassword:     "p",
		SMSDID:             "5551112222",
		AlertPhone:         "5553334444",
	}
	if diff := cmp.Diff(want, collab); diff != "" {
		t.Errorf("CollaboratorConfig() mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, collab.Validate())

	c.DryRun = true
	assert.True(t, c.CollaboratorConfig().SimulateAlerts)

	sc, err := c.SchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", sc.Location.String())
	assert.Equal(t, 8, sc.StartHour)
}

func TestRedactedYAML(t *testing.T) {
	c := validConfig()
	c.VoipMSAPIUser, c.VoipMSAPIPass, c.AlertPhone = "alice@example.com", "hunter2", "5553334444"

	out, err := c.RedactedYAML()
	require.NoError(t, err)
	text := string(out)

	assert.NotContains(t, text, "pass\n")
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "5551234567")
	assert.Contains(t, text, "a***@example.com")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, masked, back["sip_password"])
	assert.Equal(t, "******4567", back["target_phone"])
	assert.Equal(t, "sip.example.com", back["sip_server"])
}
