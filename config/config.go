// Package config loads phonecheck settings from the environment, an
// optional .env file and an optional YAML file.
//
// Keys are the upper-case environment names (SIP_USERNAME, TARGET_PHONE,
// ...). In a YAML file the same keys are written in lower case. Precedence
// from highest to lowest: process environment, .env file, YAML file,
// defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/phonecheck/av/rtp"
	"github.com/opd-ai/phonecheck/interfaces"
	"github.com/opd-ai/phonecheck/notify"
	"github.com/opd-ai/phonecheck/redact"
	"github.com/opd-ai/phonecheck/scheduler"
	"github.com/opd-ai/phonecheck/sip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("configuration validation failed")

// MaxListenDurationSecs caps LISTEN_DURATION_SECS.
const MaxListenDurationSecs = 300

// Config is the complete runtime configuration.
type Config struct {
	SIPUsername string `mapstructure:"sip_username" yaml:"sip_username"`
	SIPPassword string `mapstructure:"sip_password" yaml:"sip_password"`
	SIPServer   string `mapstructure:"sip_server" yaml:"sip_server"`
	SIPPort     int    `mapstructure:"sip_port" yaml:"sip_port"`
	SIPRegister bool   `mapstructure:"sip_register" yaml:"sip_register"`
	TargetPhone string `mapstructure:"target_phone" yaml:"target_phone"`

	ExpectedPhrase     string `mapstructure:"expected_phrase" yaml:"expected_phrase"`
	ListenDurationSecs int    `mapstructure:"listen_duration_secs" yaml:"listen_duration_secs"`
	MinAudioDurationMs int    `mapstructure:"min_audio_duration_ms" yaml:"min_audio_duration_ms"`

	STUNServer    string `mapstructure:"stun_server" yaml:"stun_server"`
	PublicAddress string `mapstructure:"public_address" yaml:"public_address"`
	RTPPort       int    `mapstructure:"rtp_port" yaml:"rtp_port"`

	TranscriberURL         string `mapstructure:"transcriber_url" yaml:"transcriber_url"`
	TranscriberTimeoutSecs int    `mapstructure:"transcriber_timeout_secs" yaml:"transcriber_timeout_secs"`

	VoipMSAPIUser string `mapstructure:"voipms_api_user" yaml:"voipms_api_user"`
	VoipMSAPIPass string `mapstructure:"voipms_api_pass" yaml:"voipms_api_pass"`
	VoipMSSMSDID  string `mapstructure:"voipms_sms_did" yaml:"voipms_sms_did"`
	AlertPhone    string `mapstructure:"alert_phone" yaml:"alert_phone"`
	DryRun        bool   `mapstructure:"dry_run" yaml:"dry_run"`

	HealthPort        int    `mapstructure:"health_port" yaml:"health_port"`
	LockFile          string `mapstructure:"lock_file" yaml:"lock_file"`
	Timezone          string `mapstructure:"timezone" yaml:"timezone"`
	BusinessStartHour int    `mapstructure:"business_start_hour" yaml:"business_start_hour"`
	BusinessEndHour   int    `mapstructure:"business_end_hour" yaml:"business_end_hour"`
	PcapFile          string `mapstructure:"pcap_file" yaml:"pcap_file"`
}

// defaults lists every key, so that viper resolves environment overrides
// for all of them during Unmarshal.
func defaults() map[string]any {
	return map[string]any{
		"sip_username":             "",
		"sip_password":             "",
		"sip_server":               "",
		"sip_port":                 5060,
		"sip_register":             false,
		"target_phone":             "",
		"expected_phrase":          "thank you for calling",
		"listen_duration_secs":     10,
		"min_audio_duration_ms":    500,
		"stun_server":              "",
		"public_address":           "",
		"rtp_port":                 0,
		"transcriber_url":          "",
		"transcriber_timeout_secs": 60,
		"voipms_api_user":          "",
		"voipms_api_pass":          "",
		"voipms_sms_did":           "",
		"alert_phone":              "",
		"dry_run":                  false,
		"health_port":              0,
		"lock_file":                filepath.Join(os.TempDir(), "phonecheck.lock"),
		"timezone":                 "America/Los_Angeles",
		"business_start_hour":      scheduler.DefaultStartHour,
		"business_end_hour":        scheduler.DefaultEndHour,
		"pcap_file":                "",
	}
}

// Options selects the files Load reads.
type Options struct {
	// ConfigFile is a YAML file; empty means none.
	ConfigFile string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Load reads configuration. It does not validate; call Validate.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"file":     v.ConfigFileUsed(),
		}).Info("Using config file")
	}

	if opts.EnvFile != "" {
		if err := mergeDotenv(v, opts.EnvFile); err != nil {
			return nil, err
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.ExpectedPhrase = strings.ToLower(strings.TrimSpace(cfg.ExpectedPhrase))
	return &cfg, nil
}

func mergeDotenv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(dv.AllSettings()); err != nil {
		return fmt.Errorf("failed to merge env file %s: %w", path, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "mergeDotenv",
		"file":     path,
	}).Debug("Loaded env file")
	return nil
}

// Validate checks every setting and returns all problems at once, wrapped
// in ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.SIPUsername == "" {
		add("SIP_USERNAME is required")
	}
	if c.SIPServer == "" {
		add("SIP_SERVER is required")
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		add("SIP_PORT %d must be between 1 and 65535", c.SIPPort)
	}
	if len(c.TargetDigits()) != 10 {
		add("TARGET_PHONE %q invalid, expected 10 digits", redact.PhoneNumber(c.TargetPhone))
	}
	if c.ExpectedPhrase == "" {
		add("EXPECTED_PHRASE cannot be empty")
	}
	if c.ListenDurationSecs <= 0 {
		add("LISTEN_DURATION_SECS must be greater than 0")
	} else if c.ListenDurationSecs > MaxListenDurationSecs {
		add("LISTEN_DURATION_SECS=%d is too long (max %d)", c.ListenDurationSecs, MaxListenDurationSecs)
	}
	if c.MinAudioDurationMs < 0 {
		add("MIN_AUDIO_DURATION_MS must not be negative")
	} else if c.ListenDurationSecs > 0 && c.MinAudioDurationMs > c.ListenDurationSecs*1000 {
		add("MIN_AUDIO_DURATION_MS=%d exceeds the listen duration", c.MinAudioDurationMs)
	}
	if c.STUNServer != "" {
		if _, _, err := net.SplitHostPort(c.STUNServer); err != nil {
			add("STUN_SERVER %q must be host:port", c.STUNServer)
		}
	}
	if c.PublicAddress != "" {
		if _, err := sip.ParsePublicAddress(c.PublicAddress, 1); err != nil {
			add("PUBLIC_ADDRESS: %v", err)
		}
	}
	if c.RTPPort < 0 || c.RTPPort > 65535 {
		add("RTP_PORT %d out of range", c.RTPPort)
	}
	if c.TranscriberURL == "" {
		add("TRANSCRIBER_URL is required")
	} else if u, err := url.Parse(c.TranscriberURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("TRANSCRIBER_URL %q must be an http(s) URL", c.TranscriberURL)
	}
	if c.TranscriberTimeoutSecs <= 0 {
		add("TRANSCRIBER_TIMEOUT_SECS must be greater than 0")
	}
	sms := []string{c.VoipMSAPIUser, c.VoipMSAPIPass, c.VoipMSSMSDID, c.AlertPhone}
	set := 0
	for _, s := range sms {
		if s != "" {
			set++
		}
	}
	if set != 0 && set != len(sms) {
		add("VOIPMS_API_USER, VOIPMS_API_PASS, VOIPMS_SMS_DID and ALERT_PHONE must be set together")
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		add("HEALTH_PORT %d out of range", c.HealthPort)
	}
	if c.Timezone == "" {
		// LoadLocation("") is UTC, which would silently shift the window.
		add("TIMEZONE is required")
	} else if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("TIMEZONE %q: %v", c.Timezone, err)
	}
	if c.BusinessStartHour < 0 || c.BusinessEndHour > 23 || c.BusinessStartHour >= c.BusinessEndHour {
		add("BUSINESS_START_HOUR/BUSINESS_END_HOUR %d-%d is not a valid window", c.BusinessStartHour, c.BusinessEndHour)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// TargetDigits returns TARGET_PHONE with formatting removed.
func (c *Config) TargetDigits() string {
	var b strings.Builder
	for _, r := range c.TargetPhone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SMSConfigured reports whether real SMS alerting is possible.
func (c *Config) SMSConfigured() bool {
	return c.SMSConfig().Configured()
}

// ClientConfig returns the call engine settings.
func (c *Config) ClientConfig() sip.ClientConfig {
	return sip.ClientConfig{
		Username:         c.SIPUsername,
		Password:         c.SIPPassword,
		Server:           c.SIPServer,
		Port:             c.SIPPort,
		Target:           c.TargetDigits(),
		ListenDuration:   time.Duration(c.ListenDurationSecs) * time.Second,
		MinAudioDuration: time.Duration(c.MinAudioDurationMs) * time.Millisecond,
		STUNServer:       c.STUNServer,
		PublicAddress:    c.PublicAddress,
		ProbeMapping:     c.STUNServer == "" && c.PublicAddress == "",
		Register:         c.SIPRegister,
		RTP:              rtpConfig(c.RTPPort),
	}
}

func rtpConfig(port int) rtp.ReceiverConfig {
	cfg := rtp.DefaultReceiverConfig()
	cfg.ListenAddr = net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	return cfg
}

// SMSConfig returns the alerter settings.
func (c *Config) SMSConfig() notify.SMSConfig {
	return notify.SMSConfig{
		APIUser:     c.VoipMSAPIUser,
		APIPassword: c.VoipMSAPIPass,
		DID:         c.VoipMSSMSDID,
		Destination: c.AlertPhone,
	}
}

// CollaboratorConfig returns the transcriber and alerter selection.
func (c *Config) CollaboratorConfig() interfaces.CollaboratorConfig {
	return interfaces.CollaboratorConfig{
		UseSimulation:      false,
		TranscriberURL:     c.TranscriberURL,
		TranscriberTimeout: c.TranscriberTimeoutSecs * 1000,
		AlertRetryAttempts: notify.MaxAttempts,
		SimulateAlerts:     c.DryRun || !c.SMSConfigured(),
		SMSAPIUser:         c.VoipMSAPIUser,
		SMSAPIPassword:     c.VoipMSAPIPass,
		SMSDID:             c.VoipMSSMSDID,
		AlertPhone:         c.AlertPhone,
	}
}

// SchedulerConfig returns the business-hours window.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	if c.Timezone == "" {
		return scheduler.Config{}, fmt.Errorf("%w: TIMEZONE is required", ErrInvalid)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return scheduler.Config{
		Location:  loc,
		StartHour: c.BusinessStartHour,
		EndHour:   c.BusinessEndHour,
	}, nil
}

// HealthAddr returns the health listen address, or "" when disabled.
func (c *Config) HealthAddr() string {
	if c.HealthPort == 0 {
		return ""
	}
	return ":" + strconv.Itoa(c.HealthPort)
}

const masked = "********"

// RedactedYAML renders the configuration with secrets masked and phone
// numbers shortened, for --validate output.
func (c *Config) RedactedYAML() ([]byte, error) {
	out := *c
	if out.SIPPassword != "" {
		out.SIPPassword = masked
	}
	if out.VoipMSAPIPass != "" {
		out.VoipMSAPIPass = masked
	}
	out.TargetPhone = redact.PhoneNumber(out.TargetPhone)
	out.AlertPhone = redact.PhoneNumber(out.AlertPhone)
	out.VoipMSSMSDID = redact.PhoneNumber(out.VoipMSSMSDID)
	out.VoipMSAPIUser = redact.Email(out.VoipMSAPIUser)
	return yaml.Marshal(&out)
}
