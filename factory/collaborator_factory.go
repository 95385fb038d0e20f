package factory

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/phonecheck/interfaces"
	"github.com/opd-ai/phonecheck/notify"
	"github.com/opd-ai/phonecheck/speech"
	"github.com/opd-ai/phonecheck/testing"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinTranscriberTimeout is the minimum allowed transcription timeout in milliseconds.
	MinTranscriberTimeout = 1000
	// MaxTranscriberTimeout is the maximum allowed transcription timeout in milliseconds (10 minutes).
	MaxTranscriberTimeout = 600000
	// MinRetryAttempts is the minimum allowed alert attempts.
	MinRetryAttempts = 1
	// MaxRetryAttempts is the maximum allowed alert attempts.
	MaxRetryAttempts = 10
)

// CollaboratorFactory creates transcriber, matcher and alerter
// implementations based on configuration. It is safe for concurrent use.
type CollaboratorFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.CollaboratorConfig
}

// TestConfigOption is a functional option for customizing test simulation configuration.
type TestConfigOption func(*interfaces.CollaboratorConfig)

// SimulatedCollaborators holds the in-memory implementations returned by
// CreateSimulationForTesting.
type SimulatedCollaborators struct {
	Transcriber *testing.SimulatedTranscriber
	Matcher     interfaces.IPhraseMatcher
	Alerter     *testing.SimulatedAlerter
	Config      *interfaces.CollaboratorConfig
}

// NewCollaboratorFactory creates a factory starting from base (nil means
// defaults) with PHONECHECK_* environment overrides applied.
func NewCollaboratorFactory(base *interfaces.CollaboratorConfig) *CollaboratorFactory {
	config := createDefaultConfig()
	if base != nil {
		copied := *base
		config = &copied
	}
	applyEnvironmentOverrides(config)
	logConfigurationInfo(config)

	return &CollaboratorFactory{defaultConfig: config}
}

// createDefaultConfig returns the defaults: real backends, a one minute
// transcription timeout and three alert attempts.
func createDefaultConfig() *interfaces.CollaboratorConfig {
	return &interfaces.CollaboratorConfig{
		UseSimulation:      false,
		TranscriberTimeout: 60000,
		AlertRetryAttempts: notify.MaxAttempts,
	}
}

// applyEnvironmentOverrides updates configuration from PHONECHECK_*
// environment variables.
func applyEnvironmentOverrides(config *interfaces.CollaboratorConfig) {
	parseSimulationSetting(config)
	parseIntSetting("PHONECHECK_TRANSCRIBER_TIMEOUT", MinTranscriberTimeout, MaxTranscriberTimeout, &config.TranscriberTimeout)
	parseIntSetting("PHONECHECK_ALERT_ATTEMPTS", MinRetryAttempts, MaxRetryAttempts, &config.AlertRetryAttempts)
}

// parseSimulationSetting reads PHONECHECK_USE_SIMULATION. An unparsable
// value is logged and ignored.
func parseSimulationSetting(config *interfaces.CollaboratorConfig) {
	useSimStr := os.Getenv("PHONECHECK_USE_SIMULATION")
	if useSimStr == "" {
		return
	}
	useSim, err := strconv.ParseBool(useSimStr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseSimulationSetting",
			"env_var":     "PHONECHECK_USE_SIMULATION",
			"value":       useSimStr,
			"error":       err.Error(),
			"using_value": config.UseSimulation,
		}).Warn("Failed to parse PHONECHECK_USE_SIMULATION environment variable, using default")
		return
	}
	config.UseSimulation = useSim
}

// parseIntSetting overwrites *dst with the integer in envVar when it parses
// and lies within [min, max].
func parseIntSetting(envVar string, min, max int, dst *int) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if v < min || v > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       v,
			"min":         min,
			"max":         max,
			"using_value": *dst,
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	*dst = v
}

func logConfigurationInfo(config *interfaces.CollaboratorConfig) {
	logrus.WithFields(logrus.Fields{
		"function":            "NewCollaboratorFactory",
		"use_simulation":      config.UseSimulation,
		"simulate_alerts":     config.SimulateAlerts,
		"transcriber_timeout": config.TranscriberTimeout,
		"alert_attempts":      config.AlertRetryAttempts,
	}).Info("Created collaborator factory with configuration")
}

func (f *CollaboratorFactory) snapshot() interfaces.CollaboratorConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return *f.defaultConfig
}

// CreateTranscriber returns the speech-to-text backend. The real
// transcriber is wrapped in speech.Guarded.
func (f *CollaboratorFactory) CreateTranscriber() (interfaces.ITranscriber, error) {
	config := f.snapshot()

	if config.UseSimulation {
		logrus.WithFields(logrus.Fields{
			"function": "CreateTranscriber",
			"type":     "simulation",
		}).Info("Creating simulation transcriber")
		return testing.NewSimulatedTranscriber(""), nil
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transcriber configuration: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateTranscriber",
		"type":     "http",
		"timeout":  config.TranscriberTimeout,
	}).Info("Creating HTTP transcriber")

	timeout := time.Duration(config.TranscriberTimeout) * time.Millisecond
	return speech.NewGuarded(speech.NewHTTPTranscriber(config.TranscriberURL, timeout)), nil
}

// CreateMatcher returns the phrase matcher.
func (f *CollaboratorFactory) CreateMatcher() interfaces.IPhraseMatcher {
	return speech.NewPhraseMatcher()
}

// CreateAlerter returns the SMS alerter, or the in-memory alerter when
// simulating or when SMS credentials are incomplete.
func (f *CollaboratorFactory) CreateAlerter() interfaces.IAlerter {
	config := f.snapshot()

	sms := notify.SMSConfig{
		APIUser:     config.SMSAPIUser,
		APIPassword: config.SMSAPIPassword,
		DID:         config.SMSDID,
		Destination: config.AlertPhone,
		Attempts:    config.AlertRetryAttempts,
	}

	if config.UseSimulation || config.SimulateAlerts || !sms.Configured() {
		logrus.WithFields(logrus.Fields{
			"function":       "CreateAlerter",
			"type":           "simulation",
			"sms_configured": sms.Configured(),
		}).Warn("Alerts will be logged, not sent")
		return testing.NewSimulatedAlerter()
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateAlerter",
		"type":     "sms",
	}).Info("Creating SMS alerter")
	return notify.NewSMSAlerter(sms)
}

// WithTranscriberTimeout sets the transcription timeout in milliseconds.
func WithTranscriberTimeout(ms int) TestConfigOption {
	return func(c *interfaces.CollaboratorConfig) {
		c.TranscriberTimeout = ms
	}
}

// WithAlertRetryAttempts sets the alert attempts.
func WithAlertRetryAttempts(n int) TestConfigOption {
	return func(c *interfaces.CollaboratorConfig) {
		c.AlertRetryAttempts = n
	}
}

// CreateSimulationForTesting returns in-memory collaborators for tests and
// dry runs. Defaults: TranscriberTimeout=1000ms, AlertRetryAttempts=1.
func (f *CollaboratorFactory) CreateSimulationForTesting(opts ...TestConfigOption) *SimulatedCollaborators {
	testConfig := &interfaces.CollaboratorConfig{
		UseSimulation:      true,
		TranscriberTimeout: 1000,
		AlertRetryAttempts: 1,
	}
	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":            "CreateSimulationForTesting",
		"transcriber_timeout": testConfig.TranscriberTimeout,
		"alert_attempts":      testConfig.AlertRetryAttempts,
	}).Info("Creating simulation collaborators for testing")

	return &SimulatedCollaborators{
		Transcriber: testing.NewSimulatedTranscriber(""),
		Matcher:     speech.NewPhraseMatcher(),
		Alerter:     testing.NewSimulatedAlerter(),
		Config:      testConfig,
	}
}

// SwitchToSimulation switches the configuration to use simulation.
func (f *CollaboratorFactory) SwitchToSimulation() {
	f.setSimulation(true)
}

// SwitchToReal switches the configuration to use real implementations.
func (f *CollaboratorFactory) SwitchToReal() {
	f.setSimulation(false)
}

func (f *CollaboratorFactory) setSimulation(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "setSimulation",
		"previous": f.defaultConfig.UseSimulation,
		"current":  on,
	}).Info("Switching factory mode")

	f.defaultConfig.UseSimulation = on
}

// GetCurrentConfig returns a copy of the current default configuration.
func (f *CollaboratorFactory) GetCurrentConfig() *interfaces.CollaboratorConfig {
	config := f.snapshot()
	return &config
}

// IsUsingSimulation returns true if the factory is configured for simulation.
func (f *CollaboratorFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultConfig.UseSimulation
}

// UpdateConfig replaces the factory's default configuration.
func (f *CollaboratorFactory) UpdateConfig(config *interfaces.CollaboratorConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"old_simulation": f.defaultConfig.UseSimulation,
		"new_simulation": config.UseSimulation,
		"old_timeout":    f.defaultConfig.TranscriberTimeout,
		"new_timeout":    config.TranscriberTimeout,
	}).Info("Updating factory configuration")

	copied := *config
	f.defaultConfig = &copied
	return nil
}
