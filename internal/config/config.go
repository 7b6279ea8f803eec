package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all PrivaSense configuration.
type Config struct {
	// Feature toggles
	Features FeaturesConfig `yaml:"features"`

	// Incognito detection
	Incognito IncognitoConfig `yaml:"incognito"`

	// Motion-based activity classification
	Activity ActivityConfig `yaml:"activity"`

	// Browser host (go-rod)
	Browser BrowserConfig `yaml:"browser"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// FeaturesConfig enables or disables each detector.
type FeaturesConfig struct {
	Incognito bool `yaml:"incognito"`
	Activity  bool `yaml:"activity"`
	Storage   bool `yaml:"storage"`
}

// IncognitoConfig configures private-mode detection.
type IncognitoConfig struct {
	NormalLabel    string `yaml:"normal_label"`
	IncognitoLabel string `yaml:"incognito_label"`
	Timeout        string `yaml:"timeout"`
}

// ActivityConfig configures the motion tracker.
type ActivityConfig struct {
	HistoryLength    int     `yaml:"history_length"`
	WalkingThreshold float64 `yaml:"walking_threshold"`
	Warmup           string  `yaml:"warmup"`
	PollInterval     string  `yaml:"poll_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Features: FeaturesConfig{
			Incognito: true,
			Activity:  true,
			Storage:   true,
		},

		Incognito: IncognitoConfig{
			NormalLabel:    "✅",
			IncognitoLabel: "❌",
			Timeout:        "1s",
		},

		Activity: ActivityConfig{
			HistoryLength:    100,
			WalkingThreshold: 2.0,
			Warmup:           "500ms",
			PollInterval:     "500ms",
		},

		Browser: DefaultBrowserConfig(),

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
			// Defaults
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	envBool("PRIVASENSE_INCOGNITO", &c.Features.Incognito)
	envBool("PRIVASENSE_ACTIVITY", &c.Features.Activity)
	envBool("PRIVASENSE_STORAGE", &c.Features.Storage)

	if label := os.Getenv("PRIVASENSE_NORMAL_LABEL"); label != "" {
		c.Incognito.NormalLabel = label
	}
	if label := os.Getenv("PRIVASENSE_INCOGNITO_LABEL"); label != "" {
		c.Incognito.IncognitoLabel = label
	}

	if url := os.Getenv("PRIVASENSE_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	envBool("PRIVASENSE_HEADLESS", &c.Browser.Headless)
}

// envBool overwrites dst when key holds a parseable boolean.
func envBool(key string, dst *bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return
	}
	*dst = v
}

// GetIncognitoTimeout returns the detection deadline as a duration.
func (c *Config) GetIncognitoTimeout() time.Duration {
	return parseDuration(c.Incognito.Timeout, time.Second)
}

// GetActivityWarmup returns how long the tracker collects samples before
// it reports itself initialized.
func (c *Config) GetActivityWarmup() time.Duration {
	return parseDuration(c.Activity.Warmup, 500*time.Millisecond)
}

// GetActivityPollInterval returns how often motion samples are drained.
func (c *Config) GetActivityPollInterval() time.Duration {
	return parseDuration(c.Activity.PollInterval, 500*time.Millisecond)
}

// GetHistoryLength returns the magnitude history size.
func (c *Config) GetHistoryLength() int {
	if c.Activity.HistoryLength <= 0 {
		return 100
	}
	return c.Activity.HistoryLength
}

// GetWalkingThreshold returns the variance above which motion counts as walking.
func (c *Config) GetWalkingThreshold() float64 {
	if c.Activity.WalkingThreshold <= 0 {
		return 2.0
	}
	return c.Activity.WalkingThreshold
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
