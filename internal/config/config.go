// Package config holds the replay session configuration, loadable from an
// optional YAML file with environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dinsight-analytics/stream-replay/internal/schema"
)

// Config is the full configuration surface of one replay session.
type Config struct {
	// APIBaseURL is the backend base URL, e.g. "http://localhost:8080/api/v1".
	APIBaseURL string `yaml:"api_base_url"`

	// BaselineID reuses an existing processed baseline. Mutually exclusive
	// with BaselineFile.
	BaselineID int64 `yaml:"baseline_id"`
	// BaselineFile uploads a new baseline table and waits for processing.
	BaselineFile string `yaml:"baseline_file"`

	MonitorFile string `yaml:"monitor_file"`

	// DelaySeconds paces consecutive batches.
	DelaySeconds float64 `yaml:"delay_seconds"`
	BatchSize    int     `yaml:"batch_size"`
	// LatestGlowCount is a display hint passed through to the backend.
	LatestGlowCount int `yaml:"latest_glow_count"`
	RetryBudget     int `yaml:"retry_budget"`

	// MaxFrequency and MaxIndex optionally narrow the feature set; at most
	// one may be set.
	MaxFrequency *float64 `yaml:"max_frequency"`
	MaxIndex     *int     `yaml:"max_index"`

	IncludeMetadata bool `yaml:"include_metadata"`

	// WorkDir holds per-batch transmission tables for the duration of one
	// send; the session clears it on every exit path.
	WorkDir string `yaml:"work_dir"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		APIBaseURL:      "http://localhost:8080/api/v1",
		DelaySeconds:    2.0,
		BatchSize:       1,
		LatestGlowCount: 10,
		RetryBudget:     2,
		IncludeMetadata: true,
		WorkDir:         "temp_streaming",
	}
}

// Load returns the defaults overlaid with the YAML file at path (when path
// is non-empty) and then with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("DINSIGHT_API_URL")); v != "" {
		c.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DINSIGHT_WORK_DIR")); v != "" {
		c.WorkDir = v
	}

	var err error
	if c.DelaySeconds, err = envFloat("DINSIGHT_DELAY_SECONDS", c.DelaySeconds); err != nil {
		return err
	}
	if c.BatchSize, err = envInt("DINSIGHT_BATCH_SIZE", c.BatchSize); err != nil {
		return err
	}
	if c.RetryBudget, err = envInt("DINSIGHT_RETRY_BUDGET", c.RetryBudget); err != nil {
		return err
	}
	if c.LatestGlowCount, err = envInt("DINSIGHT_GLOW_COUNT", c.LatestGlowCount); err != nil {
		return err
	}
	return nil
}

// Validate checks cross-field constraints before a session starts.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api base URL is required")
	}
	if strings.TrimSpace(c.MonitorFile) == "" {
		return fmt.Errorf("monitor file is required")
	}
	hasID := c.BaselineID != 0
	hasFile := strings.TrimSpace(c.BaselineFile) != ""
	if hasID == hasFile {
		return fmt.Errorf("exactly one of baseline id or baseline file is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay must not be negative, got %g", c.DelaySeconds)
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("retry budget must not be negative, got %d", c.RetryBudget)
	}
	if c.MaxFrequency != nil && c.MaxIndex != nil {
		return fmt.Errorf("max frequency and max feature index are mutually exclusive")
	}
	return nil
}

// Limits converts the configured feature ceilings.
func (c Config) Limits() schema.Limits {
	return schema.Limits{
		MaxFrequency: c.MaxFrequency,
		MaxIndex:     c.MaxIndex,
	}
}

// Delay returns the inter-batch pacing delay as a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
