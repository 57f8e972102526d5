// Package config loads apmkit configuration from YAML files and APMKIT_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vitwit/apmkit/types"
	"github.com/vitwit/apmkit/utils"
)

const (
	EnvPrefix      = "APMKIT"
	DefaultBaseURL = "https://api.processout.com"
)

// DefaultConfig returns the default configuration. ProjectID is left empty.
func DefaultConfig() *types.Config {
	return &types.Config{
		BaseURL:             DefaultBaseURL,
		Locale:              "en-US",
		RequestTimeout:      30 * time.Second,
		RetryCount:          3,
		RetryInterval:       100 * time.Millisecond,
		RetryRate:           3,
		ConfirmationTimeout: 3 * time.Minute,
		PollInterval:        3 * time.Second,
		LogLevel:            "info",
		Telemetry: types.TelemetryConfig{
			Enabled:                  false,
			BatchSize:                20,
			FlushInterval:            10 * time.Second,
			MaxConcurrentSubmissions: 2,
		},
	}
}

// Load reads path (when not empty) over the defaults, applies environment
// overrides such as APMKIT_PROJECT_ID or APMKIT_TELEMETRY_BATCH_SIZE and
// validates the result.
func Load(path string) (*types.Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &types.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file omits them.
func setDefaults(v *viper.Viper, cfg *types.Config) {
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("private_key", cfg.PrivateKey)
	v.SetDefault("locale", cfg.Locale)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("retry_count", cfg.RetryCount)
	v.SetDefault("retry_interval", cfg.RetryInterval)
	v.SetDefault("retry_rate", cfg.RetryRate)
	v.SetDefault("confirmation_timeout", cfg.ConfirmationTimeout)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("return_url", cfg.ReturnURL)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("enable_metrics", cfg.EnableMetrics)
	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.batch_size", cfg.Telemetry.BatchSize)
	v.SetDefault("telemetry.flush_interval", cfg.Telemetry.FlushInterval)
	v.SetDefault("telemetry.max_concurrent_submissions", cfg.Telemetry.MaxConcurrentSubmissions)
}

// WriteDefault writes the default configuration to path as YAML. Existing
// files are left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := "# apmkit configuration\n" + string(data)
	return os.WriteFile(path, []byte(content), 0o600)
}
