// Package config loads the project configuration file (daedalus.yml).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RenderConfig is the render section of the project file
type RenderConfig struct {
	// MaxConcurrentResolutions bounds in-flight bridge resolutions
	MaxConcurrentResolutions int `yaml:"max_concurrent_resolutions"`

	// GlobalTimeout bounds a whole render session
	GlobalTimeout time.Duration `yaml:"global_timeout"`

	// PerNodeTimeout bounds one node's resolution
	PerNodeTimeout time.Duration `yaml:"per_node_timeout"`

	// NodeRetries retries failed resolutions
	NodeRetries int `yaml:"node_retries"`

	// FailureMode is "fail-fast" or "best-effort"
	FailureMode string `yaml:"failure_mode"`

	// FallbackMarkup overrides the default best-effort placeholder
	FallbackMarkup string `yaml:"fallback_markup"`
}

// ServerConfig is the dev server section of the project file
type ServerConfig struct {
	// Address is the listen address, e.g. "127.0.0.1:8080"
	Address string `yaml:"address"`

	// SentryDSN enables error reporting when non-empty
	SentryDSN string `yaml:"sentry_dsn"`
}

// Config is the full project configuration
type Config struct {
	// Shell is the path to the HTML document shell
	Shell string `yaml:"shell"`

	// WatchDir is the directory watched for rebuilds; "." by default
	WatchDir string `yaml:"watch_dir"`

	// Assets maps logical asset names to served references
	Assets map[string]string `yaml:"assets"`

	// Render configures render sessions
	Render RenderConfig `yaml:"render"`

	// Server configures the dev server
	Server ServerConfig `yaml:"server"`
}

// Default returns the configuration used when no project file exists
func Default() Config {
	return Config{
		Shell:    "index.html",
		WatchDir: ".",
		Render: RenderConfig{
			MaxConcurrentResolutions: 4,
			GlobalTimeout:            30 * time.Second,
			FailureMode:              "fail-fast",
		},
		Server: ServerConfig{
			Address: "127.0.0.1:8080",
		},
	}
}

// Load reads and validates the project file at path. A missing file yields
// the defaults without error; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Render.MaxConcurrentResolutions <= 0 {
		return fmt.Errorf("max_concurrent_resolutions must be positive")
	}
	switch c.Render.FailureMode {
	case "", "fail-fast", "best-effort":
	default:
		return fmt.Errorf("failure_mode must be fail-fast or best-effort, got %q", c.Render.FailureMode)
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	return nil
}

// BestEffort reports whether the configured failure mode is best-effort
func (c RenderConfig) BestEffort() bool {
	return c.FailureMode == "best-effort"
}
