package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lmhub/modelpull/internal/progress"
)

// Config defines configuration for the modelpull CLI.
type Config struct {
	// ModelsDir is the destination directory for downloaded models.
	ModelsDir string `yaml:"models_dir"`

	// CatalogPath optionally points at a YAML catalog file merged over
	// the built-in catalog.
	CatalogPath string `yaml:"catalog"`

	// Token is the bearer token attached to download requests.
	Token string `yaml:"token"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `yaml:"user_agent"`

	// RateLimit caps download bandwidth in bytes per second. 0 = off.
	RateLimit int64 `yaml:"rate_limit"`

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReadTimeout bounds response reads.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Progress enables progress output.
	Progress bool `yaml:"progress"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ModelsDir:      "models",
		ConnectTimeout: 15 * time.Second,
		ReadTimeout:    2 * time.Minute,
		Progress:       true,
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable strings.
type yamlConfig struct {
	ModelsDir      string `yaml:"models_dir"`
	CatalogPath    string `yaml:"catalog"`
	Token          string `yaml:"token"`
	UserAgent      string `yaml:"user_agent"`
	RateLimit      string `yaml:"rate_limit"`
	ConnectTimeout string `yaml:"connect_timeout"`
	ReadTimeout    string `yaml:"read_timeout"`
	Progress       *bool  `yaml:"progress"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.ModelsDir != "" {
		cfg.ModelsDir = yc.ModelsDir
	}
	if yc.CatalogPath != "" {
		cfg.CatalogPath = yc.CatalogPath
	}
	if yc.Token != "" {
		cfg.Token = yc.Token
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.RateLimit != "" {
		limit, err := progress.ParseBytes(yc.RateLimit)
		if err != nil {
			return Config{}, fmt.Errorf("parse rate_limit: %w", err)
		}
		cfg.RateLimit = limit
	}
	if yc.ConnectTimeout != "" {
		d, err := time.ParseDuration(yc.ConnectTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if yc.ReadTimeout != "" {
		d, err := time.ParseDuration(yc.ReadTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if yc.Progress != nil {
		cfg.Progress = *yc.Progress
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Variables use the MODELPULL_ prefix; HF_TOKEN is also honored as the
// conventional token variable.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MODELPULL_MODELS_DIR"); v != "" {
		c.ModelsDir = v
	}
	if v := os.Getenv("MODELPULL_CATALOG"); v != "" {
		c.CatalogPath = v
	}
	if v := os.Getenv("MODELPULL_TOKEN"); v != "" {
		c.Token = v
	} else if v := os.Getenv("HF_TOKEN"); v != "" && c.Token == "" {
		c.Token = v
	}
	if v := os.Getenv("MODELPULL_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("MODELPULL_RATE_LIMIT"); v != "" {
		limit, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse MODELPULL_RATE_LIMIT: %w", err)
		}
		c.RateLimit = limit
	}
	if v := os.Getenv("MODELPULL_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse MODELPULL_CONNECT_TIMEOUT: %w", err)
		}
		c.ConnectTimeout = d
	}
	if v := os.Getenv("MODELPULL_READ_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse MODELPULL_READ_TIMEOUT: %w", err)
		}
		c.ReadTimeout = d
	}
	if v := os.Getenv("MODELPULL_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return errors.New("config: models_dir is required")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("config: connect_timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("config: read_timeout must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.ModelsDir != "" {
		c.ModelsDir = override.ModelsDir
	}
	if override.CatalogPath != "" {
		c.CatalogPath = override.CatalogPath
	}
	if override.Token != "" {
		c.Token = override.Token
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.ConnectTimeout != 0 {
		c.ConnectTimeout = override.ConnectTimeout
	}
	if override.ReadTimeout != 0 {
		c.ReadTimeout = override.ReadTimeout
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	return c
}
