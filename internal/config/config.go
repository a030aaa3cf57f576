// Package config loads client settings from the environment and an optional YAML file.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the client settings.
type Config struct {
	APIURL      string        `yaml:"api_url" env:"BUYVIA_API_URL" env-default:"http://localhost:8000"`
	Timeout     time.Duration `yaml:"timeout" env:"BUYVIA_TIMEOUT" env-default:"30s"`
	SettleDelay time.Duration `yaml:"settle_delay" env:"BUYVIA_SETTLE_DELAY" env-default:"3s"`
	ConfigDir   string        `yaml:"config_dir" env:"BUYVIA_CONFIG_DIR"` // empty means auth.DefaultDir
	Debug       bool          `yaml:"debug" env:"BUYVIA_DEBUG" env-default:"false"`
}

// Load reads path when non-empty, then the environment, which wins over the file.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("config: api_url %q is not an absolute URL", c.APIURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("config: settle_delay must not be negative, got %s", c.SettleDelay)
	}
	return nil
}

// Usage describes the environment variables Config reads.
func Usage() string {
	var cfg Config
	s, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return s
}
