// Package config loads service and CLI settings from an optional YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"taxifleet/internal/opt"
)

type Config struct {
	Port          string  `yaml:"port"`
	DatabaseURL   string  `yaml:"databaseUrl"`
	Migrate       bool    `yaml:"migrate"`
	MigrationsDir string  `yaml:"migrationsDir"`
	RedisURL      string  `yaml:"redisUrl"`
	RateRPS       float64 `yaml:"rateRps"`
	RateBurst     int     `yaml:"rateBurst"`

	Auth     AuthConfig    `yaml:"auth"`
	Webhooks WebhookConfig `yaml:"webhooks"`

	// Region is the county code treated as inside the study area.
	Region    string       `yaml:"region"`
	Optimizer opt.Params   `yaml:"optimizer"`
	Sources   []SourceSpec `yaml:"sources"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev, hmac, jwks
	HMACSecret string `yaml:"hmacSecret"`
	JWKSURL    string `yaml:"jwksUrl"`
}

type WebhookConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
}

// SourceSpec names a file-backed demand data set that runs can reference.
type SourceSpec struct {
	Name     string   `yaml:"name"`
	Stations string   `yaml:"stations"`
	Trips    []string `yaml:"trips"`
}

func Default() Config {
	return Config{
		Port:          "8080",
		Migrate:       true,
		MigrationsDir: "db/migrations",
		RateRPS:       20,
		RateBurst:     40,
		Auth:          AuthConfig{Mode: "dev"},
		Webhooks:      WebhookConfig{MaxAttempts: 10},
		Optimizer:     opt.DefaultParams(),
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides. FLEET_CONFIG is used when path is empty.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		path = os.Getenv("FLEET_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	c.Optimizer = c.Optimizer.WithDefaults()
	if err := c.Optimizer.Validate(); err != nil {
		return Config{}, fmt.Errorf("optimizer: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.Migrate = v != "false"
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		c.Auth.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("AUTH_HMAC_SECRET"); v != "" {
		c.Auth.HMACSecret = v
	}
	if v := os.Getenv("AUTH_JWKS_URL"); v != "" {
		c.Auth.JWKSURL = v
	}
	if v := os.Getenv("REGION"); v != "" {
		c.Region = v
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		c.RateRPS = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		c.RateBurst = n
	}
	if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Webhooks.MaxAttempts = n
		}
	}
	return nil
}

// Source looks up a named data set.
func (c Config) Source(name string) (SourceSpec, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceSpec{}, false
}
