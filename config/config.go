package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/layer-3/sessionkit/issuer"
	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvIssuerURL = "SESSIONKIT_ISSUER_URL"
	EnvRedisURL  = "SESSIONKIT_REDIS_URL"
	EnvLogLevel  = "SESSIONKIT_LOG_LEVEL"
)

// Config is the configuration of a session client and, optionally, of the
// reference issuing server
type Config struct {
	Issuer  IssuerConfig  `yaml:"issuer" validate:"required"`
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
	Server  *ServerConfig `yaml:"server,omitempty"`
}

type IssuerConfig struct {
	URL     string `yaml:"url" validate:"required,url"`
	Timeout string `yaml:"timeout" validate:"duration"`
}

// APIConfig configures requests sent through the session pipeline
type APIConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Timeout string `yaml:"timeout" validate:"duration"`
}

type SessionConfig struct {
	Skew            string   `yaml:"skew" validate:"duration"`
	RenewalTimeout  string   `yaml:"renewal_timeout" validate:"duration"`
	LogoutTimeout   string   `yaml:"logout_timeout" validate:"duration"`
	VerifyOnRestore bool     `yaml:"verify_on_restore"`
	Permissions     []string `yaml:"permissions" validate:"dive,required"`
}

// StorageConfig selects the durable tier. Without a redis URL the durable
// tier lives in memory and does not survive restarts.
type StorageConfig struct {
	RedisURL string `yaml:"redis_url" validate:"omitempty,url"`
	Prefix   string `yaml:"prefix"`
	TTL      string `yaml:"ttl" validate:"duration"`
}

type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// ServerConfig configures the reference issuing server
type ServerConfig struct {
	Addr       string        `yaml:"addr" validate:"required"`
	AccessTTL  string        `yaml:"access_ttl" validate:"duration"`
	RefreshTTL string        `yaml:"refresh_ttl" validate:"duration"`
	Users      []issuer.User `yaml:"users" validate:"dive"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Issuer: IssuerConfig{
			URL:     "http://localhost:9000/auth",
			Timeout: "10s",
		},
		API: APIConfig{
			Timeout: "30s",
		},
		Session: SessionConfig{
			Skew:           "5m",
			RenewalTimeout: "15s",
			LogoutTimeout:  "5s",
		},
		Storage: StorageConfig{
			Prefix: "sessionkit:",
		},
		Events: EventsConfig{
			Topic: "sessionkit.session",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvIssuerURL); ok && v != "" {
		c.Issuer.URL = v
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.Storage.RedisURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d >= 0
}

// Duration parses s, returning def when s is empty. Values are validated
// before use, so a parse failure also yields def.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
