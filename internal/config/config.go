// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the override variables, e.g.
// DISPATCH_SERVER_PORT=8080.
const envPrefix = "DISPATCH_"

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	SMTP       SMTPConfig       `koanf:"smtp"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	CORS       CORSConfig       `koanf:"cors"`
	Log        LogConfig        `koanf:"log"`
}

// ServerConfig configures the HTTP API and metrics servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL connection. An empty URL
// selects the in-memory store, for local development only.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"min=1"`
	Migrate         bool          `koanf:"migrate"`
}

// SMTPConfig configures the outbound mail relay.
type SMTPConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	User        string        `koanf:"user"`
	Password    string        `koanf:"password"`
	FromAddress string        `koanf:"from_address"`
	RateLimit   float64       `koanf:"rate_limit"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// DispatcherConfig configures the background send loops.
type DispatcherConfig struct {
	Enabled               bool          `koanf:"enabled"`
	PollInterval          time.Duration `koanf:"poll_interval"`
	BatchSize             int           `koanf:"batch_size" validate:"min=1"`
	LeaseTimeout          time.Duration `koanf:"lease_timeout"`
	StoreFailureThreshold int           `koanf:"store_failure_threshold" validate:"min=1"`
	StoreRetryBackoff     time.Duration `koanf:"store_retry_backoff"`
}

// RateLimitConfig configures the send rate limiter.
type RateLimitConfig struct {
	Window      time.Duration `koanf:"window"`
	GlobalLimit int           `koanf:"global_limit" validate:"min=0"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// Default returns the configuration used when neither file nor
// environment sets a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			Migrate:         true,
		},
		SMTP: SMTPConfig{
			Port:        587,
			DialTimeout: 10 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			Enabled:               true,
			PollInterval:          time.Second,
			BatchSize:             100,
			LeaseTimeout:          5 * time.Minute,
			StoreFailureThreshold: 10,
			StoreRetryBackoff:     time.Second,
		},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the given YAML file (optional, may be
// empty) and applies DISPATCH_* environment overrides on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// DISPATCH_DATABASE_URL -> database.url. Section names contain no
	// underscores, so only the first one splits.
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		key = strings.Replace(key, "_", ".", 1)
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("validate config: smtp.host is required when smtp is enabled")
		}
		if c.SMTP.FromAddress == "" {
			return fmt.Errorf("validate config: smtp.from_address is required when smtp is enabled")
		}
	}
	return nil
}
