package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Schedule  ScheduleConfig
	Storage   StorageConfig
	Events    EventsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	AllowOrigins    []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// ScheduleConfig holds the scheduling policy.
type ScheduleConfig struct {
	BufferMinutes      int           `envconfig:"BUFFER_MINUTES" default:"10"`
	HighBufferMinutes  int           `envconfig:"HIGH_BUFFER_MINUTES" default:"15"`
	MaxConsecutiveHigh int           `envconfig:"MAX_CONSECUTIVE_HIGH" default:"2"`
	HorizonDays        int           `envconfig:"HORIZON_DAYS" default:"7"`
	RecoveryHorizon    int           `envconfig:"RECOVERY_HORIZON_DAYS" default:"14"`
	RolloverInterval   time.Duration `envconfig:"ROLLOVER_INTERVAL" default:"1m"`
	MaxBoost           float64       `envconfig:"BALANCE_MAX_BOOST" default:"0.5"`
	BoostScale         float64       `envconfig:"BALANCE_BOOST_SCALE" default:"2.5"`
	Timezone           string        `envconfig:"TIMEZONE" default:"Local"`
}

// StorageConfig holds blueprint and snapshot locations.
type StorageConfig struct {
	DataDir       string `envconfig:"DATA_DIR" default:"./data"`
	BlueprintPath string `envconfig:"BLUEPRINT_PATH" default:""`
	Persist       bool   `envconfig:"PERSIST_ENABLED" default:"true"`
}

// EventsConfig holds progress event delivery configuration.
type EventsConfig struct {
	WebhookURL     string        `envconfig:"PROGRESS_WEBHOOK_URL" default:""`
	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"5s"`
	Buffer         int           `envconfig:"EVENT_BUFFER" default:"256"`
}

// Location resolves the configured timezone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate rejects settings the scheduler cannot work with.
func (c *Config) Validate() error {
	s := c.Schedule
	if s.BufferMinutes < 0 || s.HighBufferMinutes < 0 {
		return fmt.Errorf("buffer minutes must not be negative")
	}
	if s.MaxConsecutiveHigh < 1 {
		return fmt.Errorf("MAX_CONSECUTIVE_HIGH must be at least 1")
	}
	if s.HorizonDays < 1 {
		return fmt.Errorf("HORIZON_DAYS must be at least 1")
	}
	if s.RecoveryHorizon < 1 {
		return fmt.Errorf("RECOVERY_HORIZON_DAYS must be at least 1")
	}
	if s.RolloverInterval <= 0 {
		return fmt.Errorf("ROLLOVER_INTERVAL must be positive")
	}
	if s.MaxBoost < 0 || s.MaxBoost >= 1 {
		return fmt.Errorf("BALANCE_MAX_BOOST must be in [0, 1)")
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	if c.Events.Buffer < 1 {
		return fmt.Errorf("EVENT_BUFFER must be at least 1")
	}
	return nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			AllowOrigins:    []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Schedule: ScheduleConfig{
			BufferMinutes:      10,
			HighBufferMinutes:  15,
			MaxConsecutiveHigh: 2,
			HorizonDays:        7,
			RecoveryHorizon:    14,
			RolloverInterval:   time.Minute,
			MaxBoost:           0.5,
			BoostScale:         2.5,
			Timezone:           "Local",
		},
		Storage: StorageConfig{
			DataDir: "./data",
			Persist: true,
		},
		Events: EventsConfig{
			WebhookTimeout: 5 * time.Second,
			Buffer:         256,
		},
	}
}
