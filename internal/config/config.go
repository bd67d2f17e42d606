package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	Emitter EmitterConfig
	Log     LogConfig
	Redis   RedisConfig
}

// EmitterConfig holds dispatch defaults
type EmitterConfig struct {
	DefaultTimeout time.Duration
}

// LogConfig holds logrus settings
type LogConfig struct {
	Level  logrus.Level
	Format string // text or json
}

// RedisConfig holds settings for the mirror and the journal. An empty Addr
// disables both.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	JournalTTL    time.Duration
}

// Enabled reports whether Redis observers should be attached.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// Load loads configuration from environment variables
func Load() (*Config, error) {
	timeout, err := getEnvAsDurationOrDefault("EMITTER_DEFAULT_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, err
	}
	if timeout < 0 {
		return nil, fmt.Errorf("EMITTER_DEFAULT_TIMEOUT must not be negative")
	}

	level, err := logrus.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	format := getEnvOrDefault("LOG_FORMAT", "text")
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", format)
	}

	db, err := getEnvAsIntOrDefault("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	ttl, err := getEnvAsDurationOrDefault("JOURNAL_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		Emitter: EmitterConfig{DefaultTimeout: timeout},
		Log:     LogConfig{Level: level, Format: format},
		Redis: RedisConfig{
			Addr:          os.Getenv("REDIS_ADDR"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            db,
			ChannelPrefix: getEnvOrDefault("MIRROR_CHANNEL_PREFIX", "eventemitter"),
			JournalTTL:    ttl,
		},
	}, nil
}

// Logger builds a logrus logger from the log settings.
func (c LogConfig) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return intValue, nil
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
