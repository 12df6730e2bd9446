package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"roomchat/internal/protocol"
	"roomchat/internal/render"
)

const (
	LeaveJSON    = "json"
	LeaveLiteral = "literal"
)

type Config struct {
	ServerURL      string
	Protocol       string
	Leave          string
	StateDB        string
	MetricsAddr    string
	Format         string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	LogLevel       slog.Level
}

func Load() (*Config, error) {
	connectTimeout, err := time.ParseDuration(getEnv("ROOMCHAT_CONNECT_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("ROOMCHAT_CONNECT_TIMEOUT: %w", err)
	}

	writeTimeout, err := time.ParseDuration(getEnv("ROOMCHAT_WRITE_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("ROOMCHAT_WRITE_TIMEOUT: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("ROOMCHAT_LOG_LEVEL", "warn"))); err != nil {
		return nil, fmt.Errorf("ROOMCHAT_LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		ServerURL:      getEnv("ROOMCHAT_SERVER_URL", "ws://localhost:8080"),
		Protocol:       getEnv("ROOMCHAT_PROTOCOL", protocol.NameStructured),
		Leave:          getEnv("ROOMCHAT_LEAVE", LeaveJSON),
		StateDB:        getEnv("ROOMCHAT_STATE_DB", "roomchat.db"),
		MetricsAddr:    os.Getenv("ROOMCHAT_METRICS_ADDR"),
		Format:         getEnv("ROOMCHAT_FORMAT", render.FormatText),
		ConnectTimeout: connectTimeout,
		WriteTimeout:   writeTimeout,
		LogLevel:       level,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("ROOMCHAT_SERVER_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("ROOMCHAT_SERVER_URL must use ws or wss, got %q", u.Scheme)
	}

	if c.Protocol != protocol.NameStructured && c.Protocol != protocol.NameTextual {
		return fmt.Errorf("ROOMCHAT_PROTOCOL must be %q or %q", protocol.NameStructured, protocol.NameTextual)
	}

	if c.Leave != LeaveJSON && c.Leave != LeaveLiteral {
		return fmt.Errorf("ROOMCHAT_LEAVE must be %q or %q", LeaveJSON, LeaveLiteral)
	}

	if c.Format != render.FormatText && c.Format != render.FormatHTML {
		return fmt.Errorf("ROOMCHAT_FORMAT must be %q or %q", render.FormatText, render.FormatHTML)
	}

	if c.StateDB == "" {
		return fmt.Errorf("ROOMCHAT_STATE_DB is required")
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("ROOMCHAT_CONNECT_TIMEOUT must not be negative")
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("ROOMCHAT_WRITE_TIMEOUT must be greater than 0")
	}

	return nil
}

// Codec builds the wire codec selected by the configuration.
func (c *Config) Codec() (protocol.Codec, error) {
	return protocol.New(c.Protocol, c.Leave == LeaveLiteral)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
