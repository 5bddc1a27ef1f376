/*
Package configs loads the relay server settings.

Values start from built-in defaults, are overlaid by an optional TOML file named
by CONFIG_FILE, and finally by individual environment variables. The result is
validated before it is returned.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AppConfig contains every setting the server needs at runtime.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int
	LogLevel    string

	// Security Settings
	AllowedOrigins []string
	ConnectRate    float64
	ConnectBurst   int

	// Relay Policy
	RateLimitMessages int
	RateLimitWindow   time.Duration
	HeartbeatInterval time.Duration
	HistoryLimit      int
	MaxFieldLength    int
	MaxChatLength     int
	MaxFrameBytes     int64
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// fileConfig mirrors the optional TOML file. Durations are Go duration strings.
type fileConfig struct {
	Server struct {
		Environment    string   `toml:"environment"`
		Port           int      `toml:"port"`
		LogLevel       string   `toml:"log_level"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"server"`
	Limits struct {
		RateLimitMessages int     `toml:"rate_limit_messages"`
		RateLimitWindow   string  `toml:"rate_limit_window"`
		HistoryLimit      int     `toml:"history_limit"`
		MaxFieldLength    int     `toml:"max_field_length"`
		MaxChatLength     int     `toml:"max_chat_length"`
		MaxFrameBytes     int64   `toml:"max_frame_bytes"`
		ConnectRate       float64 `toml:"connect_rate"`
		ConnectBurst      int     `toml:"connect_burst"`
	} `toml:"limits"`
	Heartbeat struct {
		Interval string `toml:"interval"`
	} `toml:"heartbeat"`
}

// Default returns the built-in settings.
func Default() *AppConfig {
	return &AppConfig{
		Environment:       "development",
		Port:              8080,
		AllowedOrigins:    []string{},
		ConnectRate:       1,
		ConnectBurst:      10,
		RateLimitMessages: 5,
		RateLimitWindow:   5 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		HistoryLimit:      50,
		MaxFieldLength:    20,
		MaxChatLength:     200,
		MaxFrameBytes:     8192,
	}
}

// LoadConfig builds the configuration from defaults, CONFIG_FILE and the
// environment, in that order of increasing precedence.
func LoadConfig() (*AppConfig, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFile(cfg *AppConfig, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Server.Environment != "" {
		cfg.Environment = fc.Server.Environment
	}
	if fc.Server.Port != 0 {
		cfg.Port = fc.Server.Port
	}
	if fc.Server.LogLevel != "" {
		cfg.LogLevel = fc.Server.LogLevel
	}
	if len(fc.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = normalizeOrigins(fc.Server.AllowedOrigins)
	}

	l := fc.Limits
	if l.RateLimitMessages != 0 {
		cfg.RateLimitMessages = l.RateLimitMessages
	}
	if l.HistoryLimit != 0 {
		cfg.HistoryLimit = l.HistoryLimit
	}
	if l.MaxFieldLength != 0 {
		cfg.MaxFieldLength = l.MaxFieldLength
	}
	if l.MaxChatLength != 0 {
		cfg.MaxChatLength = l.MaxChatLength
	}
	if l.MaxFrameBytes != 0 {
		cfg.MaxFrameBytes = l.MaxFrameBytes
	}
	if l.ConnectRate != 0 {
		cfg.ConnectRate = l.ConnectRate
	}
	if l.ConnectBurst != 0 {
		cfg.ConnectBurst = l.ConnectBurst
	}

	var err error
	if l.RateLimitWindow != "" {
		if cfg.RateLimitWindow, err = time.ParseDuration(l.RateLimitWindow); err != nil {
			return fmt.Errorf("invalid limits.rate_limit_window in %s: %w", path, err)
		}
	}
	if fc.Heartbeat.Interval != "" {
		if cfg.HeartbeatInterval, err = time.ParseDuration(fc.Heartbeat.Interval); err != nil {
			return fmt.Errorf("invalid heartbeat.interval in %s: %w", path, err)
		}
	}

	return nil
}

func applyEnv(cfg *AppConfig) error {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = normalizeOrigins(strings.Split(origins, ","))
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &cfg.Port},
		{"RATE_LIMIT_MESSAGES", &cfg.RateLimitMessages},
		{"HISTORY_LIMIT", &cfg.HistoryLimit},
		{"MAX_FIELD_LENGTH", &cfg.MaxFieldLength},
		{"MAX_CHAT_LENGTH", &cfg.MaxChatLength},
		{"CONNECT_BURST", &cfg.ConnectBurst},
	}
	for _, item := range ints {
		raw := os.Getenv(item.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s environment variable: %w", item.key, err)
		}
		*item.dst = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RATE_LIMIT_WINDOW", &cfg.RateLimitWindow},
		{"HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
	}
	for _, item := range durations {
		raw := os.Getenv(item.key)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s environment variable: %w", item.key, err)
		}
		*item.dst = v
	}

	if raw := os.Getenv("MAX_FRAME_BYTES"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_FRAME_BYTES environment variable: %w", err)
		}
		cfg.MaxFrameBytes = v
	}

	if raw := os.Getenv("CONNECT_RATE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid CONNECT_RATE environment variable: %w", err)
		}
		cfg.ConnectRate = v
	}

	return nil
}

// Validate checks ranges that would make the server misbehave.
func (c *AppConfig) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the allowed range (1024-65535)", c.Port)
	}
	if c.RateLimitMessages < 1 {
		return fmt.Errorf("rate limit must allow at least one message per window, got %d", c.RateLimitMessages)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimitWindow)
	}
	if c.HeartbeatInterval < time.Second {
		return fmt.Errorf("heartbeat interval must be at least 1s, got %s", c.HeartbeatInterval)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	if c.MaxFieldLength < 1 || c.MaxChatLength < 1 {
		return fmt.Errorf("length limits must be positive (field %d, chat %d)", c.MaxFieldLength, c.MaxChatLength)
	}
	if c.MaxFrameBytes < 256 {
		return fmt.Errorf("max frame size must be at least 256 bytes, got %d", c.MaxFrameBytes)
	}
	if c.ConnectRate <= 0 || c.ConnectBurst < 1 {
		return fmt.Errorf("connect limiter needs a positive rate and burst (rate %v, burst %d)", c.ConnectRate, c.ConnectBurst)
	}
	return nil
}

func normalizeOrigins(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, origin := range raw {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
