// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
)

const envPrefix = "DIPLOBOT_"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Power       string
	GameID      string // empty creates a new game
	Decision    DecisionConfig
	Negotiation NegotiationConfig
	Resilience  ResilienceConfig
	Journal     JournalConfig
	StatusAddr  string
	LogLevel    string
}

// ServerConfig locates the game server.
type ServerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// DecisionConfig selects the decision service. An empty Addr uses the
// built-in fallback decider.
type DecisionConfig struct {
	Model string
	Addr  string
}

// NegotiationConfig bounds each movement phase negotiation.
type NegotiationConfig struct {
	Rounds int
	Delay  time.Duration
}

// ResilienceConfig tunes the retry wrapper and the session poll loop.
type ResilienceConfig struct {
	ConnectionTimeout time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	PollInterval      time.Duration
}

// JournalConfig controls the SQLite diary.
type JournalConfig struct {
	Enabled   bool
	Path      string
	Retention time.Duration // 0 keeps everything
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:     getEnv("HOST", "localhost"),
			Port:     getEnvInt("PORT", 8432),
			Username: getEnv("USERNAME", ""),
			Password: getEnv("PASSWORD", "password"),
		},
		Power:  domain.NormalizePower(getEnv("POWER", "FRANCE")),
		GameID: getEnv("GAME_ID", ""),
		Decision: DecisionConfig{
			Model: getEnv("MODEL", "default"),
			Addr:  getEnv("DECISION_ADDR", ""),
		},
		Negotiation: NegotiationConfig{
			Rounds: getEnvInt("NEGOTIATION_ROUNDS", 3),
			Delay:  getEnvDuration("NEGOTIATION_DELAY", 10*time.Second),
		},
		Resilience: ResilienceConfig{
			ConnectionTimeout: getEnvDuration("CONNECTION_TIMEOUT", 30*time.Second),
			MaxRetries:        getEnvInt("MAX_RETRIES", 3),
			RetryDelay:        getEnvDuration("RETRY_DELAY", 2*time.Second),
			PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		},
		Journal: JournalConfig{
			Enabled:   getEnvBool("JOURNAL_ENABLED", true),
			Path:      getEnv("JOURNAL_PATH", "./data/journal.db"),
			Retention: getEnvDuration("JOURNAL_RETENTION", 0),
		},
		StatusAddr: getEnv("STATUS_ADDR", ":8090"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("HOST cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.Power == "" {
		return fmt.Errorf("POWER cannot be empty")
	}
	if c.Negotiation.Rounds < 1 {
		return fmt.Errorf("NEGOTIATION_ROUNDS must be >= 1")
	}
	if c.Negotiation.Delay < 0 {
		return fmt.Errorf("NEGOTIATION_DELAY must be >= 0")
	}
	if c.Resilience.ConnectionTimeout <= 0 {
		return fmt.Errorf("CONNECTION_TIMEOUT must be > 0")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0")
	}
	if c.Resilience.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY must be >= 0")
	}
	if c.Resilience.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("JOURNAL_PATH cannot be empty when the journal is enabled")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// UsernameFor returns the configured username, or bot_<power> when unset.
func (c *Config) UsernameFor(power string) string {
	if c.Server.Username != "" {
		return c.Server.Username
	}
	return "bot_" + strings.ToLower(domain.NormalizePower(power))
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", level)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("1m30s") or plain seconds ("2.5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	d, err := ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ParseDuration parses a Go duration or a number of seconds.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	return d, nil
}
