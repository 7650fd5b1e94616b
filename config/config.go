// Package config provides configuration management for prepd.
// It supports loading configuration from a YAML file with environment
// variable overrides. The configuration is loaded once at startup into an
// immutable, validated struct; malformed classification rules are rejected
// at load time rather than at classification time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".prepd"
	DefaultConfigFile = "config.yaml"

	DefaultLookaheadDays  = 14
	DefaultSyncInterval   = 2 * time.Hour
	DefaultGateTimeout    = 24 * time.Hour
	DefaultReminderOffset = 2 * time.Hour
	DefaultPrepHours      = 24
)

// Config is the root prepd configuration.
type Config struct {
	Service        ServiceConfig        `yaml:"service"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Calendar       CalendarConfig       `yaml:"calendar"`
	Sync           SyncConfig           `yaml:"sync"`
	Classification ClassificationConfig `yaml:"classification"`
	Channels       ChannelsConfig       `yaml:"channels"`
	Workflow       WorkflowConfig       `yaml:"workflow"`
	Workers        WorkersConfig        `yaml:"workers"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Environment is included in all log entries (e.g., "development", "production").
	Environment string `yaml:"environment"`

	// JSONLogs enables JSON log output (default true outside development).
	JSONLogs bool `yaml:"json_logs"`

	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection settings for the event bus and the
// durable timer store.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// CalendarConfig holds calendar provider connection settings.
type CalendarConfig struct {
	// Source identifies the provider in stored meetings (e.g. "google").
	Source string `yaml:"source"`

	// Endpoint is the provider gateway base URL.
	Endpoint string `yaml:"endpoint"`

	// Token authenticates to the provider. Env overlay: PREPD_CALENDAR_TOKEN.
	Token string `yaml:"token,omitempty"`

	// Timeout bounds each fetch.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SyncConfig holds calendar synchronizer settings.
type SyncConfig struct {
	// LookaheadDays is the forward window of events fetched per user.
	LookaheadDays int `yaml:"lookahead_days"`

	// Interval is how often the periodic sync pass runs under `prepd serve`.
	Interval time.Duration `yaml:"interval"`
}

// Rule is one ordered meeting classification rule. A meeting matches when
// any keyword appears in its lower-cased, punctuation-stripped
// title+description and the attendee-count bounds (when present) hold.
type Rule struct {
	// Type is the meeting type this rule assigns.
	Type string `yaml:"type"`

	// Keywords are matched case-insensitively against title+description.
	Keywords []string `yaml:"keywords"`

	// MinAttendees / MaxAttendees bound the attendee count; nil means unbounded.
	MinAttendees *int `yaml:"min_attendees,omitempty"`
	MaxAttendees *int `yaml:"max_attendees,omitempty"`

	// PrepHoursBefore is how many hours before start the prep trigger fires.
	PrepHoursBefore int `yaml:"prep_hours_before"`
}

// ClassificationConfig holds the ordered rule table plus the fallback rule.
type ClassificationConfig struct {
	// Rules are evaluated in order; the first match wins.
	Rules []Rule `yaml:"rules"`

	// DefaultPrepHours applies when no rule matches (type "unknown").
	DefaultPrepHours int `yaml:"default_prep_hours"`
}

// TransportConfig configures one notification transport endpoint.
type TransportConfig struct {
	// Endpoint is the transport's HTTP endpoint (webhook URL or gateway base URL).
	Endpoint string `yaml:"endpoint"`

	// Token authenticates to the transport. Env overlay:
	// PREPD_CHAT_TOKEN, PREPD_SMS_TOKEN, PREPD_EMAIL_TOKEN.
	Token string `yaml:"token,omitempty"`

	// From is the sender identity (phone number or email address).
	From string `yaml:"from,omitempty"`

	// Timeout bounds each delivery attempt.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ChannelsConfig holds the ordered channel fallback list and per-transport
// settings.
type ChannelsConfig struct {
	// Order is the service-default channel priority (first success wins).
	Order []meeting.Channel `yaml:"order"`

	Chat  TransportConfig `yaml:"chat"`
	SMS   TransportConfig `yaml:"sms"`
	Email TransportConfig `yaml:"email"`
}

// WorkflowConfig holds orchestrator timing and retry settings.
type WorkflowConfig struct {
	// GateTimeout is how long the response gate waits for a human reply.
	GateTimeout time.Duration `yaml:"gate_timeout"`

	// ReminderOffset is how long before meeting start the final reminder fires.
	ReminderOffset time.Duration `yaml:"reminder_offset"`

	// DispatchMaxAttempts caps dispatch retries after total channel failure.
	DispatchMaxAttempts int `yaml:"dispatch_max_attempts"`

	// DispatchInitialBackoff is the first retry delay; it doubles per attempt.
	DispatchInitialBackoff time.Duration `yaml:"dispatch_initial_backoff"`

	// DispatchMaxBackoff caps the retry delay.
	DispatchMaxBackoff time.Duration `yaml:"dispatch_max_backoff"`
}

// WorkersConfig holds event-consumer pool settings.
type WorkersConfig struct {
	// Count is the number of concurrent event consumers.
	Count int `yaml:"count"`

	// ShutdownTimeout bounds the graceful drain on shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:    "info",
			Environment: "development",
			JSONLogs:    false,
			MetricsAddr: ":9190",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "prepd",
			User:     "prepd",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Calendar: CalendarConfig{
			Source:  "google",
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			LookaheadDays: DefaultLookaheadDays,
			Interval:      DefaultSyncInterval,
		},
		Classification: ClassificationConfig{
			DefaultPrepHours: DefaultPrepHours,
		},
		Channels: ChannelsConfig{
			Order: []meeting.Channel{meeting.ChannelChat, meeting.ChannelSMS, meeting.ChannelEmail},
		},
		Workflow: WorkflowConfig{
			GateTimeout:            DefaultGateTimeout,
			ReminderOffset:         DefaultReminderOffset,
			DispatchMaxAttempts:    5,
			DispatchInitialBackoff: 30 * time.Second,
			DispatchMaxBackoff:     30 * time.Minute,
		},
		Workers: WorkersConfig{
			Count:           4,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// DefaultPath returns the default config file path (~/.prepd/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultConfigDir, DefaultConfigFile)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
}

// Load reads the config file at path (or the default path when empty),
// applies environment overrides, validates, and returns the result.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults + env only.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays PREPD_* environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PREPD_LOG_LEVEL"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := os.Getenv("PREPD_ENVIRONMENT"); v != "" {
		cfg.Service.Environment = v
	}
	if v := os.Getenv("PREPD_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PREPD_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("PREPD_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("PREPD_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PREPD_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PREPD_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("PREPD_REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("PREPD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PREPD_CALENDAR_TOKEN"); v != "" {
		cfg.Calendar.Token = v
	}
	if v := os.Getenv("PREPD_CHAT_TOKEN"); v != "" {
		cfg.Channels.Chat.Token = v
	}
	if v := os.Getenv("PREPD_SMS_TOKEN"); v != "" {
		cfg.Channels.SMS.Token = v
	}
	if v := os.Getenv("PREPD_EMAIL_TOKEN"); v != "" {
		cfg.Channels.Email.Token = v
	}
}

// Validate checks the configuration for structural errors. Rule problems are
// reported here, at load time, so the classifier never sees a malformed rule.
func (c *Config) Validate() error {
	switch c.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.Service.LogLevel)
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}
	if c.Sync.LookaheadDays <= 0 {
		return fmt.Errorf("sync lookahead_days must be positive, got %d", c.Sync.LookaheadDays)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", c.Sync.Interval)
	}

	if err := c.Classification.validate(); err != nil {
		return err
	}

	if len(c.Channels.Order) == 0 {
		return fmt.Errorf("channels order must list at least one channel")
	}
	for _, ch := range c.Channels.Order {
		switch ch {
		case meeting.ChannelChat, meeting.ChannelSMS, meeting.ChannelEmail:
		default:
			return fmt.Errorf("unknown notification channel %q", ch)
		}
	}

	if c.Workflow.GateTimeout <= 0 {
		return fmt.Errorf("workflow gate_timeout must be positive, got %s", c.Workflow.GateTimeout)
	}
	if c.Workflow.ReminderOffset <= 0 {
		return fmt.Errorf("workflow reminder_offset must be positive, got %s", c.Workflow.ReminderOffset)
	}
	if c.Workflow.DispatchMaxAttempts <= 0 {
		return fmt.Errorf("workflow dispatch_max_attempts must be positive, got %d", c.Workflow.DispatchMaxAttempts)
	}

	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers count must be positive, got %d", c.Workers.Count)
	}

	return nil
}

func (cc *ClassificationConfig) validate() error {
	if cc.DefaultPrepHours <= 0 {
		return fmt.Errorf("classification default_prep_hours must be positive, got %d", cc.DefaultPrepHours)
	}

	seen := make(map[string]bool, len(cc.Rules))
	for i, r := range cc.Rules {
		if strings.TrimSpace(r.Type) == "" {
			return fmt.Errorf("classification rule %d: type is required", i)
		}
		if r.Type == string(meeting.TypeUnknown) {
			return fmt.Errorf("classification rule %d: type %q is reserved for the fallback", i, r.Type)
		}
		if seen[r.Type] {
			return fmt.Errorf("classification rule %d: duplicate type %q", i, r.Type)
		}
		seen[r.Type] = true

		if len(r.Keywords) == 0 {
			return fmt.Errorf("classification rule %q: at least one keyword is required", r.Type)
		}
		for _, kw := range r.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("classification rule %q: empty keyword", r.Type)
			}
		}
		if r.MinAttendees != nil && *r.MinAttendees < 0 {
			return fmt.Errorf("classification rule %q: min_attendees must be >= 0", r.Type)
		}
		if r.MinAttendees != nil && r.MaxAttendees != nil && *r.MinAttendees > *r.MaxAttendees {
			return fmt.Errorf("classification rule %q: min_attendees (%d) > max_attendees (%d)",
				r.Type, *r.MinAttendees, *r.MaxAttendees)
		}
		if r.PrepHoursBefore <= 0 {
			return fmt.Errorf("classification rule %q: prep_hours_before must be positive, got %d",
				r.Type, r.PrepHoursBefore)
		}
	}
	return nil
}
