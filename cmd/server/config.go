// Package main provides the BlazeAlert server CLI.
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/good-yellow-bee/blazealert/internal/api"
	"github.com/good-yellow-bee/blazealert/internal/dispatch"
	"github.com/good-yellow-bee/blazealert/internal/events"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/tracing"
)

// Config represents the server configuration. Every field can be set from
// the YAML file or overridden by its BLAZEALERT_* environment variable.
type Config struct {
	Database  DatabaseConfig           `yaml:"database"`
	API       api.Config               `yaml:"api" env-prefix:"BLAZEALERT_"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Log       logging.Config           `yaml:"log" env-prefix:"BLAZEALERT_LOG_"`
	Tracing   tracing.Config           `yaml:"tracing"`
	Queue     QueueConfig              `yaml:"queue"`
	Dispatch  dispatch.Config          `yaml:"dispatch"`
	Rules     RulesConfig              `yaml:"rules"`
	Redis     RedisConfig              `yaml:"redis"`
	Events    EventsConfig             `yaml:"events"`
	Channels  ChannelsConfig           `yaml:"channels"`
	Directory dispatch.StaticDirectory `yaml:"directory"`
	System    SystemConfig             `yaml:"system"`
	Verbose   bool                     `yaml:"-"` // set via CLI flag
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"BLAZEALERT_DB_PATH" env-default:"./data/blazealert.db"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled" env:"BLAZEALERT_METRICS_DISABLED"`
	Address  string `yaml:"address" env:"BLAZEALERT_METRICS_ADDRESS" env-default:":9090"`
}

// QueueConfig sizes the dispatch queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity" env:"BLAZEALERT_QUEUE_CAPACITY" env-default:"10000"`
}

// RulesConfig points at an optional rules file kept in sync with storage.
type RulesConfig struct {
	File  string `yaml:"file" env:"BLAZEALERT_RULES_FILE"`
	Watch bool   `yaml:"watch" env:"BLAZEALERT_RULES_WATCH"`
}

// RedisConfig enables the distributed rule lock when Address is set.
type RedisConfig struct {
	Address  string        `yaml:"address" env:"BLAZEALERT_REDIS_ADDRESS"`
	Password string        `yaml:"password" env:"BLAZEALERT_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"BLAZEALERT_REDIS_DB"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"BLAZEALERT_REDIS_LOCK_TTL" env-default:"10s"`
	LockWait time.Duration `yaml:"lock_wait" env:"BLAZEALERT_REDIS_LOCK_WAIT" env-default:"5s"`
}

// EventsConfig configures lifecycle event export.
type EventsConfig struct {
	Kafka events.KafkaConfig `yaml:"kafka"`
}

// SystemConfig fills the system.* template namespace.
type SystemConfig struct {
	Name        string `yaml:"name" env:"BLAZEALERT_SYSTEM_NAME" env-default:"BlazeAlert"`
	BaseURL     string `yaml:"base_url" env:"BLAZEALERT_SYSTEM_BASE_URL"`
	Environment string `yaml:"environment" env:"BLAZEALERT_ENVIRONMENT" env-default:"production"`
}

// ChannelsConfig configures one adapter per delivery channel. A disabled
// channel has no adapter and its deliveries are skipped.
type ChannelsConfig struct {
	Email   EmailConfig   `yaml:"email"`
	SMS     SMSConfig     `yaml:"sms"`
	Push    PushConfig    `yaml:"push"`
	InApp   InAppConfig   `yaml:"in_app"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// ThrottleConfig caps sends per minute on one channel. Zero disables it.
type ThrottleConfig struct {
	MaxPerMinute int `yaml:"max_per_minute"`
}

// RateLimit converts the throttle to a notifier rate limit.
func (t ThrottleConfig) RateLimit() notifier.RateLimitConfig {
	return notifier.RateLimitConfig{
		MaxPerWindow: t.MaxPerMinute,
		Window:       time.Minute,
		Enabled:      t.MaxPerMinute > 0,
	}
}

// EmailConfig configures the direct_message channel.
type EmailConfig struct {
	Enabled bool `yaml:"enabled" env:"BLAZEALERT_EMAIL_ENABLED"`
	// Provider is smtp, ses or resend.
	Provider     string         `yaml:"provider" env:"BLAZEALERT_EMAIL_PROVIDER" env-default:"smtp"`
	From         string         `yaml:"from" env:"BLAZEALERT_EMAIL_FROM"`
	SMTPHost     string         `yaml:"smtp_host" env:"BLAZEALERT_SMTP_HOST"`
	SMTPPort     int            `yaml:"smtp_port" env:"BLAZEALERT_SMTP_PORT" env-default:"587"`
	SMTPUsername string         `yaml:"smtp_username" env:"BLAZEALERT_SMTP_USERNAME"`
	SMTPPassword string         `yaml:"smtp_password" env:"BLAZEALERT_SMTP_PASSWORD"`
	SESRegion    string         `yaml:"ses_region" env:"BLAZEALERT_SES_REGION"`
	ResendAPIKey string         `yaml:"resend_api_key" env:"BLAZEALERT_RESEND_API_KEY"`
	Timeout      time.Duration  `yaml:"timeout" env:"BLAZEALERT_EMAIL_TIMEOUT" env-default:"30s"`
	Throttle     ThrottleConfig `yaml:"throttle"`
}

// SMSConfig configures the text_message channel.
type SMSConfig struct {
	Enabled           bool           `yaml:"enabled" env:"BLAZEALERT_SMS_ENABLED"`
	BaseURL           string         `yaml:"base_url" env:"BLAZEALERT_SMS_BASE_URL"`
	AccountSID        string         `yaml:"account_sid" env:"BLAZEALERT_SMS_ACCOUNT_SID"`
	AuthToken         string         `yaml:"auth_token" env:"BLAZEALERT_SMS_AUTH_TOKEN"`
	From              string         `yaml:"from" env:"BLAZEALERT_SMS_FROM"`
	RequestsPerSecond float64        `yaml:"requests_per_second" env:"BLAZEALERT_SMS_RPS"`
	Timeout           time.Duration  `yaml:"timeout" env:"BLAZEALERT_SMS_TIMEOUT" env-default:"10s"`
	Throttle          ThrottleConfig `yaml:"throttle"`
}

// PushConfig configures the mobile_push channel.
type PushConfig struct {
	Enabled   bool           `yaml:"enabled" env:"BLAZEALERT_PUSH_ENABLED"`
	URL       string         `yaml:"url" env:"BLAZEALERT_PUSH_URL"`
	ServerKey string         `yaml:"server_key" env:"BLAZEALERT_PUSH_SERVER_KEY"`
	Timeout   time.Duration  `yaml:"timeout" env:"BLAZEALERT_PUSH_TIMEOUT" env-default:"10s"`
	Throttle  ThrottleConfig `yaml:"throttle"`
}

// InAppConfig configures the in_app channel.
type InAppConfig struct {
	Enabled       bool          `yaml:"enabled" env:"BLAZEALERT_INAPP_ENABLED"`
	NATSURL       string        `yaml:"nats_url" env:"BLAZEALERT_NATS_URL" env-default:"nats://127.0.0.1:4222"`
	SubjectPrefix string        `yaml:"subject_prefix" env:"BLAZEALERT_INAPP_SUBJECT_PREFIX" env-default:"blazealert.inapp"`
	Timeout       time.Duration `yaml:"timeout" env:"BLAZEALERT_INAPP_TIMEOUT" env-default:"5s"`
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Enabled     bool           `yaml:"enabled" env:"BLAZEALERT_WEBHOOK_ENABLED"`
	Secret      string         `yaml:"secret" env:"BLAZEALERT_WEBHOOK_SECRET"`
	BearerToken string         `yaml:"bearer_token" env:"BLAZEALERT_WEBHOOK_BEARER_TOKEN"`
	AllowHTTP   bool           `yaml:"allow_http" env:"BLAZEALERT_WEBHOOK_ALLOW_HTTP"`
	Timeout     time.Duration  `yaml:"timeout" env:"BLAZEALERT_WEBHOOK_TIMEOUT" env-default:"10s"`
	Throttle    ThrottleConfig `yaml:"throttle"`
}

// LoadConfig reads the YAML file at path, when given, and applies
// environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults fills what the env-default tags leave unset.
func (c *Config) setDefaults() {
	c.API.SetDefaults()
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 10000
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/blazealert.db"
	}
	if c.System.Name == "" {
		c.System.Name = "BlazeAlert"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Channels.Email.Provider == "" {
		c.Channels.Email.Provider = "smtp"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	if !c.Metrics.Disabled && c.Metrics.Address == "" {
		return errors.New("metrics.address is required unless metrics are disabled")
	}
	if !c.Metrics.Disabled && c.Metrics.Address == c.API.Address {
		return errors.New("metrics.address must differ from api.address")
	}

	email := c.Channels.Email
	if email.Enabled {
		if email.From == "" {
			return errors.New("channels.email.from is required")
		}
		switch email.Provider {
		case "smtp":
			if email.SMTPHost == "" {
				return errors.New("channels.email.smtp_host is required for the smtp provider")
			}
		case "ses":
		case "resend":
			if email.ResendAPIKey == "" {
				return errors.New("channels.email.resend_api_key is required for the resend provider")
			}
		default:
			return fmt.Errorf("channels.email.provider %q is not one of smtp, ses, resend", email.Provider)
		}
	}
	if c.Channels.SMS.Enabled && (c.Channels.SMS.BaseURL == "" || c.Channels.SMS.From == "") {
		return errors.New("channels.sms.base_url and channels.sms.from are required")
	}
	if c.Channels.Push.Enabled && c.Channels.Push.URL == "" {
		return errors.New("channels.push.url is required")
	}
	if c.Channels.InApp.Enabled && c.Channels.InApp.NATSURL == "" {
		return errors.New("channels.in_app.nats_url is required")
	}
	return nil
}
