package pagewatch

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all pagewatch configuration. It is read once; a Service
// never mutates it after New.
type Config struct {
	// StorageRoot is the directory holding one sub-directory per target.
	StorageRoot string `yaml:"storage_root"`
	// HistoryDB enables the SQLite check log when set.
	HistoryDB string `yaml:"history_db"`
	// Interval > 0 enables daemon mode.
	Interval time.Duration `yaml:"interval"`
	// ListenAddr serves the HTTP status surface in daemon mode when set.
	ListenAddr string       `yaml:"listen_addr"`
	LogLevel   string       `yaml:"log_level"`
	Targets    []string     `yaml:"targets"`
	Fetch      FetchConfig  `yaml:"fetch"`
	Notify     NotifyConfig `yaml:"notify"`

	// Clock stamps versions and history rows. Default: time.Now.
	Clock func() time.Time `yaml:"-"`
	// Fetcher replaces the HTTP fetcher (tests, custom transports).
	Fetcher Fetcher `yaml:"-"`
}

// FetchConfig controls the HTTP fetcher.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
	// Concurrency bounds parallel script fetches within one check.
	Concurrency int `yaml:"concurrency"`
	// AllowPrivate permits loopback and private-network targets.
	AllowPrivate bool `yaml:"allow_private"`
}

// NotifyConfig controls change notifications.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
	// OnBaseline also notifies for the first snapshot of a target.
	OnBaseline bool          `yaml:"on_baseline"`
	SMTP       SMTPConfig    `yaml:"smtp"`
	Webhook    WebhookConfig `yaml:"webhook"`
}

// SMTPConfig configures email delivery. Credentials usually come from the
// environment (see ApplyEnv).
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"-"`
	From     string        `yaml:"from"`
	To       []string      `yaml:"to"`
	StartTLS bool          `yaml:"starttls"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WebhookConfig configures webhook delivery.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.StorageRoot == "" {
		c.StorageRoot = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 * 1024 * 1024
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "pagewatch/1.0"
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 4
	}
	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 465
	}
	if c.Notify.Webhook.Timeout <= 0 {
		c.Notify.Webhook.Timeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidInput)
	}
	if c.Notify.Enabled && c.Notify.SMTP.Host == "" && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("%w: notify enabled but neither smtp.host nor webhook.url is set", ErrInvalidInput)
	}
	for _, raw := range c.Targets {
		if _, err := NewTarget(raw); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays the environment onto c. Only variables that are set
// replace file values.
func (c *Config) ApplyEnv() error {
	var overlay struct {
		StorageRoot  string `env:"PAGEWATCH_STORAGE_ROOT"`
		HistoryDB    string `env:"PAGEWATCH_HISTORY_DB"`
		SMTPUsername string `env:"PAGEWATCH_SMTP_USERNAME"`
		SMTPPassword string `env:"PAGEWATCH_SMTP_PASSWORD"`
		WebhookURL   string `env:"PAGEWATCH_WEBHOOK_URL"`
	}
	if err := env.Parse(&overlay); err != nil {
		return fmt.Errorf("%w: parse env: %w", ErrInvalidInput, err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.StorageRoot, overlay.StorageRoot)
	set(&c.HistoryDB, overlay.HistoryDB)
	set(&c.Notify.SMTP.Username, overlay.SMTPUsername)
	set(&c.Notify.SMTP.Password, overlay.SMTPPassword)
	set(&c.Notify.Webhook.URL, overlay.WebhookURL)
	return nil
}

// LoadConfigFile reads a YAML config file and overlays the environment.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidInput, path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
