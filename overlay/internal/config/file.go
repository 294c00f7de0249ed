// Package config handles overlay configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mailsentry/overlay/internal/extract"
)

// Config is the top-level overlay configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Push      PushConfig      `yaml:"push"`
	Host      HostConfig      `yaml:"host"`
	Timing    TimingConfig    `yaml:"timing"`
	Score     ScoreConfig     `yaml:"score"`
	ActionLog ActionLogConfig `yaml:"action_log"`
	Journal   JournalConfig   `yaml:"journal"`
	HTTP      HTTPConfig      `yaml:"http"`
	Sinks     []SinkConfig    `yaml:"sinks"`
}

// BackendConfig points at the scoring and account service.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ScoreTimeout   time.Duration `yaml:"score_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AllowRemote permits a non-loopback base URL.
	AllowRemote bool `yaml:"allow_remote"`
}

// PushConfig controls the backend push channel.
type PushConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Disabled       bool          `yaml:"disabled"`
}

// HostConfig controls the browser tab the overlay attaches to.
type HostConfig struct {
	URL     string `yaml:"url"`
	Remote  string `yaml:"remote"`  // CDP websocket of an existing Chrome
	Stealth string `yaml:"stealth"` // headless | headful
	// ResourceBlocking lists resource types to block (images, fonts, media).
	ResourceBlocking []string          `yaml:"resource_blocking"`
	Selectors        extract.Selectors `yaml:"selectors"`
	// Placement is the element the action panel is inserted into.
	Placement string `yaml:"placement"`
	// ExtractMode is "markdown" or "text".
	ExtractMode string `yaml:"extract_mode"`
	MaxBody     int    `yaml:"max_body"`
}

// TimingConfig holds the two settle delays.
type TimingConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Settle   time.Duration `yaml:"settle"`
	// AttributeChanges also treats attribute-only mutations as activity.
	AttributeChanges bool `yaml:"attribute_changes"`
}

// ScoreConfig holds the animation constants.
type ScoreConfig struct {
	PendingStep    int           `yaml:"pending_step"`
	PendingEvery   time.Duration `yaml:"pending_every"`
	PendingCeiling int           `yaml:"pending_ceiling"`
	Step           int           `yaml:"step"`
	Every          time.Duration `yaml:"every"`
	AlertThreshold int           `yaml:"alert_threshold"`
}

// ActionLogConfig controls the action panel.
type ActionLogConfig struct {
	Capacity int `yaml:"capacity"`
}

// JournalConfig controls the SQLite event journal. Empty path disables it.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// HTTPConfig controls the local status API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// SinkConfig defines a render output.
type SinkConfig struct {
	Type string `yaml:"type"` // page | stdout | webhook
	URL  string `yaml:"url"`  // webhook
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:8000"
	}
	if c.Backend.ScoreTimeout <= 0 {
		c.Backend.ScoreTimeout = 30 * time.Second
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = 60 * time.Second
	}
	if c.Push.URL == "" {
		c.Push.URL = "ws://localhost:8000/ws/status"
	}
	if c.Push.ReconnectDelay <= 0 {
		c.Push.ReconnectDelay = 5 * time.Second
	}
	if c.Host.URL == "" {
		c.Host.URL = "https://mail.google.com/mail/u/0/#inbox"
	}
	if c.Host.Stealth == "" {
		c.Host.Stealth = "headful"
	}
	c.Host.Selectors.Defaults()
	if c.Host.Placement == "" {
		c.Host.Placement = "div.AO"
	}
	if c.Host.ExtractMode == "" {
		c.Host.ExtractMode = extract.ModeMarkdown
	}
	if c.Timing.Debounce <= 0 {
		c.Timing.Debounce = 300 * time.Millisecond
	}
	if c.Timing.Settle <= 0 {
		c.Timing.Settle = 300 * time.Millisecond
	}
	if c.Score.PendingStep <= 0 {
		c.Score.PendingStep = 3
	}
	if c.Score.PendingEvery <= 0 {
		c.Score.PendingEvery = 80 * time.Millisecond
	}
	if c.Score.PendingCeiling <= 0 {
		c.Score.PendingCeiling = 95
	}
	if c.Score.Step <= 0 {
		c.Score.Step = 5
	}
	if c.Score.Every <= 0 {
		c.Score.Every = 50 * time.Millisecond
	}
	if c.Score.AlertThreshold <= 0 {
		c.Score.AlertThreshold = 60
	}
	if c.ActionLog.Capacity <= 0 {
		c.ActionLog.Capacity = 5
	}
	if c.Journal.Retention <= 0 {
		c.Journal.Retention = 30 * 24 * time.Hour
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8787"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "page"}}
	}
}

// Validate checks values defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Host.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: host.stealth %q: want headless or headful", c.Host.Stealth)
	}
	switch c.Host.ExtractMode {
	case extract.ModeMarkdown, extract.ModeText:
	default:
		return fmt.Errorf("config: host.extract_mode %q: want markdown or text", c.Host.ExtractMode)
	}
	if c.Score.PendingCeiling > 100 {
		return fmt.Errorf("config: score.pending_ceiling %d exceeds 100", c.Score.PendingCeiling)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "page", "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
