// Package config loads and validates the service's YAML configuration and
// watches the file for changes to settings that can be applied at runtime.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Voice     VoiceConfig     `yaml:"voice"`
	HTTP      HTTPConfig      `yaml:"http"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

type LoggingConfig struct {
	Level   string     `yaml:"level"`
	Console bool       `yaml:"console"`
	File    FileConfig `yaml:"file"`
}

type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StorageConfig struct {
	Path string `yaml:"path"`

	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `yaml:"busy_timeout"`

	// CheckpointSchedule is a cron spec for WAL maintenance; default "@daily".
	CheckpointSchedule string `yaml:"checkpoint_schedule"`
}

type SchedulerConfig struct {
	// TickInterval is a Go duration string; default "1s". Coarser intervals
	// risk skipping a minute boundary.
	TickInterval string `yaml:"tick_interval"`
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queue_size"`
}

type TwilioConfig struct {
	AccountSID   string `yaml:"account_sid"`
	AuthToken    string `yaml:"auth_token"`
	VoiceFrom    string `yaml:"voice_from"`
	WhatsAppFrom string `yaml:"whatsapp_from"`
	BaseURL      string `yaml:"base_url"`
	Timeout      string `yaml:"timeout"`
	RatePerSec   int    `yaml:"rate_per_sec"`
}

type VoiceConfig struct {
	// DefaultAudioURL plays when a schedule has no custom recording. Empty
	// means the call speaks the reminder text instead.
	DefaultAudioURL string `yaml:"default_audio_url"`
}

type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	BaseURL    string `yaml:"base_url"` // public URL prefix for served audio assets
	UploadsDir string `yaml:"uploads_dir"`
	VoicesDir  string `yaml:"voices_dir"`
}

type AlertsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Token      string `yaml:"telegram_token"`
	ChatID     int64  `yaml:"chat_id"`
	RatePerMin int    `yaml:"rate_per_min"`
}

// Load reads, strictly decodes, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML with unknown fields rejected.
func Parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if !c.Logging.Console && !c.Logging.File.Enabled {
		c.Logging.Console = true
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/reminder_logs.db"
	}
	if c.Storage.CheckpointSchedule == "" {
		c.Storage.CheckpointSchedule = "@daily"
	}
	if c.Scheduler.TickInterval == "" {
		c.Scheduler.TickInterval = "1s"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8080"
	}
	if c.HTTP.UploadsDir == "" {
		c.HTTP.UploadsDir = "./uploads"
	}
	if c.HTTP.VoicesDir == "" {
		c.HTTP.VoicesDir = "./voices"
	}
	if c.HTTP.BaseURL == "" {
		c.HTTP.BaseURL = "http://" + c.HTTP.Addr
	}
	if c.Twilio.RatePerSec == 0 {
		c.Twilio.RatePerSec = 3
	}
	if c.Alerts.RatePerMin == 0 {
		c.Alerts.RatePerMin = 6
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if _, err := c.TickInterval(); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("twilio.timeout", c.Twilio.Timeout); err != nil {
		return err
	}
	if strings.TrimSpace(c.Twilio.AccountSID) == "" || strings.TrimSpace(c.Twilio.AuthToken) == "" {
		return errors.New("twilio.account_sid and twilio.auth_token are required")
	}
	if strings.TrimSpace(c.Twilio.VoiceFrom) == "" || strings.TrimSpace(c.Twilio.WhatsAppFrom) == "" {
		return errors.New("twilio.voice_from and twilio.whatsapp_from are required")
	}
	if c.Alerts.Enabled {
		if strings.TrimSpace(c.Alerts.Token) == "" || c.Alerts.ChatID == 0 {
			return errors.New("alerts.telegram_token and alerts.chat_id are required when alerts are enabled")
		}
	}
	return nil
}

// TickInterval returns the parsed scheduler tick interval.
func (c *Config) TickInterval() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.tick_interval", c.Scheduler.TickInterval, time.Second)
}

// BusyTimeout returns the parsed sqlite busy timeout (0 means driver default).
func (c *Config) BusyTimeout() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return d
}

// TwilioTimeout returns the parsed provider HTTP timeout (0 means default).
func (c *Config) TwilioTimeout() time.Duration {
	d, _ := ParseDurationField("twilio.timeout", c.Twilio.Timeout)
	return d
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
