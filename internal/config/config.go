package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var ErrEmptyPath = errors.New("config path is empty")

// CalendarConfig describes a single calendar feed.
type CalendarConfig struct {
	// Name keys the calendar in snapshots and trigger state.
	Name string `yaml:"name" json:"name"`
	// Path is the ICS file to read on every sync.
	Path string `yaml:"path" json:"path"`
}

// EventLimit is the active window: events must touch now .. now+Value Type.
type EventLimit struct {
	Value int `yaml:"value" json:"value"`
	// Type is one of hours, days, weeks, months.
	Type string `yaml:"type" json:"type"`
}

// DateFormat holds Go time layouts used for "event added" dates and for
// start/end change values.
type DateFormat struct {
	Long string `yaml:"long" json:"long"`
	Time string `yaml:"time" json:"time"`
}

// RedisConfig points the trigger host at a Redis server.
type RedisConfig struct {
	Address       string `yaml:"address" json:"address"`
	Password      string `yaml:"password" json:"password"`
	DB            int    `yaml:"db" json:"db"`
	PoolSize      int    `yaml:"pool_size" json:"pool_size"`
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone timed events are evaluated in (e.g. "Europe/Oslo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron schedule of sync cycles (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// TriggerCron is the cron schedule of time-trigger evaluation.
	TriggerCron string `yaml:"trigger_interval" json:"trigger_interval"`

	EventLimit EventLimit `yaml:"event_limit" json:"event_limit"`
	DateFormat DateFormat `yaml:"date_format" json:"date_format"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	Redis RedisConfig `yaml:"redis" json:"redis"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultRefreshCron = "*/15 * * * *"
	defaultTriggerCron = "* * * * *"
	defaultLimitValue  = 2
	defaultLimitType   = "weeks"
	defaultLogLevel    = "info"
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "calwatch"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.TriggerCron == "" {
		c.TriggerCron = defaultTriggerCron
	}
	if c.EventLimit.Value <= 0 {
		c.EventLimit.Value = defaultLimitValue
	}
	switch strings.ToLower(c.EventLimit.Type) {
	case "hours", "days", "weeks", "months":
		c.EventLimit.Type = strings.ToLower(c.EventLimit.Type)
	default:
		c.EventLimit.Type = defaultLimitType
	}
	if c.DateFormat.Long == "" {
		c.DateFormat.Long = "01/02/2006"
	}
	if c.DateFormat.Time == "" {
		c.DateFormat.Time = "15:04"
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.Redis.Address == "" {
		c.Redis.Address = defaultRedisAddr
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = defaultRedisPrefix
	}
}

// Validate reports configuration errors Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh: %w", err))
	}
	if _, err := parser.Parse(c.TriggerCron); err != nil {
		errs = append(errs, fmt.Errorf("trigger_interval: %w", err))
	}

	seen := make(map[string]struct{}, len(c.Calendars))
	for i, cal := range c.Calendars {
		if cal.Name == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: name is empty", i))
			continue
		}
		if _, dup := seen[cal.Name]; dup {
			errs = append(errs, fmt.Errorf("calendars[%d]: duplicate name %q", i, cal.Name))
		}
		seen[cal.Name] = struct{}{}
		if cal.Path == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: path is empty", i))
		}
	}

	return errors.Join(errs...)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return ErrEmptyPath
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calwatch-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
