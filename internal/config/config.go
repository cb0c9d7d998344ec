package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"airdeck/internal/calendar"
	"airdeck/internal/request"
)

// NOTE: Load creates the file with defaults on first run; Save writes
// atomically with 0600 permissions because the file may hold credentials.

// FeedConfig describes a single ICS schedule feed.
type FeedConfig struct {
	// URL is the ICS endpoint.
	URL string `yaml:"url" json:"url"`
	// ID labels the feed in logs and on expanded flights.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web surface.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// BackendConfig points at the booking backend.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	BearerToken    string `yaml:"bearer_token,omitempty" json:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// RequestsConfig tunes the request lifecycle manager.
type RequestsConfig struct {
	// MaxRetries is the total number of attempts per call.
	MaxRetries           int `yaml:"max_retries" json:"max_retries"`
	BaseDelayMs          int `yaml:"base_delay_ms" json:"base_delay_ms"`
	DuplicateThresholdMs int `yaml:"duplicate_threshold_ms" json:"duplicate_threshold_ms"`
}

// CalendarConfig shapes the carousel windows.
type CalendarConfig struct {
	// WindowDays is the initial window length.
	WindowDays int `yaml:"window_days" json:"window_days"`
	// LoadMoreDays is how far "load more" grows the window.
	LoadMoreDays int `yaml:"load_more_days" json:"load_more_days"`
	// Direction is "forward" (upcoming) or "backward" (history).
	Direction string `yaml:"direction" json:"direction"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the web surface.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Backend  BackendConfig  `yaml:"backend" json:"backend"`
	Requests RequestsConfig `yaml:"requests" json:"requests"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// RefreshCron is a standard 5-field cron schedule (e.g. "*/15 * * * *")
	// for periodic carousel refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Schedules lists ICS feeds whose flights are merged into the flights
	// carousel.
	Schedules []FeedConfig `yaml:"schedules" json:"schedules"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		LogLevel: "info",
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:3000/api",
			TimeoutSeconds: 15,
		},
		Requests: RequestsConfig{
			MaxRetries:           request.DefaultMaxRetries,
			BaseDelayMs:          int(request.DefaultBaseDelay / time.Millisecond),
			DuplicateThresholdMs: int(request.DefaultDuplicateThreshold / time.Millisecond),
		},
		Calendar: CalendarConfig{
			WindowDays:   calendar.DefaultIncrement,
			LoadMoreDays: calendar.DefaultIncrement,
			Direction:    calendar.Forward.String(),
		},
		RefreshCron: "*/15 * * * *",
		Schedules:   []FeedConfig{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = def.Backend.TimeoutSeconds
	}
	if c.Requests.MaxRetries <= 0 {
		c.Requests.MaxRetries = def.Requests.MaxRetries
	}
	if c.Requests.BaseDelayMs <= 0 {
		c.Requests.BaseDelayMs = def.Requests.BaseDelayMs
	}
	if c.Requests.DuplicateThresholdMs <= 0 {
		c.Requests.DuplicateThresholdMs = def.Requests.DuplicateThresholdMs
	}
	if c.Calendar.WindowDays <= 0 {
		c.Calendar.WindowDays = def.Calendar.WindowDays
	}
	if c.Calendar.LoadMoreDays <= 0 {
		c.Calendar.LoadMoreDays = def.Calendar.LoadMoreDays
	}
	// Unknown directions fall back to forward.
	if _, err := calendar.ParseDirection(c.Calendar.Direction); err != nil {
		c.Calendar.Direction = def.Calendar.Direction
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.Schedules == nil {
		c.Schedules = []FeedConfig{}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is empty"))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh: %w", err))
	}
	for i, s := range c.Schedules {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: url is empty", i))
		}
	}
	return errors.Join(errs...)
}

// RequestConfig converts the requests section for request.New.
func (c *Config) RequestConfig() request.Config {
	return request.Config{
		MaxRetries:         c.Requests.MaxRetries,
		BaseDelay:          time.Duration(c.Requests.BaseDelayMs) * time.Millisecond,
		DuplicateThreshold: time.Duration(c.Requests.DuplicateThresholdMs) * time.Millisecond,
	}
}

// BackendTimeout returns the backend HTTP timeout.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// Direction returns the parsed calendar direction.
func (c *Config) Direction() calendar.Direction {
	d, err := calendar.ParseDirection(c.Calendar.Direction)
	if err != nil {
		return calendar.Forward
	}
	return d
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
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
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
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

	tmp, err := os.CreateTemp(dir, ".airdeck-config-*.tmp")
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

// Save is a convenience wrapper around the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
