package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorhill/cronexpr"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Journal  JournalConfig     `yaml:"journal"`
	Scan     ScanConfig        `yaml:"scan"`
	Cache    CacheConfig       `yaml:"cache"`
	Save     SaveConfig        `yaml:"save"`
	Activity ActivityConfig    `yaml:"activity"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Settings SettingsConfig    `yaml:"settings"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if err := c.Scan.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Save.Validate(); err != nil {
		return err
	}
	if err := c.Activity.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// JournalConfig holds the path to the journal directory and scan limits.
type JournalConfig struct {
	Path        string   `yaml:"path"`
	MaxFileSize int64    `yaml:"max_file_size"`
	Ignore      []string `yaml:"ignore"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.MaxFileSize, validation.Min(int64(0))),
	)
}

// ScanConfig tunes the batched stat runner used during journal scans.
type ScanConfig struct {
	Concurrency int           `yaml:"concurrency"`
	BatchSize   int           `yaml:"batch_size"`
	BatchPause  time.Duration `yaml:"batch_pause"`
}

// Validate validates the scan configuration.
func (c *ScanConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Min(0)),
		validation.Field(&c.BatchSize, validation.Min(0)),
	)
}

// CacheConfig tunes the viewport page cache.
type CacheConfig struct {
	PageSize    int `yaml:"page_size"`
	MaxResident int `yaml:"max_resident"`
	Overscan    int `yaml:"overscan"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PageSize, validation.Min(0)),
		validation.Field(&c.MaxResident, validation.Min(0)),
		validation.Field(&c.Overscan, validation.Min(0)),
	)
}

// SaveConfig tunes the write-back coalescer.
type SaveConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the save configuration.
func (c *SaveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// ActivityConfig tunes day-activity aggregation.
//
// RefreshCron, when non-empty, is a cron expression driving periodic
// re-aggregation of every bucketed date.
type ActivityConfig struct {
	QueryTimeout time.Duration `yaml:"query_timeout"`
	RefreshCron  string        `yaml:"refresh_cron"`
}

// Validate validates the activity configuration.
func (c *ActivityConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.QueryTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.RefreshCron != "" {
		if _, err := cronexpr.Parse(c.RefreshCron); err != nil {
			return fmt.Errorf("activity: invalid refresh_cron %q: %w", c.RefreshCron, err)
		}
	}
	return nil
}

// SQLiteConfig holds SQLite database paths.
type SQLiteConfig struct {
	IndexPath  string `yaml:"index_path"`
	HabitsPath string `yaml:"habits_path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IndexPath, validation.Required),
		validation.Field(&c.HabitsPath, validation.Required),
	)
}

// SettingsConfig holds the path to the user settings file that lists
// activity repositories.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the settings configuration.
func (c *SettingsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Journal: JournalConfig{
			Path:        "./journal",
			MaxFileSize: 10 << 20,
		},
		Scan: ScanConfig{
			Concurrency: 5,
			BatchSize:   25,
			BatchPause:  50 * time.Millisecond,
		},
		Cache: CacheConfig{
			PageSize:    20,
			MaxResident: 5,
			Overscan:    1,
		},
		Save: SaveConfig{
			Debounce: 500 * time.Millisecond,
		},
		Activity: ActivityConfig{
			QueryTimeout: 30 * time.Second,
		},
		SQLite: SQLiteConfig{
			IndexPath:  "./daybook.db",
			HabitsPath: "./habits.db",
		},
		Settings: SettingsConfig{
			Path: "./settings.yaml",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
