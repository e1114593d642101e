package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SITEHIVE_DATABASE_PATH.
const EnvPrefix = "SITEHIVE"

type AppConfig struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sites     SitesConfig     `mapstructure:"sites"`
	Retention RetentionConfig `mapstructure:"retention"`
	Intervals IntervalConfig  `mapstructure:"intervals"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuthConfig holds the shared secrets. An empty key disables its check.
type AuthConfig struct {
	IngestKey string `mapstructure:"ingest_key"`
	AdminKey  string `mapstructure:"admin_key"`
}

type SitesConfig struct {
	DefaultTimezone string `mapstructure:"default_timezone"`
}

type RetentionConfig struct {
	RawDays      int `mapstructure:"raw_days"`
	HourlyDays   int `mapstructure:"hourly_days"`
	SweepMinutes int `mapstructure:"sweep_minutes"`
}

type IntervalConfig struct {
	RollupSeconds int `mapstructure:"rollup_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"database.path":            "",
	"http.addr":                ":8080",
	"auth.ingest_key":          "",
	"auth.admin_key":           "",
	"sites.default_timezone":   "UTC",
	"retention.raw_days":       7,
	"retention.hourly_days":    90,
	"retention.sweep_minutes":  15,
	"intervals.rollup_seconds": 300,
	"logging.level":            "info",
	"logging.format":           "text",
}

// Load reads the JSON config at path, applies SITEHIVE_* environment
// overrides and fills in defaults.
func Load(path string) (AppConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return AppConfig{}, fmt.Errorf("read config %s: %w", absPath, err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse config %s: %w", filepath.Base(absPath), err)
	}

	if err := cfg.validate(filepath.Dir(absPath)); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c *AppConfig) validate(baseDir string) error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.Path != ":memory:" && !filepath.IsAbs(c.Database.Path) {
		c.Database.Path = filepath.Clean(filepath.Join(baseDir, c.Database.Path))
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	if c.Sites.DefaultTimezone == "" {
		c.Sites.DefaultTimezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Sites.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid default timezone %q: %w", c.Sites.DefaultTimezone, err)
	}

	if c.Retention.RawDays <= 0 {
		c.Retention.RawDays = 7
	}

	if c.Retention.HourlyDays <= 0 {
		c.Retention.HourlyDays = 90
	}

	if c.Retention.SweepMinutes <= 0 {
		c.Retention.SweepMinutes = 15
	}

	if c.Intervals.RollupSeconds <= 0 {
		c.Intervals.RollupSeconds = 300
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text":
		c.Logging.Format = "text"
	case "json":
		c.Logging.Format = "json"
	default:
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}

	return nil
}

// SlogLevel maps the configured level name onto slog.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	name := l.Level
	if name == "" {
		name = "info"
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

func (r RetentionConfig) Raw() time.Duration {
	return time.Duration(r.RawDays) * 24 * time.Hour
}

func (r RetentionConfig) Hourly() time.Duration {
	return time.Duration(r.HourlyDays) * 24 * time.Hour
}

func (r RetentionConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepMinutes) * time.Minute
}

func (i IntervalConfig) Rollup() time.Duration {
	return time.Duration(i.RollupSeconds) * time.Second
}
