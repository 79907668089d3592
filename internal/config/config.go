// Package config loads dayplan settings from defaults, an optional YAML
// file, DAYPLAN_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the YAML config file path.
const EnvConfigPath = "DAYPLAN_CONFIG"

// Config holds every tunable of the persistence layer.
type Config struct {
	DBPath     string `yaml:"db_path"`
	BackupPath string `yaml:"backup_path"`

	Debounce      time.Duration `yaml:"debounce"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	QuotaBytes    int64         `yaml:"quota_bytes"`
	OversizeBytes int           `yaml:"oversize_bytes"`

	DeepValidationInterval time.Duration `yaml:"deep_validation_interval"`
	BackupInterval         time.Duration `yaml:"backup_interval"`
	ConfirmRestore         bool          `yaml:"confirm_restore"`

	VerifyDelay  time.Duration `yaml:"verify_delay"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in settings. The database lives under
// ~/.dayplan; the backup store is in-memory for the session.
func Default() Config {
	dbPath := "dayplan.db"
	if home, err := os.UserHomeDir(); err == nil {
		dbPath = filepath.Join(home, ".dayplan", "dayplan.db")
	}
	return Config{
		DBPath:                 dbPath,
		Debounce:               200 * time.Millisecond,
		CacheTTL:               5 * time.Minute,
		QuotaBytes:             5 << 20,
		OversizeBytes:          256 << 10,
		DeepValidationInterval: 30 * time.Minute,
		BackupInterval:         time.Minute,
		ConfirmRestore:         true,
		VerifyDelay:            500 * time.Millisecond,
		MaxRetries:             2,
		RetryBackoff:           250 * time.Millisecond,
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// Load builds a Config from defaults, the YAML file at path (or at
// $DAYPLAN_CONFIG when path is empty), then the environment. A named file
// that does not exist is an error; no file at all is fine.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides fields from DAYPLAN_* variables. Malformed values are
// ignored and the previous value kept.
func applyEnv(cfg *Config) {
	envString("DAYPLAN_DB", &cfg.DBPath)
	envString("DAYPLAN_BACKUP_PATH", &cfg.BackupPath)
	envDuration("DAYPLAN_DEBOUNCE", &cfg.Debounce)
	envDuration("DAYPLAN_CACHE_TTL", &cfg.CacheTTL)
	if v := os.Getenv("DAYPLAN_QUOTA_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.QuotaBytes = n
		}
	}
	if v := os.Getenv("DAYPLAN_OVERSIZE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OversizeBytes = n
		}
	}
	envDuration("DAYPLAN_DEEP_VALIDATION_INTERVAL", &cfg.DeepValidationInterval)
	envDuration("DAYPLAN_BACKUP_INTERVAL", &cfg.BackupInterval)
	if v := os.Getenv("DAYPLAN_CONFIRM_RESTORE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ConfirmRestore = b
		}
	}
	envDuration("DAYPLAN_VERIFY_DELAY", &cfg.VerifyDelay)
	if v := os.Getenv("DAYPLAN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	envDuration("DAYPLAN_RETRY_BACKOFF", &cfg.RetryBackoff)
	envString("DAYPLAN_LOG_LEVEL", &cfg.LogLevel)
	envString("DAYPLAN_LOG_FORMAT", &cfg.LogFormat)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

// BindFlags registers persistent flags whose defaults are the current
// values of c. Parsed flags write straight into c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DBPath, "db", c.DBPath, "path to the SQLite database")
	fs.StringVar(&c.BackupPath, "backup-path", c.BackupPath, "directory of the on-disk backup store (empty keeps it in memory)")
	fs.DurationVar(&c.Debounce, "debounce", c.Debounce, "delay between a write and its physical commit")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "how long clean cache entries are served from memory")
	fs.Int64Var(&c.QuotaBytes, "quota-bytes", c.QuotaBytes, "storage quota in bytes")
	fs.DurationVar(&c.DeepValidationInterval, "deep-validation-interval", c.DeepValidationInterval, "period of planner deep validation")
	fs.DurationVar(&c.BackupInterval, "backup-interval", c.BackupInterval, "period of planner backups")
	fs.BoolVar(&c.ConfirmRestore, "confirm-restore", c.ConfirmRestore, "ask before restoring the planner from backup")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "retries of a failed mutation apply")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"debounce", c.Debounce},
		{"cache_ttl", c.CacheTTL},
		{"deep_validation_interval", c.DeepValidationInterval},
		{"backup_interval", c.BackupInterval},
		{"verify_delay", c.VerifyDelay},
		{"retry_backoff", c.RetryBackoff},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if c.QuotaBytes <= 0 {
		errs = append(errs, fmt.Errorf("quota_bytes must be positive, got %d", c.QuotaBytes))
	}
	if c.OversizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("oversize_bytes must be positive, got %d", c.OversizeBytes))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
