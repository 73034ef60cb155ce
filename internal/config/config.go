// Package config holds logsync settings: defaults, an optional YAML or
// JSON file, LOGSYNC_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/xz-dev/AdGuardHome-LogSync/internal/engine"
)

// DefaultRetention is one week, in seconds.
const DefaultRetention = 604800

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOGSYNC_"

// Config is the full set of sync settings.
type Config struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Backup string `yaml:"backup"`

	// Retention is in seconds. Zero or less keeps every record.
	Retention int64  `yaml:"retention"`
	Pattern   string `yaml:"pattern"`
	BatchSize int    `yaml:"batch_size"`

	CompressBackup bool          `yaml:"compress_backup"`
	Lock           bool          `yaml:"lock"`
	Timeout        time.Duration `yaml:"timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Retention: DefaultRetention,
		Pattern:   "querylog-*{.json,.json.zst}",
		BatchSize: 10000,
		Lock:      true,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML or JSON file over the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	// JSON is a subset of YAML, so one decoder serves both.
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LOGSYNC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("NAME", &c.Name)
	str("PATH", &c.Path)
	str("BACKUP", &c.Backup)
	str("PATTERN", &c.Pattern)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup(EnvPrefix + "RETENTION"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%sRETENTION: %w", EnvPrefix, err)
		}
		c.Retention = n
	}
	if v, ok := lookup(EnvPrefix + "BATCH_SIZE"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sBATCH_SIZE: %w", EnvPrefix, err)
		}
		c.BatchSize = n
	}
	if v, ok := lookup(EnvPrefix + "COMPRESS_BACKUP"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sCOMPRESS_BACKUP: %w", EnvPrefix, err)
		}
		c.CompressBackup = b
	}
	return nil
}

// Validate checks the fields a sync run needs.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	} else if strings.ContainsAny(c.Name, `/\`) {
		errs = append(errs, fmt.Errorf("name %q must not contain path separators", c.Name))
	}
	if c.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if c.Backup == "" {
		errs = append(errs, errors.New("backup is required"))
	}
	if c.Pattern == "" {
		errs = append(errs, errors.New("pattern is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	return errors.Join(errs...)
}

// Cutoff returns the retention threshold relative to now, or the zero time
// when retention is disabled.
func (c Config) Cutoff(now time.Time) time.Time {
	return engine.RetentionCutoff(now, c.Retention)
}
