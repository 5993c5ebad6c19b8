// Package config loads kws settings from kws.yaml or kws.toml, KWS_
// environment variables and built-in defaults, in increasing order of
// precedence: defaults < file < environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kwspace/kws/internal/vfs/materialize"
)

// EnvPrefix is the prefix of environment overrides, e.g. KWS_FLUSH_ATOMIC.
const EnvPrefix = "KWS"

// Config is the full set of kws settings.
type Config struct {
	Database  string          `mapstructure:"database" yaml:"database"`
	LogFile   string          `mapstructure:"log_file" yaml:"log_file"`
	Verbose   bool            `mapstructure:"verbose" yaml:"verbose"`
	Flush     FlushConfig     `mapstructure:"flush" yaml:"flush"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
}

// FlushConfig mirrors materialize.FlushOptions.
type FlushConfig struct {
	PreservePermissions bool `mapstructure:"preserve_permissions" yaml:"preserve_permissions"`
	PreserveTimestamps  bool `mapstructure:"preserve_timestamps" yaml:"preserve_timestamps"`
	CreateBackup        bool `mapstructure:"create_backup" yaml:"create_backup"`
	Atomic              bool `mapstructure:"atomic" yaml:"atomic"`
	Parallel            bool `mapstructure:"parallel" yaml:"parallel"`
	// MaxWorkers of 0 means one per CPU.
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`
}

// SyncConfig mirrors materialize.SyncOptions.
type SyncConfig struct {
	SkipHidden           bool     `mapstructure:"skip_hidden" yaml:"skip_hidden"`
	FollowSymlinks       bool     `mapstructure:"follow_symlinks" yaml:"follow_symlinks"`
	MaxDepth             int      `mapstructure:"max_depth" yaml:"max_depth"`
	AutoResolveConflicts bool     `mapstructure:"auto_resolve_conflicts" yaml:"auto_resolve_conflicts"`
	ExcludePatterns      []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
}

// DaemonConfig holds the watch loop timings.
type DaemonConfig struct {
	DebounceInterval time.Duration `mapstructure:"debounce_interval" yaml:"debounce_interval"`
	// FlushInterval of 0 disables periodic flushing.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// DashboardConfig holds the dashboard listener settings.
type DashboardConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics"`
}

// Default returns the settings used when nothing is configured. They match
// the engine's own defaults.
func Default() *Config {
	flush := materialize.DefaultFlushOptions()
	sync := materialize.DefaultSyncOptions()
	return &Config{
		Database: "kws.db",
		Flush: FlushConfig{
			PreservePermissions: flush.PreservePermissions,
			PreserveTimestamps:  flush.PreserveTimestamps,
			CreateBackup:        flush.CreateBackup,
			Atomic:              flush.Atomic,
			Parallel:            flush.Parallel,
			MaxWorkers:          flush.MaxWorkers,
		},
		Sync: SyncConfig{
			SkipHidden:           sync.SkipHidden,
			FollowSymlinks:       sync.FollowSymlinks,
			MaxDepth:             sync.MaxDepth,
			AutoResolveConflicts: sync.AutoResolveConflicts,
			ExcludePatterns:      sync.ExcludePatterns,
		},
		Daemon: DaemonConfig{
			DebounceInterval: 100 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			Addr:    ":8080",
			Metrics: true,
		},
	}
}

// Load reads the configuration. With an empty path it looks for kws.yaml,
// kws.yml or kws.toml in the working directory and then in
// $XDG_CONFIG_HOME/kws (or ~/.config/kws); a missing file is not an error.
// An explicit path must exist.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("kws")
		v.AddConfigPath(".")
		if dir := userConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot use.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Flush.MaxWorkers < 0 {
		return fmt.Errorf("flush.max_workers must not be negative")
	}
	if c.Sync.MaxDepth < 1 {
		return fmt.Errorf("sync.max_depth must be at least 1")
	}
	if c.Daemon.DebounceInterval < 0 || c.Daemon.FlushInterval < 0 {
		return fmt.Errorf("daemon intervals must not be negative")
	}
	return nil
}

// FlushOptions converts the flush section for the engine.
func (c *Config) FlushOptions() materialize.FlushOptions {
	return materialize.FlushOptions{
		PreservePermissions: c.Flush.PreservePermissions,
		PreserveTimestamps:  c.Flush.PreserveTimestamps,
		CreateBackup:        c.Flush.CreateBackup,
		Atomic:              c.Flush.Atomic,
		Parallel:            c.Flush.Parallel,
		MaxWorkers:          c.Flush.MaxWorkers,
	}
}

// SyncOptions converts the sync section for the engine.
func (c *Config) SyncOptions() materialize.SyncOptions {
	return materialize.SyncOptions{
		SkipHidden:           c.Sync.SkipHidden,
		FollowSymlinks:       c.Sync.FollowSymlinks,
		MaxDepth:             c.Sync.MaxDepth,
		AutoResolveConflicts: c.Sync.AutoResolveConflicts,
		ExcludePatterns:      append([]string(nil), c.Sync.ExcludePatterns...),
	}
}

// Write saves cfg as YAML at path, creating parent directories. An existing
// file is only replaced when overwrite is set.
func Write(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	header := []byte("# kws configuration. Environment variables prefixed with " +
		EnvPrefix + "_ override these values.\n")
	if err := os.WriteFile(path, append(header, data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it during Unmarshal.
	d := Default()
	v.SetDefault("database", d.Database)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("verbose", d.Verbose)

	v.SetDefault("flush.preserve_permissions", d.Flush.PreservePermissions)
	v.SetDefault("flush.preserve_timestamps", d.Flush.PreserveTimestamps)
	v.SetDefault("flush.create_backup", d.Flush.CreateBackup)
	v.SetDefault("flush.atomic", d.Flush.Atomic)
	v.SetDefault("flush.parallel", d.Flush.Parallel)
	v.SetDefault("flush.max_workers", d.Flush.MaxWorkers)

	v.SetDefault("sync.skip_hidden", d.Sync.SkipHidden)
	v.SetDefault("sync.follow_symlinks", d.Sync.FollowSymlinks)
	v.SetDefault("sync.max_depth", d.Sync.MaxDepth)
	v.SetDefault("sync.auto_resolve_conflicts", d.Sync.AutoResolveConflicts)
	v.SetDefault("sync.exclude_patterns", d.Sync.ExcludePatterns)

	v.SetDefault("daemon.debounce_interval", d.Daemon.DebounceInterval)
	v.SetDefault("daemon.flush_interval", d.Daemon.FlushInterval)

	v.SetDefault("dashboard.addr", d.Dashboard.Addr)
	v.SetDefault("dashboard.metrics", d.Dashboard.Metrics)
	return v
}

func userConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kws")
}
