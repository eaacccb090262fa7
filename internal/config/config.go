// Package config loads the ttsync configuration: YAML via viper with
// TTSYNC_* environment overrides, plus a fallback reader for the legacy
// TOML format older installs still carry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/conflict"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/engine"
)

// Config is the full configuration surface of the binary.
type Config struct {
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Filters   FilterConfig    `yaml:"filters" mapstructure:"filters"`
	Paths     PathConfig      `yaml:"paths" mapstructure:"paths"`
	Daemon    DaemonConfig    `yaml:"daemon" mapstructure:"daemon"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
}

type SyncConfig struct {
	ConflictStrategy     string  `yaml:"conflict_strategy" mapstructure:"conflict_strategy"`
	AutoResolveConflicts bool    `yaml:"auto_resolve_conflicts" mapstructure:"auto_resolve_conflicts"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	LockTimeoutSeconds   int     `yaml:"lock_timeout_seconds" mapstructure:"lock_timeout_seconds"`
}

type FilterConfig struct {
	EnabledProjects  []string `yaml:"enabled_projects,omitempty" mapstructure:"enabled_projects"`
	ExcludedProjects []string `yaml:"excluded_projects,omitempty" mapstructure:"excluded_projects"`
	EnabledTags      []string `yaml:"enabled_tags,omitempty" mapstructure:"enabled_tags"`
	ExcludedTags     []string `yaml:"excluded_tags,omitempty" mapstructure:"excluded_tags"`
}

type PathConfig struct {
	Store      string `yaml:"store" mapstructure:"store"`
	TodoistDir string `yaml:"todoist_dir" mapstructure:"todoist_dir"`
	ThingsDir  string `yaml:"things_dir" mapstructure:"things_dir"`
}

type DaemonConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds" mapstructure:"interval_seconds"`
	DebounceSeconds int    `yaml:"debounce_seconds" mapstructure:"debounce_seconds"`
	LogPath         string `yaml:"log_path" mapstructure:"log_path"`
}

type DashboardConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".ttsync")
	return &Config{
		Sync: SyncConfig{
			ConflictStrategy:     string(conflict.StrategyNewestWins),
			AutoResolveConflicts: true,
			SimilarityThreshold:  0.85,
			LockTimeoutSeconds:   30,
		},
		Paths: PathConfig{
			Store:      filepath.Join(base, "ttsync.db"),
			TodoistDir: filepath.Join(base, "todoist"),
			ThingsDir:  filepath.Join(base, "things"),
		},
		Daemon: DaemonConfig{
			IntervalSeconds: 300,
			DebounceSeconds: 2,
			LogPath:         filepath.Join(base, "daemon.log"),
		},
		Dashboard: DashboardConfig{
			Addr: "127.0.0.1:8844",
		},
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ttsync", "ttsync.yaml")
}

// Load reads configuration from path, or from the default location when
// path is empty. A missing file yields the defaults. Environment
// variables prefixed TTSYNC_ override file values
// (TTSYNC_SYNC_CONFLICT_STRATEGY and so on). If only a legacy
// ttsync.toml exists next to the expected YAML file, it is read instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		legacy := strings.TrimSuffix(path, filepath.Ext(path)) + ".toml"
		if _, err := os.Stat(legacy); err == nil {
			if err := loadLegacyTOML(legacy, cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		applyEnv(cfg)
		return cfg, cfg.Validate()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, cfg.Validate()
}

// applyEnv covers the overrides that matter even without a config file;
// viper's AutomaticEnv only kicks in for keys it saw in a file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TTSYNC_SYNC_CONFLICT_STRATEGY"); v != "" {
		cfg.Sync.ConflictStrategy = v
	}
	if v := os.Getenv("TTSYNC_PATHS_STORE"); v != "" {
		cfg.Paths.Store = v
	}
}

func loadLegacyTOML(path string, cfg *Config) error {
	// The pre-rewrite installer wrote a flat TOML file.
	var legacy struct {
		ConflictStrategy    string   `toml:"conflict_strategy"`
		AutoResolve         bool     `toml:"auto_resolve"`
		SimilarityThreshold float64  `toml:"similarity_threshold"`
		StorePath           string   `toml:"store_path"`
		ExcludedProjects    []string `toml:"excluded_projects"`
		ExcludedTags        []string `toml:"excluded_tags"`
	}
	if _, err := toml.DecodeFile(path, &legacy); err != nil {
		return fmt.Errorf("failed to parse legacy config %s: %w", path, err)
	}

	if legacy.ConflictStrategy != "" {
		cfg.Sync.ConflictStrategy = legacy.ConflictStrategy
	}
	cfg.Sync.AutoResolveConflicts = legacy.AutoResolve
	if legacy.SimilarityThreshold > 0 {
		cfg.Sync.SimilarityThreshold = legacy.SimilarityThreshold
	}
	if legacy.StorePath != "" {
		cfg.Paths.Store = legacy.StorePath
	}
	cfg.Filters.ExcludedProjects = legacy.ExcludedProjects
	cfg.Filters.ExcludedTags = legacy.ExcludedTags
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if !conflict.Strategy(c.Sync.ConflictStrategy).Valid() {
		return fmt.Errorf("unknown conflict strategy %q", c.Sync.ConflictStrategy)
	}
	if c.Sync.SimilarityThreshold <= 0 || c.Sync.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", c.Sync.SimilarityThreshold)
	}
	if c.Sync.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %d", c.Sync.LockTimeoutSeconds)
	}
	return nil
}

// Write saves the configuration as YAML, creating parent directories.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// LockTimeout returns the configured lock timeout as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Sync.LockTimeoutSeconds) * time.Second
}

// EngineSettings converts the configuration into orchestrator settings.
func (c *Config) EngineSettings() engine.Settings {
	return engine.Settings{
		ConflictStrategy:     conflict.Strategy(c.Sync.ConflictStrategy),
		AutoResolveConflicts: c.Sync.AutoResolveConflicts,
		SimilarityThreshold:  c.Sync.SimilarityThreshold,
		EnabledProjects:      c.Filters.EnabledProjects,
		ExcludedProjects:     c.Filters.ExcludedProjects,
		EnabledTags:          c.Filters.EnabledTags,
		ExcludedTags:         c.Filters.ExcludedTags,
	}
}
