// Package config loads blogpack's TOML configuration: defaults, an
// auto-created config file, environment overrides, and explicit validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	Fetch  FetchConfig  `toml:"fetch"`
	Server ServerConfig `toml:"server"`
}

// FetchConfig controls one archive run's crawling behavior.
type FetchConfig struct {
	TimeoutSeconds     int  `toml:"timeout_seconds"`
	MaxRetries         int  `toml:"max_retries"`
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`

	Platforms map[string]PlatformLimits `toml:"platforms"`
}

// PlatformLimits bounds request pressure against one platform. Substack is
// the least tolerant of the three, so its defaults are the strictest.
type PlatformLimits struct {
	Workers           int     `toml:"workers"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ServerConfig holds hosted-mode settings.
type ServerConfig struct {
	Port              int    `toml:"port"`
	DataDir           string `toml:"data_dir"`
	QueueDepth        int    `toml:"queue_depth"`
	MaxConcurrentRuns int    `toml:"max_concurrent_runs"`
	RunTimeoutMinutes int    `toml:"run_timeout_minutes"`
	RetentionMinutes  int    `toml:"retention_minutes"`
	MaxPostsPerJob    int    `toml:"max_posts_per_job"`

	// Admission is refused below MinMemoryPercent available; the EPUB and
	// PDF exporters are skipped below ExportMemoryFloorMB available.
	MinMemoryPercent    float64 `toml:"min_memory_percent"`
	ExportMemoryFloorMB int     `toml:"export_memory_floor_mb"`
}

const defaultConfigContent = `[fetch]
timeout_seconds = 30
max_retries = 5                   # retries after HTTP 429, exponential backoff
insecure_skip_verify = false      # skip TLS certificate verification

[fetch.platforms.ghost]
workers = 5
requests_per_second = 10.0

[fetch.platforms.substack]
workers = 2
requests_per_second = 1.0

[fetch.platforms.wordpress]
workers = 3
requests_per_second = 2.0

[server]
port = 8080
data_dir = "./data"               # job database and artifacts
queue_depth = 10
max_concurrent_runs = 1
run_timeout_minutes = 30
retention_minutes = 60            # finished jobs and artifacts expire after this
max_posts_per_job = 500
min_memory_percent = 20.0         # refuse new jobs below this much free memory
export_memory_floor_mb = 512      # skip epub/pdf below this much free memory
`

// Load reads and parses the TOML config from the given path. If the file does
// not exist, it creates a default config file at that path. Environment
// variables override values from the file with highest priority.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
		slog.Info("created default config file", "path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Validate explicitly-set values before applying defaults, so that
	// explicitly writing "port = 0" is an error rather than silently
	// being replaced with the default.
	if err := validateExplicit(&cfg, md); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// An explicit max_retries = 0 means retries are off; only an absent key
	// falls back to the default.
	retriesOff := md.IsDefined("fetch", "max_retries") && cfg.Fetch.MaxRetries == 0

	applyDefaults(&cfg)
	if retriesOff {
		cfg.Fetch.MaxRetries = 0
	}
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without touching the
// filesystem. Used by the CLI, which has no config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Limits returns the request limits for a platform, falling back to the
// WordPress (middle-of-the-road) defaults for unknown names.
func (c *Config) Limits(platform string) PlatformLimits {
	if l, ok := c.Fetch.Platforms[platform]; ok {
		return l
	}
	return PlatformLimits{Workers: 3, RequestsPerSecond: 2.0}
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// createDefault writes the default config content to the given path,
// creating any parent directories as needed.
func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigContent), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

// validateExplicit checks values that were explicitly set in the TOML file.
// This catches cases like "port = 0" which would otherwise be silently
// replaced by the default value.
func validateExplicit(cfg *Config, md toml.MetaData) error {
	if md.IsDefined("server", "port") {
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", cfg.Server.Port)
		}
	}
	if md.IsDefined("server", "queue_depth") {
		if cfg.Server.QueueDepth < 1 {
			return fmt.Errorf("invalid server.queue_depth %d: must be >= 1", cfg.Server.QueueDepth)
		}
	}
	if md.IsDefined("fetch", "timeout_seconds") {
		if cfg.Fetch.TimeoutSeconds < 1 {
			return fmt.Errorf("invalid fetch.timeout_seconds %d: must be >= 1", cfg.Fetch.TimeoutSeconds)
		}
	}
	return nil
}

// applyDefaults sets default values for any zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Fetch.TimeoutSeconds == 0 {
		cfg.Fetch.TimeoutSeconds = 30
	}
	if cfg.Fetch.MaxRetries == 0 {
		cfg.Fetch.MaxRetries = 5
	}
	if cfg.Fetch.Platforms == nil {
		cfg.Fetch.Platforms = make(map[string]PlatformLimits)
	}
	defaults := map[string]PlatformLimits{
		"ghost":     {Workers: 5, RequestsPerSecond: 10.0},
		"substack":  {Workers: 2, RequestsPerSecond: 1.0},
		"wordpress": {Workers: 3, RequestsPerSecond: 2.0},
	}
	for name, def := range defaults {
		l := cfg.Fetch.Platforms[name]
		if l.Workers == 0 {
			l.Workers = def.Workers
		}
		if l.RequestsPerSecond == 0 {
			l.RequestsPerSecond = def.RequestsPerSecond
		}
		cfg.Fetch.Platforms[name] = l
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "./data"
	}
	if cfg.Server.QueueDepth == 0 {
		cfg.Server.QueueDepth = 10
	}
	if cfg.Server.MaxConcurrentRuns == 0 {
		cfg.Server.MaxConcurrentRuns = 1
	}
	if cfg.Server.RunTimeoutMinutes == 0 {
		cfg.Server.RunTimeoutMinutes = 30
	}
	if cfg.Server.RetentionMinutes == 0 {
		cfg.Server.RetentionMinutes = 60
	}
	if cfg.Server.MaxPostsPerJob == 0 {
		cfg.Server.MaxPostsPerJob = 500
	}
	if cfg.Server.MinMemoryPercent == 0 {
		cfg.Server.MinMemoryPercent = 20.0
	}
	if cfg.Server.ExportMemoryFloorMB == 0 {
		cfg.Server.ExportMemoryFloorMB = 512
	}
}

// applyEnvOverrides applies environment variable overrides. Environment
// variables take highest priority over config file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BLOGPACK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BLOGPACK_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("BLOGPACK_QUEUE_DEPTH"); v != "" {
		if depth, err := strconv.Atoi(v); err == nil {
			cfg.Server.QueueDepth = depth
		}
	}
}

// validate checks that configuration values are within acceptable ranges.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", cfg.Server.Port)
	}
	if cfg.Server.QueueDepth < 1 {
		return fmt.Errorf("invalid server.queue_depth %d: must be >= 1", cfg.Server.QueueDepth)
	}
	if cfg.Server.MaxConcurrentRuns < 1 {
		return fmt.Errorf("invalid server.max_concurrent_runs %d: must be >= 1", cfg.Server.MaxConcurrentRuns)
	}
	if cfg.Server.MinMemoryPercent < 0 || cfg.Server.MinMemoryPercent > 100 {
		return fmt.Errorf("invalid server.min_memory_percent %v: must be between 0 and 100", cfg.Server.MinMemoryPercent)
	}
	if cfg.Fetch.TimeoutSeconds < 1 {
		return fmt.Errorf("invalid fetch.timeout_seconds %d: must be >= 1", cfg.Fetch.TimeoutSeconds)
	}
	if cfg.Fetch.MaxRetries < 0 {
		return fmt.Errorf("invalid fetch.max_retries %d: must be >= 0", cfg.Fetch.MaxRetries)
	}
	for name, l := range cfg.Fetch.Platforms {
		if l.Workers < 1 {
			return fmt.Errorf("invalid fetch.platforms.%s.workers %d: must be >= 1", name, l.Workers)
		}
		if l.RequestsPerSecond <= 0 {
			return fmt.Errorf("invalid fetch.platforms.%s.requests_per_second %v: must be > 0", name, l.RequestsPerSecond)
		}
	}
	return nil
}
