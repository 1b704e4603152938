package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidTimezone       = errors.New("invalid worker timezone")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.3.0"

// Current version of the config file.
const (
	CurrentCommonVersion = 1
	CurrentWorkerVersion = 1
)

// Defaults applied when a field is left out of the config files.
const (
	DefaultRequestTimeout     = 10000
	DefaultSyncInterval       = 60
	DefaultRunHistoryDays     = 30
	DefaultTimezone           = "UTC"
	DefaultLeetCodeURL        = "https://leetcode.com/graphql"
	DefaultLeetCodeInterval   = 2000
	DefaultCodeforcesURL      = "https://codeforces.com/api/user.info"
	DefaultCodeforcesInterval = 1000
	DefaultUserAgent          = "Mozilla/5.0"
	DefaultFailureThreshold   = 5
	DefaultBreakerTimeout     = 60000
	DefaultMaxLogsToKeep      = 10
	DefaultServiceName        = "cpboard-worker"
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Worker WorkerConfig
}

// CommonConfig contains configuration shared between the worker and the db tool.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Metrics    Metrics    `koanf:"metrics"`
	Telemetry  Telemetry  `koanf:"telemetry"`
}

// WorkerConfig contains rating sync worker configuration.
type WorkerConfig struct {
	// Version of the worker config.
	Version int `koanf:"version"`
	// Request timeout in milliseconds, applied to every upstream call.
	RequestTimeout int `koanf:"request_timeout"`
	// IANA timezone that defines the calendar day used for daily rollover.
	Timezone string `koanf:"timezone"`
	// Minutes between scheduled runs in loop mode.
	SyncInterval int `koanf:"sync_interval"`
	// Days of sync run history to keep.
	RunHistoryDays int `koanf:"run_history_days"`
	// LeetCode upstream settings.
	LeetCode Platform `koanf:"leetcode"`
	// Codeforces upstream settings.
	Codeforces Platform `koanf:"codeforces"`
	// Per-platform circuit breaker settings.
	CircuitBreaker CircuitBreaker `koanf:"circuit_breaker"`

	location *time.Location
}

// Platform holds the upstream settings of one rating platform.
type Platform struct {
	// Endpoint URL.
	BaseURL string `koanf:"base_url"`
	// Minimum spacing between consecutive requests in milliseconds.
	MinInterval int `koanf:"min_interval"`
	// Random jitter applied to the spacing in milliseconds.
	Jitter int `koanf:"jitter"`
	// User-Agent header sent upstream.
	UserAgent string `koanf:"user_agent"`
}

// CircuitBreaker contains circuit breaker configuration.
type CircuitBreaker struct {
	// Whether upstream calls go through a breaker at all.
	Enabled bool `koanf:"enabled"`
	// Consecutive failures that open the breaker.
	FailureThreshold uint32 `koanf:"failure_threshold"`
	// Milliseconds the breaker stays open before allowing a trial request.
	Timeout int `koanf:"timeout"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Mirror log output to stderr.
	Console bool `koanf:"console"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
	// Disable TLS for the connection.
	Insecure bool `koanf:"insecure"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
	// Disable client side caching for servers without RESP3 tracking.
	DisableCache bool `koanf:"disable_cache"`
}

// Metrics contains the prometheus endpoint configuration.
type Metrics struct {
	// Serve /metrics while the worker runs.
	Enabled bool `koanf:"enabled"`
	// Listen address, e.g. ":9100".
	Addr string `koanf:"addr"`
}

// Telemetry contains tracing configuration.
type Telemetry struct {
	// Uptrace DSN. Tracing is disabled when empty.
	UptraceDSN string `koanf:"uptrace_dsn"`
	// Service name attached to exported spans.
	ServiceName string `koanf:"service_name"`
}

// Enabled reports whether traces should be exported.
func (t Telemetry) Enabled() bool {
	return t.UptraceDSN != ""
}

// Location returns the timezone used to compute the current calendar day.
func (w *WorkerConfig) Location() *time.Location {
	if w.location == nil {
		return time.UTC
	}

	return w.location
}

// RequestTimeoutDuration returns the per-request upstream timeout.
func (w *WorkerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(w.RequestTimeout) * time.Millisecond
}

// SyncIntervalDuration returns the spacing between scheduled runs.
func (w *WorkerConfig) SyncIntervalDuration() time.Duration {
	return time.Duration(w.SyncInterval) * time.Minute
}

// MinIntervalDuration returns the minimum spacing between requests.
func (p Platform) MinIntervalDuration() time.Duration {
	return time.Duration(p.MinInterval) * time.Millisecond
}

// JitterDuration returns the random jitter applied to the spacing.
func (p Platform) JitterDuration() time.Duration {
	return time.Duration(p.Jitter) * time.Millisecond
}

// TimeoutDuration returns how long an open breaker rejects requests.
func (c CircuitBreaker) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// LoadConfig loads the configuration from the default search paths.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadConfigFrom([]string{
		".cpboard",
		homeDir + "/.cpboard/config",
		"/etc/cpboard/config",
		"/app/config",
		"config",
		".",
	})
}

// LoadConfigFrom loads common.toml and worker.toml from the first path that has each file.
func LoadConfigFrom(configPaths []string) (*Config, string, error) {
	k := koanf.New(".")

	var usedConfigPath string

	configFiles := []string{"common", "worker"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if _, err := os.Stat(configPath); err != nil {
				continue
			}

			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, "", fmt.Errorf("failed to parse %s: %w", configPath, err)
			}

			configLoaded = true

			if usedConfigPath == "" {
				usedConfigPath = path
			}

			break
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("worker", config.Worker.Version, CurrentWorkerVersion); err != nil {
		return nil, "", err
	}

	applyDefaults(&config)

	location, err := time.LoadLocation(config.Worker.Timezone)
	if err != nil {
		return nil, "", fmt.Errorf("%w %q: %w", ErrInvalidTimezone, config.Worker.Timezone, err)
	}

	config.Worker.location = location

	return &config, usedConfigPath, nil
}

// applyDefaults fills zero values with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Common.Debug.LogLevel == "" {
		cfg.Common.Debug.LogLevel = "info"
	}

	if cfg.Common.Debug.MaxLogsToKeep <= 0 {
		cfg.Common.Debug.MaxLogsToKeep = DefaultMaxLogsToKeep
	}

	if cfg.Common.Telemetry.ServiceName == "" {
		cfg.Common.Telemetry.ServiceName = DefaultServiceName
	}

	w := &cfg.Worker
	if w.RequestTimeout <= 0 {
		w.RequestTimeout = DefaultRequestTimeout
	}

	if w.Timezone == "" {
		w.Timezone = DefaultTimezone
	}

	if w.SyncInterval <= 0 {
		w.SyncInterval = DefaultSyncInterval
	}

	if w.RunHistoryDays <= 0 {
		w.RunHistoryDays = DefaultRunHistoryDays
	}

	platformDefaults(&w.LeetCode, DefaultLeetCodeURL, DefaultLeetCodeInterval)
	platformDefaults(&w.Codeforces, DefaultCodeforcesURL, DefaultCodeforcesInterval)

	if w.CircuitBreaker.FailureThreshold == 0 {
		w.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}

	if w.CircuitBreaker.Timeout <= 0 {
		w.CircuitBreaker.Timeout = DefaultBreakerTimeout
	}
}

func platformDefaults(p *Platform, baseURL string, interval int) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}

	if p.MinInterval <= 0 {
		p.MinInterval = interval
	}

	if p.Jitter < 0 {
		p.Jitter = 0
	}

	if p.UserAgent == "" {
		p.UserAgent = DefaultUserAgent
	}
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/cpboard/cpboard/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
