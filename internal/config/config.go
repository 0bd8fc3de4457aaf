// Package config loads service configuration from YAML, .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BTLAB_"

// Config is the full service configuration.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	WFO        WFOConfig        `yaml:"wfo"`
	Robustness RobustnessConfig `yaml:"robustness"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
}

// GatewayConfig configures the remote execution gateway client.
type GatewayConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst  int           `yaml:"rate_burst"`
	// Stub runs against the in-process gateway instead of Endpoint.
	Stub bool `yaml:"stub"`
}

// StorageConfig selects and configures persistence backends.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	// PostgresMaxConns caps the pool; zero keeps the pgx default.
	PostgresMaxConns int `yaml:"postgres_max_conns"`
	// CacheBackend is "memory", "postgres" or "redis".
	CacheBackend  string        `yaml:"cache_backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	RunMigrations bool          `yaml:"run_migrations"`
}

// MonitorConfig controls job polling and housekeeping cadence.
type MonitorConfig struct {
	Schedule             string `yaml:"schedule"` // cron spec with seconds
	Concurrency          int    `yaml:"concurrency"`
	CleanupSchedule      string `yaml:"cleanup_schedule"`
	CleanupOlderThanDays int    `yaml:"cleanup_older_than_days"`
	WFORefreshSchedule   string `yaml:"wfo_refresh_schedule"`
}

// DiscoveryConfig controls cutoff discovery.
type DiscoveryConfig struct {
	MaxProbes    int           `yaml:"max_probes"`
	ProbeRetries int           `yaml:"probe_retries"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	LookbackDays int           `yaml:"lookback_days"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// WFOConfig controls walk-forward runs.
type WFOConfig struct {
	Concurrency       int     `yaml:"concurrency"`
	DegradationMargin float64 `yaml:"degradation_margin"` // ROI percentage points
	DefaultMode       string  `yaml:"default_mode"`
	DefaultSliceMode  string  `yaml:"default_slice_mode"`
}

// RobustnessConfig controls position sizing.
type RobustnessConfig struct {
	// RiskBudget is the fraction of capital a strategy may lose at its worst drawdown.
	RiskBudget float64 `yaml:"risk_budget"`
}

// APIConfig configures the HTTP read API.
type APIConfig struct {
	Addr       string `yaml:"addr"`
	OutputDir  string `yaml:"output_dir"`
	EnableWS   bool   `yaml:"enable_ws"`
	GinRelease bool   `yaml:"gin_release"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
	Output string `yaml:"output"` // stdout | stderr | file
	File   string `yaml:"file"`

	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
			MaxDelay:   10 * time.Second,
			RateLimit:  10,
			RateBurst:  10,
		},
		Storage: StorageConfig{
			Backend:      "memory",
			CacheBackend: "memory",
		},
		Monitor: MonitorConfig{
			Schedule:             "*/30 * * * * *",
			Concurrency:          8,
			CleanupSchedule:      "0 0 3 * * *",
			CleanupOlderThanDays: 30,
			WFORefreshSchedule:   "0 */5 * * * *",
		},
		Discovery: DiscoveryConfig{
			MaxProbes:    12,
			ProbeRetries: 3,
			ProbeTimeout: 15 * time.Second,
			RetryBackoff: 2 * time.Second,
			LookbackDays: 730,
			CacheTTL:     6 * time.Hour,
		},
		WFO: WFOConfig{
			Concurrency:       4,
			DegradationMargin: 5,
			DefaultMode:       "rolling",
			DefaultSliceMode:  "test-only",
		},
		Robustness: RobustnessConfig{
			RiskBudget: 0.2,
		},
		API: APIConfig{
			Addr:      ":8080",
			OutputDir: "output",
			EnableWS:  true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration from a YAML file on top of defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process environment.
// Existing variables are not overridden. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from BTLAB_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("GATEWAY_ENDPOINT", &c.Gateway.Endpoint)
	duration("GATEWAY_TIMEOUT", &c.Gateway.Timeout)
	integer("GATEWAY_MAX_RETRIES", &c.Gateway.MaxRetries)
	boolean("GATEWAY_STUB", &c.Gateway.Stub)

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickhouseDSN)
	integer("POSTGRES_MAX_CONNS", &c.Storage.PostgresMaxConns)
	str("CACHE_BACKEND", &c.Storage.CacheBackend)
	str("REDIS_ADDR", &c.Storage.RedisAddr)
	str("REDIS_PASSWORD", &c.Storage.RedisPassword)
	integer("REDIS_DB", &c.Storage.RedisDB)
	boolean("RUN_MIGRATIONS", &c.Storage.RunMigrations)

	str("MONITOR_SCHEDULE", &c.Monitor.Schedule)
	integer("MONITOR_CONCURRENCY", &c.Monitor.Concurrency)
	integer("CLEANUP_OLDER_THAN_DAYS", &c.Monitor.CleanupOlderThanDays)

	integer("DISCOVERY_MAX_PROBES", &c.Discovery.MaxProbes)
	duration("DISCOVERY_PROBE_TIMEOUT", &c.Discovery.ProbeTimeout)

	str("API_ADDR", &c.API.Addr)
	str("OUTPUT_DIR", &c.API.OutputDir)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_OUTPUT", &c.Log.Output)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if !c.Gateway.Stub && c.Gateway.Endpoint == "" {
		errs = append(errs, errors.New("gateway.endpoint is required unless gateway.stub is set"))
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, errors.New("gateway.max_retries must be >= 0"))
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for postgres backend"))
		}
		if c.Storage.ClickhouseDSN == "" {
			errs = append(errs, errors.New("storage.clickhouse_dsn is required for postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}

	switch c.Storage.CacheBackend {
	case "memory":
	case "postgres":
		if c.Storage.Backend != "postgres" {
			errs = append(errs, errors.New("storage.cache_backend postgres requires storage.backend postgres"))
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.cache_backend: unknown backend %q", c.Storage.CacheBackend))
	}

	if c.Monitor.Concurrency < 1 {
		errs = append(errs, errors.New("monitor.concurrency must be >= 1"))
	}
	if c.Monitor.CleanupOlderThanDays < 0 {
		errs = append(errs, errors.New("monitor.cleanup_older_than_days must be >= 0"))
	}

	if c.Discovery.MaxProbes < 1 {
		errs = append(errs, errors.New("discovery.max_probes must be >= 1"))
	}
	if c.Discovery.ProbeRetries < 1 {
		errs = append(errs, errors.New("discovery.probe_retries must be >= 1"))
	}
	if c.Discovery.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("discovery.probe_timeout must be > 0"))
	}
	if c.Discovery.LookbackDays < 2 {
		errs = append(errs, errors.New("discovery.lookback_days must be >= 2"))
	}

	if c.WFO.Concurrency < 1 {
		errs = append(errs, errors.New("wfo.concurrency must be >= 1"))
	}
	if c.WFO.DegradationMargin < 0 {
		errs = append(errs, errors.New("wfo.degradation_margin must be >= 0"))
	}

	if c.Robustness.RiskBudget <= 0 || c.Robustness.RiskBudget > 1 {
		errs = append(errs, errors.New("robustness.risk_budget must be in (0, 1]"))
	}

	switch strings.ToLower(c.Log.Output) {
	case "stdout", "stderr":
	case "file":
		if c.Log.File == "" {
			errs = append(errs, errors.New("log.file is required for file output"))
		}
	default:
		errs = append(errs, fmt.Errorf("log.output: unknown output %q", c.Log.Output))
	}

	return errors.Join(errs...)
}
