package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/hubcap/pkg/settings"
)

// Config holds all application configuration
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Inspection InspectionConfig `yaml:"inspection"`
	Watch      WatchConfig      `yaml:"watch"`
	Server     ServerConfig     `yaml:"server"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	History    HistoryConfig    `yaml:"history"`
	Redis      RedisConfig      `yaml:"redis"`

	Repositories []Repository `yaml:"repositories"`
}

// InspectionConfig holds the defaults for directory inspection
type InspectionConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`
	Parallelism     int           `yaml:"parallelism"`
}

// WatchConfig controls re-inspection of directories on change
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// RefreshConfig schedules periodic re-inspection of every repository
type RefreshConfig struct {
	// Schedule is a cron spec ("*/5 * * * *", "@every 10m"); empty disables it.
	Schedule string `yaml:"schedule"`
}

// HistoryConfig enables the SQL inspection history
type HistoryConfig struct {
	// Driver is "postgres" or "sqlite3"; empty disables the history.
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Retention       time.Duration `yaml:"retention"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

// RedisConfig enables publishing to Redis
type RedisConfig struct {
	// URL is a redis:// URL; empty disables publishing.
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Repository is one configured repository: a kind name and its settings bag.
type Repository struct {
	Kind     string       `yaml:"kind"`
	Settings settings.Bag `yaml:"settings"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Inspection: InspectionConfig{
			Timeout:         30 * time.Second,
			TeardownTimeout: 5 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:            ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "hubcap",
			Insecure:    true,
		},
		History: HistoryConfig{
			Retention:       30 * 24 * time.Hour,
			CleanupSchedule: "@daily",
		},
		Redis: RedisConfig{
			Prefix: "hubcap",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with HUBCAP_* environment variables
func (c *Config) applyEnv() {
	c.LogLevel = getEnv("HUBCAP_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("HUBCAP_LOG_FORMAT", c.LogFormat)

	c.Inspection.Timeout = getEnvDuration("HUBCAP_INSPECTION_TIMEOUT", c.Inspection.Timeout)
	c.Inspection.TeardownTimeout = getEnvDuration("HUBCAP_TEARDOWN_TIMEOUT", c.Inspection.TeardownTimeout)
	c.Inspection.Parallelism = getEnvInt("HUBCAP_INSPECTION_PARALLELISM", c.Inspection.Parallelism)

	c.Watch.Enabled = getEnvBool("HUBCAP_WATCH_ENABLED", c.Watch.Enabled)
	c.Watch.Debounce = getEnvDuration("HUBCAP_WATCH_DEBOUNCE", c.Watch.Debounce)

	c.Server.Addr = getEnv("HUBCAP_ADDR", c.Server.Addr)
	c.Server.ShutdownTimeout = getEnvDuration("HUBCAP_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Tracing.Enabled = getEnvBool("HUBCAP_OTEL_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("HUBCAP_OTEL_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.ServiceName = getEnv("HUBCAP_OTEL_SERVICE_NAME", c.Tracing.ServiceName)
	c.Tracing.Insecure = getEnvBool("HUBCAP_OTEL_INSECURE", c.Tracing.Insecure)

	c.Refresh.Schedule = getEnv("HUBCAP_REFRESH_SCHEDULE", c.Refresh.Schedule)

	c.History.Driver = getEnv("HUBCAP_HISTORY_DRIVER", c.History.Driver)
	c.History.DSN = getEnv("HUBCAP_HISTORY_DSN", c.History.DSN)
	c.History.Retention = getEnvDuration("HUBCAP_HISTORY_RETENTION", c.History.Retention)

	c.Redis.URL = getEnv("HUBCAP_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("HUBCAP_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("HUBCAP_REDIS_DB", c.Redis.DB)

	for _, dir := range strings.Split(getEnv("HUBCAP_PLUGIN_DIRS", ""), ",") {
		if dir = strings.TrimSpace(dir); dir != "" {
			c.Repositories = append(c.Repositories, Repository{
				Kind:     "directory",
				Settings: settings.New("path", dir),
			})
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat))
	}

	if c.Inspection.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("inspection timeout must be positive"))
	}
	if c.Inspection.TeardownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("teardown timeout must be positive"))
	}
	if c.Inspection.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("inspection parallelism must not be negative"))
	}
	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("watch debounce must be positive when watching is enabled"))
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when tracing is enabled"))
		}
		if c.Tracing.ServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when tracing is enabled"))
		}
	}

	if c.Refresh.Schedule != "" {
		if _, err := cron.ParseStandard(c.Refresh.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid refresh schedule %q: %w", c.Refresh.Schedule, err))
		}
	}

	switch c.History.Driver {
	case "":
	case "postgres", "sqlite3":
		if c.History.DSN == "" {
			errs = append(errs, fmt.Errorf("history DSN is required when a history driver is set"))
		}
		if c.History.Retention < 0 {
			errs = append(errs, fmt.Errorf("history retention must not be negative"))
		}
		if c.History.Retention > 0 {
			if _, err := cron.ParseStandard(c.History.CleanupSchedule); err != nil {
				errs = append(errs, fmt.Errorf("invalid history cleanup schedule %q: %w", c.History.CleanupSchedule, err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("invalid history driver: %s (must be postgres or sqlite3)", c.History.Driver))
	}

	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("redis DB must not be negative"))
	}

	for i, r := range c.Repositories {
		if r.Kind == "" {
			errs = append(errs, fmt.Errorf("repositories[%d]: kind is required", i))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
