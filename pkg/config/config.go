package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/onramp/pkg/observability"
)

// Config holds all daemon configuration
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Provider      ProviderConfig      `yaml:"provider"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Retention     RetentionConfig     `yaml:"retention"`
	Health        HealthConfig        `yaml:"health"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ProviderConfig holds identity-provider client settings. The provider ID is
// resolved once here and injected by reference everywhere a mapping is
// written or read.
type ProviderConfig struct {
	ID           string        `yaml:"id"`
	BaseURL      string        `yaml:"base_url"`
	IssuerURL    string        `yaml:"issuer_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ProviderID returns the parsed provider UUID.
func (c ProviderConfig) ProviderID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid provider ID %q: %w", c.ID, err)
	}
	return id, nil
}

// ReconcileConfig holds reconciliation loop settings
type ReconcileConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	Window         time.Duration `yaml:"window"`
	DedupCacheSize int           `yaml:"dedup_cache_size"`

	// RedisAddr enables the cross-replica cycle lock when set.
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	LockKey       string        `yaml:"lock_key"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// RetentionConfig holds failure-log retention settings
type RetentionConfig struct {
	// Schedule is a cron expression for the cleanup job.
	Schedule string `yaml:"schedule"`
	// MaxAge is how long failure records are kept.
	MaxAge time.Duration `yaml:"max_age"`
}

// HealthConfig holds the health/metrics server settings
type HealthConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel           observability.LogLevel `yaml:"-"`
	LogLevelName       string                 `yaml:"log_level"`
	MetricsEnabled     bool                   `yaml:"metrics_enabled"`
	OTelEnabled        bool                   `yaml:"otel_enabled"`
	OTelEndpoint       string                 `yaml:"otel_endpoint"`
	OTelServiceName    string                 `yaml:"otel_service_name"`
	OTelServiceVersion string                 `yaml:"otel_service_version"`
	OTelInsecure       bool                   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from environment variables, optionally
// overlaid by a YAML file named in ONRAMP_CONFIG_FILE. File values win over
// environment defaults; Validate runs on the merged result.
func LoadConfig() (*Config, error) {
	cfg := defaultsFromEnv()

	if path := getEnv("ONRAMP_CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultsFromEnv() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:             getEnv("ONRAMP_DATABASE_URL", "postgres://localhost/onramp?sslmode=disable"),
			MaxOpenConns:    getEnvInt("ONRAMP_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("ONRAMP_DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("ONRAMP_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Provider: ProviderConfig{
			ID:           getEnv("ONRAMP_PROVIDER_ID", ""),
			BaseURL:      getEnv("ONRAMP_PROVIDER_BASE_URL", ""),
			IssuerURL:    getEnv("ONRAMP_PROVIDER_ISSUER_URL", ""),
			TokenURL:     getEnv("ONRAMP_PROVIDER_TOKEN_URL", ""),
			ClientID:     getEnv("ONRAMP_PROVIDER_CLIENT_ID", ""),
			ClientSecret: getEnv("ONRAMP_PROVIDER_CLIENT_SECRET", ""),
			Scopes:       splitNonEmpty(getEnv("ONRAMP_PROVIDER_SCOPES", "admin")),
			Timeout:      getEnvDuration("ONRAMP_PROVIDER_TIMEOUT", 15*time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:        getEnvBool("ONRAMP_RECONCILE_ENABLED", true),
			Interval:       getEnvDuration("ONRAMP_RECONCILE_INTERVAL", 1*time.Minute),
			Window:         getEnvDuration("ONRAMP_RECONCILE_WINDOW", 5*time.Minute),
			DedupCacheSize: getEnvInt("ONRAMP_RECONCILE_DEDUP_CACHE_SIZE", 4096),
			RedisAddr:      getEnv("ONRAMP_RECONCILE_REDIS_ADDR", ""),
			RedisPassword:  getEnv("ONRAMP_RECONCILE_REDIS_PASSWORD", ""),
			RedisDB:        getEnvInt("ONRAMP_RECONCILE_REDIS_DB", 0),
			LockKey:        getEnv("ONRAMP_RECONCILE_LOCK_KEY", "onramp:reconcile:lock"),
			LockTTL:        getEnvDuration("ONRAMP_RECONCILE_LOCK_TTL", 5*time.Minute),
		},
		Retention: RetentionConfig{
			Schedule: getEnv("ONRAMP_RETENTION_SCHEDULE", "30 2 * * *"),
			MaxAge:   getEnvDuration("ONRAMP_RETENTION_MAX_AGE", 90*24*time.Hour),
		},
		Health: HealthConfig{
			Port:            getEnv("ONRAMP_HEALTH_PORT", "9090"),
			ShutdownTimeout: getEnvDuration("ONRAMP_HEALTH_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevelName:       getEnv("ONRAMP_LOG_LEVEL", "info"),
			MetricsEnabled:     getEnvBool("ONRAMP_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("ONRAMP_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("ONRAMP_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("ONRAMP_OTEL_SERVICE_NAME", "onramp"),
			OTelServiceVersion: getEnv("ONRAMP_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("ONRAMP_OTEL_INSECURE", true),
		},
	}
}

// mergeFile overlays a YAML config file onto the env-derived defaults.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}
	if c.Provider.ID == "" {
		return fmt.Errorf("provider ID is required")
	}
	if _, err := c.Provider.ProviderID(); err != nil {
		return err
	}
	if c.Provider.IssuerURL == "" && c.Provider.TokenURL == "" {
		return fmt.Errorf("provider issuer URL or token URL is required")
	}

	if c.Reconcile.Enabled {
		if c.Reconcile.Interval <= 0 {
			return fmt.Errorf("reconcile interval must be positive")
		}
		if c.Reconcile.Window <= c.Reconcile.Interval {
			return fmt.Errorf("reconcile window must exceed the interval")
		}
	}

	if c.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention max age must be positive")
	}
	if c.Health.Port == "" {
		return fmt.Errorf("health port is required")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
