// Package config provides configuration management for the BOQ matching service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the BOQ matching service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal workflow orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains classification service client settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Catalog contains pricing-catalog source API configurations.
	Catalog CatalogConfig `mapstructure:"catalog"`
	// Kafka contains Kafka publisher settings for job lifecycle events.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Cache contains match result cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Pipeline contains batch pipeline defaults.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 25).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue name for batch matching workflows.
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// LLMConfig holds classification service client configuration.
type LLMConfig struct {
	// Provider is the LLM provider (anthropic, openai).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Temperature is the sampling temperature for classification calls.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens is the response token cap per call.
	MaxTokens int `mapstructure:"max_tokens"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (loaded from BOQMATCH_LLM_ANTHROPIC_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the Anthropic model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the Anthropic API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI-specific settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (loaded from BOQMATCH_LLM_OPENAI_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the OpenAI model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the OpenAI API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// CatalogConfig holds configuration for all pricing-catalog sources.
type CatalogConfig struct {
	// URS contains the primary pricing-catalog API settings.
	URS CatalogSourceConfig `mapstructure:"urs"`
	// RTS contains the fallback pricing-catalog API settings.
	RTS CatalogSourceConfig `mapstructure:"rts"`
	// Local contains the offline catalog file settings.
	Local LocalCatalogConfig `mapstructure:"local"`
}

// CatalogSourceConfig holds configuration for a single catalog source API.
type CatalogSourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. BOQMATCH_CATALOG_URS_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// LocalCatalogConfig holds the offline catalog settings.
type LocalCatalogConfig struct {
	// Enabled controls whether the local catalog is consulted before remote sources.
	Enabled bool `mapstructure:"enabled"`
	// Path is the JSON catalog file path.
	Path string `mapstructure:"path"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
	// ShortCircuitScore is the minimum local lexical score that skips remote search.
	ShortCircuitScore float64 `mapstructure:"short_circuit_score"`
}

// KafkaConfig holds Kafka publisher settings for job lifecycle events.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic to publish job lifecycle events to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// CacheConfig holds match result cache settings.
type CacheConfig struct {
	// Enabled controls whether stage results are cached.
	Enabled bool `mapstructure:"enabled"`
	// SplitTTL is the lifetime of cached split decisions.
	SplitTTL time.Duration `mapstructure:"split_ttl"`
	// RetrieveTTL is the lifetime of cached retrieval results.
	RetrieveTTL time.Duration `mapstructure:"retrieve_ttl"`
	// RerankTTL is the lifetime of cached rerank results.
	RerankTTL time.Duration `mapstructure:"rerank_ttl"`
	// SweepInterval is how often the worker removes expired entries.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PipelineConfig holds batch pipeline defaults.
type PipelineConfig struct {
	// DefaultConcurrency is the item fan-out used when a job omits it.
	DefaultConcurrency int `mapstructure:"default_concurrency"`
	// MaxConcurrency is the hard upper bound on per-job fan-out.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// MaxItemsPerJob caps the number of lines accepted in one submission.
	MaxItemsPerJob int `mapstructure:"max_items_per_job"`
	// ItemTimeout is the per-item processing activity timeout.
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("BOQMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/boq-matching-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	// LLM provider API keys.
	cfg.LLM.Anthropic.APIKey = os.Getenv("BOQMATCH_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.OpenAI.APIKey = os.Getenv("BOQMATCH_LLM_OPENAI_API_KEY")

	// Catalog source API keys.
	cfg.Catalog.URS.APIKey = os.Getenv("BOQMATCH_CATALOG_URS_API_KEY")
	cfg.Catalog.RTS.APIKey = os.Getenv("BOQMATCH_CATALOG_RTS_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "boqmatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "boq_matching_service")
	// Default to "require" for production security. Use BOQMATCH_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "boq-matching")
	v.SetDefault("temporal.task_queue", "boq-matching-tasks")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// LLM defaults
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 2048)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")

	// Catalog defaults - URS (primary)
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("catalog.urs.enabled", true)
	v.SetDefault("catalog.urs.base_url", "https://api.urs-katalog.cz/v1")
	v.SetDefault("catalog.urs.timeout", "30s")
	v.SetDefault("catalog.urs.rate_limit", 5.0)
	v.SetDefault("catalog.urs.max_results", 20)

	// Catalog defaults - RTS (fallback)
	v.SetDefault("catalog.rts.enabled", true)
	v.SetDefault("catalog.rts.base_url", "https://api.rts-data.cz/v1")
	v.SetDefault("catalog.rts.timeout", "30s")
	v.SetDefault("catalog.rts.rate_limit", 5.0)
	v.SetDefault("catalog.rts.max_results", 20)

	// Catalog defaults - local offline catalog
	v.SetDefault("catalog.local.enabled", false)
	v.SetDefault("catalog.local.path", "catalog.json")
	v.SetDefault("catalog.local.max_results", 20)
	v.SetDefault("catalog.local.short_circuit_score", 0.9)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.boq_matching.jobs")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.split_ttl", "720h")    // 30 days
	v.SetDefault("cache.retrieve_ttl", "168h") // 7 days
	v.SetDefault("cache.rerank_ttl", "168h")   // 7 days
	v.SetDefault("cache.sweep_interval", "1h")

	// Pipeline defaults
	v.SetDefault("pipeline.default_concurrency", 3)
	v.SetDefault("pipeline.max_concurrency", 10)
	v.SetDefault("pipeline.max_items_per_job", 5000)
	v.SetDefault("pipeline.item_timeout", "5m")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate that the configured LLM provider has its required API key set.
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires BOQMATCH_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider)
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires BOQMATCH_LLM_OPENAI_API_KEY to be set", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	// Validate catalog config: at least one source must be enabled.
	if !c.Catalog.URS.Enabled && !c.Catalog.RTS.Enabled && !c.Catalog.Local.Enabled {
		return fmt.Errorf("at least one catalog source must be enabled")
	}
	if c.Catalog.Local.Enabled && c.Catalog.Local.Path == "" {
		return fmt.Errorf("catalog.local.path is required when the local catalog is enabled")
	}

	// Validate pipeline config
	if c.Pipeline.DefaultConcurrency <= 0 {
		return fmt.Errorf("pipeline default_concurrency must be positive")
	}
	if c.Pipeline.MaxConcurrency < c.Pipeline.DefaultConcurrency {
		return fmt.Errorf("pipeline max_concurrency (%d) must be >= default_concurrency (%d)",
			c.Pipeline.MaxConcurrency, c.Pipeline.DefaultConcurrency)
	}
	if c.Pipeline.MaxItemsPerJob <= 0 {
		return fmt.Errorf("pipeline max_items_per_job must be positive")
	}

	return nil
}
