// Package config provides configuration management for the reference harvester service.
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
)

// Config holds all configuration for the reference harvester service.
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
	// Harvest contains aggregation pipeline settings.
	Harvest HarvestConfig `mapstructure:"harvest"`
	// Sources contains external reference source settings.
	Sources SourcesConfig `mapstructure:"sources"`
	// Classifier contains entity extraction settings.
	Classifier ClassifierConfig `mapstructure:"classifier"`
	// LLM contains chat-completions client settings for insight generation.
	LLM LLMConfig `mapstructure:"llm"`
	// Kafka contains harvest event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// CORS contains cross-origin settings for the public endpoints.
	CORS CORSConfig `mapstructure:"cors"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
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
	// Password is the database password (set via environment in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum idle time before a connection is closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between idle connection health checks.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue name for harvest workflows.
	TaskQueue string `mapstructure:"task_queue"`
	// CronSchedule, when set, schedules recurring harvests from the worker
	// (standard cron format, e.g. "0 */6 * * *").
	CronSchedule string `mapstructure:"cron_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
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
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// HarvestConfig holds aggregation pipeline settings.
type HarvestConfig struct {
	// LiteratureQuery is the default literature search query.
	LiteratureQuery string `mapstructure:"literature_query"`
	// TrialsQuery is the default clinical-trials condition query.
	TrialsQuery string `mapstructure:"trials_query"`
	// MaxPerSource bounds results fetched from each source per harvest.
	MaxPerSource int `mapstructure:"max_per_source"`
	// Retention is how long harvested references stay visible to search.
	Retention time.Duration `mapstructure:"retention"`
	// EnrichmentWorkers caps concurrent entity-extraction calls.
	EnrichmentWorkers int `mapstructure:"enrichment_workers"`
}

// SourcesConfig holds configuration for all external reference sources.
type SourcesConfig struct {
	// PubMed contains NCBI E-utilities settings.
	PubMed SourceConfig `mapstructure:"pubmed"`
	// ClinicalTrials contains ClinicalTrials.gov settings.
	ClinicalTrials SourceConfig `mapstructure:"clinicaltrials"`
}

// SourceConfig holds configuration for a single reference source.
type SourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment, e.g.
	// REFHARVEST_SOURCES_PUBMED_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxAttempts is the total number of attempts per request, including
	// the first.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// ClassifierConfig holds entity extraction service settings.
type ClassifierConfig struct {
	// Endpoint is the entity extraction API endpoint URL.
	Endpoint string `mapstructure:"endpoint"`
	// APIKey authenticates with the extraction service (loaded from
	// REFHARVEST_CLASSIFIER_API_KEY).
	APIKey string `mapstructure:"-"`
	// Timeout is the timeout for extraction calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxTextLength is the truncation bound applied before submission.
	MaxTextLength int `mapstructure:"max_text_length"`
}

// LLMConfig holds chat-completions client configuration.
type LLMConfig struct {
	// APIKey is the provider API key (loaded from REFHARVEST_LLM_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the chat-completions API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
}

// KafkaConfig holds harvest event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether harvest events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic harvest events are published to.
	Topic string `mapstructure:"topic"`
	// WriteTimeout bounds each publish call.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CORSConfig holds cross-origin settings for the public endpoints.
type CORSConfig struct {
	// AllowedOrigin is the origin permitted to call the public endpoints.
	// When empty, no CORS headers are emitted and cross-origin browser
	// requests are refused.
	AllowedOrigin string `mapstructure:"allowed_origin"`
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

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("REFHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/reference-harvester")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields use mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Sources.PubMed.APIKey = os.Getenv("REFHARVEST_SOURCES_PUBMED_API_KEY")
	cfg.Sources.ClinicalTrials.APIKey = os.Getenv("REFHARVEST_SOURCES_CLINICALTRIALS_API_KEY")
	cfg.Classifier.APIKey = os.Getenv("REFHARVEST_CLASSIFIER_API_KEY")
	cfg.LLM.APIKey = os.Getenv("REFHARVEST_LLM_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "refharvest")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "reference_harvester")
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
	v.SetDefault("temporal.namespace", "reference-harvester")
	v.SetDefault("temporal.task_queue", "reference-harvest-tasks")
	v.SetDefault("temporal.cron_schedule", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Harvest defaults
	v.SetDefault("harvest.literature_query", "allergy")
	v.SetDefault("harvest.trials_query", "allergy")
	v.SetDefault("harvest.max_per_source", 20)
	v.SetDefault("harvest.retention", "24h")
	v.SetDefault("harvest.enrichment_workers", 8)

	// Source defaults - PubMed
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.timeout", "60s")
	v.SetDefault("sources.pubmed.rate_limit", 3.0) // NCBI allows 3 req/sec without an API key
	v.SetDefault("sources.pubmed.max_attempts", 3)
	v.SetDefault("sources.pubmed.retry_delay", "1s")

	// Source defaults - ClinicalTrials.gov
	v.SetDefault("sources.clinicaltrials.enabled", true)
	v.SetDefault("sources.clinicaltrials.base_url", "https://clinicaltrials.gov/api/v2")
	v.SetDefault("sources.clinicaltrials.timeout", "60s")
	v.SetDefault("sources.clinicaltrials.rate_limit", 5.0)
	v.SetDefault("sources.clinicaltrials.max_attempts", 3)
	v.SetDefault("sources.clinicaltrials.retry_delay", "1s")

	// Classifier defaults
	v.SetDefault("classifier.endpoint", "")
	v.SetDefault("classifier.timeout", "30s")
	v.SetDefault("classifier.max_text_length", 10000)

	// LLM defaults
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4-turbo")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.reference_harvester")
	v.SetDefault("kafka.write_timeout", "10s")

	// CORS defaults. No origin is allowed until an operator sets one;
	// "*" must be an explicit choice, never the default.
	v.SetDefault("cors.allowed_origin", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

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

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Harvest.MaxPerSource <= 0 {
		return fmt.Errorf("harvest max_per_source must be positive")
	}
	if c.Harvest.Retention <= 0 {
		return fmt.Errorf("harvest retention must be positive")
	}
	if c.Harvest.EnrichmentWorkers <= 0 {
		return fmt.Errorf("harvest enrichment_workers must be positive")
	}

	if c.Classifier.MaxTextLength <= 0 {
		return fmt.Errorf("classifier max_text_length must be positive")
	}

	return nil
}

// ValidateInsights checks the configuration required by the insight
// generation flow. The harvest flow does not require an LLM key, so this is
// called only by the server binary, which exposes the insights endpoint.
func (c *Config) ValidateInsights() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("insight generation requires REFHARVEST_LLM_API_KEY to be set")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	return nil
}
