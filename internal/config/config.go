// Package config loads and validates the audit trail configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUD_ prefix (e.g., AUD_DATABASE_HOST
// overrides database.host in the YAML).
//
// The JWT signing secret is not part of this struct. It is read from
// AUD_JWT_SECRET by the auth package so that it never round-trips through a
// config file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override
const EnvPrefix = "AUD"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate        bool          `mapstructure:"auto_migrate"`
}

// RedisConfig configures the optional Redis instance used for the actor
// profile cache and the distributed rate limiter. Leave Addr empty to run
// without Redis.
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	ProfileTTL time.Duration `mapstructure:"profile_ttl"`

	// ProfileChannel is the pub/sub channel on which the academy application
	// publishes the user id of every profile whose role or branch changed.
	ProfileChannel string `mapstructure:"profile_channel"`
}

// Enabled reports whether a Redis address is configured
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuditConfig holds the audit pipeline settings
type AuditConfig struct {
	// AdminRoles see every branch and raw client IPs
	AdminRoles []string `mapstructure:"admin_roles"`
	// BranchRoles are confined to their own branch and see masked IPs only
	BranchRoles []string `mapstructure:"branch_roles"`

	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
	// MaxExportRows bounds the page fetched for a CSV export
	MaxExportRows int `mapstructure:"max_export_rows"`

	// SummaryTemplates extends or overrides the built-in summary templates
	SummaryTemplates []SummaryTemplateConfig `mapstructure:"summary_templates"`

	// Shippers configures external delivery of written records
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// SummaryTemplateConfig maps one summary key to its display template.
// Kept as a list because viper splits map keys on dots.
type SummaryTemplateConfig struct {
	Key      string `mapstructure:"key"`
	Template string `mapstructure:"template"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"` // webhook, file, kafka

	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
	Kafka   *AuditKafkaConfig   `mapstructure:"kafka"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AuditKafkaConfig holds kafka shipper configuration
type AuditKafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Async        bool          `mapstructure:"async"`
}

// ArchiveConfig controls where exported CSV files are archived
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // local, s3, gcs, azure
	Prefix  string `mapstructure:"prefix"`

	Local LocalArchiveConfig `mapstructure:"local"`
	S3    S3ArchiveConfig    `mapstructure:"s3"`
	GCS   GCSArchiveConfig   `mapstructure:"gcs"`
	Azure AzureArchiveConfig `mapstructure:"azure"`
}

// LocalArchiveConfig holds local filesystem archive configuration
type LocalArchiveConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3ArchiveConfig holds S3-compatible archive configuration
type S3ArchiveConfig struct {
	// Endpoint is set for S3-compatible services such as MinIO
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod: "default", "static" or "assume_role"
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSArchiveConfig holds Google Cloud Storage archive configuration
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	// AuthMethod: "default" or "service_account"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`
}

// AzureArchiveConfig holds Azure Blob Storage archive configuration
type AzureArchiveConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	// ServiceURL overrides https://<account>.blob.core.windows.net/, e.g. for Azurite
	ServiceURL string `mapstructure:"service_url"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"` // otlp-http, otlp-grpc
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.conn_max_lifetime",
		"database.auto_migrate",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.profile_ttl",
		"redis.profile_channel",

		// Audit
		"audit.admin_roles",
		"audit.branch_roles",
		"audit.default_page_size",
		"audit.max_page_size",
		"audit.max_export_rows",

		// Archive
		"archive.enabled",
		"archive.backend",
		"archive.prefix",
		"archive.local.base_path",
		"archive.s3.endpoint",
		"archive.s3.region",
		"archive.s3.bucket",
		"archive.s3.auth_method",
		"archive.s3.access_key_id",
		"archive.s3.secret_access_key",
		"archive.s3.role_arn",
		"archive.s3.role_session_name",
		"archive.s3.external_id",
		"archive.gcs.bucket",
		"archive.gcs.auth_method",
		"archive.gcs.credentials_file",
		"archive.gcs.credentials_json",
		"archive.gcs.endpoint",
		"archive.azure.account_name",
		"archive.azure.account_key",
		"archive.azure.container_name",
		"archive.azure.service_url",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.tracing.enabled",
		"telemetry.tracing.exporter",
		"telemetry.tracing.endpoint",
		"telemetry.tracing.insecure",
		"telemetry.tracing.sample_rate",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/audit-trail")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment only
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Archive.S3.AccessKeyID = expandEnv(cfg.Archive.S3.AccessKeyID)
	cfg.Archive.S3.SecretAccessKey = expandEnv(cfg.Archive.S3.SecretAccessKey)
	cfg.Archive.GCS.CredentialsJSON = expandEnv(cfg.Archive.GCS.CredentialsJSON)
	cfg.Archive.Azure.AccountKey = expandEnv(cfg.Archive.Azure.AccountKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration whenever the backing file changes and passes
// every valid revision to onChange. Invalid revisions are logged and skipped.
// Watch returns an error only if the initial load fails; without a config file
// it is a no-op.
func Watch(configPath string, onChange func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "academy")
	v.SetDefault("database.user", "academy")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.profile_ttl", "1m")
	v.SetDefault("redis.profile_channel", "audit:profile-changed")

	// Audit defaults
	v.SetDefault("audit.admin_roles", []string{"super_admin"})
	v.SetDefault("audit.branch_roles", []string{"branch_admin", "admin"})
	v.SetDefault("audit.default_page_size", 25)
	v.SetDefault("audit.max_page_size", 100)
	v.SetDefault("audit.max_export_rows", 10000)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.prefix", "exports")
	v.SetDefault("archive.local.base_path", "./archive")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "audit-trail")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.tracing.enabled", false)
	v.SetDefault("telemetry.tracing.exporter", "otlp-http")
	v.SetDefault("telemetry.tracing.endpoint", "localhost:4318")
	v.SetDefault("telemetry.tracing.insecure", true)
	v.SetDefault("telemetry.tracing.sample_rate", 1.0)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if len(c.Audit.AdminRoles) == 0 {
		return fmt.Errorf("audit.admin_roles must name at least one role")
	}
	for _, r := range c.Audit.AdminRoles {
		for _, b := range c.Audit.BranchRoles {
			if r == b {
				return fmt.Errorf("role %q cannot be both an admin role and a branch role", r)
			}
		}
	}
	if c.Audit.MaxPageSize < 1 {
		return fmt.Errorf("audit.max_page_size must be positive")
	}
	if c.Audit.DefaultPageSize < 1 || c.Audit.DefaultPageSize > c.Audit.MaxPageSize {
		return fmt.Errorf("audit.default_page_size must be between 1 and %d", c.Audit.MaxPageSize)
	}
	if c.Audit.MaxExportRows < 1 {
		return fmt.Errorf("audit.max_export_rows must be positive")
	}
	for i, t := range c.Audit.SummaryTemplates {
		if t.Key == "" || t.Template == "" {
			return fmt.Errorf("audit.summary_templates[%d]: key and template are required", i)
		}
	}
	for i, s := range c.Audit.Shippers {
		if err := s.validate(); err != nil {
			return fmt.Errorf("audit.shippers[%d]: %w", i, err)
		}
	}

	if c.Archive.Enabled {
		if err := c.Archive.validate(); err != nil {
			return err
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Telemetry.Tracing.Enabled {
		switch c.Telemetry.Tracing.Exporter {
		case "otlp-http", "otlp-grpc":
		default:
			return fmt.Errorf("invalid tracing exporter: %s (must be otlp-http or otlp-grpc)", c.Telemetry.Tracing.Exporter)
		}
		if c.Telemetry.Tracing.SampleRate < 0 || c.Telemetry.Tracing.SampleRate > 1 {
			return fmt.Errorf("telemetry.tracing.sample_rate must be between 0 and 1")
		}
	}

	return nil
}

func (s *AuditShipperConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	switch s.Type {
	case "webhook":
		if s.Webhook == nil || s.Webhook.URL == "" {
			return fmt.Errorf("webhook.url is required")
		}
	case "file":
		if s.File == nil || s.File.Path == "" {
			return fmt.Errorf("file.path is required")
		}
	case "kafka":
		if s.Kafka == nil || len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required")
		}
	default:
		return fmt.Errorf("unknown shipper type: %s", s.Type)
	}
	return nil
}

func (a *ArchiveConfig) validate() error {
	switch a.Backend {
	case "local":
		if a.Local.BasePath == "" {
			return fmt.Errorf("archive.local.base_path is required when using local backend")
		}
	case "s3":
		if a.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when using S3 backend")
		}
		if a.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when using S3 backend")
		}
	case "gcs":
		if a.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required when using GCS backend")
		}
	case "azure":
		if a.Azure.AccountName == "" || a.Azure.AccountKey == "" || a.Azure.ContainerName == "" {
			return fmt.Errorf("archive.azure.account_name, account_key and container_name are required when using Azure backend")
		}
	default:
		return fmt.Errorf("invalid archive backend: %s (must be local, s3, gcs, or azure)", a.Backend)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
