// Package config loads and validates the service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ITM_ prefix (e.g., ITM_DATABASE_HOST
// overrides database.host in the YAML).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server           ServerConfig           `mapstructure:"server"`
	Database         DatabaseConfig         `mapstructure:"database"`
	Auth             AuthConfig             `mapstructure:"auth"`
	IdentityProvider IdentityProviderConfig `mapstructure:"identity_provider"`
	Onboarding       OnboardingConfig       `mapstructure:"onboarding"`
	Logging          LoggingConfig          `mapstructure:"logging"`
	Telemetry        TelemetryConfig        `mapstructure:"telemetry"`
	Audit            AuditConfig            `mapstructure:"audit"`
	Jobs             JobsConfig             `mapstructure:"jobs"`
	RateLimit        RateLimitConfig        `mapstructure:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Environment is "production", "staging" or "development". Header based
	// identity is refused when this is "production".
	Environment  string        `mapstructure:"environment"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// IsProduction reports whether the server runs with production trust settings.
func (s *ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// AuthConfig holds the actor identity sources, in evaluation order:
// session JWT, IdP ID token, then (optionally) plain headers.
type AuthConfig struct {
	JWT            JWTConfig            `mapstructure:"jwt"`
	OIDC           OIDCConfig           `mapstructure:"oidc"`
	HeaderFallback HeaderFallbackConfig `mapstructure:"header_fallback"`
}

// JWTConfig controls session token validation. The secret itself is read from
// ITM_JWT_SECRET by the auth package.
type JWTConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Issuer  string `mapstructure:"issuer"`
}

// OIDCConfig configures verification of ID tokens issued by the identity provider
type OIDCConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	IssuerURL   string `mapstructure:"issuer_url"`
	ClientID    string `mapstructure:"client_id"`
	TenantClaim string `mapstructure:"tenant_claim"`
}

// HeaderFallbackConfig enables reading the actor from X-Actor-User-ID and
// X-Tenant-ID. These headers are not authenticated; only enable this behind a
// gateway that strips and re-sets them, and never in production.
type HeaderFallbackConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// IdentityProviderConfig holds the admin API coordinates of the external
// identity provider.
type IdentityProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Realm             string        `mapstructure:"realm"`
	TokenURL          string        `mapstructure:"token_url"`
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	TokenSafetyMargin time.Duration `mapstructure:"token_safety_margin"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

// GetTokenURL returns the configured token endpoint, or the realm's default
// OpenID Connect token endpoint when none is set.
func (c *IdentityProviderConfig) GetTokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(c.BaseURL, "/"), c.Realm)
}

// RetryConfig bounds retries of transient identity provider failures
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// OnboardingConfig holds tenant onboarding settings
type OnboardingConfig struct {
	DefaultAdminRole    string        `mapstructure:"default_admin_role"`
	CompensationTimeout time.Duration `mapstructure:"compensation_timeout"`
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
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	Enabled      bool                 `mapstructure:"enabled"`
	WriteTimeout time.Duration        `mapstructure:"write_timeout"`
	Shippers     []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // file, webhook, redis
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
	Redis   *AuditRedisConfig   `mapstructure:"redis"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// AuditRedisConfig holds Redis stream shipper configuration
type AuditRedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// JobsConfig holds background job settings
type JobsConfig struct {
	LedgerReportInterval time.Duration `mapstructure:"ledger_report_interval"`
}

// RateLimitConfig limits unauthenticated onboarding requests per client IP. When
// RedisAddr is set the buckets are shared between replicas; otherwise each
// process keeps its own.
type RateLimitConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	OnboardingPerMinute int    `mapstructure:"onboarding_per_minute"`
	OnboardingBurst     int    `mapstructure:"onboarding_burst"`
	RedisAddr           string `mapstructure:"redis_addr"`
	RedisPassword       string `mapstructure:"redis_password"`
	RedisDB             int    `mapstructure:"redis_db"`
}

// bindEnvVars explicitly binds environment variables to config keys, because
// AutomaticEnv() alone does not populate nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.environment",
		"server.read_timeout",
		"server.write_timeout",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"auth.jwt.enabled",
		"auth.jwt.issuer",
		"auth.oidc.enabled",
		"auth.oidc.issuer_url",
		"auth.oidc.client_id",
		"auth.oidc.tenant_claim",
		"auth.header_fallback.enabled",

		"identity_provider.base_url",
		"identity_provider.realm",
		"identity_provider.token_url",
		"identity_provider.client_id",
		"identity_provider.client_secret",
		"identity_provider.request_timeout",
		"identity_provider.token_safety_margin",
		"identity_provider.retry.max_attempts",
		"identity_provider.retry.initial_interval",
		"identity_provider.retry.max_interval",

		"onboarding.default_admin_role",
		"onboarding.compensation_timeout",

		"logging.level",
		"logging.format",

		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		"audit.enabled",
		"audit.write_timeout",

		"jobs.ledger_report_interval",

		"rate_limit.enabled",
		"rate_limit.onboarding_per_minute",
		"rate_limit.onboarding_burst",
		"rate_limit.redis_addr",
		"rate_limit.redis_password",
		"rate_limit.redis_db",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/identity-tenant-management")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ITM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.IdentityProvider.ClientSecret = os.ExpandEnv(cfg.IdentityProvider.ClientSecret)
	cfg.RateLimit.RedisPassword = os.ExpandEnv(cfg.RateLimit.RedisPassword)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "identity_tenants")
	v.SetDefault("database.user", "identity")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("auth.jwt.enabled", true)
	v.SetDefault("auth.jwt.issuer", "identity-tenant-management")
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.tenant_claim", "organization_id")
	v.SetDefault("auth.header_fallback.enabled", false)

	v.SetDefault("identity_provider.realm", "master")
	v.SetDefault("identity_provider.request_timeout", "10s")
	v.SetDefault("identity_provider.token_safety_margin", "30s")
	v.SetDefault("identity_provider.retry.max_attempts", 3)
	v.SetDefault("identity_provider.retry.initial_interval", "200ms")
	v.SetDefault("identity_provider.retry.max_interval", "2s")

	v.SetDefault("onboarding.default_admin_role", "org-admin")
	v.SetDefault("onboarding.compensation_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.service_name", "identity-tenant-management")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.write_timeout", "5s")

	v.SetDefault("jobs.ledger_report_interval", "15m")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.onboarding_per_minute", 10)
	v.SetDefault("rate_limit.onboarding_burst", 5)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validEnvs := map[string]bool{"production": true, "staging": true, "development": true}
	if !validEnvs[strings.ToLower(c.Server.Environment)] {
		return fmt.Errorf("invalid server environment: %s (must be production, staging, or development)", c.Server.Environment)
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

	if c.IdentityProvider.BaseURL == "" {
		return fmt.Errorf("identity_provider.base_url is required")
	}
	if c.IdentityProvider.ClientID == "" {
		return fmt.Errorf("identity_provider.client_id is required")
	}
	if c.IdentityProvider.ClientSecret == "" {
		return fmt.Errorf("identity_provider.client_secret is required")
	}
	if c.IdentityProvider.Retry.MaxAttempts < 1 || c.IdentityProvider.Retry.MaxAttempts > 10 {
		return fmt.Errorf("identity_provider.retry.max_attempts must be between 1 and 10, got %d", c.IdentityProvider.Retry.MaxAttempts)
	}

	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
		}
	}

	if c.Auth.HeaderFallback.Enabled && c.Server.IsProduction() {
		return fmt.Errorf("auth.header_fallback.enabled is not allowed when server.environment is production")
	}

	if !c.Auth.JWT.Enabled && !c.Auth.OIDC.Enabled && !c.Auth.HeaderFallback.Enabled {
		return fmt.Errorf("at least one identity source (auth.jwt, auth.oidc, auth.header_fallback) must be enabled")
	}

	if c.Onboarding.DefaultAdminRole == "" {
		return fmt.Errorf("onboarding.default_admin_role is required")
	}

	if c.RateLimit.Enabled && (c.RateLimit.OnboardingPerMinute < 1 || c.RateLimit.OnboardingBurst < 1) {
		return fmt.Errorf("rate_limit.onboarding_per_minute and rate_limit.onboarding_burst must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
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
