// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Identity  IdentityConfig
	Auth      AuthConfig
	Captcha   CaptchaConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	Import    ImportConfig
	Audit     AuditConfig
	RabbitMQ  RabbitMQConfig
	Alerts    AlertsConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

// ServerConfig contains HTTP server configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	// ForceHTTPS redirects plain-HTTP requests (as reported by X-Forwarded-Proto).
	ForceHTTPS     bool
	AllowedOrigin  string
	AllowedConnect []string
	TrustedProxies []string
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver         string
	Host           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	Port           int
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
	QueryTimeout   time.Duration
}

// IdentityConfig describes the identity provider's database, consulted first
// when resolving the role of an externally issued token.
type IdentityConfig struct {
	External ExternalIdentityConfig
}

// ExternalIdentityConfig holds the connection settings for the external identity store.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ExternalIdentityConfig struct {
	Enabled  bool
	Host     string
	Name     string
	User     string
	Password string
	SSLMode  string
	Port     int
}

// AuthConfig contains token issuance and verification settings.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type AuthConfig struct {
	JWTSecret        string
	TokenTTL         time.Duration
	JWKSURL          string
	SupabaseURL      string
	JWKSTTL          time.Duration
	JWKSFetchTimeout time.Duration
	BcryptCost       int
}

// CaptchaConfig selects the captcha provider used for suggestion intake.
type CaptchaConfig struct {
	Provider string
	Secret   string
	Required bool
}

// AdminConfig contains the admin IP allowlist.
type AdminConfig struct {
	IPs []string
}

// RateLimitConfig holds the per-limiter windows.
type RateLimitConfig struct {
	Global     LimitConfig
	Auth       LimitConfig
	Suggest    LimitConfig
	AdminWrite LimitConfig
}

// LimitConfig is a maximum number of requests per window.
type LimitConfig struct {
	Window time.Duration
	Max    int
}

// ImportConfig contains bulk import settings.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ImportConfig struct {
	MaxFileSize     int64
	MaxRecords      int
	DuplicatePolicy string
	SeedFile        string
}

// AuditConfig contains audit log settings.
type AuditConfig struct {
	MaxDetails int
}

// RabbitMQConfig contains RabbitMQ connection and exchange configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Enabled    bool
	Host       string
	User       string
	Password   string
	Exchange   string
	Queue      string
	RoutingKey string
	Port       int
}

// AlertsConfig configures the outbound alert webhook.
type AlertsConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string
	File  string
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Import.DuplicatePolicy {
	case "ignore", "replace":
	default:
		return fmt.Errorf("unsupported import duplicate policy %q", c.Import.DuplicatePolicy)
	}

	switch c.Captcha.Provider {
	case "turnstile", "recaptcha":
	default:
		return fmt.Errorf("unsupported captcha provider %q", c.Captcha.Provider)
	}

	if c.Captcha.Required && c.Captcha.Secret == "" {
		return fmt.Errorf("captcha.required is set but captcha.secret is empty")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtsecret must be set")
	}

	return nil
}

// DSN builds the connection string for the registry database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// DSN builds the connection string for the external identity database.
func (e ExternalIdentityConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		e.User, e.Password, e.Host, e.Port, e.Name, e.SSLMode)
}

// URL builds the AMQP connection URL.
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Password, r.Host, r.Port)
}

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)
	viper.SetDefault("server.readtimeout", 15*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.forcehttps", false)
	viper.SetDefault("server.allowedorigin", "")
	viper.SetDefault("server.allowedconnect", []string{})
	viper.SetDefault("server.trustedproxies", []string{"127.0.0.1"})

	// Database
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "blocklist")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxconnections", 10)
	viper.SetDefault("database.minconnections", 2)
	viper.SetDefault("database.maxidletime", 10*time.Minute)
	viper.SetDefault("database.maxlifetime", 1*time.Hour)
	viper.SetDefault("database.querytimeout", 25*time.Second)

	// External identity store
	viper.SetDefault("identity.external.enabled", false)
	viper.SetDefault("identity.external.host", "127.0.0.1")
	viper.SetDefault("identity.external.port", 54322)
	viper.SetDefault("identity.external.name", "postgres")
	viper.SetDefault("identity.external.user", "postgres")
	viper.SetDefault("identity.external.password", "postgres")
	viper.SetDefault("identity.external.sslmode", "disable")

	// Auth
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.tokenttl", 24*time.Hour)
	viper.SetDefault("auth.jwksurl", "")
	viper.SetDefault("auth.supabaseurl", "http://127.0.0.1:54321")
	viper.SetDefault("auth.jwksttl", 1*time.Hour)
	viper.SetDefault("auth.jwksfetchtimeout", 8*time.Second)
	viper.SetDefault("auth.bcryptcost", 12)

	// Captcha
	viper.SetDefault("captcha.provider", "turnstile")
	viper.SetDefault("captcha.secret", "")
	viper.SetDefault("captcha.required", false)

	// Admin
	viper.SetDefault("admin.ips", []string{})

	// Rate limits
	viper.SetDefault("ratelimit.global.window", 1*time.Minute)
	viper.SetDefault("ratelimit.global.max", 300)
	viper.SetDefault("ratelimit.auth.window", 5*time.Minute)
	viper.SetDefault("ratelimit.auth.max", 50)
	viper.SetDefault("ratelimit.suggest.window", 1*time.Minute)
	viper.SetDefault("ratelimit.suggest.max", 30)
	viper.SetDefault("ratelimit.adminwrite.window", 1*time.Minute)
	viper.SetDefault("ratelimit.adminwrite.max", 20)

	// Import
	viper.SetDefault("import.maxfilesize", 2*1024*1024) // 2MB
	viper.SetDefault("import.maxrecords", 5000)
	viper.SetDefault("import.duplicatepolicy", "ignore")
	viper.SetDefault("import.seedfile", "")

	// Audit
	viper.SetDefault("audit.maxdetails", 2000)

	// RabbitMQ
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "blocklist.events")
	viper.SetDefault("rabbitmq.queue", "blocklist.audit")
	viper.SetDefault("rabbitmq.routingkey", "audit.recorded")

	// Alerts
	viper.SetDefault("alerts.webhookurl", "")
	viper.SetDefault("alerts.timeout", 5*time.Second)

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")
}
