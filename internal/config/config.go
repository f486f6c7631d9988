// Package config loads the process configuration from the environment once
// at startup. The returned Config is validated and treated as immutable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const EnvProduction = "production"

type Config struct {
	Env         string
	Port        string
	Release     string
	SentryDSN   string
	CronSecret  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	SignedURL   SignedURLConfig
	Database    DatabaseConfig
	Maintenance MaintenanceConfig

	// TrustProxyHeaders takes the client address from the right-most
	// X-Forwarded-For hop. Only set it behind a proxy that appends that hop.
	TrustProxyHeaders bool
}

type AuthConfig struct {
	APIKey           string
	JWTSecret        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	InsecureDisabled bool
	AllowQueryAPIKey bool
}

type RateLimitConfig struct {
	AnalyzeRequests int
	AnalyzeWindow   time.Duration
	LoginRequests   int
	LoginWindow     time.Duration
}

// SignedURLConfig is optional; an empty Secret turns signed links off.
type SignedURLConfig struct {
	Secret  string
	Expiry  time.Duration
	BaseURL string
}

func (c SignedURLConfig) Enabled() bool {
	return c.Secret != ""
}

// DatabaseConfig is optional; without a URL the nonce store stays in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	RunMigrations   bool
}

type MaintenanceConfig struct {
	NonceRetention time.Duration
}

// ConfigurationError is fatal: the process must not start serving.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// Load reads the process environment, optionally seeded from a .env file.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}
	return FromLookup(os.Getenv)
}

// FromLookup builds and validates a Config from any key lookup.
func FromLookup(lookup func(string) string) (Config, error) {
	env := &envReader{lookup: lookup}

	cfg := Config{
		Env:               strings.ToLower(env.stringOr("APP_ENV", "development")),
		Port:              env.stringOr("PORT", "8080"),
		Release:           env.stringOr("APP_RELEASE", ""),
		SentryDSN:         env.stringOr("SENTRY_DSN", ""),
		CronSecret:        env.stringOr("CRON_SECRET", ""),
		TrustProxyHeaders: env.boolOr("TRUST_PROXY_HEADERS", false),
		Auth: AuthConfig{
			APIKey:           env.stringOr("AUTH_API_KEY", ""),
			JWTSecret:        env.stringOr("AUTH_JWT_SECRET", ""),
			AccessTokenTTL:   env.minutesOr("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			RefreshTokenTTL:  env.daysOr("AUTH_REFRESH_TOKEN_TTL_DAYS", 7),
			InsecureDisabled: env.boolOr("AUTH_DISABLE_INSECURE", false),
			AllowQueryAPIKey: env.boolOr("AUTH_ALLOW_QUERY_API_KEY", false),
		},
		RateLimit: RateLimitConfig{
			AnalyzeRequests: env.intOr("RATE_LIMIT_ANALYZE_REQUESTS", 10),
			AnalyzeWindow:   env.secondsOr("RATE_LIMIT_ANALYZE_WINDOW_SECONDS", 60),
			LoginRequests:   env.intOr("LOGIN_RATE_LIMIT_MAX", 10),
			LoginWindow:     env.secondsOr("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		SignedURL: SignedURLConfig{
			Secret:  env.stringOr("SIGNED_URL_SECRET", ""),
			Expiry:  env.hoursOr("SIGNED_URL_EXPIRY_HOURS", 24),
			BaseURL: strings.TrimRight(env.stringOr("API_BASE_URL", "http://localhost:8080"), "/"),
		},
		Database: DatabaseConfig{
			URL:             env.stringOr("DATABASE_URL", ""),
			MaxOpenConns:    env.intOr("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    env.intOr("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: env.minutesOr("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: env.minutesOr("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			RunMigrations:   env.boolOr("RUN_MIGRATIONS_ON_STARTUP", true),
		},
		Maintenance: MaintenanceConfig{
			NonceRetention: env.daysOr("SIGNED_URL_NONCE_RETENTION_DAYS", 7),
		},
	}
	if env.err != nil {
		return Config{}, env.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port == "" {
		return &ConfigurationError{Field: "PORT", Reason: "is required"}
	}

	if c.Auth.InsecureDisabled {
		if c.Env == EnvProduction {
			return &ConfigurationError{Field: "AUTH_DISABLE_INSECURE", Reason: "cannot be enabled when APP_ENV=production"}
		}
	} else {
		if c.Auth.APIKey == "" {
			return &ConfigurationError{Field: "AUTH_API_KEY", Reason: "is required"}
		}
		if len(c.Auth.JWTSecret) < 32 {
			return &ConfigurationError{Field: "AUTH_JWT_SECRET", Reason: "must be at least 32 characters"}
		}
	}

	if c.Auth.AccessTokenTTL < time.Minute || c.Auth.AccessTokenTTL > 24*time.Hour {
		return &ConfigurationError{Field: "AUTH_ACCESS_TOKEN_TTL_MINUTES", Reason: "must be between 1 and 1440"}
	}
	if c.Auth.RefreshTokenTTL < 24*time.Hour || c.Auth.RefreshTokenTTL > 30*24*time.Hour {
		return &ConfigurationError{Field: "AUTH_REFRESH_TOKEN_TTL_DAYS", Reason: "must be between 1 and 30"}
	}
	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return &ConfigurationError{Field: "AUTH_ACCESS_TOKEN_TTL_MINUTES", Reason: "must be shorter than the refresh token lifetime"}
	}

	if c.RateLimit.AnalyzeRequests < 1 || c.RateLimit.AnalyzeWindow < time.Second {
		return &ConfigurationError{Field: "RATE_LIMIT_ANALYZE_REQUESTS", Reason: "ceiling and window must be positive"}
	}
	if c.RateLimit.LoginRequests < 1 || c.RateLimit.LoginWindow < time.Second {
		return &ConfigurationError{Field: "LOGIN_RATE_LIMIT_MAX", Reason: "ceiling and window must be positive"}
	}

	if c.SignedURL.Enabled() {
		if len(c.SignedURL.Secret) < 16 {
			return &ConfigurationError{Field: "SIGNED_URL_SECRET", Reason: "must be at least 16 characters"}
		}
		if c.SignedURL.Expiry <= 0 {
			return &ConfigurationError{Field: "SIGNED_URL_EXPIRY_HOURS", Reason: "must be positive"}
		}
	}

	return nil
}
