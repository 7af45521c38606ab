// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultCommonPasswords is the built-in denylist used when COMMON_PASSWORDS is unset.
const defaultCommonPasswords = "password,123456,123456789,qwerty,abc123,password123,admin,letmein,welcome,monkey"

// Config holds application configuration loaded from the environment.
// It is built once at process start and passed down; nothing reads the environment afterwards.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the credential store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the redis:// URL of the revocation/session cache.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTSecret is the HMAC signing secret, inline or as file://path. Must be at least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim set on and required of every access token.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim set on and required of every access token.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// BcryptMaxConcurrent bounds concurrent bcrypt operations; 0 means runtime.NumCPU().
	BcryptMaxConcurrent int `mapstructure:"BCRYPT_MAX_CONCURRENT"`

	// MaxLoginAttempts is the consecutive failure count that locks an account.
	MaxLoginAttempts int `mapstructure:"MAX_LOGIN_ATTEMPTS"`
	// LockTime is how long a locked account stays locked (e.g. "15m").
	LockTime string `mapstructure:"LOCK_TIME"`

	// StoreTimeout bounds every Postgres and Redis call made by the auth service.
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// PasswordResetTTL is the lifetime of a password reset secret.
	PasswordResetTTL string `mapstructure:"PASSWORD_RESET_TTL"`
	// SessionTTL is the lifetime of a named session record in the cache.
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// CommonPasswords is a comma-separated, case-insensitive password denylist.
	CommonPasswords string `mapstructure:"COMMON_PASSWORDS"`

	// CleanupInterval is how often the worker sweeps stale refresh tokens.
	CleanupInterval string `mapstructure:"CLEANUP_INTERVAL"`
	// RevokedTokenRetention is how long revoked refresh tokens are kept for reuse detection.
	RevokedTokenRetention string `mapstructure:"REVOKED_TOKEN_RETENTION"`
	// RefreshReuseGrace is how long after a rotation a replay of the old secret is treated as a
	// lost race rather than theft. "0s" disables it.
	RefreshReuseGrace string `mapstructure:"REFRESH_REUSE_GRACE"`

	// EventsKafkaBrokers is a comma-separated list of Kafka brokers for auth events. Empty disables Kafka.
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic auth events are written to.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// EventsKafkaGroupID is the consumer group the worker reads auth events with.
	EventsKafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// DBMaxConns caps the Postgres pool size; 0 keeps the pgxpool default.
	DBMaxConns int32 `mapstructure:"DB_MAX_CONNS"`

	// Seed-only: the admin account created by cmd/seed.
	SeedAdminEmail    string `mapstructure:"SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `mapstructure:"SEED_ADMIN_PASSWORD"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty yields no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext OTLP connection even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name on telemetry.
	ServiceName string `mapstructure:"SERVICE_NAME"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "auth-service")
	v.SetDefault("JWT_AUDIENCE", "client-app")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("BCRYPT_MAX_CONCURRENT", 0)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("LOCK_TIME", "15m")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("PASSWORD_RESET_TTL", "15m")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("COMMON_PASSWORDS", defaultCommonPasswords)
	v.SetDefault("CLEANUP_INTERVAL", "1h")
	v.SetDefault("REVOKED_TOKEN_RETENTION", "24h")
	v.SetDefault("REFRESH_REUSE_GRACE", "2s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "auth-events-worker")
	v.SetDefault("DB_MAX_CONNS", 0)
	v.SetDefault("SEED_ADMIN_EMAIL", "admin@example.com")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("SERVICE_NAME", "auth-service")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if cfg.JWTIssuer == "" || cfg.JWTAudience == "" {
		return nil, errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.BcryptMaxConcurrent < 0 {
		return nil, errors.New("config: BCRYPT_MAX_CONCURRENT must not be negative")
	}
	if cfg.MaxLoginAttempts <= 0 {
		return nil, errors.New("config: MAX_LOGIN_ATTEMPTS must be positive")
	}
	if cfg.DBMaxConns < 0 {
		return nil, errors.New("config: DB_MAX_CONNS must not be negative")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// LockDuration parses LockTime. Returns 15m if unset or invalid.
func (c *Config) LockDuration() time.Duration {
	return parseDuration(c.LockTime, 15*time.Minute)
}

// StoreCallTimeout parses StoreTimeout. Returns 3s if unset or invalid.
func (c *Config) StoreCallTimeout() time.Duration {
	return parseDuration(c.StoreTimeout, 3*time.Second)
}

// ReuseGrace parses RefreshReuseGrace. Zero is allowed; returns 2s if unset or invalid.
func (c *Config) ReuseGrace() time.Duration {
	d, err := time.ParseDuration(c.RefreshReuseGrace)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}

// ResetTTL parses PasswordResetTTL. Returns 15m if unset or invalid.
func (c *Config) ResetTTL() time.Duration {
	return parseDuration(c.PasswordResetTTL, 15*time.Minute)
}

// NamedSessionTTL parses SessionTTL. Returns 24h if unset or invalid.
func (c *Config) NamedSessionTTL() time.Duration {
	return parseDuration(c.SessionTTL, 24*time.Hour)
}

// CleanupEvery parses CleanupInterval. Returns 1h if unset or invalid.
func (c *Config) CleanupEvery() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// RevokedRetention parses RevokedTokenRetention. Returns 24h if unset or invalid.
func (c *Config) RevokedRetention() time.Duration {
	return parseDuration(c.RevokedTokenRetention, 24*time.Hour)
}

// HashConcurrency returns the bcrypt concurrency bound, defaulting to the CPU count.
func (c *Config) HashConcurrency() int {
	if c.BcryptMaxConcurrent <= 0 {
		return runtime.NumCPU()
	}
	return c.BcryptMaxConcurrent
}

// CommonPasswordList returns the denylist entries from the comma-separated config.
func (c *Config) CommonPasswordList() []string {
	return splitList(c.CommonPasswords)
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka notification sink is enabled (non-empty list).
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.EventsKafkaBrokers)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
