package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// ErrConfig is returned by Validate.
var ErrConfig = errors.New("app: invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json, text or pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DBAutoMigrate bool

	// SessionStore picks the refresh-token backend. Empty means postgres
	// when a database is configured, memory otherwise.
	SessionStore   string
	RedisURL       string
	RedisKeyPrefix string
	RedisRetention time.Duration

	// DevAccountsFile seeds the in-memory account store when no database
	// is configured.
	DevAccountsFile string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, FILMDOMS_TOKEN_HMAC_KEY must be set (>= 32 bytes).
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("FILMDOMS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("FILMDOMS_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("FILMDOMS_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("FILMDOMS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("FILMDOMS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("FILMDOMS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("FILMDOMS_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("FILMDOMS_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("FILMDOMS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("FILMDOMS_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("FILMDOMS_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("FILMDOMS_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("FILMDOMS_DB_SCHEMA", "public"),
		DBAutoMigrate: EnvBool("FILMDOMS_DB_AUTO_MIGRATE", false),

		SessionStore:   strings.ToLower(EnvString("FILMDOMS_SESSION_STORE", "")),
		RedisURL:       EnvString("FILMDOMS_REDIS_URL", ""),
		RedisKeyPrefix: EnvString("FILMDOMS_REDIS_KEY_PREFIX", "filmdoms:"),
		RedisRetention: EnvDuration("FILMDOMS_REDIS_RETENTION", 24*time.Hour),

		DevAccountsFile: EnvString("FILMDOMS_DEV_ACCOUNTS_FILE", ""),

		ReadinessRequireDB: EnvBool("FILMDOMS_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("FILMDOMS_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvList("FILMDOMS_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("FILMDOMS_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("FILMDOMS_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("FILMDOMS_METRICS_ENABLED", true),
	}
}

// sessionStore resolves the effective backend name.
func (c Config) sessionStore() string {
	if c.SessionStore != "" {
		return c.SessionStore
	}
	if c.DatabaseURL != "" {
		return StorePostgres
	}
	return StoreMemory
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.sessionStore() {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: FILMDOMS_SESSION_STORE=postgres requires FILMDOMS_DATABASE_URL", ErrConfig)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: FILMDOMS_SESSION_STORE=redis requires FILMDOMS_REDIS_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown FILMDOMS_SESSION_STORE %q", ErrConfig, c.SessionStore)
	}

	switch c.LogFormat {
	case "", "json", "text", "pretty":
	default:
		return fmt.Errorf("%w: unknown FILMDOMS_LOG_FORMAT %q", ErrConfig, c.LogFormat)
	}
	return nil
}
