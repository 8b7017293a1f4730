package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Mongo         MongoConfig
	Session       SessionConfig
	Auth          AuthConfig
	Keys          KeysConfig
	Intake        IntakeConfig
	Export        ExportConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration. The lookup limiter
// applies to access key resolution only.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	LookupPerMinute   float64
	LookupBurst       int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	StaticDir    string // Tenant/owner SPA bundle, optional
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	Scheme     string
	User       string
	Password   string
	Host       string
	Port       string
	Database   string
	AuthSource string
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string
	Lifetime       time.Duration
	IdleTimeout    time.Duration
}

// AuthConfig holds identity provider token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// KeysConfig holds access key generation settings
type KeysConfig struct {
	Length      int
	MaxAttempts int
}

// IntakeConfig holds tenant intake settings
type IntakeConfig struct {
	WorkflowPath   string // Empty selects the built-in workflow
	DraftTTL       time.Duration
	SweepInterval  time.Duration
	MaxUploadBytes int64
}

// ExportConfig holds S3-compatible storage for exported contracts.
// Archiving is disabled when Endpoint is empty.
type ExportConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether exported contracts are archived
func (e ExportConfig) Enabled() bool {
	return e.Endpoint != ""
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

// Load loads configuration from an optional .env file and environment
// variables. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// FromEnv reads configuration from environment variables with defaults
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "30s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			StaticDir:    getEnv("SERVER_STATIC_DIR", ""),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "safestay"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "safestay"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Mongo: MongoConfig{
			Scheme:     getEnv("MONGO_SCHEME", "mongodb"),
			User:       getEnv("MONGO_USER", ""),
			Password:   getEnv("MONGO_PASSWORD", ""),
			Host:       getEnv("MONGO_HOST", "localhost"),
			Port:       getEnv("MONGO_PORT", "27017"),
			Database:   getEnv("MONGO_DB", "safestay"),
			AuthSource: getEnv("MONGO_AUTH_SOURCE", ""),
		},
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "safestay_session"),
			CookieDomain:   getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   parseBool("SESSION_COOKIE_SECURE", false),
			CookieHTTPOnly: parseBool("SESSION_COOKIE_HTTP_ONLY", true),
			CookieSameSite: getEnv("SESSION_COOKIE_SAME_SITE", "Lax"),
			Lifetime:       parseDuration("SESSION_LIFETIME", "24h"),
			IdleTimeout:    parseDuration("SESSION_IDLE_TIMEOUT", "30m"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_ISSUER", ""),
			Audience:  getEnv("AUTH_AUDIENCE", "safestay"),
		},
		Keys: KeysConfig{
			Length:      parseInt("ACCESS_KEY_LENGTH", 6),
			MaxAttempts: parseInt("ACCESS_KEY_MAX_ATTEMPTS", 5),
		},
		Intake: IntakeConfig{
			WorkflowPath:   getEnv("WORKFLOW_CONFIG", ""),
			DraftTTL:       parseDuration("INTAKE_DRAFT_TTL", "30m"),
			SweepInterval:  parseDuration("INTAKE_SWEEP_INTERVAL", "1m"),
			MaxUploadBytes: int64(parseInt("INTAKE_MAX_UPLOAD_BYTES", 5<<20)),
		},
		Export: ExportConfig{
			Endpoint:  getEnv("EXPORT_S3_ENDPOINT", ""),
			AccessKey: getEnv("EXPORT_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("EXPORT_S3_SECRET_KEY", ""),
			Region:    getEnv("EXPORT_S3_REGION", ""),
			Bucket:    getEnv("EXPORT_S3_BUCKET", "safestay-contracts"),
			UseSSL:    parseBool("EXPORT_S3_USE_SSL", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "safestay"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			SamplingRate:   parseFloat("OTEL_SAMPLING_RATE", 1.0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
			LookupPerMinute:   parseFloat("RATELIMIT_LOOKUP_PER_MINUTE", 10),
			LookupBurst:       parseInt("RATELIMIT_LOOKUP_BURST", 5),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("DB_PASSWORD is required"))
		}
	case DriverMongo:
		if c.Mongo.Host == "" || c.Mongo.Database == "" {
			errs = append(errs, fmt.Errorf("MONGO_HOST and MONGO_DB are required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of %s, %s, %s; got %q",
			DriverPostgres, DriverMongo, DriverMemory, c.Store.Driver))
	}

	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("AUTH_JWT_SECRET must be at least 32 bytes"))
	}
	if c.Keys.Length < 6 || c.Keys.Length > 8 {
		errs = append(errs, fmt.Errorf("ACCESS_KEY_LENGTH must be between 6 and 8"))
	}
	if c.Keys.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("ACCESS_KEY_MAX_ATTEMPTS must be positive"))
	}
	if c.Intake.DraftTTL <= 0 {
		errs = append(errs, fmt.Errorf("INTAKE_DRAFT_TTL must be positive"))
	}
	if c.Intake.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("INTAKE_MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Export.Enabled() && (c.Export.AccessKey == "" || c.Export.SecretKey == "") {
		errs = append(errs, fmt.Errorf("EXPORT_S3_ACCESS_KEY and EXPORT_S3_SECRET_KEY are required when EXPORT_S3_ENDPOINT is set"))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
