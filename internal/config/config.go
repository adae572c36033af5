// Package config loads the tradeauth-server configuration from the
// environment, after an optional .env file.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/abctrading/tradeauth"
)

// Backend names accepted by the *_BACKEND variables.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Key sources accepted by KEY_SOURCE.
const (
	KeySourceEnv  = "env"
	KeySourceFile = "file"
	KeySourceS3   = "s3"
)

// Config is the complete server configuration.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"tradeauth"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Keys     KeysConfig
	Limiter  LimiterConfig
	Audit    AuditConfig
	Sweeper  SweeperConfig
	Tracing  TracingConfig

	RefreshStoreBackend    string `env:"REFRESH_STORE_BACKEND" envDefault:"memory"`
	CredentialStoreBackend string `env:"CREDENTIAL_STORE_BACKEND" envDefault:"memory"`
	RunMigrations          bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// SeedUsers is read by the memory credential backend only, as
	// username:userID:phcHash entries.
	SeedUsers []string `env:"SEED_USERS" envSeparator:";"`
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"20s"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"8192"`
	// TrustProxyHeaders makes the client IP come from X-Forwarded-For.
	TrustProxyHeaders bool `env:"HTTP_TRUST_PROXY_HEADERS" envDefault:"false"`
}

type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"tradeauth"`
	Password        string        `env:"POSTGRES_PASSWORD"`
	DBName          string        `env:"POSTGRES_DB" envDefault:"tradeauth"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	MinConns        int32         `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"30m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"tradeauth"`
}

// AuthConfig carries the tradeauth.Config fields operators tune.
type AuthConfig struct {
	AccessTTL        time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL       time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	AbsoluteLifetime time.Duration `env:"REFRESH_ABSOLUTE_LIFETIME" envDefault:"720h"`
	Retention        time.Duration `env:"REFRESH_RETENTION" envDefault:"168h"`
	Issuer           string        `env:"JWT_ISSUER" envDefault:"tradeauth"`
	Audience         string        `env:"JWT_AUDIENCE" envDefault:"trading-api"`
	Leeway           time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
	DefaultScope     string        `env:"JWT_DEFAULT_SCOPE" envDefault:"user"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
	BreakerEnabled   bool          `env:"STORE_BREAKER_ENABLED" envDefault:"true"`
	AcceptBcrypt     bool          `env:"PASSWORD_ACCEPT_BCRYPT" envDefault:"true"`
	ArgonMemoryKB    uint32        `env:"ARGON2_MEMORY_KB" envDefault:"65536"`
	ArgonTime        uint32        `env:"ARGON2_TIME" envDefault:"3"`
	ArgonThreads     uint8         `env:"ARGON2_THREADS" envDefault:"2"`
	ProductionMode   bool          `env:"PRODUCTION_MODE" envDefault:"false"`
	LatencyMetrics   bool          `env:"LATENCY_HISTOGRAMS" envDefault:"true"`
}

type KeysConfig struct {
	Source string `env:"KEY_SOURCE" envDefault:"env"`
	// SigningMethod, KeyID and PrivateKeyB64 are used with KEY_SOURCE=env.
	SigningMethod  string        `env:"JWT_SIGNING_METHOD" envDefault:"ed25519"`
	KeyID          string        `env:"JWT_KEY_ID" envDefault:"k1"`
	PrivateKeyB64  string        `env:"JWT_PRIVATE_KEY"`
	FilePath       string        `env:"KEY_FILE"`
	S3Bucket       string        `env:"KEY_S3_BUCKET"`
	S3Key          string        `env:"KEY_S3_OBJECT" envDefault:"tradeauth/keys.json"`
	S3Region       string        `env:"KEY_S3_REGION" envDefault:"us-east-1"`
	S3Endpoint     string        `env:"KEY_S3_ENDPOINT"`
	S3AccessKey    string        `env:"KEY_S3_ACCESS_KEY"`
	S3SecretKey    string        `env:"KEY_S3_SECRET_KEY"`
	ReloadInterval time.Duration `env:"KEY_RELOAD_INTERVAL" envDefault:"5m"`
}

// LimiterConfig enables the Redis login limiter.
type LimiterConfig struct {
	Enabled     bool          `env:"LOGIN_LIMIT_ENABLED" envDefault:"false"`
	MaxAttempts int           `env:"LOGIN_LIMIT_MAX_ATTEMPTS" envDefault:"5"`
	Window      time.Duration `env:"LOGIN_LIMIT_WINDOW" envDefault:"15m"`
	PerIP       bool          `env:"LOGIN_LIMIT_PER_IP" envDefault:"true"`
}

type AuditConfig struct {
	Enabled      bool          `env:"AUDIT_ENABLED" envDefault:"true"`
	BufferSize   int           `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
	KafkaBrokers []string      `env:"AUDIT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string        `env:"AUDIT_KAFKA_TOPIC" envDefault:"tradeauth.audit"`
	KafkaBatch   time.Duration `env:"AUDIT_KAFKA_BATCH_TIMEOUT" envDefault:"200ms"`
}

type SweeperConfig struct {
	// Mode is "ticker", "asynq" or "off".
	Mode     string        `env:"SWEEPER_MODE" envDefault:"ticker"`
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"10m"`
	Cron     string        `env:"SWEEPER_CRON" envDefault:"@every 10m"`
}

type TracingConfig struct {
	Enabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	Insecure   bool    `env:"OTEL_INSECURE" envDefault:"true"`
	SampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads an optional .env file from the working directory or its parent
// and then parses the environment. Values already set in the environment win.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}
	_ = godotenv.Load(filepath.Join(parent, ".env"))
}

// Validate checks the server-level settings. Engine settings are validated by
// tradeauth.Config.Validate when the engine is built.
func (c *Config) Validate() error {
	switch c.RefreshStoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown REFRESH_STORE_BACKEND %q", c.RefreshStoreBackend)
	}
	switch c.CredentialStoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown CREDENTIAL_STORE_BACKEND %q", c.CredentialStoreBackend)
	}

	switch c.Keys.Source {
	case KeySourceEnv:
		if c.Keys.PrivateKeyB64 == "" {
			return errors.New("JWT_PRIVATE_KEY is required with KEY_SOURCE=env")
		}
	case KeySourceFile:
		if c.Keys.FilePath == "" {
			return errors.New("KEY_FILE is required with KEY_SOURCE=file")
		}
	case KeySourceS3:
		if c.Keys.S3Bucket == "" {
			return errors.New("KEY_S3_BUCKET is required with KEY_SOURCE=s3")
		}
	default:
		return fmt.Errorf("unknown KEY_SOURCE %q", c.Keys.Source)
	}

	switch c.Sweeper.Mode {
	case "ticker", "off":
	case "asynq":
		if c.RefreshStoreBackend == BackendMemory {
			return errors.New("SWEEPER_MODE=asynq needs a shared store backend")
		}
	default:
		return fmt.Errorf("unknown SWEEPER_MODE %q", c.Sweeper.Mode)
	}

	if c.Limiter.Enabled && c.Limiter.MaxAttempts <= 0 {
		return errors.New("LOGIN_LIMIT_MAX_ATTEMPTS must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return errors.New("HTTP_MAX_BODY_BYTES must be > 0")
	}
	return nil
}

// NeedsRedis reports whether any component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return c.RefreshStoreBackend == BackendRedis || c.Limiter.Enabled || c.Sweeper.Mode == "asynq"
}

// NeedsPostgres reports whether any component is backed by Postgres.
func (c *Config) NeedsPostgres() bool {
	return c.RefreshStoreBackend == BackendPostgres || c.CredentialStoreBackend == BackendPostgres
}

// EngineConfig maps the server settings onto tradeauth.Config. Key material
// is left empty; the server supplies a KeyProvider.
func (c *Config) EngineConfig() tradeauth.Config {
	cfg := tradeauth.DefaultConfig()
	cfg.JWT.AccessTTL = c.Auth.AccessTTL
	cfg.JWT.SigningMethod = c.Keys.SigningMethod
	cfg.JWT.KeyID = c.Keys.KeyID
	cfg.JWT.Issuer = c.Auth.Issuer
	cfg.JWT.Audience = c.Auth.Audience
	cfg.JWT.Leeway = c.Auth.Leeway
	cfg.JWT.DefaultScope = c.Auth.DefaultScope
	cfg.Refresh.TTL = c.Auth.RefreshTTL
	cfg.Refresh.AbsoluteLifetime = c.Auth.AbsoluteLifetime
	cfg.Refresh.Retention = c.Auth.Retention
	cfg.Password.Memory = c.Auth.ArgonMemoryKB
	cfg.Password.Time = c.Auth.ArgonTime
	cfg.Password.Parallelism = c.Auth.ArgonThreads
	cfg.Password.AcceptLegacyBcrypt = c.Auth.AcceptBcrypt
	cfg.Store.OperationTimeout = c.Auth.StoreTimeout
	cfg.Store.BreakerEnabled = c.Auth.BreakerEnabled
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = c.Auth.LatencyMetrics
	cfg.Security.ProductionMode = c.Auth.ProductionMode
	return cfg
}

// PrivateKey decodes JWT_PRIVATE_KEY, accepting standard or URL-safe base64.
func (k KeysConfig) PrivateKey() ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(k.PrivateKeyB64); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("JWT_PRIVATE_KEY is not valid base64")
}
