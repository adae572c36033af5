package tradeauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete Engine configuration. Start from DefaultConfig and
// override fields; Build calls Validate.
type Config struct {
	JWT      JWTConfig
	Refresh  RefreshConfig
	Password PasswordConfig
	Store    StoreConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens. Key material is only read from here when
// no KeyProvider is passed to the Builder.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	KeyID         string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	DefaultScope  string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls refresh-token lifetimes.
type RefreshConfig struct {
	// TTL is the sliding lifetime of a single refresh token.
	TTL time.Duration
	// AbsoluteLifetime bounds a whole family from its login.
	AbsoluteLifetime time.Duration
	// Retention keeps consumed and expired records around for reuse
	// detection before SweepExpired may delete them.
	Retention time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters for the current hasher.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// AcceptLegacyBcrypt lets records tagged "bcrypt" verify.
	AcceptLegacyBcrypt bool
	BcryptCost         int
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the timeout and circuit breaker put in front of the
// refresh store.
type StoreConfig struct {
	OperationTimeout    time.Duration
	BreakerEnabled      bool
	BreakerFailureRatio float64
	BreakerMinRequests  uint32
	BreakerOpenTimeout  time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds production hardening switches.
type SecurityConfig struct {
	// ProductionMode requires ed25519 signing, an issuer and an audience.
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Key material is empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			MaxFutureIAT:  10 * time.Minute,
			DefaultScope:  "user",
		},
		Refresh: RefreshConfig{
			TTL:              7 * 24 * time.Hour,
			AbsoluteLifetime: 30 * 24 * time.Hour,
			Retention:        7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:             65536,
			Time:               3,
			Parallelism:        2,
			SaltLength:         16,
			KeyLength:          32,
			AcceptLegacyBcrypt: true,
			BcryptCost:         12,
		},
		Store: StoreConfig{
			OperationTimeout:    2 * time.Second,
			BreakerEnabled:      true,
			BreakerFailureRatio: 0.5,
			BreakerMinRequests:  10,
			BreakerOpenTimeout:  10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration without looking at key material, which
// is validated when the key set is built.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.MaxFutureIAT < 0 || c.JWT.MaxFutureIAT > 24*time.Hour {
		return errors.New("JWT MaxFutureIAT must be between 0 and 24h")
	}
	if c.JWT.Issuer != "" && strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("JWT Issuer must not be blank")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.AbsoluteLifetime < c.Refresh.TTL {
		return errors.New("Refresh AbsoluteLifetime must be >= TTL")
	}
	if c.Refresh.Retention < 0 {
		return errors.New("Refresh Retention must be >= 0")
	}
	if c.JWT.AccessTTL >= c.Refresh.TTL {
		return errors.New("JWT AccessTTL must be shorter than Refresh TTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.AcceptLegacyBcrypt && (c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31) {
		return errors.New("Password BcryptCost must be between 4 and 31")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}
	if c.Store.BreakerEnabled {
		if c.Store.BreakerFailureRatio <= 0 || c.Store.BreakerFailureRatio > 1 {
			return errors.New("Store BreakerFailureRatio must be in (0, 1]")
		}
		if c.Store.BreakerMinRequests == 0 {
			return errors.New("Store BreakerMinRequests must be > 0")
		}
		if c.Store.BreakerOpenTimeout <= 0 {
			return errors.New("Store BreakerOpenTimeout must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Security
	if c.Security.ProductionMode {
		if c.JWT.SigningMethod != "ed25519" {
			return errors.New("ProductionMode requires ed25519 signing")
		}
		if c.JWT.Issuer == "" || c.JWT.Audience == "" {
			return errors.New("ProductionMode requires JWT Issuer and Audience")
		}
	}

	return nil
}
