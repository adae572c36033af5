package tradeauth

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/abctrading/tradeauth/credential"
	"github.com/abctrading/tradeauth/internal/audit"
	"github.com/abctrading/tradeauth/jwt"
	"github.com/abctrading/tradeauth/password"
	"github.com/abctrading/tradeauth/refresh"
	"github.com/abctrading/tradeauth/token"
)

const tracerName = "github.com/abctrading/tradeauth"

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config

	credentials  credential.Store
	refreshStore refresh.Store
	keys         jwt.KeyProvider
	limiter      LoginLimiter
	auditSink    AuditSink
	logger       *slog.Logger
	tracer       trace.TracerProvider
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCredentialStore sets the read-only credential lookup. Required.
func (b *Builder) WithCredentialStore(store credential.Store) *Builder {
	b.credentials = store
	return b
}

// WithRefreshStore sets the refresh-token store. Required. Build wraps it
// with refresh.Guard using Config.Store.
func (b *Builder) WithRefreshStore(store refresh.Store) *Builder {
	b.refreshStore = store
	return b
}

// WithKeyProvider overrides the key material in Config.JWT, for example
// with a keys.Reloader.
func (b *Builder) WithKeyProvider(p jwt.KeyProvider) *Builder {
	b.keys = p
	return b
}

func (b *Builder) WithLoginLimiter(l LoginLimiter) *Builder {
	b.limiter = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// WithClock replaces time.Now for token timestamps. Store backends keep
// their own clocks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.refreshStore == nil {
		return nil, errors.New("refresh store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "tradeauth"))

	now := b.now
	if now == nil {
		now = time.Now
	}

	tp := b.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	// -------- PASSWORD HASHERS --------
	current, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	var legacy []password.Hasher
	if cfg.Password.AcceptLegacyBcrypt {
		bc, err := password.NewBcrypt(cfg.Password.BcryptCost)
		if err != nil {
			return nil, err
		}
		legacy = append(legacy, bc)
	}

	verifier, err := credential.NewVerifier(b.credentials, password.NewRegistry(current, legacy...),
		credential.WithLookupTimeout(cfg.Store.OperationTimeout))
	if err != nil {
		return nil, err
	}

	// -------- KEYS AND TOKENS --------
	keys := b.keys
	if keys == nil {
		ks, err := jwt.NewKeySet(jwt.KeyConfig{
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			KeyID:         cfg.JWT.KeyID,
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		})
		if err != nil {
			return nil, err
		}
		if !ks.CanSign() {
			return nil, errors.New("JWT PrivateKey required")
		}
		keys = jwt.StaticKeys{Set: ks}
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:    cfg.JWT.AccessTTL,
		Issuer:       cfg.JWT.Issuer,
		Audience:     cfg.JWT.Audience,
		Leeway:       cfg.JWT.Leeway,
		RequireIAT:   cfg.JWT.RequireIAT,
		MaxFutureIAT: cfg.JWT.MaxFutureIAT,
		Keys:         keys,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(jm, token.Config{
		RefreshTTL:       cfg.Refresh.TTL,
		AbsoluteLifetime: cfg.Refresh.AbsoluteLifetime,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	// -------- REFRESH STORE --------
	guardCfg := refresh.DefaultGuardConfig()
	guardCfg.Timeout = cfg.Store.OperationTimeout
	if cfg.Store.BreakerEnabled {
		guardCfg.FailureRatio = cfg.Store.BreakerFailureRatio
		guardCfg.MinRequests = cfg.Store.BreakerMinRequests
		guardCfg.OpenTimeout = cfg.Store.BreakerOpenTimeout
	} else {
		guardCfg.MinRequests = math.MaxUint32
	}

	metrics := NewMetrics(cfg.Metrics)

	engine := &Engine{
		config:      cloneConfig(cfg),
		verifier:    verifier,
		credentials: b.credentials,
		issuer:      issuer,
		jwtManager:  jm,
		store:       refresh.Guard(b.refreshStore, guardCfg, logger),
		limiter:     b.limiter,
		metrics:     metrics,
		logger:      logger,
		tracer:      tp.Tracer(tracerName),
		now:         now,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		SinkTimeout:  5 * time.Second,
		DrainTimeout: 10 * time.Second,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
