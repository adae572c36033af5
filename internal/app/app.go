// Package app wires the tradeauth-server dependencies together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/abctrading/tradeauth"
	"github.com/abctrading/tradeauth/credential"
	"github.com/abctrading/tradeauth/internal/audit"
	"github.com/abctrading/tradeauth/internal/config"
	"github.com/abctrading/tradeauth/internal/database"
	"github.com/abctrading/tradeauth/internal/httpapi"
	"github.com/abctrading/tradeauth/internal/sweeper"
	"github.com/abctrading/tradeauth/internal/tracing"
	"github.com/abctrading/tradeauth/jwt"
	"github.com/abctrading/tradeauth/keys"
	promexport "github.com/abctrading/tradeauth/metrics/export/prometheus"
	"github.com/abctrading/tradeauth/migrations"
	"github.com/abctrading/tradeauth/refresh"
	"github.com/abctrading/tradeauth/refresh/memstore"
	"github.com/abctrading/tradeauth/refresh/pgstore"
	"github.com/abctrading/tradeauth/refresh/redisstore"
)

const serviceVersion = "0.1.0"

// App owns every long-lived resource of the server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool   *pgxpool.Pool
	redis  *redis.Client
	engine *tradeauth.Engine

	reloader    *keys.Reloader
	asynqSweep  *sweeper.Asynq
	auditClose  []io.Closer
	httpServer  *http.Server
	tracerClose func(context.Context) error
}

// NewApp connects to the configured backends and builds the Engine and
// router. Resources opened before a failure are released.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tp, tracerClose, err := tracing.Init(initCtx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracerClose = tracerClose

	if cfg.NeedsPostgres() {
		a.pool, err = database.NewPostgresPool(initCtx, &database.PostgresConfig{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			DBName:          cfg.Postgres.DBName,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.Postgres.Host),
			slog.Int("port", cfg.Postgres.Port),
			slog.String("database", cfg.Postgres.DBName),
		)

		if cfg.RunMigrations {
			if err := migrations.Up(initCtx, a.pool); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("database migrations completed")
		}
	}

	if cfg.NeedsRedis() {
		a.redis, err = database.NewRedisClient(initCtx, database.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis.Addr))
	}

	creds, err := a.credentialStore(initCtx)
	if err != nil {
		return err
	}
	store := a.refreshStore()

	keyProvider, err := a.keyProvider(initCtx)
	if err != nil {
		return err
	}

	builder := tradeauth.New().
		WithConfig(cfg.EngineConfig()).
		WithCredentialStore(creds).
		WithRefreshStore(store).
		WithKeyProvider(keyProvider).
		WithAuditSink(a.auditSink()).
		WithLogger(logger).
		WithTracerProvider(tp)

	if cfg.Limiter.Enabled {
		limiter, err := tradeauth.NewRedisLoginLimiter(a.redis, tradeauth.LoginLimitConfig{
			Prefix:           cfg.Redis.Prefix,
			MaxAttempts:      cfg.Limiter.MaxAttempts,
			Window:           cfg.Limiter.Window,
			EnableIPThrottle: cfg.Limiter.PerIP,
		})
		if err != nil {
			return fmt.Errorf("login limiter: %w", err)
		}
		builder = builder.WithLoginLimiter(limiter)
	}

	a.engine, err = builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	a.logSecurityReport()

	if cfg.Sweeper.Mode == "asynq" {
		a.asynqSweep, err = sweeper.NewAsynq(sweeper.AsynqConfig{
			Redis: asynq.RedisClientOpt{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
			Cronspec: cfg.Sweeper.Cron,
		}, a.engine, logger)
		if err != nil {
			return fmt.Errorf("asynq sweeper: %w", err)
		}
	}

	handler, err := a.router()
	if err != nil {
		return err
	}

	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

func (a *App) credentialStore(ctx context.Context) (credential.Store, error) {
	if a.cfg.CredentialStoreBackend == config.BackendPostgres {
		return credential.NewPostgresStore(a.pool), nil
	}

	records, err := parseSeedUsers(a.cfg.SeedUsers)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		a.logger.WarnContext(ctx, "memory credential store has no users; set SEED_USERS")
	}
	return credential.NewMemoryStore(records...)
}

// parseSeedUsers reads username:userID:phcHash entries. PHC strings never
// contain a colon, so the hash is the remainder after the second one.
func parseSeedUsers(entries []string) ([]credential.Record, error) {
	out := make([]credential.Record, 0, len(entries))
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("SEED_USERS entry %d: want username:userID:hash", i)
		}
		out = append(out, credential.Record{
			Username:     parts[0],
			UserID:       parts[1],
			PasswordHash: parts[2],
		})
	}
	return out, nil
}

func (a *App) refreshStore() refresh.Store {
	switch a.cfg.RefreshStoreBackend {
	case config.BackendRedis:
		return redisstore.New(a.redis, redisstore.Options{
			Prefix:    a.cfg.Redis.Prefix,
			Retention: a.cfg.Auth.Retention,
		})
	case config.BackendPostgres:
		return pgstore.New(a.pool)
	default:
		a.logger.Warn("using in-memory refresh store; tokens do not survive restarts")
		return memstore.New()
	}
}

func (a *App) keyProvider(ctx context.Context) (jwt.KeyProvider, error) {
	var source keys.Source
	switch a.cfg.Keys.Source {
	case config.KeySourceEnv:
		priv, err := a.cfg.Keys.PrivateKey()
		if err != nil {
			return nil, err
		}
		ks, err := jwt.NewKeySet(jwt.KeyConfig{
			SigningMethod: jwt.SigningMethod(a.cfg.Keys.SigningMethod),
			KeyID:         a.cfg.Keys.KeyID,
			PrivateKey:    priv,
		})
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		return jwt.StaticKeys{Set: ks}, nil
	case config.KeySourceFile:
		source = keys.FileSource{Path: a.cfg.Keys.FilePath}
	case config.KeySourceS3:
		client, err := keys.NewS3Client(ctx, keys.S3Config{
			Region:    a.cfg.Keys.S3Region,
			Endpoint:  a.cfg.Keys.S3Endpoint,
			AccessKey: a.cfg.Keys.S3AccessKey,
			SecretKey: a.cfg.Keys.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		source = keys.S3Source{Client: client, Bucket: a.cfg.Keys.S3Bucket, Key: a.cfg.Keys.S3Key}
	default:
		return nil, fmt.Errorf("unknown key source %q", a.cfg.Keys.Source)
	}

	r, err := keys.NewReloader(ctx, source, a.logger)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	a.reloader = r
	return r, nil
}

func (a *App) auditSink() tradeauth.AuditSink {
	sinks := audit.MultiSink{audit.NewSlogSink(a.logger)}
	if len(a.cfg.Audit.KafkaBrokers) > 0 {
		w := audit.NewKafkaWriter(audit.KafkaConfig{
			Brokers:      a.cfg.Audit.KafkaBrokers,
			Topic:        a.cfg.Audit.KafkaTopic,
			BatchTimeout: a.cfg.Audit.KafkaBatch,
		})
		sink := audit.NewKafkaSink(w, a.cfg.Audit.KafkaTopic, a.cfg.ServiceName, a.logger)
		a.auditClose = append(a.auditClose, sink)
		sinks = append(sinks, sink)
		a.logger.Info("kafka audit sink initialized", slog.Any("brokers", a.cfg.Audit.KafkaBrokers))
	}
	return sinks
}

func (a *App) router() (http.Handler, error) {
	health := httpapi.NewHealth(5 * time.Second)
	health.Register("stores", a.engine.Ping)
	if a.redis != nil {
		health.Register("redis", func(ctx context.Context) error { return a.redis.Ping(ctx).Err() })
	}

	httpMetrics := httpapi.NewHTTPMetrics(a.cfg.ServiceName)
	extra := []prometheus.Collector{
		httpMetrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	if a.pool != nil {
		extra = append(extra, database.NewPoolStatsCollector(a.pool, a.cfg.ServiceName))
	}
	metricsHandler, err := promexport.NewCollector(a.engine).Handler(extra...)
	if err != nil {
		return nil, fmt.Errorf("metrics handler: %w", err)
	}

	return httpapi.NewRouter(httpapi.Config{
		MaxBodyBytes:      a.cfg.HTTP.MaxBodyBytes,
		TrustProxyHeaders: a.cfg.HTTP.TrustProxyHeaders,
		RetryAfter:        time.Second,
		MeScopes:          []string{a.cfg.Auth.DefaultScope},
	}, httpapi.Deps{
		Auth:           a.engine,
		Health:         health,
		Metrics:        httpMetrics,
		MetricsHandler: metricsHandler,
		Logger:         a.logger,
	})
}

func (a *App) logSecurityReport() {
	r := a.engine.SecurityReport()
	a.logger.Info("engine ready",
		slog.Bool("production_mode", r.ProductionMode),
		slog.String("signing_algorithm", r.SigningAlgorithm),
		slog.String("issuer", r.Issuer),
		slog.String("audience", r.Audience),
		slog.Duration("access_ttl", r.AccessTTL),
		slog.Duration("refresh_ttl", r.RefreshTTL),
		slog.Duration("absolute_lifetime", r.AbsoluteLifetime),
		slog.Duration("refresh_retention", r.RefreshRetention),
		slog.Bool("legacy_bcrypt", r.LegacyBcryptEnabled),
		slog.Bool("breaker", r.BreakerEnabled),
		slog.Bool("rate_limiting", r.RateLimitingActive),
		slog.String("refresh_store", a.cfg.RefreshStoreBackend),
		slog.String("credential_store", a.cfg.CredentialStoreBackend),
	)
}

// Run serves HTTP and runs the background loops until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	if a.reloader != nil {
		go a.reloader.Run(bgCtx, a.cfg.Keys.ReloadInterval)
	}
	switch a.cfg.Sweeper.Mode {
	case "ticker":
		go sweeper.RunTicker(bgCtx, a.engine, a.cfg.Sweeper.Interval, a.logger)
	case "asynq":
		if err := a.asynqSweep.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}
	stopBackground()

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown stops components in dependency order:
// 1. HTTP server (drain in-flight requests)
// 2. sweeper
// 3. Engine (flush audit events)
// 4. audit sinks, tracer, Redis, Postgres
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.release(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) release() error {
	var errs []error

	if a.asynqSweep != nil {
		a.asynqSweep.Shutdown()
		a.asynqSweep = nil
	}
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	for _, c := range a.auditClose {
		if err := c.Close(); err != nil {
			a.logger.Error("audit sink close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	a.auditClose = nil
	if a.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerClose(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerClose = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}
