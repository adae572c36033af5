package tradeauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abctrading/tradeauth/internal/rate"
)

// LoginLimiter is the integration point for brute-force protection.
//
// CheckLogin returns ErrLoginRateLimited to reject an attempt before any
// password work is done. Any other error is treated as a limiter outage:
// the Engine logs it and lets the attempt through.
type LoginLimiter interface {
	CheckLogin(ctx context.Context, username, ip string) error
	RecordFailure(ctx context.Context, username, ip string) error
	RecordSuccess(ctx context.Context, username, ip string) error
}

// LoginLimitConfig configures the Redis-backed limiter.
type LoginLimitConfig struct {
	Prefix           string
	MaxAttempts      int
	Window           time.Duration
	EnableIPThrottle bool
}

type redisLoginLimiter struct {
	limiter *rate.Limiter
}

// NewRedisLoginLimiter returns a fixed-window LoginLimiter on Redis.
func NewRedisLoginLimiter(client redis.UniversalClient, cfg LoginLimitConfig) (LoginLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("LoginLimit MaxAttempts must be > 0")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("LoginLimit Window must be > 0")
	}
	return &redisLoginLimiter{
		limiter: rate.New(client, rate.Config{
			Prefix:           cfg.Prefix,
			EnableIPThrottle: cfg.EnableIPThrottle,
			MaxLoginAttempts: cfg.MaxAttempts,
			Window:           cfg.Window,
		}),
	}, nil
}

func (l *redisLoginLimiter) CheckLogin(ctx context.Context, username, ip string) error {
	return mapRateErr(l.limiter.CheckLogin(ctx, username, ip))
}

func (l *redisLoginLimiter) RecordFailure(ctx context.Context, username, ip string) error {
	return mapRateErr(l.limiter.IncrementLogin(ctx, username, ip))
}

func (l *redisLoginLimiter) RecordSuccess(ctx context.Context, username, _ string) error {
	return mapRateErr(l.limiter.ResetLogin(ctx, username))
}

func mapRateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrLoginRateLimited
	}
	return fmt.Errorf("login limiter: %w", err)
}
