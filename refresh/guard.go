package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// GuardConfig configures Guard.
type GuardConfig struct {
	// Timeout bounds every store call.
	Timeout time.Duration

	// Name identifies the breaker in logs.
	Name string
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval clears failure counts while closed. 0 never clears.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before half-opening.
	OpenTimeout time.Duration
	// FailureRatio trips the breaker once MinRequests calls were seen.
	FailureRatio float64
	MinRequests  uint32

	// OnStateChange is called after the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultGuardConfig returns the defaults used by the service.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:      2 * time.Second,
		Name:         "refresh-store",
		MaxRequests:  1,
		Interval:     60 * time.Second,
		OpenTimeout:  10 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
	}
}

// Guarded decorates a Store with timeouts and a circuit breaker. Backend
// failures, deadlines and an open breaker all surface as ErrUnavailable.
// Domain outcomes pass through untouched and never count as failures.
type Guarded struct {
	next    Store
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[any]
}

// Guard wraps next.
func Guard(next Store, cfg GuardConfig, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGuardConfig().Timeout
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsDomainError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	return &Guarded{
		next:    next,
		timeout: cfg.Timeout,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State { return g.breaker.State() }

// Unwrap returns the decorated store.
func (g *Guarded) Unwrap() Store { return g.next }

func (g *Guarded) Save(ctx context.Context, rec *Record) error {
	return g.run(ctx, "save", func(ctx context.Context) error {
		return g.next.Save(ctx, rec)
	})
}

func (g *Guarded) FindLive(ctx context.Context, tokenID string) (*Record, error) {
	var rec *Record
	err := g.run(ctx, "find", func(ctx context.Context) error {
		var err error
		rec, err = g.next.FindLive(ctx, tokenID)
		return err
	})
	return rec, err
}

func (g *Guarded) Consume(ctx context.Context, tokenID string) error {
	return g.run(ctx, "consume", func(ctx context.Context) error {
		return g.next.Consume(ctx, tokenID)
	})
}

func (g *Guarded) Rotate(ctx context.Context, oldTokenID string, next *Record) error {
	return g.run(ctx, "rotate", func(ctx context.Context) error {
		return Rotate(ctx, g.next, oldTokenID, next)
	})
}

func (g *Guarded) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	var n int
	err := g.run(ctx, "revoke_family", func(ctx context.Context) error {
		var err error
		n, err = g.next.RevokeFamily(ctx, familyID)
		return err
	})
	return n, err
}

// SweepExpired runs without the operation timeout; sweeps are batch work
// bounded by the caller's context.
func (g *Guarded) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	n, err := g.next.SweepExpired(ctx, retention)
	if err != nil && !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: sweep: %v", ErrUnavailable, err)
	}
	return n, err
}

// Ping delegates to the wrapped store when it supports it.
func (g *Guarded) Ping(ctx context.Context) error {
	p, ok := g.next.(Pinger)
	if !ok {
		return nil
	}
	return g.run(ctx, "ping", p.Ping)
}

func (g *Guarded) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil:
		return nil
	case IsDomainError(err):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s timed out after %s", ErrUnavailable, op, g.timeout)
	case errors.Is(err, ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
}
