package keys

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/abctrading/tradeauth/jwt"
)

// Source fetches the current key set.
type Source interface {
	Load(ctx context.Context) (*jwt.KeySet, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*jwt.KeySet, error)

func (f SourceFunc) Load(ctx context.Context) (*jwt.KeySet, error) { return f(ctx) }

// Reloader is a jwt.KeyProvider backed by a Source. A failed reload keeps the
// last good key set.
type Reloader struct {
	source   Source
	logger   *slog.Logger
	current  atomic.Pointer[jwt.KeySet]
	failures atomic.Uint64
}

// NewReloader performs the initial load, which must succeed.
func NewReloader(ctx context.Context, source Source, logger *slog.Logger) (*Reloader, error) {
	if source == nil {
		return nil, errors.New("keys: source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reloader{source: source, logger: logger}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// KeySet returns the key set currently in effect.
func (r *Reloader) KeySet() (*jwt.KeySet, error) {
	ks := r.current.Load()
	if ks == nil {
		return nil, jwt.ErrSigningKey
	}
	return ks, nil
}

// Reload fetches the key set once and swaps it in on success.
func (r *Reloader) Reload(ctx context.Context) error {
	ks, err := r.source.Load(ctx)
	if err == nil && ks == nil {
		err = errors.New("keys: source returned no key set")
	}
	if err != nil {
		r.failures.Add(1)
		return err
	}

	prev := r.current.Swap(ks)
	if prev == nil || prev.KeyID() != ks.KeyID() {
		r.logger.Info("signing key loaded", "kid", ks.KeyID(), "method", string(ks.Method()))
	}
	return nil
}

// Failures returns the number of failed reloads.
func (r *Reloader) Failures() uint64 { return r.failures.Load() }

// Run reloads every interval until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("signing key reload failed, keeping previous key set", "error", err)
			}
		}
	}
}
