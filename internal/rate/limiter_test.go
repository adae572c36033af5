package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginBudgetAndWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("attempt %d: unexpected CheckLogin error: %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("attempt %d: unexpected IncrementLogin error: %v", i, err)
		}
	}

	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after budget, got %v", err)
	}
	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("other users must not be affected: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected window to reset, got %v", err)
	}
}

func TestUsernameKeyIsCaseInsensitiveAndHashed(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Prefix: "x", MaxLoginAttempts: 5, Window: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "Alice", "")
	n, err := l.GetLoginAttempts(ctx, "alice")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 attempt, got %d (%v)", n, err)
	}
	for _, k := range mr.Keys() {
		if k == "x:al:alice" || k == "x:al:Alice" {
			t.Fatalf("username stored in clear: %s", k)
		}
	}
}

func TestIPThrottleAndReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, Window: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "u1", "10.0.0.1")
	_ = l.IncrementLogin(ctx, "u2", "10.0.0.1")

	if err := l.CheckLogin(ctx, "u3", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP throttle, got %v", err)
	}

	if err := l.ResetLogin(ctx, "u3"); err != nil {
		t.Fatalf("ResetLogin error: %v", err)
	}
	if err := l.CheckLogin(ctx, "u3", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("ResetLogin must not clear the IP counter")
	}
}

func TestRedisDownWrapsUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 2, Window: time.Minute})
	mr.Close()

	if err := l.CheckLogin(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
