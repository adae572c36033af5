package tradeauth

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/abctrading/tradeauth/credential"
	"github.com/abctrading/tradeauth/password"
	"github.com/abctrading/tradeauth/refresh/redisstore"
)

func newBenchmarkEngine(b *testing.B) (*Engine, func()) {
	b.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.Audit.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = false

	creds, err := credential.NewMemoryStore(credential.Record{
		UserID:               "user-alice",
		Username:             "alice",
		PasswordHash:         hashFor(b, cfg, "correct-pw"),
		HashAlgorithmVersion: password.AlgorithmArgon2id,
	})
	if err != nil {
		b.Fatalf("NewMemoryStore: %v", err)
	}

	engine, err := New().
		WithConfig(cfg).
		WithCredentialStore(creds).
		WithRefreshStore(redisstore.New(rdb, redisstore.Options{Prefix: "bench"})).
		WithKeyProvider(testKeys(b)).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		b.Fatalf("Build: %v", err)
	}

	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func BenchmarkValidateAccess(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	pair, err := engine.Login(context.Background(), "alice", "correct-pw")
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateAccess(context.Background(), pair.AccessToken); err != nil {
			b.Fatalf("validate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	pair, err := engine.Login(context.Background(), "alice", "correct-pw")
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}
	token := pair.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := engine.Refresh(context.Background(), token)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		token = next.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := engine.Login(context.Background(), "alice", "correct-pw")
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = engine.Logout(context.Background(), pair.RefreshToken)
	}
}
