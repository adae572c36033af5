package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/abctrading/tradeauth"
	"github.com/abctrading/tradeauth/credential"
	"github.com/abctrading/tradeauth/jwt"
	"github.com/abctrading/tradeauth/password"
	"github.com/abctrading/tradeauth/refresh"
	"github.com/abctrading/tradeauth/refresh/memstore"
	"github.com/abctrading/tradeauth/refresh/redisstore"
)

const loadPassword = "load-test-password"

type options struct {
	users       int
	concurrency int
	racers      int
	rounds      int
	chain       int
	backend     string
	redisAddr   string
	prefix      string
	argonMemory uint
}

func main() {
	var o options
	flag.IntVar(&o.users, "users", 200, "number of users to log in")
	flag.IntVar(&o.concurrency, "concurrency", 64, "workers for the login and chain phases")
	flag.IntVar(&o.racers, "racers", 16, "goroutines presenting the same refresh token")
	flag.IntVar(&o.rounds, "rounds", 200, "refresh races to run")
	flag.IntVar(&o.chain, "chain", 20, "sequential rotations per user in the chain phase")
	flag.StringVar(&o.backend, "backend", "redis", "refresh store: redis or memory")
	flag.StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flag.StringVar(&o.prefix, "prefix", "ta-load", "redis key prefix")
	flag.UintVar(&o.argonMemory, "argon-memory", 8*1024, "argon2id memory in KiB")
	flag.Parse()

	if o.users <= 0 || o.concurrency <= 0 || o.racers <= 1 || o.rounds <= 0 || o.chain < 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency and rounds must be > 0, racers > 1")
		os.Exit(2)
	}

	ctx := context.Background()

	store, cleanup, err := openStore(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refresh store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := buildEngine(o, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	pairs, loginStats := runLoginPhase(ctx, engine, o.users, o.concurrency)
	if len(pairs) == 0 {
		fmt.Fprintln(os.Stderr, "no successful logins")
		os.Exit(1)
	}
	race := runRacePhase(ctx, engine, o.rounds, o.racers)
	chainStats := runChainPhase(ctx, engine, pairs, o.chain, o.concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("refresh-race", race.stats)
	fmt.Printf("refresh-race: rounds=%d winners=%d reuse=%d other=%d single-winner-rounds=%d\n",
		o.rounds, race.winners, race.reuse, race.other, race.cleanRounds)
	printStats("refresh-chain", chainStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: families-revoked=%d store-unavailable=%d audit-dropped=%d\n",
		snap.Counters[tradeauth.MetricFamilyRevoked],
		snap.Counters[tradeauth.MetricStoreUnavailable],
		engine.AuditDropped(),
	)

	if race.cleanRounds != o.rounds {
		fmt.Fprintln(os.Stderr, "FAIL: some rounds did not have exactly one winner")
		os.Exit(1)
	}
}

func openStore(o options) (refresh.Store, func(), error) {
	if o.backend == "memory" {
		fmt.Println("using in-memory refresh store")
		return memstore.New(), func() {}, nil
	}
	if o.backend != "redis" {
		return nil, nil, fmt.Errorf("unknown backend %q", o.backend)
	}

	addr := o.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}

	return redisstore.New(client, redisstore.Options{Prefix: o.prefix, Retention: time.Hour}), cleanup, nil
}

func buildEngine(o options, store refresh.Store) (*tradeauth.Engine, error) {
	cfg := tradeauth.DefaultConfig()
	cfg.Password.Memory = uint32(o.argonMemory)
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.JWT.Issuer = "tradeauth-loadtest"
	cfg.JWT.Audience = "loadtest"
	cfg.Store.BreakerEnabled = false
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = true

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	creds, err := credential.NewMemoryStore()
	if err != nil {
		return nil, err
	}
	for i := 0; i < o.users; i++ {
		if err := creds.Add(credential.Record{
			UserID:       fmt.Sprintf("user-%d", i),
			Username:     username(i),
			PasswordHash: hash,
		}); err != nil {
			return nil, err
		}
	}
	// One extra account for the race phase so its revocations do not touch
	// the chain-phase families.
	if err := creds.Add(credential.Record{UserID: "user-racer", Username: "racer", PasswordHash: hash}); err != nil {
		return nil, err
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	ks, err := jwt.NewKeySet(jwt.KeyConfig{SigningMethod: jwt.MethodEd25519, KeyID: "load-1", PrivateKey: priv})
	if err != nil {
		return nil, err
	}

	return tradeauth.New().
		WithConfig(cfg).
		WithCredentialStore(creds).
		WithRefreshStore(store).
		WithKeyProvider(jwt.StaticKeys{Set: ks}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
}

func username(i int) string { return fmt.Sprintf("trader-%d", i) }

func runLoginPhase(ctx context.Context, engine *tradeauth.Engine, users, concurrency int) ([]*tradeauth.TokenPair, phaseStats) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, users)
		pairs     = make([]*tradeauth.TokenPair, users)
		mu        sync.Mutex
	)

	fmt.Printf("logging in %d users...\n", users)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= users {
					return
				}
				t0 := time.Now()
				pair, err := engine.Login(ctx, username(i), loadPassword)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					pairs[i] = pair
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	out := pairs[:0]
	for _, p := range pairs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out, computeStats(total, latencies, failures)
}

type raceResult struct {
	stats       phaseStats
	winners     int64
	reuse       int64
	other       int64
	cleanRounds int
}

// runRacePhase presents one fresh refresh token from racers goroutines at
// once, rounds times. Exactly one refresh per round may succeed.
func runRacePhase(ctx context.Context, engine *tradeauth.Engine, rounds, racers int) raceResult {
	var (
		res       raceResult
		latencies = make([]time.Duration, 0, rounds*racers)
		mu        sync.Mutex
		failures  int64
	)

	start := time.Now()
	for round := 0; round < rounds; round++ {
		pair, err := engine.Login(ctx, "racer", loadPassword)
		if err != nil {
			failures++
			continue
		}

		var (
			wg      sync.WaitGroup
			gate    = make(chan struct{})
			winners int64
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				_, err := engine.Refresh(ctx, pair.RefreshToken)
				d := time.Since(t0)
				switch {
				case err == nil:
					atomic.AddInt64(&winners, 1)
				case errors.Is(err, tradeauth.ErrRefreshReuseDetected):
					atomic.AddInt64(&res.reuse, 1)
				default:
					atomic.AddInt64(&res.other, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		close(gate)
		wg.Wait()

		res.winners += winners
		if winners == 1 {
			res.cleanRounds++
		}
	}
	res.stats = computeStats(time.Since(start), latencies, failures+res.other)
	return res
}

// runChainPhase rotates each family chain times in sequence, with families
// spread across workers.
func runChainPhase(ctx context.Context, engine *tradeauth.Engine, pairs []*tradeauth.TokenPair, chain, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(pairs)*chain)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(pairs) {
					return
				}
				token := pairs[i].RefreshToken
				for n := 0; n < chain; n++ {
					t0 := time.Now()
					next, err := engine.Refresh(ctx, token)
					d := time.Since(t0)
					mu.Lock()
					latencies = append(latencies, d)
					mu.Unlock()
					if err != nil {
						atomic.AddInt64(&failures, 1)
						break
					}
					token = next.RefreshToken
				}
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
