package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/abctrading/tradeauth/refresh"
	"github.com/abctrading/tradeauth/refresh/storetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	store := New(client, Options{Prefix: "test", Retention: storetest.Retention, Now: clock.Now})
	return store, mr, clock
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		store, mr, clock := newTestStore(t)
		return storetest.Harness{
			Store: store,
			Now:   clock.Now,
			Advance: func(d time.Duration) {
				clock.Advance(d)
				mr.FastForward(d)
			},
		}
	})
}

func TestSaveSetsNativeExpiryAndIndex(t *testing.T) {
	store, mr, clock := newTestStore(t)
	rec := storetest.NewRecord(t, clock.Now(), "u1", "", 15*time.Minute)

	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	ttl := mr.TTL(store.tokenKey(rec.TokenID))
	want := 15*time.Minute + storetest.Retention
	if ttl <= 0 || ttl > want || ttl < want-time.Second {
		t.Fatalf("unexpected token ttl %v, want about %v", ttl, want)
	}
	if ttl := mr.TTL(store.familyKey(rec.FamilyID)); ttl <= 0 {
		t.Fatalf("expected family key expiry, got %v", ttl)
	}

	members, err := mr.ZMembers(store.indexKey())
	if err != nil || len(members) != 1 || members[0] != rec.TokenID+":"+rec.FamilyID {
		t.Fatalf("unexpected index members %v err=%v", members, err)
	}
	isMember, err := mr.SIsMember(store.familyKey(rec.FamilyID), rec.TokenID)
	if err != nil || !isMember {
		t.Fatalf("expected family membership, err=%v", err)
	}
}

func TestSweepPrunesFamilyMembership(t *testing.T) {
	store, mr, clock := newTestStore(t)
	ctx := context.Background()

	family := "fam-1"
	old := storetest.NewRecord(t, clock.Now(), "u1", family, time.Minute)
	young := storetest.NewRecord(t, clock.Now(), "u1", family, 4*time.Hour)
	for _, rec := range []*refresh.Record{old, young} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	clock.Advance(2 * time.Hour)
	mr.FastForward(2 * time.Hour)

	n, err := store.SweepExpired(ctx, storetest.Retention)
	if err != nil || n != 1 {
		t.Fatalf("expected one swept record, got n=%d err=%v", n, err)
	}
	if ok, _ := mr.SIsMember(store.familyKey(family), old.TokenID); ok {
		t.Fatal("expected swept token removed from family set")
	}
	if ok, _ := mr.SIsMember(store.familyKey(family), young.TokenID); !ok {
		t.Fatal("expected live token to remain in family set")
	}

	revoked, err := store.RevokeFamily(ctx, family)
	if err != nil || revoked != 1 {
		t.Fatalf("expected one revoked after sweep, got %d err=%v", revoked, err)
	}
}

func TestSweepHonoursBatching(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	store := New(client, Options{Prefix: "batch", Retention: time.Minute, SweepBatch: 2, Now: clock.Now})

	for i := 0; i < 5; i++ {
		rec := storetest.NewRecord(t, clock.Now(), "u1", "", time.Minute)
		if err := store.Save(context.Background(), rec); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	clock.Advance(10 * time.Minute)

	n, err := store.SweepExpired(context.Background(), time.Minute)
	if err != nil || n != 5 {
		t.Fatalf("expected 5 swept across batches, got n=%d err=%v", n, err)
	}
}

func TestCorruptRecordIsUnavailable(t *testing.T) {
	store, mr, _ := newTestStore(t)
	mr.HSet(store.tokenKey("broken"), "uid", "u1", "sh", "zz", "exp", "1")

	if _, err := store.FindLive(context.Background(), "broken"); !errors.Is(err, refresh.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for corrupt record, got %v", err)
	}
}

func TestRedisDownIsUnavailable(t *testing.T) {
	store, mr, clock := newTestStore(t)
	mr.Close()

	ctx := context.Background()
	rec := storetest.NewRecord(t, clock.Now(), "u1", "", time.Minute)
	if err := store.Save(ctx, rec); !errors.Is(err, refresh.ErrUnavailable) {
		t.Fatalf("Save: expected ErrUnavailable, got %v", err)
	}
	if _, err := store.FindLive(ctx, rec.TokenID); !errors.Is(err, refresh.ErrUnavailable) {
		t.Fatalf("FindLive: expected ErrUnavailable, got %v", err)
	}
	if err := store.Consume(ctx, rec.TokenID); !errors.Is(err, refresh.ErrUnavailable) {
		t.Fatalf("Consume: expected ErrUnavailable, got %v", err)
	}
	if _, err := store.RevokeFamily(ctx, rec.FamilyID); !errors.Is(err, refresh.ErrUnavailable) {
		t.Fatalf("RevokeFamily: expected ErrUnavailable, got %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, refresh.ErrUnavailable) {
		t.Fatalf("Ping: expected ErrUnavailable, got %v", err)
	}
}
