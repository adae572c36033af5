// Package storetest holds behavioural tests shared by refresh.Store backends.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/abctrading/tradeauth/refresh"
)

// Retention is the sweep retention the suite assumes backends were built with.
const Retention = time.Hour

// Harness is one backend under test.
type Harness struct {
	Store refresh.Store
	// Now returns the backend clock.
	Now func() time.Time
	// Advance moves the backend clock (and any native expiry) forward.
	Advance func(d time.Duration)
}

// Run executes the suite. newHarness is called once per subtest.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("SaveConflict", func(t *testing.T) { testSaveConflict(t, newHarness(t)) })
	t.Run("FindLiveStates", func(t *testing.T) { testFindLiveStates(t, newHarness(t)) })
	t.Run("ConsumeOnce", func(t *testing.T) { testConsumeOnce(t, newHarness(t)) })
	t.Run("ConcurrentConsumeSingleWinner", func(t *testing.T) { testConcurrentConsume(t, newHarness(t)) })
	t.Run("RevokeFamily", func(t *testing.T) { testRevokeFamily(t, newHarness(t)) })
	t.Run("RotateAtomic", func(t *testing.T) { testRotate(t, newHarness(t)) })
	t.Run("ConcurrentRotateSingleWinner", func(t *testing.T) { testConcurrentRotate(t, newHarness(t)) })
	t.Run("SweepExpired", func(t *testing.T) { testSweep(t, newHarness(t)) })
}

// NewRecord builds a live record for tests.
func NewRecord(t *testing.T, now time.Time, userID, familyID string, ttl time.Duration) *refresh.Record {
	t.Helper()
	tok, err := refresh.NewToken()
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}
	return &refresh.Record{
		TokenID:           tok.TokenID(),
		SecretHash:        tok.SecretHash(),
		UserID:            userID,
		FamilyID:          familyID,
		IssuedAt:          now.Truncate(time.Millisecond),
		ExpiresAt:         now.Add(ttl).Truncate(time.Millisecond),
		AbsoluteExpiresAt: now.Add(24 * ttl).Truncate(time.Millisecond),
	}
}

func mustSave(t *testing.T, s refresh.Store, rec *refresh.Record) {
	t.Helper()
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save(%s) error: %v", rec.TokenID, err)
	}
}

func testSaveConflict(t *testing.T, h Harness) {
	rec := NewRecord(t, h.Now(), "u1", "", time.Hour)
	mustSave(t, h.Store, rec)

	dup := rec.Clone()
	dup.UserID = "someone-else"
	if err := h.Store.Save(context.Background(), dup); !errors.Is(err, refresh.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := h.Store.FindLive(context.Background(), rec.TokenID)
	if err != nil {
		t.Fatalf("FindLive error: %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("conflicting save overwrote record: %+v", got)
	}
}

func testFindLiveStates(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Now()

	live := NewRecord(t, now, "u1", "", time.Hour)
	live.PredecessorID = "prev-token"
	mustSave(t, h.Store, live)

	got, err := h.Store.FindLive(ctx, live.TokenID)
	if err != nil {
		t.Fatalf("FindLive(live) error: %v", err)
	}
	if got.UserID != live.UserID || got.FamilyID != live.FamilyID || got.SecretHash != live.SecretHash ||
		got.PredecessorID != "prev-token" || !got.ExpiresAt.Equal(live.ExpiresAt) ||
		!got.AbsoluteExpiresAt.Equal(live.AbsoluteExpiresAt) || got.ConsumedAt != nil {
		t.Fatalf("FindLive returned %+v, want %+v", got, live)
	}

	if _, err := h.Store.FindLive(ctx, "missing-token-id"); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	short := NewRecord(t, now, "u1", "", time.Minute)
	mustSave(t, h.Store, short)
	h.Advance(2 * time.Minute)
	got, err = h.Store.FindLive(ctx, short.TokenID)
	if !errors.Is(err, refresh.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if got == nil || got.FamilyID != short.FamilyID {
		t.Fatal("expected expired record to be returned with the error")
	}

	if err := h.Store.Consume(ctx, live.TokenID); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	got, err = h.Store.FindLive(ctx, live.TokenID)
	if !errors.Is(err, refresh.ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed, got %v", err)
	}
	if got == nil || got.FamilyID != live.FamilyID || got.ConsumedAt == nil || got.Revoked {
		t.Fatalf("expected consumed record with family, got %+v", got)
	}
}

func testConsumeOnce(t *testing.T, h Harness) {
	ctx := context.Background()
	rec := NewRecord(t, h.Now(), "u1", "", time.Minute)
	mustSave(t, h.Store, rec)

	if err := h.Store.Consume(ctx, rec.TokenID); err != nil {
		t.Fatalf("first Consume error: %v", err)
	}
	if err := h.Store.Consume(ctx, rec.TokenID); !errors.Is(err, refresh.ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed, got %v", err)
	}
	if err := h.Store.Consume(ctx, "missing-token-id"); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	expiring := NewRecord(t, h.Now(), "u1", "", time.Minute)
	mustSave(t, h.Store, expiring)
	h.Advance(2 * time.Minute)
	if err := h.Store.Consume(ctx, expiring.TokenID); !errors.Is(err, refresh.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func testConcurrentConsume(t *testing.T, h Harness) {
	rec := NewRecord(t, h.Now(), "u1", "", time.Hour)
	mustSave(t, h.Store, rec)

	const workers = 16
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		success  atomic.Int32
		consumed atomic.Int32
		other    atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := h.Store.Consume(context.Background(), rec.TokenID)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, refresh.ErrAlreadyConsumed):
				consumed.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if success.Load() != 1 || consumed.Load() != workers-1 || other.Load() != 0 {
		t.Fatalf("expected 1 success and %d ErrAlreadyConsumed, got success=%d consumed=%d other=%d",
			workers-1, success.Load(), consumed.Load(), other.Load())
	}
}

func testRevokeFamily(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Now()
	family := uuid.NewString()

	first := NewRecord(t, now, "u1", family, time.Hour)
	second := NewRecord(t, now, "u1", family, time.Hour)
	third := NewRecord(t, now, "u1", family, time.Hour)
	bystander := NewRecord(t, now, "u1", "", time.Hour)
	for _, rec := range []*refresh.Record{first, second, third, bystander} {
		mustSave(t, h.Store, rec)
	}
	if err := h.Store.Consume(ctx, first.TokenID); err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	n, err := h.Store.RevokeFamily(ctx, family)
	if err != nil {
		t.Fatalf("RevokeFamily error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}

	for _, rec := range []*refresh.Record{second, third} {
		got, err := h.Store.FindLive(ctx, rec.TokenID)
		if !errors.Is(err, refresh.ErrAlreadyConsumed) {
			t.Fatalf("expected revoked token to be consumed, got %v", err)
		}
		if got == nil || !got.Revoked {
			t.Fatalf("expected revoked flag on %s, got %+v", rec.TokenID, got)
		}
	}

	got, err := h.Store.FindLive(ctx, first.TokenID)
	if !errors.Is(err, refresh.ErrAlreadyConsumed) || got.Revoked {
		t.Fatalf("expected rotated token to stay consumed without revoked flag, got %+v err=%v", got, err)
	}

	if _, err := h.Store.FindLive(ctx, bystander.TokenID); err != nil {
		t.Fatalf("expected other family untouched, got %v", err)
	}

	n, err = h.Store.RevokeFamily(ctx, family)
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent revoke, got n=%d err=%v", n, err)
	}
	n, err = h.Store.RevokeFamily(ctx, uuid.NewString())
	if err != nil || n != 0 {
		t.Fatalf("expected unknown family to revoke nothing, got n=%d err=%v", n, err)
	}
}

func testRotate(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Now()

	old := NewRecord(t, now, "u1", "", time.Hour)
	mustSave(t, h.Store, old)

	next := NewRecord(t, now, "u1", old.FamilyID, time.Hour)
	next.PredecessorID = old.TokenID
	if err := refresh.Rotate(ctx, h.Store, old.TokenID, next); err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if _, err := h.Store.FindLive(ctx, old.TokenID); !errors.Is(err, refresh.ErrAlreadyConsumed) {
		t.Fatalf("expected old token consumed, got %v", err)
	}
	got, err := h.Store.FindLive(ctx, next.TokenID)
	if err != nil {
		t.Fatalf("FindLive(next) error: %v", err)
	}
	if got.PredecessorID != old.TokenID || got.FamilyID != old.FamilyID {
		t.Fatalf("unexpected lineage: %+v", got)
	}

	late := NewRecord(t, now, "u1", old.FamilyID, time.Hour)
	if err := refresh.Rotate(ctx, h.Store, old.TokenID, late); !errors.Is(err, refresh.ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed on second rotate, got %v", err)
	}
	if _, err := h.Store.FindLive(ctx, late.TokenID); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected losing rotation to save nothing, got %v", err)
	}

	if _, ok := h.Store.(refresh.Rotator); !ok {
		return
	}
	// A conflicting successor must leave the predecessor live.
	fresh := NewRecord(t, now, "u1", "", time.Hour)
	mustSave(t, h.Store, fresh)
	clash := next.Clone()
	if err := refresh.Rotate(ctx, h.Store, fresh.TokenID, clash); !errors.Is(err, refresh.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := h.Store.FindLive(ctx, fresh.TokenID); err != nil {
		t.Fatalf("expected predecessor still live after failed rotate, got %v", err)
	}
}

func testConcurrentRotate(t *testing.T, h Harness) {
	old := NewRecord(t, h.Now(), "u1", "", time.Hour)
	mustSave(t, h.Store, old)

	const workers = 12
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		winners atomic.Int32
		losers  atomic.Int32
	)
	for i := 0; i < workers; i++ {
		next := NewRecord(t, h.Now(), "u1", old.FamilyID, time.Hour)
		next.PredecessorID = old.TokenID
		wg.Add(1)
		go func(next *refresh.Record) {
			defer wg.Done()
			<-start
			err := refresh.Rotate(context.Background(), h.Store, old.TokenID, next)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, refresh.ErrAlreadyConsumed):
				losers.Add(1)
			default:
				panic(fmt.Sprintf("unexpected rotate error: %v", err))
			}
		}(next)
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 || losers.Load() != workers-1 {
		t.Fatalf("expected exactly one winner, got winners=%d losers=%d", winners.Load(), losers.Load())
	}
}

func testSweep(t *testing.T, h Harness) {
	ctx := context.Background()
	now := h.Now()

	stale := NewRecord(t, now, "u1", "", time.Minute)
	recent := NewRecord(t, now, "u1", "", 2*time.Hour)
	retained := NewRecord(t, now, "u1", "", 30*time.Minute)
	for _, rec := range []*refresh.Record{stale, recent, retained} {
		mustSave(t, h.Store, rec)
	}

	// stale: past expiry + retention. retained: expired but inside retention.
	h.Advance(Retention + 2*time.Minute)

	n, err := h.Store.SweepExpired(ctx, Retention)
	if err != nil {
		t.Fatalf("SweepExpired error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 record swept, got %d", n)
	}
	if _, err := h.Store.FindLive(ctx, stale.TokenID); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected swept record gone, got %v", err)
	}
	if _, err := h.Store.FindLive(ctx, retained.TokenID); !errors.Is(err, refresh.ErrExpired) {
		t.Fatalf("expected retained record still present as expired, got %v", err)
	}
	if _, err := h.Store.FindLive(ctx, recent.TokenID); err != nil {
		t.Fatalf("expected live record untouched, got %v", err)
	}
}
