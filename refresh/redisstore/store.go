package redisstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abctrading/tradeauth/refresh"
)

const defaultSweepBatch = 500

// Options configures a Store.
type Options struct {
	// Prefix namespaces all keys. Defaults to "tradeauth".
	Prefix string
	// Retention keeps records after expiry so that replays of recently
	// expired tokens can still be recognised. It also sets native key expiry.
	Retention time.Duration
	// SweepBatch bounds the number of index entries removed per script call.
	SweepBatch int
	// Now overrides time.Now.
	Now func() time.Time
}

// Store is a Redis-backed refresh.Store and refresh.Rotator.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	retention  time.Duration
	sweepBatch int
	now        func() time.Time
}

func New(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "tradeauth"
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		redis:      client,
		prefix:     opts.Prefix,
		retention:  opts.Retention,
		sweepBatch: opts.SweepBatch,
		now:        opts.Now,
	}
}

func (s *Store) tokenPrefix() string  { return s.prefix + ":rt:" }
func (s *Store) familyPrefix() string { return s.prefix + ":rtf:" }
func (s *Store) tokenKey(id string) string {
	return s.tokenPrefix() + id
}
func (s *Store) familyKey(fid string) string {
	return s.familyPrefix() + fid
}
func (s *Store) indexKey() string { return s.prefix + ":rtx" }

// recordArgs is the argument block consumed by save_record.
func (s *Store) recordArgs(rec *refresh.Record, now time.Time) []any {
	ttl := rec.PurgeAt(s.retention).Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return []any{
		rec.TokenID,
		rec.UserID,
		rec.FamilyID,
		hex.EncodeToString(rec.SecretHash[:]),
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		rec.AbsoluteExpiresAt.UnixMilli(),
		rec.PredecessorID,
		ttl.Milliseconds(),
		rec.TokenID + ":" + rec.FamilyID,
	}
}

func (s *Store) Save(ctx context.Context, rec *refresh.Record) error {
	keys := []string{s.tokenKey(rec.TokenID), s.familyKey(rec.FamilyID), s.indexKey()}
	status, err := saveLua.Run(ctx, s.redis, keys, s.recordArgs(rec, s.now())...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	if status == statusConflict {
		return refresh.ErrConflict
	}
	return nil
}

func (s *Store) FindLive(ctx context.Context, tokenID string) (*refresh.Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, refresh.ErrNotFound
	}

	rec, err := decodeRecord(tokenID, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt record %s: %v", refresh.ErrUnavailable, tokenID, err)
	}

	switch rec.State(s.now()) {
	case refresh.StateConsumed, refresh.StateRevoked:
		return rec, refresh.ErrAlreadyConsumed
	case refresh.StateExpired:
		return rec, refresh.ErrExpired
	}
	return rec, nil
}

func (s *Store) Consume(ctx context.Context, tokenID string) error {
	status, err := consumeLua.Run(ctx, s.redis, []string{s.tokenKey(tokenID)}, s.now().UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return statusErr(status)
}

func (s *Store) Rotate(ctx context.Context, oldTokenID string, next *refresh.Record) error {
	now := s.now()
	keys := []string{
		s.tokenKey(oldTokenID),
		s.tokenKey(next.TokenID),
		s.familyKey(next.FamilyID),
		s.indexKey(),
	}
	args := append([]any{now.UnixMilli()}, s.recordArgs(next, now)...)

	status, err := rotateLua.Run(ctx, s.redis, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return statusErr(status)
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	n, err := revokeFamilyLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		s.tokenPrefix(), s.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return n, nil
}

func (s *Store) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention).UnixMilli()
	total := 0
	for {
		n, err := sweepLua.Run(ctx, s.redis,
			[]string{s.indexKey()},
			cutoff, s.sweepBatch, s.tokenPrefix(), s.familyPrefix(),
		).Int()
		if err != nil {
			return total, fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
		}
		total += n
		if n < s.sweepBatch {
			return total, nil
		}
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
	}
	return nil
}

func statusErr(status int64) error {
	switch status {
	case statusOK:
		return nil
	case statusNotFound:
		return refresh.ErrNotFound
	case statusExpired:
		return refresh.ErrExpired
	case statusConsumed:
		return refresh.ErrAlreadyConsumed
	case statusConflict:
		return refresh.ErrConflict
	default:
		return fmt.Errorf("%w: unexpected script status %d", refresh.ErrUnavailable, status)
	}
}

func decodeRecord(tokenID string, f map[string]string) (*refresh.Record, error) {
	rec := &refresh.Record{
		TokenID:       tokenID,
		UserID:        f["uid"],
		FamilyID:      f["fid"],
		PredecessorID: f["pid"],
		Revoked:       f["rev"] == "1",
	}

	sh, err := hex.DecodeString(f["sh"])
	if err != nil || len(sh) != len(rec.SecretHash) {
		return nil, errors.New("invalid secret hash")
	}
	copy(rec.SecretHash[:], sh)

	if rec.IssuedAt, err = parseMillis(f["iat"]); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseMillis(f["exp"]); err != nil {
		return nil, err
	}
	if rec.AbsoluteExpiresAt, err = parseMillis(f["aexp"]); err != nil {
		return nil, err
	}
	if cat, ok := f["cat"]; ok {
		t, err := parseMillis(cat)
		if err != nil {
			return nil, err
		}
		rec.ConsumedAt = &t
	}
	return rec, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return time.UnixMilli(ms).UTC(), nil
}
