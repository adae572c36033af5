// Package memstore is an in-process refresh.Store for development and tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/abctrading/tradeauth/refresh"
)

// Store keeps records in maps guarded by a single mutex. Every operation is
// therefore atomic with respect to the others.
type Store struct {
	mu       sync.Mutex
	records  map[string]*refresh.Record
	families map[string]map[string]struct{}
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]*refresh.Record),
		families: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Save(ctx context.Context, rec *refresh.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rec)
}

func (s *Store) saveLocked(rec *refresh.Record) error {
	if _, exists := s.records[rec.TokenID]; exists {
		return refresh.ErrConflict
	}
	s.records[rec.TokenID] = rec.Clone()

	members := s.families[rec.FamilyID]
	if members == nil {
		members = make(map[string]struct{})
		s.families[rec.FamilyID] = members
	}
	members[rec.TokenID] = struct{}{}
	return nil
}

func (s *Store) FindLive(ctx context.Context, tokenID string) (*refresh.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok {
		return nil, refresh.ErrNotFound
	}
	switch rec.State(s.now()) {
	case refresh.StateConsumed, refresh.StateRevoked:
		return rec.Clone(), refresh.ErrAlreadyConsumed
	case refresh.StateExpired:
		return rec.Clone(), refresh.ErrExpired
	}
	return rec.Clone(), nil
}

func (s *Store) Consume(ctx context.Context, tokenID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeLocked(tokenID, s.now())
}

func (s *Store) consumeLocked(tokenID string, now time.Time) error {
	rec, ok := s.records[tokenID]
	if !ok {
		return refresh.ErrNotFound
	}
	switch rec.State(now) {
	case refresh.StateConsumed, refresh.StateRevoked:
		return refresh.ErrAlreadyConsumed
	case refresh.StateExpired:
		return refresh.ErrExpired
	}
	rec.ConsumedAt = &now
	return nil
}

func (s *Store) Rotate(ctx context.Context, oldTokenID string, next *refresh.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[next.TokenID]; exists {
		return refresh.ErrConflict
	}
	if err := s.consumeLocked(oldTokenID, s.now()); err != nil {
		return err
	}
	return s.saveLocked(next)
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	revoked := 0
	for id := range s.families[familyID] {
		rec := s.records[id]
		if rec == nil || rec.ConsumedAt != nil {
			continue
		}
		rec.ConsumedAt = &now
		rec.Revoked = true
		revoked++
	}
	return revoked, nil
}

func (s *Store) SweepExpired(ctx context.Context, retention time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.records {
		if !now.After(rec.PurgeAt(retention)) {
			continue
		}
		delete(s.records, id)
		if members := s.families[rec.FamilyID]; members != nil {
			delete(members, id)
			if len(members) == 0 {
				delete(s.families, rec.FamilyID)
			}
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
