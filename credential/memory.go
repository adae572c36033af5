package credential

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore(records ...Record) (*MemoryStore, error) {
	s := &MemoryStore{records: make(map[string]Record, len(records))}
	for _, rec := range records {
		if err := s.Add(rec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add inserts rec. Usernames are unique.
func (s *MemoryStore) Add(rec Record) error {
	if rec.UserID == "" || rec.Username == "" || rec.PasswordHash == "" {
		return fmt.Errorf("credential: record requires user id, username and password hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Username]; exists {
		return fmt.Errorf("credential: username %q already exists", rec.Username)
	}
	s.records[rec.Username] = rec
	return nil
}

func (s *MemoryStore) LookupByUsername(ctx context.Context, username string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[username]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
