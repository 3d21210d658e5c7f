package counter

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRecord struct {
	count     int
	resetTime time.Time
}

// MemoryStore is the single-process Store implementation, used in tests and
// single-instance deployments. Not suitable across multiple processes; use
// PostgresStore there.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

// Increment bumps or restarts the window for key under the store mutex.
func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration, limit int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok || !now.Before(rec.resetTime) {
		rec = &memoryRecord{count: 1, resetTime: now.Add(window)}
		s.records[key] = rec
	} else {
		rec.count++
	}

	return Result{
		Count:     rec.count,
		ResetTime: rec.resetTime,
		Allowed:   rec.count <= limit,
	}, nil
}

// Get reads the live counter for key, treating an elapsed window as absent.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !s.now().Before(rec.resetTime) {
		return nil, nil
	}

	return &Result{Count: rec.count, ResetTime: rec.resetTime}, nil
}

// Reset deletes the counter for key.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// ResetPrefix deletes all counters under a key prefix.
func (s *MemoryStore) ResetPrefix(ctx context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key := range s.records {
		if strings.HasPrefix(key, prefix) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Prune removes counters whose windows elapsed before the cutoff.
func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, rec := range s.records {
		if !rec.resetTime.After(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}
