package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Result is a processed document held for download.
type Result struct {
	ID       string
	Filename string
	Format   string

	Data    []byte
	Found   bool
	Removed int

	CreatedAt time.Time
}

// Store is a thread-safe in-memory result registry with TTL eviction.
// Cleaned documents only live long enough for the client to fetch them.
type Store struct {
	mu      sync.Mutex
	results map[string]*Result
	ttl     time.Duration
}

func New(ttl time.Duration) *Store {
	return &Store{
		results: make(map[string]*Result),
		ttl:     ttl,
	}
}

func (s *Store) Put(res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.ID] = res
}

func (s *Store) Get(id string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[id]
}

// Cleanup removes expired results.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, res := range s.results {
		if now.Sub(res.CreatedAt) > s.ttl {
			delete(s.results, id)
		}
	}
}

// RunCleanup evicts expired results on a ticker until ctx is cancelled.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
