package advisory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the persisted cache value for one advisory response.
type Entry struct {
	ResponseText string    `json:"response_text"`
	StoredAt     time.Time `json:"stored_at"`
	TTLSeconds   int64     `json:"ttl_seconds"`
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Store is the advisory response cache. Implementations must tolerate
// concurrent readers and writers; last-writer-wins per key is acceptable since
// entries for identical keys are idempotent.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Close() error
}

// StoreStats holds hit/miss counters for a cache store.
type StoreStats struct {
	Hits   int64
	Misses int64
	Sets   int64
}

// MemoryStore is an in-process TTL cache with background expiry sweeping.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Entry

	hits   int64
	misses int64
	sets   int64

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewMemoryStore creates a memory-backed advisory cache. The sweep interval
// bounds how long expired entries linger; reads never return them regardless.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &MemoryStore{
		items:         make(map[string]Entry),
		cleanupTicker: time.NewTicker(sweepInterval),
		stopCleanup:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Get returns the cached entry for key if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if !ok || entry.Expired(time.Now()) {
		atomic.AddInt64(&s.misses, 1)
		return Entry{}, false, nil
	}
	atomic.AddInt64(&s.hits, 1)
	return entry, true, nil
}

// Set stores entry under key, replacing any previous value.
func (s *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	s.items[key] = entry
	s.mu.Unlock()
	atomic.AddInt64(&s.sets, 1)
	return nil
}

// Stats returns cumulative hit/miss/set counters.
func (s *MemoryStore) Stats() StoreStats {
	return StoreStats{
		Hits:   atomic.LoadInt64(&s.hits),
		Misses: atomic.LoadInt64(&s.misses),
		Sets:   atomic.LoadInt64(&s.sets),
	}
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		s.cleanupTicker.Stop()
	})
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.items {
		if entry.Expired(now) {
			delete(s.items, key)
		}
	}
}
