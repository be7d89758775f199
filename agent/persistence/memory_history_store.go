package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/autoheal/types"
)

// MemoryHistoryStore is an in-memory implementation of HistoryStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryHistoryStore struct {
	windows  map[string][]types.HistoricalSample
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewMemoryHistoryStore creates a new in-memory history store.
func NewMemoryHistoryStore(capacity int) *MemoryHistoryStore {
	return &MemoryHistoryStore{
		windows:  make(map[string][]types.HistoricalSample),
		capacity: normalizeCapacity(capacity),
	}
}

// Close closes the store
func (s *MemoryHistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryHistoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Append adds a sample, evicting the oldest when the window is full.
func (s *MemoryHistoryStore) Append(ctx context.Context, sample types.HistoricalSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	sample, err := prepareSample(sample)
	if err != nil {
		return err
	}

	w := append(s.windows[sample.Key], sample)
	if over := len(w) - s.capacity; over > 0 {
		// 复制到新切片，避免底层数组无限增长
		w = append([]types.HistoricalSample(nil), w[over:]...)
	}
	s.windows[sample.Key] = w
	return nil
}

// Query returns the most recent samples for key, oldest first.
func (s *MemoryHistoryStore) Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return tail(s.windows[key], window), nil
}

// Keys returns the keys currently holding samples.
func (s *MemoryHistoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	return keys
}
