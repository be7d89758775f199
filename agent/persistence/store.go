package persistence

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/types"
	"github.com/oklog/ulid/v2"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// DefaultCapacity is the per-key window size used when none is configured.
const DefaultCapacity = 100

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// HistoryStore keeps a bounded FIFO window of samples per key.
//
// Append assigns the sample ID at completion time, so IDs sort in append
// order across all backends. Query returns at most window of the most
// recent samples for key, oldest first; window <= 0 returns the whole window.
type HistoryStore interface {
	Store
	Append(ctx context.Context, sample types.HistoricalSample) error
	Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error)
}

// =============================================================================
// Sample IDs
// =============================================================================

// idGenerator produces monotonic ULIDs; entropy is not safe for concurrent use.
type idGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var ids = &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}

func (g *idGenerator) next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), g.entropy).String()
}

// prepareSample validates s and stamps its ID and timestamp.
func prepareSample(s types.HistoricalSample) (types.HistoricalSample, error) {
	if strings.TrimSpace(s.Key) == "" {
		return s, fmt.Errorf("%w: sample key is required", ErrInvalidInput)
	}
	if s.Duration < 0 {
		return s, fmt.Errorf("%w: negative duration", ErrInvalidInput)
	}
	now := time.Now()
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	s.ID = ids.next(now)
	return s, nil
}

// tail returns the last n samples of window (all when n <= 0).
func tail(window []types.HistoricalSample, n int) []types.HistoricalSample {
	if n <= 0 || n >= len(window) {
		out := make([]types.HistoricalSample, len(window))
		copy(out, window)
		return out
	}
	out := make([]types.HistoricalSample, n)
	copy(out, window[len(window)-n:])
	return out
}

func normalizeCapacity(capacity int) int {
	if capacity <= 0 {
		return DefaultCapacity
	}
	return capacity
}
