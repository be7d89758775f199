package persistence

import (
	"context"

	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/types"
)

// instrumentedStore records one metric per store operation.
type instrumentedStore struct {
	HistoryStore
	backend   string
	collector *metrics.Collector
}

// Instrument wraps store so that Append and Query are counted by backend and status.
func Instrument(store HistoryStore, backend string, collector *metrics.Collector) HistoryStore {
	return &instrumentedStore{HistoryStore: store, backend: backend, collector: collector}
}

func (s *instrumentedStore) Append(ctx context.Context, sample types.HistoricalSample) error {
	err := s.HistoryStore.Append(ctx, sample)
	s.collector.RecordHistoryOp(s.backend, "append", err)
	return err
}

func (s *instrumentedStore) Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error) {
	out, err := s.HistoryStore.Query(ctx, key, window)
	s.collector.RecordHistoryOp(s.backend, "query", err)
	return out, err
}
