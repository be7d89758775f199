// MockHistoryStore 的历史存储测试模拟实现。
//
// 基于内存存储，额外支持错误注入与追加记录检查。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/autoheal/agent/persistence"
	"github.com/BaSui01/autoheal/types"
)

// MockHistoryStore 是 persistence.HistoryStore 的模拟实现
type MockHistoryStore struct {
	*persistence.MemoryHistoryStore

	mu        sync.Mutex
	appendErr error
	queryErr  error
	appended  []types.HistoricalSample
}

// NewMockHistoryStore 创建容量为 capacity 的模拟存储
func NewMockHistoryStore(capacity int) *MockHistoryStore {
	return &MockHistoryStore{MemoryHistoryStore: persistence.NewMemoryHistoryStore(capacity)}
}

// WithAppendError 设置 Append 返回的错误
func (m *MockHistoryStore) WithAppendError(err error) *MockHistoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
	return m
}

// WithQueryError 设置 Query 返回的错误
func (m *MockHistoryStore) WithQueryError(err error) *MockHistoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
	return m
}

// Append 记录样本后写入内存存储
func (m *MockHistoryStore) Append(ctx context.Context, sample types.HistoricalSample) error {
	m.mu.Lock()
	err := m.appendErr
	if err == nil {
		m.appended = append(m.appended, sample)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.MemoryHistoryStore.Append(ctx, sample)
}

// Query 查询内存存储
func (m *MockHistoryStore) Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error) {
	m.mu.Lock()
	err := m.queryErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.MemoryHistoryStore.Query(ctx, key, window)
}

// Appended 返回所有成功追加的样本（按追加顺序）
func (m *MockHistoryStore) Appended() []types.HistoricalSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.HistoricalSample, len(m.appended))
	copy(out, m.appended)
	return out
}

// AppendedKind 返回指定类别的样本
func (m *MockHistoryStore) AppendedKind(kind types.SampleKind) []types.HistoricalSample {
	var out []types.HistoricalSample
	for _, s := range m.Appended() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

var _ persistence.HistoryStore = (*MockHistoryStore)(nil)
