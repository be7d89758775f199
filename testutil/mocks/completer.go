// MockCompleter 的 LLM 补全服务测试模拟实现。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/llm"
)

// MockCompleter 是 llm.Completer 的模拟实现
type MockCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	requests []llm.Request
}

// NewMockCompleter 创建返回固定响应的补全服务
func NewMockCompleter(response string) *MockCompleter {
	return &MockCompleter{response: response}
}

// WithError 设置返回错误
func (m *MockCompleter) WithError(err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置响应延迟（遵守 ctx 取消）
func (m *MockCompleter) WithDelay(d time.Duration) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Complete 实现 llm.Completer
func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	resp, err, delay := m.response, m.err, m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: resp, Model: "mock"}, nil
}

// Requests 返回收到的请求
func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

var _ llm.Completer = (*MockCompleter)(nil)
