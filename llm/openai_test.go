package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/llm/circuitbreaker"
	"github.com/BaSui01/autoheal/types"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "[\"#submit\"]"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

// newTestServer replies with the given status codes in order, then 200.
func newTestServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testLLMConfig(baseURL string) config.LLMConfig {
	cfg := config.DefaultLLMConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	cfg.RateLimitRPS = 0
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestOpenAICompleter_Complete(t *testing.T) {
	srv, calls := newTestServer(t)
	c := NewOpenAICompleter(testLLMConfig(srv.URL), nil, zap.NewNop())

	resp, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "heal #submit"})
	require.NoError(t, err)
	assert.Equal(t, `["#submit"]`, resp.Text)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 4, resp.CompletionTokens)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAICompleter_RetriesServerErrors(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusInternalServerError)
	c := NewOpenAICompleter(testLLMConfig(srv.URL), nil, zap.NewNop())

	resp, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAICompleter_ClientErrorNotRetried(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusBadRequest)
	c := NewOpenAICompleter(testLLMConfig(srv.URL), nil, zap.NewNop())

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrLLM, types.GetErrorCode(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, c.breaker.State())
}

func TestOpenAICompleter_BreakerOpens(t *testing.T) {
	srv, calls := newTestServer(t, 500, 500, 500, 500, 500, 500)
	cfg := testLLMConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Hour
	c := NewOpenAICompleter(cfg, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Request{Prompt: "x"})
		require.Error(t, err)
	}
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, types.ErrCircuitOpen, types.GetErrorCode(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAICompleter_Cancelled(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewOpenAICompleter(testLLMConfig(srv.URL), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{Prompt: "x"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, isClientError(&openai.APIError{HTTPStatusCode: 401}))
	assert.False(t, isClientError(&openai.APIError{HTTPStatusCode: 429}))
	assert.False(t, isClientError(&openai.APIError{HTTPStatusCode: 503}))
	assert.True(t, isClientError(&openai.RequestError{HTTPStatusCode: 404, Err: errors.New("nf")}))
	assert.False(t, isClientError(errors.New("dial tcp: refused")))
	assert.False(t, isRetryable(circuitbreaker.ErrOpen))
}
