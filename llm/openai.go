package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/backoff"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/llm/circuitbreaker"
	"github.com/BaSui01/autoheal/types"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// 🤖 OpenAI 兼容补全服务
// =============================================================================

// OpenAICompleter 调用 OpenAI 兼容的 Chat Completions 接口。
// 每次请求依次经过：重试 → 限流 → 熔断 → 单次超时。
type OpenAICompleter struct {
	client    *openai.Client
	cfg       config.LLMConfig
	limiter   *rate.Limiter
	breaker   *circuitbreaker.Breaker
	retryer   *backoff.Retryer
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewOpenAICompleter 根据配置创建补全服务
func NewOpenAICompleter(cfg config.LLMConfig, collector *metrics.Collector, logger *zap.Logger) *OpenAICompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "llm_openai"))

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	policy := backoff.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.InitialDelay = 250 * time.Millisecond
	policy.MaxDelay = 2 * time.Second
	policy.Retryable = isRetryable

	return &OpenAICompleter{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold:    cfg.BreakerThreshold,
			ResetTimeout: cfg.BreakerTimeout,
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, context.Canceled) && !isClientError(err)
			},
		}, logger),
		retryer:   backoff.NewRetryer(policy, logger),
		collector: collector,
		logger:    logger,
	}
}

// Complete 实现 Completer
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	var resp *Response
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (*Response, error) {
			return c.call(ctx, req)
		})
		if err != nil {
			return err
		}
		resp = out
		return nil
	})

	if err != nil {
		c.collector.RecordLLMRequest(c.cfg.Model, "error", time.Since(start), 0, 0)
		c.logger.Warn("completion failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrHalfOpenSaturated) {
			return nil, err
		}
		return nil, types.NewError(types.ErrLLM, "completion failed").WithCause(err)
	}

	c.collector.RecordLLMRequest(c.cfg.Model, "success", time.Since(start), resp.PromptTokens, resp.CompletionTokens)
	c.logger.Debug("completion succeeded",
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

func (c *OpenAICompleter) call(ctx context.Context, req Request) (*Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	out, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("completion returned no choices")
	}
	return &Response{
		Text:             out.Choices[0].Message.Content,
		Model:            out.Model,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}

// statusCode 提取 HTTP 状态码，未知时为 0
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isClientError 客户端错误（无效请求、鉴权等）重试无意义，也不计入熔断
func isClientError(err error) bool {
	code := statusCode(err)
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}

func isRetryable(err error) bool {
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrHalfOpenSaturated) {
		return false
	}
	return !isClientError(err)
}
