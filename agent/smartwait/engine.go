package smartwait

import (
	"context"
	"time"

	"github.com/BaSui01/autoheal/agent/persistence"
	"github.com/BaSui01/autoheal/agent/stability"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/types"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// Prober supplies stability snapshots.
type Prober interface {
	GetMetrics(ctx context.Context) (stability.Metrics, error)
}

// Outcome is how a wait ended.
type Outcome string

const (
	OutcomeStable    Outcome = "stable"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Result describes a finished wait.
type Result struct {
	Outcome   Outcome
	Condition string
	Waited    time.Duration
	Polls     int
	// Metrics is the last successful snapshot, zero when every probe failed.
	Metrics stability.Metrics
	// Err is the cancellation error when Outcome is OutcomeCancelled.
	Err error
}

// Stable reports whether the condition was met.
func (r Result) Stable() bool { return r.Outcome == OutcomeStable }

// =============================================================================
// ⏳ 智能等待引擎
// =============================================================================

// Engine 智能等待引擎
type Engine struct {
	prober    Prober
	config    config.WaitConfig
	fallback  Condition
	store     persistence.HistoryStore
	collector *metrics.Collector
	logger    *zap.Logger
}

// Option 等待引擎选项
type Option func(*Engine)

// WithHistoryStore 设置历史存储
func WithHistoryStore(store persistence.HistoryStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) { e.collector = collector }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDefaultCondition 设置未指定条件时使用的默认条件
func WithDefaultCondition(cond Condition) Option {
	return func(e *Engine) { e.fallback = cond }
}

// New 创建智能等待引擎
func New(prober Prober, cfg config.WaitConfig, opts ...Option) *Engine {
	e := &Engine{
		prober:   prober,
		config:   cfg,
		fallback: Stable(config.DefaultStabilityConfig().MinScore),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "smart_wait"))
	return e
}

// DefaultCondition returns the condition used when none is given.
func (e *Engine) DefaultCondition() Condition { return e.fallback }

// WaitForStableState waits until cond holds. It returns false without error on timeout
// and a CANCELLED error when ctx ends first.
func (e *Engine) WaitForStableState(ctx context.Context, cond Condition, maxWait time.Duration) (bool, error) {
	res := e.Wait(ctx, cond, maxWait)
	if res.Outcome == OutcomeCancelled {
		return false, res.Err
	}
	return res.Stable(), nil
}

// Wait polls the page until cond holds, maxWait elapses or ctx ends.
// A zero cond uses the default condition; maxWait <= 0 uses DefaultMaxWait.
func (e *Engine) Wait(ctx context.Context, cond Condition, maxWait time.Duration) Result {
	c := cond
	if c.Met == nil {
		c = e.fallback
	}
	if maxWait <= 0 {
		maxWait = e.config.DefaultMaxWait
	}
	interval := e.config.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	start := time.Now()
	res := Result{Condition: c.Name}
	finish := func(outcome Outcome) Result {
		res.Outcome = outcome
		res.Waited = time.Since(start)
		e.collector.RecordWait(string(outcome), res.Waited)
		e.logger.Debug("wait finished",
			zap.String("condition", c.Name),
			zap.String("outcome", string(outcome)),
			zap.Duration("waited", res.Waited),
			zap.Int("polls", res.Polls),
		)
		return res
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res.Polls++
		m, err := e.prober.GetMetrics(waitCtx)
		if err == nil {
			res.Metrics = m
			if c.Met(m) {
				return finish(OutcomeStable)
			}
		} else if waitCtx.Err() == nil {
			// 采集失败视为未稳定
			e.logger.Debug("stability probe failed during wait", zap.Error(err))
		}

		if err := ctx.Err(); err != nil {
			res.Err = types.NewCancelledError(err)
			return finish(OutcomeCancelled)
		}
		select {
		case <-ctx.Done():
			res.Err = types.NewCancelledError(ctx.Err())
			return finish(OutcomeCancelled)
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				res.Err = types.NewCancelledError(ctx.Err())
				return finish(OutcomeCancelled)
			}
			return finish(OutcomeTimedOut)
		case <-ticker.C:
		}
	}
}

// =============================================================================
// 📊 自适应超时
// =============================================================================

// CalculateOptimalTimeout returns the per-attempt timeout for action.
// With at least MinSamples successful samples it is the configured percentile of
// their durations times SafetyFactor, clamped to [MinTimeout, MaxTimeout].
func (e *Engine) CalculateOptimalTimeout(ctx context.Context, action string) time.Duration {
	if e.store == nil {
		return e.config.DefaultTimeout
	}
	samples, err := e.store.Query(ctx, types.WaitKey(action), 0)
	if err != nil {
		e.logger.Warn("query wait history failed, using default timeout",
			zap.String("action", action), zap.Error(err))
		return e.config.DefaultTimeout
	}

	durations := make(stats.Float64Data, 0, len(samples))
	for _, s := range samples {
		if s.Success && s.Duration > 0 {
			durations = append(durations, float64(s.Duration))
		}
	}
	if len(durations) == 0 || len(durations) < e.config.MinSamples {
		return e.config.DefaultTimeout
	}

	p, err := stats.PercentileNearestRank(durations, e.config.Percentile*100)
	if err != nil {
		e.logger.Warn("percentile failed, using default timeout", zap.String("action", action), zap.Error(err))
		return e.config.DefaultTimeout
	}

	timeout := time.Duration(p * e.config.SafetyFactor)
	if timeout < e.config.MinTimeout {
		timeout = e.config.MinTimeout
	}
	if e.config.MaxTimeout > 0 && timeout > e.config.MaxTimeout {
		timeout = e.config.MaxTimeout
	}
	e.logger.Debug("adaptive timeout",
		zap.String("action", action),
		zap.Int("samples", len(durations)),
		zap.Duration("percentile", time.Duration(p)),
		zap.Duration("timeout", timeout),
	)
	return timeout
}

// RecordWaitTime appends an observed duration for action.
func (e *Engine) RecordWaitTime(ctx context.Context, action string, actual time.Duration, success bool) error {
	if e.store == nil {
		return nil
	}
	err := e.store.Append(ctx, types.HistoricalSample{
		Key:       types.WaitKey(action),
		Kind:      types.SampleWait,
		Duration:  actual,
		Success:   success,
		Timestamp: time.Now(),
	})
	if err != nil {
		return types.NewError(types.ErrStore, "record wait time").WithCause(err)
	}
	return nil
}
