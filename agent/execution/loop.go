package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/agent/classifier"
	"github.com/BaSui01/autoheal/agent/persistence"
	"github.com/BaSui01/autoheal/agent/recovery"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/backoff"
	"github.com/BaSui01/autoheal/internal/ctxkeys"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/internal/telemetry"
	"github.com/BaSui01/autoheal/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Executor runs one browser command.
type Executor interface {
	Execute(ctx context.Context, cmd browser.BrowserCommand) (*browser.BrowserResult, error)
}

// Classifier maps a failure onto an error kind.
type Classifier interface {
	Classify(err error, hints *classifier.Hints) types.ErrorClassification
}

// Recoverer runs recovery cycles for a classified failure.
type Recoverer interface {
	Recover(ctx context.Context, cls types.ErrorClassification, rc *recovery.Context, strategy recovery.Strategy) (*recovery.Result, error)
}

// Timer supplies adaptive per-attempt timeouts and learns from observed durations.
type Timer interface {
	CalculateOptimalTimeout(ctx context.Context, action string) time.Duration
	RecordWaitTime(ctx context.Context, action string, actual time.Duration, success bool) error
}

// Stats tracks execution statistics.
type Stats struct {
	TotalExecutions     int64         `json:"total_executions"`
	SuccessExecutions   int64         `json:"success_executions"`
	FailedExecutions    int64         `json:"failed_executions"`
	CancelledExecutions int64         `json:"cancelled_executions"`
	TotalAttempts       int64         `json:"total_attempts"`
	TotalDuration       time.Duration `json:"total_duration"`
}

// =============================================================================
// 🔁 工具执行循环
// =============================================================================

// Loop 工具执行循环：执行、分类、退避、恢复、重试
type Loop struct {
	executor   Executor
	classifier Classifier
	recoverer  Recoverer
	timer      Timer
	config     config.ExecutionConfig
	policy     backoff.Policy
	// 每次 Recover 调用允许的恢复轮数
	recoveryCycles int

	observer  PageObserver
	landmarks *landmarks

	store     persistence.HistoryStore
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// Option 执行循环选项
type Option func(*Loop)

// WithTimer 设置自适应超时来源
func WithTimer(t Timer) Option {
	return func(l *Loop) { l.timer = t }
}

// WithRecoveryCycles 设置每次恢复调用的最大轮数
func WithRecoveryCycles(n int) Option {
	return func(l *Loop) { l.recoveryCycles = n }
}

// WithPageObserver 设置记录目标位置所用的页面观察者
func WithPageObserver(o PageObserver) Option {
	return func(l *Loop) { l.observer = o }
}

// WithHistoryStore 设置历史存储
func WithHistoryStore(store persistence.HistoryStore) Option {
	return func(l *Loop) { l.store = store }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(l *Loop) { l.collector = collector }
}

// WithTracerProvider 设置链路追踪
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Loop) { l.tracer = telemetry.Tracer(tp) }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New 创建执行循环
func New(executor Executor, cls Classifier, recoverer Recoverer, cfg config.ExecutionConfig, opts ...Option) *Loop {
	l := &Loop{
		executor:       executor,
		classifier:     cls,
		recoverer:      recoverer,
		config:         cfg,
		policy:         PolicyFromConfig(cfg),
		recoveryCycles: 1,
		landmarks:      newLandmarks(landmarkCapacity),
	}
	if o, ok := executor.(PageObserver); ok {
		l.observer = o
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.logger = l.logger.With(zap.String("component", "execution_loop"))
	if l.tracer == nil {
		l.tracer = telemetry.Tracer(nil)
	}
	return l
}

// PolicyFromConfig maps execution settings onto a backoff policy.
func PolicyFromConfig(cfg config.ExecutionConfig) backoff.Policy {
	return backoff.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.BackoffMultiplier,
		Jitter:       cfg.UseJitter,
	}
}

// Stats returns execution statistics.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// run 是单次 Execute 的可变状态
type run struct {
	inv     types.ToolInvocation
	rc      *recovery.Context
	outcome *types.ExecutionOutcome
	start   time.Time
	logger  *zap.Logger
}

// Execute runs inv until it succeeds, fails unrecoverably, exhausts its retries
// or ctx ends. Cancellation yields an outcome with Cancelled set and a CANCELLED error.
func (l *Loop) Execute(ctx context.Context, inv types.ToolInvocation) (outcome *types.ExecutionOutcome, err error) {
	if inv.Action == "" {
		return nil, types.NewError(types.ErrInvalidInput, "invocation action is required")
	}
	if inv.CorrelationID == "" {
		inv.CorrelationID = uuid.NewString()
	}

	r := &run{
		inv:     inv,
		rc:      recovery.NewContext(inv),
		outcome: &types.ExecutionOutcome{CorrelationID: inv.CorrelationID},
		start:   time.Now(),
		logger: l.logger.With(
			zap.String("correlation_id", inv.CorrelationID),
			zap.String("action", inv.Action),
		),
	}
	l.Prime(r.rc)
	ctx = ctxkeys.WithCorrelationID(ctx, inv.CorrelationID)
	ctx = ctxkeys.WithAction(ctx, inv.Action)

	ctx, span := l.tracer.Start(ctx, "execution.Execute", trace.WithAttributes(telemetry.InvocationAttributes(inv)...))
	defer func() {
		l.finish(ctx, r, err)
		telemetry.EndSpan(span, err,
			attribute.Bool("execution.success", r.outcome.Success),
			attribute.Int("execution.attempts", r.outcome.AttemptCount),
		)
	}()

	maxAttempts := max(l.config.MaxRetries, 0) + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, attemptErr := l.attempt(ctx, r, attempt)
		if attemptErr == nil {
			r.outcome.Success = true
			r.outcome.FinalSelector = r.rc.Selector
			if result != nil {
				r.outcome.Data = result.Data
			}
			l.remember(ctx, r)
			return r.outcome, nil
		}
		if ctx.Err() != nil {
			return l.cancelled(r, ctx.Err())
		}

		cls := l.classifier.Classify(attemptErr, &classifier.Hints{
			Action:   inv.Action,
			Selector: r.rc.Selector,
			URL:      r.rc.URL,
		})
		r.outcome.Classification = &cls
		r.logger.Warn("attempt failed",
			zap.Int("attempt", attempt),
			zap.String("kind", cls.Kind.String()),
			zap.Float64("confidence", cls.Confidence),
			zap.Error(attemptErr),
		)

		if !cls.IsRecoverable() {
			return r.outcome, l.failure(r, types.ErrUnrecoverable, attemptErr)
		}
		if attempt == maxAttempts {
			return r.outcome, l.failure(r, types.ErrRetriesExhausted, attemptErr)
		}

		delay := l.policy.Delay(attempt)
		r.logger.Debug("backing off before recovery", zap.Duration("delay", delay))
		if err := backoff.Sleep(ctx, delay); err != nil {
			return l.cancelled(r, err)
		}

		terminal, err := l.recover(ctx, r, cls, maxAttempts-attempt)
		if err != nil {
			return l.cancelled(r, err)
		}
		if terminal {
			return r.outcome, l.failure(r, types.ErrPageCrashTerminal, attemptErr)
		}
	}
	// maxAttempts >= 1, so the loop always returns.
	return r.outcome, l.failure(r, types.ErrRetriesExhausted, nil)
}

// attempt runs the invocation once under the per-attempt timeout.
func (l *Loop) attempt(ctx context.Context, r *run, number int) (*browser.BrowserResult, error) {
	timeout := l.config.ActionTimeout
	if l.config.AdaptiveTimeout && l.timer != nil {
		timeout = l.timer.CalculateOptimalTimeout(ctx, r.inv.Action)
	}

	ctx = ctxkeys.WithAttempt(ctx, number)
	ctx, span := l.tracer.Start(ctx, "execution.attempt", trace.WithAttributes(
		attribute.Int("attempt", number),
		attribute.String("tool.selector", r.rc.Selector),
		attribute.Int64("timeout_ms", timeout.Milliseconds()),
	))
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	cmd := browser.CommandFromInvocation(r.inv.WithSelector(r.rc.Selector))
	result, err := l.executor.Execute(attemptCtx, cmd)
	if err == nil && result != nil && !result.Success {
		err = errors.New(result.Error)
	}
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("attempt exceeded %s: %w (%v)", timeout, context.DeadlineExceeded, err)
	}
	elapsed := time.Since(started)
	telemetry.EndSpan(span, err)

	rec := types.AttemptRecord{Number: number, StartedAt: started, Duration: elapsed}
	if err != nil {
		rec.Error = err.Error()
	}
	r.outcome.Attempts = append(r.outcome.Attempts, rec)
	r.outcome.AttemptCount = number
	l.collector.RecordAttempt(r.inv.Action, err == nil)

	if err == nil && l.timer != nil {
		if rerr := l.timer.RecordWaitTime(context.WithoutCancel(ctx), r.inv.Action, elapsed, true); rerr != nil {
			r.logger.Warn("failed to record action duration", zap.Error(rerr))
		}
	}
	return result, err
}

// recover runs recovery with the remaining retry budget. It reports whether
// the failure is terminal; the error is non-nil only on cancellation.
func (l *Loop) recover(ctx context.Context, r *run, cls types.ErrorClassification, remaining int) (bool, error) {
	if l.recoverer == nil {
		return false, nil
	}
	strategy := recovery.Strategy{
		MaxAttempts: min(max(l.recoveryCycles, 1), remaining),
		Backoff:     l.policy,
	}
	res, err := l.recoverer.Recover(ctx, cls, r.rc, strategy)
	if res != nil {
		r.outcome.AttemptedActions = append(r.outcome.AttemptedActions, res.ActionsTried...)
	}
	if err != nil {
		if types.IsCancelled(err) || ctx.Err() != nil {
			return false, err
		}
		r.logger.Warn("recovery error", zap.Error(err))
		return false, nil
	}
	if res.Success && res.Selector != "" && res.Selector != r.inv.Selector {
		r.logger.Info("continuing with healed selector",
			zap.String("original", r.inv.Selector),
			zap.String("healed", res.Selector),
		)
	}
	return res.Terminal, nil
}

func (l *Loop) cancelled(r *run, cause error) (*types.ExecutionOutcome, error) {
	r.outcome.Cancelled = true
	r.logger.Info("execution cancelled", zap.Int("attempts", r.outcome.AttemptCount))
	return r.outcome, types.NewCancelledError(cause)
}

func (l *Loop) failure(r *run, code types.ErrorCode, cause error) error {
	ee := &types.ExecutionError{
		Code:             code,
		Kind:             types.KindUnknown,
		AttemptedActions: append([]types.RecoveryAction(nil), r.outcome.AttemptedActions...),
		Attempts:         r.outcome.AttemptCount,
		Duration:         time.Since(r.start),
		Cause:            cause,
	}
	if c := r.outcome.Classification; c != nil {
		ee.Kind = c.Kind
		ee.Confidence = c.Confidence
	}
	r.logger.Error("execution failed",
		zap.String("code", string(code)),
		zap.String("kind", ee.Kind.String()),
		zap.Int("attempts", ee.Attempts),
		zap.Any("attempted_actions", ee.AttemptedActions),
		zap.Error(cause),
	)
	return ee
}

// finish seals the outcome and records statistics.
func (l *Loop) finish(ctx context.Context, r *run, err error) {
	o := r.outcome
	for _, a := range o.Attempts {
		o.TotalDuration += a.Duration
	}
	if o.FinalSelector == "" {
		o.FinalSelector = r.rc.Selector
	}

	label := "success"
	switch {
	case o.Cancelled:
		label = "cancelled"
	case err != nil:
		label = string(types.GetErrorCode(err))
	}
	elapsed := time.Since(r.start)
	l.collector.RecordExecution(r.inv.Action, label, elapsed)

	l.mu.Lock()
	l.stats.TotalExecutions++
	l.stats.TotalAttempts += int64(o.AttemptCount)
	l.stats.TotalDuration += elapsed
	switch {
	case o.Success:
		l.stats.SuccessExecutions++
	case o.Cancelled:
		l.stats.CancelledExecutions++
	default:
		l.stats.FailedExecutions++
	}
	l.mu.Unlock()

	if o.Success {
		r.logger.Info("execution succeeded",
			zap.Int("attempts", o.AttemptCount),
			zap.String("selector", o.FinalSelector),
			zap.Duration("elapsed", elapsed),
		)
	}

	if l.store == nil || o.Cancelled {
		return
	}
	sample := types.HistoricalSample{
		Key:       types.ExecutionKey(r.inv.Action),
		Kind:      types.SampleExecution,
		Duration:  o.TotalDuration,
		Success:   o.Success,
		Outcome:   label,
		Timestamp: time.Now(),
	}
	if aerr := l.store.Append(context.WithoutCancel(ctx), sample); aerr != nil {
		r.logger.Warn("failed to record execution", zap.Error(aerr))
	}
}
