package recovery

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/autoheal/agent/classifier"
	"github.com/BaSui01/autoheal/agent/persistence"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/backoff"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/internal/telemetry"
	"github.com/BaSui01/autoheal/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// 🚑 恢复策略引擎
// =============================================================================

// Engine 恢复策略引擎
type Engine struct {
	browser   Browser
	config    config.RecoveryConfig
	actions   classifier.ActionTable
	dispatch  map[types.RecoveryAction]Handler
	overrides map[types.RecoveryAction]Handler

	healer    Healer
	waiter    Waiter
	resetter  PageResetter
	store     persistence.HistoryStore
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option 恢复引擎选项
type Option func(*Engine)

// WithActionTable 设置错误类型到默认动作的映射
func WithActionTable(table classifier.ActionTable) Option {
	return func(e *Engine) { e.actions = table.Clone() }
}

// WithHandler 替换或补充某个动作的处理器
func WithHandler(action types.RecoveryAction, h Handler) Option {
	return func(e *Engine) {
		if e.overrides == nil {
			e.overrides = make(map[types.RecoveryAction]Handler)
		}
		e.overrides[action] = h
	}
}

// WithHealer 设置 AlternativeSelector 使用的选择器修复
func WithHealer(h Healer) Option {
	return func(e *Engine) { e.healer = h }
}

// WithWaiter 设置 WaitForStability 使用的智能等待
func WithWaiter(w Waiter) Option {
	return func(e *Engine) { e.waiter = w }
}

// WithPageResetter 设置页面导航后需要清空的稳定性状态
func WithPageResetter(r PageResetter) Option {
	return func(e *Engine) { e.resetter = r }
}

// WithHistoryStore 设置历史存储
func WithHistoryStore(store persistence.HistoryStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) { e.collector = collector }
}

// WithTracerProvider 设置链路追踪
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = telemetry.Tracer(tp) }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New 创建恢复引擎。动作表中的每个动作都必须有处理器，否则返回 INVALID_CONFIG。
func New(browser Browser, cfg config.RecoveryConfig, opts ...Option) (*Engine, error) {
	if browser == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "recovery requires a browser")
	}
	e := &Engine{
		browser: browser,
		config:  cfg,
		actions: classifier.DefaultActionTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "recovery"))
	if e.tracer == nil {
		e.tracer = telemetry.Tracer(nil)
	}

	e.dispatch = e.handlers()
	for action, h := range e.overrides {
		e.dispatch[action] = h
	}
	if err := e.actions.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "invalid action table").WithCause(err)
	}
	for _, action := range e.actions.Referenced() {
		if e.dispatch[action] == nil {
			return nil, types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("no handler for recovery action %q", action))
		}
	}
	return e, nil
}

// DefaultStrategy builds a strategy from configuration and a backoff policy.
func (e *Engine) DefaultStrategy(policy backoff.Policy) Strategy {
	return Strategy{MaxAttempts: e.config.MaxAttempts, Backoff: policy}
}

// Plan returns the ordered, duplicate-free actions for a classification:
// learned order first, then the static defaults.
func (e *Engine) Plan(ctx context.Context, cls types.ErrorClassification) []types.RecoveryAction {
	defaults := e.actions.Actions(cls.Kind)
	if len(defaults) == 0 {
		defaults = cls.SuggestedActions
	}

	var plan []types.RecoveryAction
	if e.config.LearnFromHistory {
		plan = e.learned(ctx, cls.Kind)
	}
	plan = append(plan, defaults...)

	seen := make(map[types.RecoveryAction]bool, len(plan))
	out := plan[:0]
	for _, a := range plan {
		if seen[a] || e.dispatch[a] == nil {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// learned orders actions by historical successes for kind, most successful first.
// Ties go to the most recent success.
func (e *Engine) learned(ctx context.Context, kind types.ErrorKind) []types.RecoveryAction {
	if e.store == nil {
		return nil
	}
	samples, err := e.store.Query(ctx, types.RecoveryKey(kind), 0)
	if err != nil {
		e.logger.Warn("query recovery history failed, using default order",
			zap.String("kind", kind.String()), zap.Error(err))
		return nil
	}

	type tally struct {
		action types.RecoveryAction
		wins   int
		last   time.Time
	}
	counts := make(map[types.RecoveryAction]*tally)
	for _, s := range samples {
		if !s.Success {
			continue
		}
		action, err := types.ParseRecoveryAction(s.Outcome)
		if err != nil {
			continue
		}
		t, ok := counts[action]
		if !ok {
			t = &tally{action: action}
			counts[action] = t
		}
		t.wins++
		if s.Timestamp.After(t.last) {
			t.last = s.Timestamp
		}
	}

	ranked := make([]*tally, 0, len(counts))
	for _, t := range counts {
		ranked = append(ranked, t)
	}
	slices.SortFunc(ranked, func(a, b *tally) int {
		if c := cmp.Compare(b.wins, a.wins); c != 0 {
			return c
		}
		if c := b.last.Compare(a.last); c != 0 {
			return c
		}
		return cmp.Compare(a.action, b.action)
	})

	out := make([]types.RecoveryAction, len(ranked))
	for i, t := range ranked {
		out[i] = t.action
	}
	return out
}

// Recover runs up to strategy.MaxAttempts recovery cycles for cls. rc is updated in place.
// Only cancellation is returned as an error; a failed recovery is Result.Success == false.
func (e *Engine) Recover(ctx context.Context, cls types.ErrorClassification, rc *Context, strategy Strategy) (res *Result, err error) {
	if rc == nil {
		rc = &Context{}
	}
	start := time.Now()
	res = &Result{Selector: rc.Selector}

	ctx, span := e.tracer.Start(ctx, "recovery.Recover", trace.WithAttributes(telemetry.ClassificationAttributes(cls)...))
	defer func() {
		res.Duration = time.Since(start)
		res.Selector = rc.Selector
		res.Healed = rc.Healed
		telemetry.EndSpan(span, err,
			attribute.Bool("recovery.success", res.Success),
			attribute.Int("recovery.cycles", res.Cycles),
			attribute.Bool("recovery.terminal", res.Terminal),
		)
	}()

	if cls.Kind == types.KindPageCrash && rc.Restarted {
		res.Terminal = true
		e.logger.Warn("page crash survived context restart",
			zap.String("correlation_id", rc.Invocation.CorrelationID))
		return res, nil
	}

	plan := e.Plan(ctx, cls)
	if len(plan) == 0 {
		e.logger.Info("no recovery actions for classification", zap.String("kind", cls.Kind.String()))
		return res, nil
	}

	cycles := max(strategy.MaxAttempts, 1)
	for cycle := 1; cycle <= cycles; cycle++ {
		if cycle > 1 {
			if err := backoff.Sleep(ctx, strategy.Backoff.Delay(cycle-1)); err != nil {
				return res, types.NewCancelledError(err)
			}
		}
		res.Cycles = cycle

		attempt, cancelled := e.cycle(ctx, cls, rc, plan)
		res.ActionsTried = append(res.ActionsTried, attempt.ActionsTried...)
		e.record(ctx, attempt)
		if cancelled != nil {
			return res, types.NewCancelledError(cancelled)
		}
		if attempt.Success {
			res.Success = true
			res.Action = attempt.Action
			e.logger.Info("recovery succeeded",
				zap.String("kind", cls.Kind.String()),
				zap.String("action", string(attempt.Action)),
				zap.Int("cycle", cycle),
			)
			return res, nil
		}
	}

	e.logger.Warn("recovery failed",
		zap.String("kind", cls.Kind.String()),
		zap.Int("cycles", res.Cycles),
		zap.Any("actions_tried", res.ActionsTried),
	)
	return res, nil
}

// cycle tries the plan in order until one action succeeds.
// It returns the context error when ctx ended mid-cycle.
func (e *Engine) cycle(ctx context.Context, cls types.ErrorClassification, rc *Context, plan []types.RecoveryAction) (attempt types.RecoveryAttempt, cancelled error) {
	start := time.Now()
	attempt.Classification = cls
	defer func() {
		attempt.Duration = time.Since(start)
		attempt.CompletedAt = time.Now()
	}()

	for _, action := range plan {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		attempt.ActionsTried = append(attempt.ActionsTried, action)
		attempt.Action = action

		err := e.run(ctx, action, rc)
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		e.collector.RecordRecoveryAction(cls.Kind.String(), string(action), err == nil)
		if err == nil {
			attempt.Success = true
			return attempt, nil
		}
		e.logger.Warn("recovery action failed",
			zap.String("kind", cls.Kind.String()),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
	return attempt, nil
}

// run executes one handler under the action timeout, converting panics to errors.
func (e *Engine) run(ctx context.Context, action types.RecoveryAction, rc *Context) (err error) {
	h := e.dispatch[action]
	if h == nil {
		return fmt.Errorf("no handler for %s", action)
	}
	if e.config.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ActionTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery action %s panicked: %v", action, r)
		}
	}()
	return h(ctx, rc)
}

func (e *Engine) record(ctx context.Context, attempt types.RecoveryAttempt) {
	if e.store == nil || len(attempt.ActionsTried) == 0 {
		return
	}
	if err := e.store.Append(context.WithoutCancel(ctx), attempt.Sample()); err != nil {
		e.logger.Warn("failed to record recovery attempt", zap.Error(err))
	}
}
