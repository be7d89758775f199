package healing

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/agent/persistence"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/internal/telemetry"
	"github.com/BaSui01/autoheal/llm"
	"github.com/BaSui01/autoheal/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Page is the browser surface healing needs.
type Page interface {
	GetState(ctx context.Context) (*browser.PageState, error)
	Resolve(ctx context.Context, selector string) (*browser.Resolution, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// =============================================================================
// 🩹 选择器修复引擎
// =============================================================================

// Engine 选择器修复引擎
type Engine struct {
	page       Page
	config     config.HealingConfig
	scorer     *Scorer
	strategies []NamedStrategy
	store      persistence.HistoryStore
	collector  *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger

	completer llm.Completer
	counter   types.TokenCounter
}

// Option 修复引擎选项
type Option func(*Engine)

// WithStrategies 替换内置策略
func WithStrategies(strategies ...NamedStrategy) Option {
	return func(e *Engine) { e.strategies = slices.Clone(strategies) }
}

// WithCompleter 设置 LLM 策略使用的补全服务和 Token 计数器
func WithCompleter(completer llm.Completer, counter types.TokenCounter) Option {
	return func(e *Engine) {
		e.completer = completer
		e.counter = counter
	}
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

// New 创建修复引擎。LLM 策略仅在配置启用且提供了补全服务时加入。
func New(page Page, cfg config.HealingConfig, opts ...Option) *Engine {
	e := &Engine{
		page:       page,
		config:     cfg,
		scorer:     NewScorer(cfg.Weights, cfg.AgreementBonus),
		strategies: DefaultStrategies(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "selector_healing"))
	if e.tracer == nil {
		e.tracer = telemetry.Tracer(nil)
	}
	if cfg.EnableLLM && e.completer != nil {
		e.strategies = append(e.strategies, NamedStrategy{
			Name: types.StrategyLLM,
			Fn:   LLMStrategy(e.completer, e.counter, cfg.PromptTokenBudget),
		})
	}
	return e
}

// Strategies returns the names of the active strategies.
func (e *Engine) Strategies() []types.HealingStrategy {
	names := make([]types.HealingStrategy, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name
	}
	return names
}

// Heal looks for a replacement for req.FailedSelector. It returns nil, nil
// when no candidate is unique, visible, interactable and confident enough.
func (e *Engine) Heal(ctx context.Context, req Request) (healed *types.HealedSelector, err error) {
	if req.FailedSelector == "" {
		return nil, types.NewError(types.ErrInvalidInput, "failed selector is required")
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "healing.Heal", trace.WithAttributes(
		attribute.String("selector.failed", req.FailedSelector),
	))
	defer func() {
		attrs := []attribute.KeyValue{attribute.Bool("healing.success", healed != nil)}
		if healed != nil {
			attrs = append(attrs, attribute.String("selector.healed", healed.Healed))
		}
		telemetry.EndSpan(span, err, attrs...)
	}()

	if req.Page == nil {
		page, err := e.page.GetState(ctx)
		if err != nil {
			return nil, types.NewError(types.ErrBrowser, "read page state").WithCause(err)
		}
		req.Page = page
	}
	if len(req.Screenshot) == 0 && len(req.PriorScreenshot) > 0 && req.LastKnownBox != nil {
		if shot, err := e.page.Screenshot(ctx); err == nil {
			req.Screenshot = shot
		} else {
			e.logger.Debug("screenshot unavailable, visual strategy skipped", zap.Error(err))
		}
	}

	in := Input{Request: req, Locate: newLocator(req.Page), Resolve: e.page.Resolve}
	candidates := e.collect(ctx, in)
	ranked := e.scorer.Rank(candidates)

	var best *verified
	if ctx.Err() == nil {
		best = e.verify(ctx, ranked)
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewCancelledError(err)
	}

	if best != nil {
		healed = &types.HealedSelector{
			Original:   req.FailedSelector,
			Healed:     best.Selector,
			Strategy:   best.Best(),
			Strategies: slices.Clone(best.Strategies),
			Confidence: best.final,
			Verified:   true,
		}
	}
	e.record(ctx, req.FailedSelector, healed, time.Since(start), len(ranked))
	return healed, nil
}

// collect runs every strategy concurrently; failures contribute nothing.
func (e *Engine) collect(ctx context.Context, in Input) []types.SelectorCandidate {
	results := make([][]types.SelectorCandidate, len(e.strategies))

	var g errgroup.Group
	for i, st := range e.strategies {
		g.Go(func() error {
			sctx := ctx
			if e.config.StrategyTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(ctx, e.config.StrategyTimeout)
				defer cancel()
			}
			cands, err := runStrategy(sctx, st, in)
			if err != nil {
				e.logger.Warn("healing strategy failed",
					zap.String("strategy", string(st.Name)), zap.Error(err))
				return nil
			}
			for j := range cands {
				cands[j].Strategy = st.Name
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	var out []types.SelectorCandidate
	for _, cands := range results {
		for _, c := range cands {
			if c.Confidence >= e.config.MinCandidateScore {
				out = append(out, c)
			}
		}
	}
	return out
}

func runStrategy(ctx context.Context, st NamedStrategy, in Input) (cands []types.SelectorCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return st.Fn(ctx, in)
}

type verified struct {
	Ranked
	final float64
	usable bool
}

// verify re-resolves the top candidates on the live page and applies
// visibility, interactability and uniqueness penalties.
func (e *Engine) verify(ctx context.Context, ranked []Ranked) *verified {
	k := e.config.VerifyTopK
	if k <= 0 || k > len(ranked) {
		k = len(ranked)
	}

	checked := make([]verified, 0, k)
	for _, r := range ranked[:k] {
		res, err := e.page.Resolve(ctx, r.Selector)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Debug("candidate did not resolve", zap.String("selector", r.Selector), zap.Error(err))
			continue
		}
		v := verified{Ranked: r, final: types.Clamp01(r.Confidence * Penalty(res)), usable: res.Usable()}
		e.logger.Debug("candidate verified",
			zap.String("selector", r.Selector),
			zap.Float64("confidence", r.Confidence),
			zap.Float64("final", v.final),
			zap.Int("matches", res.MatchCount),
		)
		checked = append(checked, v)
	}

	slices.SortStableFunc(checked, func(a, b verified) int {
		return cmp.Compare(b.final, a.final)
	})
	for i := range checked {
		if checked[i].usable && checked[i].final >= e.config.ConfidenceThreshold {
			return &checked[i]
		}
	}
	return nil
}

func (e *Engine) record(ctx context.Context, failed string, healed *types.HealedSelector, elapsed time.Duration, pool int) {
	sample := types.HistoricalSample{
		Key:      types.HealKey(failed),
		Kind:     types.SampleHeal,
		Duration: elapsed,
		Success:  healed != nil,
	}
	var strategy string
	var confidence float64
	if healed != nil {
		sample.Outcome = healed.Healed
		strategy = string(healed.Strategy)
		confidence = healed.Confidence
		e.logger.Info("selector healed",
			zap.String("original", failed),
			zap.String("healed", healed.Healed),
			zap.String("strategy", strategy),
			zap.Float64("confidence", confidence),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		e.logger.Info("no healing candidate qualified",
			zap.String("original", failed),
			zap.Int("candidates", pool),
			zap.Duration("elapsed", elapsed),
		)
	}
	e.collector.RecordHealing(strategy, healed != nil, confidence)

	if e.store == nil {
		return
	}
	if err := e.store.Append(context.WithoutCancel(ctx), sample); err != nil {
		e.logger.Warn("failed to record healing attempt", zap.Error(err))
	}
}
