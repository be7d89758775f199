// Package autoheal is the top-level entry point of the adaptive execution
// engine. It wires the classifier, selector healing, stability detection,
// smart waits and recovery into one execution loop driven by a browser.
//
// Usage:
//
//	import "github.com/BaSui01/autoheal"
//
//	eng, err := autoheal.New(cfg, b, autoheal.WithLogger(logger))
//	out, err := eng.ExecuteTool(ctx, types.NewToolInvocation("click", "#login", nil))
//
// The caller keeps ownership of the browser; Close releases only what New created.
package autoheal

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/agent/classifier"
	"github.com/BaSui01/autoheal/agent/execution"
	"github.com/BaSui01/autoheal/agent/healing"
	"github.com/BaSui01/autoheal/agent/persistence"
	"github.com/BaSui01/autoheal/agent/recovery"
	"github.com/BaSui01/autoheal/agent/smartwait"
	"github.com/BaSui01/autoheal/agent/stability"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/llm"
	"github.com/BaSui01/autoheal/llm/tokenizer"
	"github.com/BaSui01/autoheal/types"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	logger    *zap.Logger
	completer llm.Completer
	counter   types.TokenCounter
	store     persistence.HistoryStore
	collector *metrics.Collector
	tp        trace.TracerProvider
}

// WithLogger sets the zap logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCompleter enables the LLM healing strategy when healing.enable_llm is set.
// The token counter is built from llm.tokenizer when counter is nil.
func WithCompleter(completer llm.Completer, counter types.TokenCounter) Option {
	return func(o *options) {
		o.completer = completer
		o.counter = counter
	}
}

// WithHistoryStore overrides the store built from history configuration.
// A store passed here is not closed by Close.
func WithHistoryStore(store persistence.HistoryStore) Option {
	return func(o *options) { o.store = store }
}

// WithMetrics sets the prometheus collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *options) { o.collector = collector }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// Engine is the assembled adaptive execution engine.
type Engine struct {
	cfg     *config.Config
	browser browser.Browser

	classifier *classifier.Classifier
	healer     *healing.Engine
	detector   *stability.Detector
	waiter     *smartwait.Engine
	recovery   *recovery.Engine
	loop       *execution.Loop

	store     persistence.HistoryStore
	ownsStore bool
	logger    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and assembles the engine around b. A nil cfg means
// config.DefaultConfig(). Invalid configuration fails with INVALID_CONFIG.
func New(cfg *config.Config, b browser.Browser, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "a browser is required")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger

	e := &Engine{cfg: cfg, browser: b, store: o.store, logger: logger.With(zap.String("component", "autoheal"))}
	if e.store == nil {
		store, err := persistence.NewHistoryStore(context.Background(), cfg.History, o.collector, logger)
		if err != nil {
			return nil, types.NewError(types.ErrStore, "open history store").WithCause(err)
		}
		e.store = store
		e.ownsStore = true
	}

	e.classifier = classifier.New(
		classifier.WithLogger(logger),
		classifier.WithMetrics(o.collector),
	)

	healOpts := []healing.Option{
		healing.WithHistoryStore(e.store),
		healing.WithMetrics(o.collector),
		healing.WithTracerProvider(o.tp),
		healing.WithLogger(logger),
	}
	if o.completer != nil {
		counter := o.counter
		if counter == nil {
			c, err := tokenizer.New(cfg.LLM.Tokenizer, cfg.LLM.Model)
			if err != nil {
				e.closeStore()
				return nil, types.NewError(types.ErrInvalidConfig, "build token counter").WithCause(err)
			}
			counter = c
		}
		healOpts = append(healOpts, healing.WithCompleter(o.completer, counter))
	}
	e.healer = healing.New(b, cfg.Healing, healOpts...)

	e.detector = stability.NewDetector(
		stability.NewScriptSource(b, cfg.Stability),
		cfg.Stability,
		stability.WithMetrics(o.collector),
		stability.WithLogger(logger),
	)
	e.waiter = smartwait.New(e.detector, cfg.Wait,
		smartwait.WithHistoryStore(e.store),
		smartwait.WithMetrics(o.collector),
		smartwait.WithLogger(logger),
		smartwait.WithDefaultCondition(smartwait.Stable(cfg.Stability.MinScore)),
	)

	rec, err := recovery.New(b, cfg.Recovery,
		recovery.WithActionTable(e.classifier.ActionTable()),
		recovery.WithHealer(e.healer),
		recovery.WithWaiter(e.waiter),
		recovery.WithPageResetter(e.detector),
		recovery.WithHistoryStore(e.store),
		recovery.WithMetrics(o.collector),
		recovery.WithTracerProvider(o.tp),
		recovery.WithLogger(logger),
	)
	if err != nil {
		e.closeStore()
		return nil, err
	}
	e.recovery = rec

	e.loop = execution.New(b, e.classifier, e.recovery, cfg.Execution,
		execution.WithTimer(e.waiter),
		execution.WithRecoveryCycles(cfg.Recovery.MaxAttempts),
		execution.WithHistoryStore(e.store),
		execution.WithMetrics(o.collector),
		execution.WithTracerProvider(o.tp),
		execution.WithLogger(logger),
	)

	e.logger.Info("engine ready",
		zap.String("history_backend", cfg.History.Backend),
		zap.Int("max_retries", cfg.Execution.MaxRetries),
		zap.Bool("adaptive_timeout", cfg.Execution.AdaptiveTimeout),
		zap.Any("healing_strategies", e.healer.Strategies()),
	)
	return e, nil
}

// Config returns the validated configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// ExecuteTool runs inv through the retry, classification and recovery loop.
func (e *Engine) ExecuteTool(ctx context.Context, inv types.ToolInvocation) (*types.ExecutionOutcome, error) {
	return e.loop.Execute(ctx, inv)
}

// HealSelector looks for a replacement for req.FailedSelector. A nil result
// with a nil error means no candidate reached the confidence threshold.
func (e *Engine) HealSelector(ctx context.Context, req healing.Request) (*types.HealedSelector, error) {
	return e.healer.Heal(ctx, req)
}

// WaitForStableState blocks until cond holds, maxWait elapses or ctx ends.
// A zero cond waits for the default stable condition.
func (e *Engine) WaitForStableState(ctx context.Context, cond smartwait.Condition, maxWait time.Duration) (bool, error) {
	return e.waiter.WaitForStableState(ctx, cond, maxWait)
}

// CalculateOptimalTimeout returns the adaptive timeout for action.
func (e *Engine) CalculateOptimalTimeout(ctx context.Context, action string) time.Duration {
	return e.waiter.CalculateOptimalTimeout(ctx, action)
}

// Classify maps err onto an error kind.
func (e *Engine) Classify(err error, hints *classifier.Hints) types.ErrorClassification {
	return e.classifier.Classify(err, hints)
}

// RecoverFromError classifies err and runs recovery for inv outside the
// execution loop. Unrecoverable classifications return a failed result.
// Where ExecuteTool last saw inv.Selector is passed on to selector healing.
func (e *Engine) RecoverFromError(ctx context.Context, err error, inv types.ToolInvocation) (*recovery.Result, error) {
	rc := recovery.NewContext(inv)
	e.loop.Prime(rc)
	cls := e.classifier.Classify(err, &classifier.Hints{Action: inv.Action, Selector: inv.Selector, URL: rc.URL})
	if !cls.IsRecoverable() {
		e.logger.Info("error is not recoverable",
			zap.String("kind", cls.Kind.String()),
			zap.Float64("confidence", cls.Confidence),
		)
		return &recovery.Result{Selector: inv.Selector}, nil
	}
	return e.recovery.Recover(ctx, cls, rc, e.recovery.DefaultStrategy(execution.PolicyFromConfig(e.cfg.Execution)))
}

// PageMetrics probes the page once.
func (e *Engine) PageMetrics(ctx context.Context) (stability.Metrics, error) {
	return e.detector.GetMetrics(ctx)
}

// LatestMetrics returns the last metrics collected by the monitor or a probe.
func (e *Engine) LatestMetrics() (stability.Metrics, bool) {
	return e.detector.Latest()
}

// StartMonitoring starts background stability monitoring.
func (e *Engine) StartMonitoring(ctx context.Context) error {
	return e.detector.Start(ctx)
}

// StopMonitoring stops background monitoring and waits for it to exit.
func (e *Engine) StopMonitoring() {
	e.detector.Stop()
}

// Stats returns execution statistics.
func (e *Engine) Stats() execution.Stats {
	return e.loop.Stats()
}

// Close stops monitoring and closes the history store when New opened it.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.detector.Stop()
		e.closeErr = e.closeStore()
		e.logger.Info("engine closed")
	})
	return e.closeErr
}

func (e *Engine) closeStore() error {
	if !e.ownsStore || e.store == nil {
		return nil
	}
	return e.store.Close()
}
