package stability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/types"
	"go.uber.org/zap"
)

// ErrMonitorRunning is returned by Start when monitoring is already active.
var ErrMonitorRunning = errors.New("stability monitor already running")

// =============================================================================
// 📈 页面稳定性检测
// =============================================================================

// Detector 页面稳定性检测器
type Detector struct {
	source    SignalSource
	config    config.StabilityConfig
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	// mu 保护最近一次指标和网络空闲起点
	mu        sync.RWMutex
	latest    Metrics
	hasLatest bool
	idleSince time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	// done 在监控协程退出时关闭
	done chan struct{}
	wg   sync.WaitGroup
}

// Option 检测器选项
type Option func(*Detector)

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(d *Detector) { d.collector = collector }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector 创建稳定性检测器
func NewDetector(source SignalSource, cfg config.StabilityConfig, opts ...Option) *Detector {
	d := &Detector{
		source: source,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.With(zap.String("component", "page_stability"))
	return d
}

// Thresholds returns the configured stability thresholds.
func (d *Detector) Thresholds() Thresholds {
	return DefaultThresholds(d.config)
}

// GetMetrics probes the page once and stores the result as the latest snapshot.
func (d *Detector) GetMetrics(ctx context.Context) (Metrics, error) {
	probeCtx := ctx
	if d.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, d.config.ProbeTimeout)
		defer cancel()
	}

	sig, err := d.source.Collect(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Metrics{}, types.NewCancelledError(ctx.Err())
		}
		return Metrics{}, types.NewError(types.ErrBrowser, "collect stability signals").WithCause(err)
	}

	d.mu.Lock()
	now := d.now()
	if sig.PendingRequests <= d.config.NetworkIdleThreshold {
		if d.idleSince.IsZero() {
			d.idleSince = now
		}
	} else {
		d.idleSince = time.Time{}
	}
	var idleFor time.Duration
	if !d.idleSince.IsZero() {
		idleFor = now.Sub(d.idleSince)
	}
	m := evaluate(sig, idleFor, d.config, now)
	d.latest = m
	d.hasLatest = true
	d.mu.Unlock()

	d.collector.SetStabilityScore(m.Score)
	return m, nil
}

// Latest returns the most recent snapshot without probing the page.
func (d *Detector) Latest() (Metrics, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.hasLatest
}

// Reset forgets the latest snapshot and the network idle start, e.g. after navigation.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = Metrics{}
	d.hasLatest = false
	d.idleSince = time.Time{}
}

// Start launches background monitoring. It stops when Stop is called or ctx
// ends; a monitor that ended with its ctx can be started again.
func (d *Detector) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		if d.alive() {
			return ErrMonitorRunning
		}
		d.release()
	}

	interval := d.config.MonitorInterval
	if interval <= 0 {
		interval = time.Second
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.monitor(runCtx, interval, d.done)

	d.logger.Info("stability monitor started", zap.Duration("interval", interval))
	return nil
}

// Stop halts background monitoring and waits for the goroutine to exit.
func (d *Detector) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel == nil {
		return
	}
	d.release()
	d.logger.Info("stability monitor stopped")
}

// Running reports whether the monitor goroutine is active.
func (d *Detector) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.cancel != nil && d.alive()
}

// alive 需持有 runMu
func (d *Detector) alive() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// release 取消并等待监控协程，需持有 runMu
func (d *Detector) release() {
	d.cancel()
	d.wg.Wait()
	d.cancel = nil
	d.done = nil
}

func (d *Detector) monitor(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer d.wg.Done()
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Detector) tick(ctx context.Context) {
	m, err := d.GetMetrics(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Debug("stability probe failed", zap.Error(err))
		}
		return
	}
	d.logger.Debug("stability sampled",
		zap.Float64("score", m.Score),
		zap.Int("pending", m.PendingRequests),
		zap.Int("mutations", m.DOMMutations),
	)
}
