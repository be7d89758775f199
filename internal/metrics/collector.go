// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record* 方法对 nil 接收者安全，
// 未启用指标时各引擎可直接传入 nil。
type Collector struct {
	// 执行循环指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	attemptsTotal     *prometheus.CounterVec

	// 分类与恢复指标
	classificationsTotal *prometheus.CounterVec
	recoveryActions      *prometheus.CounterVec

	// 选择器修复指标
	healingTotal      *prometheus.CounterVec
	healingConfidence *prometheus.HistogramVec

	// 等待与稳定性指标
	waitsTotal     *prometheus.CounterVec
	waitDuration   *prometheus.HistogramVec
	stabilityScore prometheus.Gauge

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 历史存储指标
	historyOpsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，使用默认 Registerer
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建使用指定 Registerer 的指标收集器
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 执行循环指标
	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of tool executions by outcome",
		},
		[]string{"action", "outcome"}, // outcome: success, failed, cancelled
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds including recovery",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"action"},
	)

	c.attemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total number of individual attempts",
		},
		[]string{"action", "status"},
	)

	// 分类与恢复指标
	c.classificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of classified failures by kind",
		},
		[]string{"kind", "recoverable"},
	)

	c.recoveryActions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_actions_total",
			Help:      "Total number of recovery actions by result",
		},
		[]string{"kind", "action", "status"},
	)

	// 选择器修复指标
	c.healingTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_total",
			Help:      "Total number of selector healing attempts",
		},
		[]string{"strategy", "status"},
	)

	c.healingConfidence = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "healing_confidence",
			Help:      "Confidence of the best healing candidate",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"strategy"},
	)

	// 等待与稳定性指标
	c.waitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_total",
			Help:      "Total number of stability waits by result",
		},
		[]string{"result"},
	)

	c.waitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Stability wait duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"result"},
	)

	c.stabilityScore = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stability_score",
			Help:      "Latest aggregate page stability score",
		},
	)

	// LLM 指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	// 历史存储指标
	c.historyOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_operations_total",
			Help:      "Total number of history store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔧 执行循环指标
// =============================================================================

// RecordExecution 记录一次完整执行
func (c *Collector) RecordExecution(action, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(action, outcome).Inc()
	c.executionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordAttempt 记录单次尝试
func (c *Collector) RecordAttempt(action string, success bool) {
	if c == nil {
		return
	}
	c.attemptsTotal.WithLabelValues(action, statusLabel(success)).Inc()
}

// =============================================================================
// 🩺 分类与恢复指标
// =============================================================================

// RecordClassification 记录一次错误分类
func (c *Collector) RecordClassification(kind string, recoverable bool) {
	if c == nil {
		return
	}
	rec := "false"
	if recoverable {
		rec = "true"
	}
	c.classificationsTotal.WithLabelValues(kind, rec).Inc()
}

// RecordRecoveryAction 记录一次恢复动作
func (c *Collector) RecordRecoveryAction(kind, action string, success bool) {
	if c == nil {
		return
	}
	c.recoveryActions.WithLabelValues(kind, action, statusLabel(success)).Inc()
}

// =============================================================================
// 🧬 选择器修复指标
// =============================================================================

// RecordHealing 记录一次修复尝试，strategy 为空表示没有合格候选
func (c *Collector) RecordHealing(strategy string, success bool, confidence float64) {
	if c == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	c.healingTotal.WithLabelValues(strategy, statusLabel(success)).Inc()
	if confidence > 0 {
		c.healingConfidence.WithLabelValues(strategy).Observe(confidence)
	}
}

// =============================================================================
// ⏳ 等待与稳定性指标
// =============================================================================

// RecordWait 记录一次稳定性等待
func (c *Collector) RecordWait(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.waitsTotal.WithLabelValues(result).Inc()
	c.waitDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// SetStabilityScore 更新最新稳定性评分
func (c *Collector) SetStabilityScore(score float64) {
	if c == nil {
		return
	}
	c.stabilityScore.Set(score)
}

// =============================================================================
// 🤖 LLM 指标
// =============================================================================

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(model, status).Inc()
	c.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// =============================================================================
// 💾 历史存储指标
// =============================================================================

// RecordHistoryOp 记录历史存储操作
func (c *Collector) RecordHistoryOp(backend, operation string, err error) {
	if c == nil {
		return
	}
	c.historyOpsTotal.WithLabelValues(backend, operation, statusLabel(err == nil)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
