package classifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/types"
	"go.uber.org/zap"
)

// Hints carries call-site information that disambiguates errors.
type Hints struct {
	Action   string
	Selector string
	URL      string
}

func (h *Hints) navigating() bool {
	if h == nil {
		return false
	}
	switch strings.ToLower(h.Action) {
	case "navigate", "goto", "back", "forward", "refresh":
		return true
	}
	return false
}

// Classifier 错误分类器。构造后不可变，可并发使用。
type Classifier struct {
	rules     []Rule
	actions   ActionTable
	collector *metrics.Collector
	logger    *zap.Logger
}

// Option 分类器选项
type Option func(*Classifier)

// WithRules 替换内置规则
func WithRules(rules []Rule) Option {
	return func(c *Classifier) { c.rules = slices.Clone(rules) }
}

// WithActionTable 替换默认动作表
func WithActionTable(table ActionTable) Option {
	return func(c *Classifier) { c.actions = table.Clone() }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// WithMetrics 设置指标收集器
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Classifier) { c.collector = collector }
}

// New 创建分类器
func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules:   DefaultRules(),
		actions: DefaultActionTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("component", "error_classifier"))
	return c
}

// ActionTable returns a copy of the kind → default actions table.
func (c *Classifier) ActionTable() ActionTable {
	return c.actions.Clone()
}

// DefaultActions returns the default actions for kind.
func (c *Classifier) DefaultActions(kind types.ErrorKind) []types.RecoveryAction {
	return c.actions.Actions(kind)
}

// Classify maps err to a kind, a confidence and the default actions for that
// kind. A nil error classifies as Unknown with zero confidence.
func (c *Classifier) Classify(err error, hints *Hints) types.ErrorClassification {
	if err == nil {
		return types.ErrorClassification{Kind: types.KindUnknown}
	}

	kind, confidence, rule := c.match(err, hints)
	cls := types.ErrorClassification{
		Kind:             kind,
		Confidence:       types.Clamp01(confidence),
		Message:          err.Error(),
		SuggestedActions: c.actions.Actions(kind),
		Rule:             rule,
	}

	c.collector.RecordClassification(kind.String(), cls.IsRecoverable())
	c.logger.Debug("error classified",
		zap.String("kind", kind.String()),
		zap.Float64("confidence", cls.Confidence),
		zap.String("rule", rule),
		zap.Error(err),
	)
	return cls
}

func (c *Classifier) match(err error, hints *Hints) (types.ErrorKind, float64, string) {
	// 上下文超时没有可靠的消息文本，直接按类型判定
	if errors.Is(err, context.DeadlineExceeded) {
		if hints.navigating() {
			return types.KindNavigationTimeout, 0.85, "deadline_navigation"
		}
		return types.KindTimingIssue, 0.9, "deadline"
	}
	if errors.Is(err, context.Canceled) {
		return types.KindUnknown, UnknownConfidence, "cancelled"
	}

	text := normalize(err)
	for _, r := range c.rules {
		if !r.Match(text) {
			continue
		}
		if r.Kind == types.KindTimingIssue && r.Name == "timeout" && hints.navigating() {
			return types.KindNavigationTimeout, r.Confidence, r.Name + "_navigation"
		}
		return r.Kind, r.Confidence, r.Name
	}
	return types.KindUnknown, UnknownConfidence, ""
}

// normalize 生成匹配文本：错误链上每一层的类型名加上最外层消息
func normalize(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%T ", e)
	}
	b.WriteString(": ")
	b.WriteString(err.Error())
	return strings.ToLower(b.String())
}
