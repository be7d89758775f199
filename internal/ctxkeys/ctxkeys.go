package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	actionKey        contextKey = "action"
	attemptKey       contextKey = "attempt"
)

// WithCorrelationID 设置调用关联 ID
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID 获取调用关联 ID
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAction 设置当前执行的动作名
func WithAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, actionKey, action)
}

// Action 获取当前执行的动作名
func Action(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actionKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAttempt 设置当前尝试序号（从 1 开始）
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// Attempt 获取当前尝试序号
func Attempt(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(attemptKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
