package types

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// ToolInvocation is one automation step. Values are immutable: use the With*
// helpers to derive a modified copy.
type ToolInvocation struct {
	Action        string         `json:"action"`
	Params        map[string]any `json:"params,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Selector      string         `json:"selector,omitempty"`
}

// NewToolInvocation creates an invocation with a fresh correlation id.
func NewToolInvocation(action, selector string, params map[string]any) ToolInvocation {
	return ToolInvocation{
		Action:        action,
		Params:        maps.Clone(params),
		CorrelationID: uuid.NewString(),
		Selector:      selector,
	}
}

// WithSelector returns a copy targeting a different selector.
func (inv ToolInvocation) WithSelector(selector string) ToolInvocation {
	inv.Params = maps.Clone(inv.Params)
	inv.Selector = selector
	return inv
}

// Param returns a parameter value.
func (inv ToolInvocation) Param(key string) (any, bool) {
	v, ok := inv.Params[key]
	return v, ok
}

// StringParam returns a string parameter, or "" when absent or not a string.
func (inv ToolInvocation) StringParam(key string) string {
	if v, ok := inv.Params[key].(string); ok {
		return v
	}
	return ""
}

// AttemptRecord timestamps a single attempt of an invocation.
type AttemptRecord struct {
	Number    int           `json:"number"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// ExecutionOutcome is produced once per execution and never mutated afterwards.
type ExecutionOutcome struct {
	CorrelationID    string               `json:"correlation_id"`
	Success          bool                 `json:"success"`
	Cancelled        bool                 `json:"cancelled,omitempty"`
	AttemptCount     int                  `json:"attempt_count"`
	TotalDuration    time.Duration        `json:"total_duration"`
	Classification   *ErrorClassification `json:"classification,omitempty"`
	AttemptedActions []RecoveryAction     `json:"attempted_actions,omitempty"`
	FinalSelector    string               `json:"final_selector,omitempty"`
	Attempts         []AttemptRecord      `json:"attempts,omitempty"`
	Data             json.RawMessage      `json:"data,omitempty"`
}
