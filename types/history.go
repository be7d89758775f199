package types

import "time"

// SampleKind groups historical samples by the decision point that produced them.
type SampleKind string

const (
	SampleWait      SampleKind = "wait"
	SampleHeal      SampleKind = "heal"
	SampleRecovery  SampleKind = "recovery"
	SampleExecution SampleKind = "execution"
)

// HistoricalSample is one entry in a per-key rolling window.
type HistoricalSample struct {
	ID        string        `json:"id" bson:"_id"`
	Key       string        `json:"key" bson:"key"`
	Kind      SampleKind    `json:"kind" bson:"kind"`
	Duration  time.Duration `json:"duration" bson:"duration"`
	Success   bool          `json:"success" bson:"success"`
	Outcome   string        `json:"outcome,omitempty" bson:"outcome,omitempty"`
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
}

// Key helpers keep producers and consumers of the store in agreement.

// WaitKey is the history key for adaptive timeouts of an action.
func WaitKey(action string) string { return "wait:" + action }

// HealKey is the history key for healing attempts of a selector.
func HealKey(selector string) string { return "heal:" + selector }

// ExecutionKey is the history key for end-to-end executions of an action.
func ExecutionKey(action string) string { return "execution:" + action }

// RecoveryKey is the history key for recovery cycles of an error kind.
func RecoveryKey(kind ErrorKind) string { return "recovery:" + kind.String() }

// RecoveryAttempt summarises one recovery cycle.
type RecoveryAttempt struct {
	Action         RecoveryAction      `json:"action"`
	ActionsTried   []RecoveryAction    `json:"actions_tried,omitempty"`
	Success        bool                `json:"success"`
	Duration       time.Duration       `json:"duration"`
	Classification ErrorClassification `json:"classification"`
	CompletedAt    time.Time           `json:"completed_at"`
}

// Sample converts the attempt into a history sample keyed by error kind.
// Outcome holds the action that ended the cycle.
func (a RecoveryAttempt) Sample() HistoricalSample {
	ts := a.CompletedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return HistoricalSample{
		Key:       RecoveryKey(a.Classification.Kind),
		Kind:      SampleRecovery,
		Duration:  a.Duration,
		Success:   a.Success,
		Outcome:   string(a.Action),
		Timestamp: ts,
	}
}
