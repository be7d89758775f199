package recovery

import (
	"time"

	"github.com/BaSui01/autoheal/internal/backoff"
	"github.com/BaSui01/autoheal/types"
)

// Context carries the state of the failing invocation across recovery calls.
// Handlers may update it; the execution loop reads Selector for the next attempt.
type Context struct {
	Invocation types.ToolInvocation
	// Selector is the current target; AlternativeSelector replaces it.
	Selector string
	// URL is the navigation target, empty to fall back to the invocation or current page.
	URL             string
	ExpectedText    string
	LastKnownBox    *types.BoundingBox
	PriorScreenshot []byte

	// Healed is the most recent healing result.
	Healed *types.HealedSelector
	// Restarted is set once RestartContext succeeded for this invocation.
	Restarted bool
}

// NewContext derives a recovery context from an invocation.
func NewContext(inv types.ToolInvocation) *Context {
	return &Context{
		Invocation:   inv,
		Selector:     inv.Selector,
		URL:          inv.StringParam("url"),
		ExpectedText: inv.StringParam("expected_text"),
	}
}

// Strategy bounds a single Recover call.
type Strategy struct {
	// MaxAttempts is the number of recovery cycles; values below 1 mean 1.
	MaxAttempts int
	// Backoff is applied before every cycle after the first.
	Backoff backoff.Policy
}

// Result is the outcome of a Recover call.
type Result struct {
	Success bool
	// Action is the action that succeeded.
	Action types.RecoveryAction
	// ActionsTried lists every executed action across all cycles, in order.
	ActionsTried []types.RecoveryAction
	Cycles       int
	// Terminal reports a page crash that survived RestartContext.
	Terminal bool
	// Selector is the target after recovery, possibly healed.
	Selector string
	Healed   *types.HealedSelector
	Duration time.Duration
}
