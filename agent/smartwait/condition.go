package smartwait

import (
	"fmt"
	"strings"

	"github.com/BaSui01/autoheal/agent/stability"
)

// Condition is a predicate over a stability snapshot.
type Condition struct {
	Name string
	Met  func(stability.Metrics) bool
}

// DomStable holds when mutations in the trailing window are within the limit.
func DomStable() Condition {
	return Condition{Name: "dom_stable", Met: func(m stability.Metrics) bool { return m.DOMStable }}
}

// NetworkIdle holds when in-flight requests stayed at or below the threshold long enough.
func NetworkIdle() Condition {
	return Condition{Name: "network_idle", Met: func(m stability.Metrics) bool { return m.NetworkIdle }}
}

// AnimationsComplete holds when no animation is running.
func AnimationsComplete() Condition {
	return Condition{Name: "animations_complete", Met: func(m stability.Metrics) bool { return m.AnimationsComplete }}
}

// NoLoaders holds when no loader indicator is visible.
func NoLoaders() Condition {
	return Condition{Name: "no_loaders", Met: func(m stability.Metrics) bool { return m.NoLoaders }}
}

// ScriptsIdle holds when the document is complete and the main thread is idle.
func ScriptsIdle() Condition {
	return Condition{Name: "scripts_idle", Met: func(m stability.Metrics) bool { return m.ScriptsIdle }}
}

// ScoreAtLeast holds when the aggregate score reaches min.
func ScoreAtLeast(min float64) Condition {
	return Condition{
		Name: fmt.Sprintf("score>=%.2f", min),
		Met:  func(m stability.Metrics) bool { return m.Score >= min },
	}
}

// All holds when every condition holds. An empty All always holds.
func All(conds ...Condition) Condition {
	return Condition{
		Name: compose("all", conds),
		Met: func(m stability.Metrics) bool {
			for _, c := range conds {
				if !c.Met(m) {
					return false
				}
			}
			return true
		},
	}
}

// Any holds when at least one condition holds. An empty Any never holds.
func Any(conds ...Condition) Condition {
	return Condition{
		Name: compose("any", conds),
		Met: func(m stability.Metrics) bool {
			for _, c := range conds {
				if c.Met(m) {
					return true
				}
			}
			return false
		},
	}
}

// Stable is the condition used when callers do not name one.
func Stable(minScore float64) Condition {
	return All(DomStable(), NetworkIdle(), NoLoaders(), ScoreAtLeast(minScore))
}

func compose(op string, conds []Condition) string {
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = c.Name
	}
	return op + "(" + strings.Join(names, ",") + ")"
}
