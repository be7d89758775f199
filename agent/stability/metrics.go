package stability

import (
	"time"

	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/types"
)

// ScriptIdleLag is the largest idle-callback delay still counted as an idle main thread.
const ScriptIdleLag = 250 * time.Millisecond

// Signals is one raw probe of the page.
type Signals struct {
	Mutations       int     `json:"mutations"`
	Animations      int     `json:"animations"`
	PendingRequests int     `json:"pending"`
	LoadersVisible  int     `json:"loaders"`
	ReadyState      string  `json:"ready_state"`
	IdleLagMs       float64 `json:"idle_lag_ms"`
}

// Metrics is an evaluated snapshot of page stability.
type Metrics struct {
	DOMMutations     int           `json:"dom_mutations"`
	ActiveAnimations int           `json:"active_animations"`
	PendingRequests  int           `json:"pending_requests"`
	NetworkIdleFor   time.Duration `json:"network_idle_for"`
	LoadersVisible   int           `json:"loaders_visible"`
	ReadyState       string        `json:"ready_state"`

	DOMStable          bool `json:"dom_stable"`
	NetworkIdle        bool `json:"network_idle"`
	AnimationsComplete bool `json:"animations_complete"`
	NoLoaders          bool `json:"no_loaders"`
	ScriptsIdle        bool `json:"scripts_idle"`

	Score       float64   `json:"score"`
	CollectedAt time.Time `json:"collected_at"`
}

// Thresholds decides when a snapshot counts as stable.
type Thresholds struct {
	MinScore float64
	// RequireAll additionally demands every individual signal to be settled.
	RequireAll bool
}

// DefaultThresholds derives thresholds from configuration.
func DefaultThresholds(cfg config.StabilityConfig) Thresholds {
	return Thresholds{MinScore: cfg.MinScore}
}

// AllSettled reports whether every individual signal is settled.
func (m Metrics) AllSettled() bool {
	return m.DOMStable && m.NetworkIdle && m.AnimationsComplete && m.NoLoaders && m.ScriptsIdle
}

// IsStable applies thresholds to the snapshot.
func (m Metrics) IsStable(th Thresholds) bool {
	if th.RequireAll && !m.AllSettled() {
		return false
	}
	return m.Score >= th.MinScore
}

// evaluate turns raw signals into metrics. idleFor is how long pending requests
// have stayed at or below the idle threshold.
func evaluate(sig Signals, idleFor time.Duration, cfg config.StabilityConfig, now time.Time) Metrics {
	quietNetwork := sig.PendingRequests <= cfg.NetworkIdleThreshold
	m := Metrics{
		DOMMutations:       sig.Mutations,
		ActiveAnimations:   sig.Animations,
		PendingRequests:    sig.PendingRequests,
		NetworkIdleFor:     idleFor,
		LoadersVisible:     sig.LoadersVisible,
		ReadyState:         sig.ReadyState,
		DOMStable:          sig.Mutations <= cfg.MaxMutations,
		NetworkIdle:        quietNetwork && idleFor >= cfg.NetworkIdleDuration,
		AnimationsComplete: sig.Animations == 0,
		NoLoaders:          sig.LoadersVisible == 0,
		ScriptsIdle: sig.ReadyState == "complete" &&
			time.Duration(sig.IdleLagMs*float64(time.Millisecond)) < ScriptIdleLag,
		CollectedAt: now,
	}

	dom := 1.0
	if !m.DOMStable {
		dom = inverse(sig.Mutations - cfg.MaxMutations)
	}
	network := 1.0
	switch {
	case m.NetworkIdle:
	case quietNetwork:
		// 请求已结束但空闲时长不足
		network = 0.5
	default:
		network = inverse(sig.PendingRequests - cfg.NetworkIdleThreshold)
	}
	animations := inverse(sig.Animations)
	loaders := 0.0
	if m.NoLoaders {
		loaders = 1
	}
	scripts := 0.0
	switch {
	case m.ScriptsIdle:
		scripts = 1
	case sig.ReadyState == "complete":
		scripts = 0.5
	}

	w := cfg.Weights
	parts := []struct{ weight, score float64 }{
		{w.DOM, dom},
		{w.Network, network},
		{w.Animations, animations},
		{w.Loaders, loaders},
		{w.Scripts, scripts},
	}
	var sum, total float64
	for _, p := range parts {
		sum += p.weight * p.score
		total += p.weight
	}
	if total <= 0 {
		sum, total = 0, float64(len(parts))
		for _, p := range parts {
			sum += p.score
		}
	}
	m.Score = types.Clamp01(sum / total)
	return m
}

// inverse maps an excess count onto (0,1]: zero excess scores 1.
func inverse(excess int) float64 {
	if excess <= 0 {
		return 1
	}
	return 1 / float64(1+excess)
}
