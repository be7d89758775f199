package types

import "math"

// HealingStrategy names the heuristic that produced a selector candidate.
type HealingStrategy string

const (
	StrategyTextContent     HealingStrategy = "text"
	StrategyAriaLabel       HealingStrategy = "aria"
	StrategyFuzzyAttributes HealingStrategy = "attributes"
	StrategyPosition        HealingStrategy = "position"
	StrategyVisual          HealingStrategy = "visual"
	StrategyLLM             HealingStrategy = "llm"
)

// BoundingBox represents element position and size.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box center point.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Distance is the Euclidean distance between two box centers.
func (b BoundingBox) Distance(other BoundingBox) float64 {
	ax, ay := b.Center()
	bx, by := other.Center()
	return math.Hypot(ax-bx, ay-by)
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// SelectorCandidate is an ephemeral healing proposal from one strategy.
type SelectorCandidate struct {
	Selector    string          `json:"selector"`
	Strategy    HealingStrategy `json:"strategy"`
	Confidence  float64         `json:"confidence"`
	BoundingBox *BoundingBox    `json:"bounding_box,omitempty"`
}

// HealedSelector is a verified replacement for a selector that stopped matching.
type HealedSelector struct {
	Original   string            `json:"original"`
	Healed     string            `json:"healed"`
	Strategy   HealingStrategy   `json:"strategy"`
	Strategies []HealingStrategy `json:"strategies,omitempty"`
	Confidence float64           `json:"confidence"`
	Verified   bool              `json:"verified"`
}

// Clamp01 bounds a score to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
