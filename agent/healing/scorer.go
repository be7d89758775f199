package healing

import (
	"cmp"
	"slices"
	"strings"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/types"
)

// Ranked is a pooled candidate with its combined confidence.
type Ranked struct {
	Selector    string
	Scores      map[types.HealingStrategy]float64
	Strategies  []types.HealingStrategy // sorted by individual score, best first
	Confidence  float64
	BoundingBox *types.BoundingBox
}

// Best returns the strategy with the highest individual score.
func (r Ranked) Best() types.HealingStrategy {
	if len(r.Strategies) == 0 {
		return ""
	}
	return r.Strategies[0]
}

// Scorer pools candidates and blends multi-strategy scores.
type Scorer struct {
	weights config.HealingWeights
	bonus   float64
}

// NewScorer creates a scorer.
func NewScorer(weights config.HealingWeights, agreementBonus float64) *Scorer {
	return &Scorer{weights: weights, bonus: max(agreementBonus, 0)}
}

// Weight returns the configured weight for a strategy.
func (s *Scorer) Weight(strategy types.HealingStrategy) float64 {
	switch strategy {
	case types.StrategyVisual:
		return s.weights.Visual
	case types.StrategyTextContent:
		return s.weights.Text
	case types.StrategyAriaLabel:
		return s.weights.Aria
	case types.StrategyPosition:
		return s.weights.Position
	case types.StrategyFuzzyAttributes:
		return s.weights.Attributes
	case types.StrategyLLM:
		return s.weights.LLM
	default:
		return 0
	}
}

// Rank deduplicates candidates by selector and orders them by confidence.
// A selector found by one strategy keeps that score. One found by several gets
// the weight-normalised mean over the contributing strategies plus the
// agreement bonus for each strategy beyond the first.
func (s *Scorer) Rank(candidates []types.SelectorCandidate) []Ranked {
	pooled := make(map[string]*Ranked)
	var order []string
	for _, c := range candidates {
		sel := strings.TrimSpace(c.Selector)
		if sel == "" {
			continue
		}
		r, ok := pooled[sel]
		if !ok {
			r = &Ranked{Selector: sel, Scores: make(map[types.HealingStrategy]float64)}
			pooled[sel] = r
			order = append(order, sel)
		}
		conf := types.Clamp01(c.Confidence)
		if prev, seen := r.Scores[c.Strategy]; !seen || conf > prev {
			r.Scores[c.Strategy] = conf
		}
		if r.BoundingBox == nil && c.BoundingBox != nil {
			box := *c.BoundingBox
			r.BoundingBox = &box
		}
	}

	out := make([]Ranked, 0, len(order))
	for _, sel := range order {
		r := pooled[sel]
		r.Strategies = make([]types.HealingStrategy, 0, len(r.Scores))
		for st := range r.Scores {
			r.Strategies = append(r.Strategies, st)
		}
		slices.SortFunc(r.Strategies, func(a, b types.HealingStrategy) int {
			if c := cmp.Compare(r.Scores[b], r.Scores[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		r.Confidence = s.combine(r.Scores)
		out = append(out, *r)
	}

	slices.SortStableFunc(out, func(a, b Ranked) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(len(b.Strategies), len(a.Strategies))
	})
	return out
}

func (s *Scorer) combine(scores map[types.HealingStrategy]float64) float64 {
	if len(scores) == 1 {
		for _, v := range scores {
			return v
		}
	}
	var weighted, total, plain float64
	for st, v := range scores {
		w := s.Weight(st)
		weighted += w * v
		total += w
		plain += v
	}
	base := plain / float64(len(scores))
	if total > 0 {
		base = weighted / total
	}
	return types.Clamp01(base + s.bonus*float64(len(scores)-1))
}

// Penalty is the multiplier a live resolution applies to a confidence:
// not visible ×0.5, not interactable ×0.8, n matches ×1/n. No match is 0.
func Penalty(res *browser.Resolution) float64 {
	if !res.Found() {
		return 0
	}
	p := 1.0
	if !res.Element.Visible {
		p *= 0.5
	}
	if !res.Element.Interactable {
		p *= 0.8
	}
	if res.MatchCount > 1 {
		p /= float64(res.MatchCount)
	}
	return p
}
