package healing

import (
	"context"
	"strings"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeText applies NFKC, case folding and whitespace collapsing.
// Casers are stateful, so each call builds its own.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Similarity 归一化编辑距离相似度：1 - distance/maxLength，按 rune 计算
func Similarity(a, b string) float64 {
	a, b = normalizeText(a), normalizeText(b)
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	return 1 - float64(levenshtein(ra, rb))/float64(max(len(ra), len(rb)))
}

// levenshtein 使用两行滚动数组的动态规划
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// TextContent scores elements by how closely their visible text matches the
// expected text.
func TextContent(ctx context.Context, in Input) ([]types.SelectorCandidate, error) {
	if strings.TrimSpace(in.ExpectedText) == "" {
		return nil, nil
	}
	return scoreElements(ctx, in, types.StrategyTextContent, func(el browser.PageElement) float64 {
		return Similarity(el.Text, in.ExpectedText)
	})
}

// AriaLabel scores elements by their accessible name.
func AriaLabel(ctx context.Context, in Input) ([]types.SelectorCandidate, error) {
	if strings.TrimSpace(in.ExpectedText) == "" {
		return nil, nil
	}
	return scoreElements(ctx, in, types.StrategyAriaLabel, func(el browser.PageElement) float64 {
		best := Similarity(el.Label, in.ExpectedText)
		for _, attr := range []string{"aria-label", "title", "placeholder", "alt"} {
			if v := el.Attr(attr); v != "" {
				best = max(best, Similarity(v, in.ExpectedText))
			}
		}
		return best
	})
}

// scoreElements runs score over every element and keeps the best positive ones.
func scoreElements(ctx context.Context, in Input, strategy types.HealingStrategy, score func(browser.PageElement) float64) ([]types.SelectorCandidate, error) {
	var out []types.SelectorCandidate
	for _, el := range pageElements(in) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := score(el)
		if s <= 0 {
			continue
		}
		if c, ok := candidate(in, el, strategy, s); ok {
			out = append(out, c)
		}
	}
	return topCandidates(out, maxPerStrategy), nil
}
