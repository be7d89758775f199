package healing

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/types"
)

// Request describes a selector that stopped matching.
type Request struct {
	FailedSelector string
	// Page is the current page state; fetched from the browser when nil.
	Page         *browser.PageState
	ExpectedText string
	LastKnownBox *types.BoundingBox
	// Screenshot and PriorScreenshot are PNG captures used by the visual strategy.
	Screenshot      []byte
	PriorScreenshot []byte
}

// Input is what every strategy receives.
type Input struct {
	Request
	// Locate returns the preferred locator for an element.
	Locate func(el browser.PageElement) string
	// Resolve queries a selector against the live page.
	Resolve func(ctx context.Context, selector string) (*browser.Resolution, error)
}

// Strategy is an independent candidate generator. It must not mutate the page.
type Strategy func(ctx context.Context, in Input) ([]types.SelectorCandidate, error)

// NamedStrategy pairs a strategy with the name its candidates carry.
type NamedStrategy struct {
	Name types.HealingStrategy
	Fn   Strategy
}

// DefaultStrategies returns the heuristics that need no collaborator.
func DefaultStrategies() []NamedStrategy {
	return []NamedStrategy{
		{Name: types.StrategyTextContent, Fn: TextContent},
		{Name: types.StrategyAriaLabel, Fn: AriaLabel},
		{Name: types.StrategyFuzzyAttributes, Fn: FuzzyAttributes},
		{Name: types.StrategyPosition, Fn: Position},
		{Name: types.StrategyVisual, Fn: Visual},
	}
}

// maxPerStrategy bounds how many candidates one strategy contributes.
const maxPerStrategy = 10

// =============================================================================
// 定位器生成
// =============================================================================

var dynamicClass = regexp.MustCompile(`^(css|sc|jsx|emotion)-|[0-9]{3,}|^ng-|^is-|^has-|active|hover|focus|selected`)

// locatorCandidates lists locators for el from most to least robust.
func locatorCandidates(el browser.PageElement) []string {
	var out []string
	if id := el.Attr("id"); id != "" {
		out = append(out, idLocator(id))
	}
	for _, attr := range []string{"data-testid", "data-test", "data-qa"} {
		if v := el.Attr(attr); v != "" {
			out = append(out, fmt.Sprintf(`[%s=%s]`, attr, quoteAttr(v)))
		}
	}
	if name := el.Attr("name"); name != "" {
		out = append(out, fmt.Sprintf(`%s[name=%s]`, el.Tag, quoteAttr(name)))
	}
	if label := el.Attr("aria-label"); label != "" {
		out = append(out, fmt.Sprintf(`%s[aria-label=%s]`, el.Tag, quoteAttr(label)))
	}
	// 更长的类名通常更具体
	classes := strings.Fields(el.Attr("class"))
	slices.SortStableFunc(classes, func(a, b string) int { return len(b) - len(a) })
	for _, cls := range classes {
		if !dynamicClass.MatchString(cls) && cssIdent.MatchString(cls) {
			out = append(out, "."+cls)
		}
	}
	if el.Selector != "" {
		out = append(out, el.Selector)
	}
	return slices.Compact(out)
}

var cssIdent = regexp.MustCompile(`^-?[A-Za-z_][A-Za-z0-9_-]*$`)

func idLocator(id string) string {
	if cssIdent.MatchString(id) {
		return "#" + id
	}
	return fmt.Sprintf(`[id=%s]`, quoteAttr(id))
}

func quoteAttr(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

// newLocator picks, per element, the first locator that matches exactly one
// node in the HTML snapshot. Without a snapshot the most robust form wins.
func newLocator(page *browser.PageState) func(browser.PageElement) string {
	var doc *browser.Document
	if page != nil && page.HTML != "" {
		doc, _ = browser.ParseDocument(page.URL, page.HTML, page.Viewport)
	}
	return func(el browser.PageElement) string {
		options := locatorCandidates(el)
		if len(options) == 0 {
			return ""
		}
		if doc == nil {
			return options[0]
		}
		for _, sel := range options {
			if res, err := doc.Resolve(sel); err == nil && res.MatchCount == 1 {
				return sel
			}
		}
		return el.Selector
	}
}

func (in Input) locate(el browser.PageElement) string {
	if in.Locate != nil {
		return in.Locate(el)
	}
	return el.Selector
}

// candidate builds a SelectorCandidate for el.
func candidate(in Input, el browser.PageElement, strategy types.HealingStrategy, score float64) (types.SelectorCandidate, bool) {
	sel := in.locate(el)
	if sel == "" {
		return types.SelectorCandidate{}, false
	}
	return types.SelectorCandidate{
		Selector:    sel,
		Strategy:    strategy,
		Confidence:  types.Clamp01(score),
		BoundingBox: el.BoundingBox,
	}, true
}

// topCandidates sorts by confidence and keeps the best n.
func topCandidates(cands []types.SelectorCandidate, n int) []types.SelectorCandidate {
	slices.SortStableFunc(cands, func(a, b types.SelectorCandidate) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

func pageElements(in Input) []browser.PageElement {
	if in.Page == nil {
		return nil
	}
	return in.Page.Elements
}
