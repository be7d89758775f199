package healing

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/types"
)

var (
	selectorID    = regexp.MustCompile(`#([A-Za-z0-9_-]+)`)
	selectorClass = regexp.MustCompile(`\.([A-Za-z0-9_-]+)`)
	selectorAttr  = regexp.MustCompile(`\[\s*([A-Za-z0-9_:-]+)\s*(?:[~|^$*]?=\s*["']?([^"'\]]*)["']?)?\s*\]`)
	selectorTag   = regexp.MustCompile(`(?:^|[\s>+~])([a-z][a-z0-9]*)`)
)

// tokenAttrs are element attributes whose values feed the token set.
var tokenAttrs = []string{"id", "class", "name", "type", "role", "data-testid", "data-test", "data-qa", "aria-label", "placeholder", "title", "href", "for"}

// stopTokens carry no identifying signal.
var stopTokens = map[string]bool{
	"data": true, "testid": true, "test": true, "qa": true, "aria": true, "nth": true, "of": true, "type": true, "child": true,
}

// SelectorTokens splits the id, class, attribute and tag fragments of a CSS
// selector into lower-case word tokens.
func SelectorTokens(selector string) map[string]bool {
	tokens := make(map[string]bool)
	for _, m := range selectorID.FindAllStringSubmatch(selector, -1) {
		addTokens(tokens, m[1])
	}
	for _, m := range selectorClass.FindAllStringSubmatch(selector, -1) {
		addTokens(tokens, m[1])
	}
	for _, m := range selectorAttr.FindAllStringSubmatch(selector, -1) {
		addTokens(tokens, m[1])
		addTokens(tokens, m[2])
	}
	stripped := selectorAttr.ReplaceAllString(selector, " ")
	for _, m := range selectorTag.FindAllStringSubmatch(stripped, -1) {
		if m[1] != "html" && m[1] != "body" {
			tokens[m[1]] = true
		}
	}
	return tokens
}

// elementTokens collects tokens from the tag and identifying attributes.
func elementTokens(el browser.PageElement) map[string]bool {
	tokens := map[string]bool{}
	if el.Tag != "" {
		tokens[strings.ToLower(el.Tag)] = true
	}
	for _, attr := range tokenAttrs {
		addTokens(tokens, el.Attr(attr))
	}
	return tokens
}

// addTokens splits on punctuation and camelCase boundaries.
func addTokens(dst map[string]bool, s string) {
	var cur []rune
	flush := func() {
		if len(cur) > 1 {
			w := strings.ToLower(string(cur))
			if !stopTokens[w] {
				dst[w] = true
			}
		}
		cur = cur[:0]
	}
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			cur = append(cur, r)
		case unicode.IsDigit(r):
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
}

// Jaccard returns |a ∩ b| / |a ∪ b|.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// FuzzyAttributes scores elements by token overlap with the failed selector.
func FuzzyAttributes(ctx context.Context, in Input) ([]types.SelectorCandidate, error) {
	want := SelectorTokens(in.FailedSelector)
	if len(want) == 0 {
		return nil, nil
	}
	return scoreElements(ctx, in, types.StrategyFuzzyAttributes, func(el browser.PageElement) float64 {
		return Jaccard(want, elementTokens(el))
	})
}
