package healing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/llm"
	"github.com/BaSui01/autoheal/llm/tokenizer"
	"github.com/BaSui01/autoheal/types"
	"github.com/PuerkitoBio/goquery"
)

const (
	llmMaxSelectors  = 5
	llmTopConfidence = 0.9
	llmRankDecay     = 0.05
)

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

const llmSystemPrompt = `You repair broken CSS selectors for browser automation.
Given a page outline, the selector that stopped matching and the text the target element is expected to show,
reply with a JSON array of up to 5 CSS selectors for the intended element, most likely first.
Prefer ids, data-testid, name and stable class names. Reply with the JSON array only.`

// LLMStrategy asks a completion service for replacement selectors. Proposals
// are syntax-checked and resolved on the live page; only matching ones become
// candidates. The outline is truncated to budget tokens.
func LLMStrategy(completer llm.Completer, counter types.TokenCounter, budget int) Strategy {
	if counter == nil {
		counter = types.NewEstimateTokenizer()
	}
	return func(ctx context.Context, in Input) ([]types.SelectorCandidate, error) {
		if completer == nil {
			return nil, nil
		}
		if in.Resolve == nil {
			return nil, errors.New("llm strategy needs a live resolver")
		}

		outline := tokenizer.Truncate(counter, PageOutline(in.Page), budget)
		resp, err := completer.Complete(ctx, llm.Request{
			System: llmSystemPrompt,
			Prompt: buildPrompt(in.FailedSelector, in.ExpectedText, outline),
		})
		if err != nil {
			return nil, fmt.Errorf("llm completion: %w", err)
		}

		var out []types.SelectorCandidate
		for _, sel := range ParseSelectors(resp.Text) {
			if sel == in.FailedSelector {
				continue
			}
			res, err := in.Resolve(ctx, sel)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				continue
			}
			if !res.Found() {
				continue
			}
			out = append(out, types.SelectorCandidate{
				Selector:    sel,
				Strategy:    types.StrategyLLM,
				Confidence:  types.Clamp01(llmTopConfidence - llmRankDecay*float64(len(out))),
				BoundingBox: res.Element.BoundingBox,
			})
			if len(out) == llmMaxSelectors {
				break
			}
		}
		return out, nil
	}
}

func buildPrompt(failed, expected, outline string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failed selector: %s\n", failed)
	if expected != "" {
		fmt.Fprintf(&b, "Expected text: %s\n", expected)
	}
	b.WriteString("Page outline:\n")
	b.WriteString(outline)
	return b.String()
}

// PageOutline summarises page structure: landmarks and headings from the HTML
// snapshot followed by one line per candidate element.
func PageOutline(page *browser.PageState) string {
	if page == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "url: %s\ntitle: %s\n", page.URL, page.Title)

	if page.HTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML)); err == nil {
			doc.Find("h1, h2, h3, form, nav, main, dialog, [role=dialog], [role=main]").Each(func(_ int, s *goquery.Selection) {
				line := goquery.NodeName(s)
				if id, ok := s.Attr("id"); ok {
					line += "#" + id
				}
				if text := clip(strings.Join(strings.Fields(s.Text()), " "), 60); text != "" && isHeading(s) {
					line += fmt.Sprintf(" %q", text)
				}
				b.WriteString(line)
				b.WriteByte('\n')
			})
		}
	}

	for _, el := range page.Elements {
		if !el.Visible {
			continue
		}
		fmt.Fprintf(&b, "%s %s", el.Tag, el.Selector)
		for _, attr := range []string{"id", "class", "name", "type", "data-testid", "aria-label", "placeholder"} {
			if v := el.Attr(attr); v != "" {
				fmt.Fprintf(&b, " %s=%q", attr, clip(v, 40))
			}
		}
		if el.Text != "" {
			fmt.Fprintf(&b, " %q", clip(el.Text, 60))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func isHeading(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "h1", "h2", "h3":
		return true
	}
	return false
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// ParseSelectors extracts selectors from a completion: a JSON array when one
// is present, otherwise one selector per line. Invalid CSS is dropped.
func ParseSelectors(text string) []string {
	text = strings.TrimSpace(text)
	var raw []string
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
			raw = nil
		}
	}
	if raw == nil {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "```") {
				continue
			}
			line = listMarker.ReplaceAllString(line, "")
			raw = append(raw, strings.Trim(line, "`\"' ,"))
		}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, sel := range raw {
		sel = strings.TrimSpace(sel)
		if sel == "" || seen[sel] || !browser.ValidSelector(sel) {
			continue
		}
		seen[sel] = true
		out = append(out, sel)
	}
	return out
}
