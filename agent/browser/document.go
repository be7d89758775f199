package browser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/autoheal/types"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// =============================================================================
// 📄 静态文档模型（goquery）
// =============================================================================

var (
	candidateMatcher = cascadia.MustCompile(candidateQuery)
	simpleIdent      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	whitespace       = regexp.MustCompile(`\s+`)
)

// BoxAttribute carries layout for static documents, formatted "x,y,width,height".
// Static HTML has no layout engine; fixtures and offline snapshots annotate
// elements with it so position-based heuristics still apply.
const BoxAttribute = "data-box"

// Document is a parsed HTML snapshot that can answer selector queries offline.
// It backs PageState parsing, the LLM page outline and test fixtures.
type Document struct {
	url      string
	title    string
	raw      string
	doc      *goquery.Document
	viewport Viewport
}

// ParseDocument parses an HTML snapshot.
func ParseDocument(url, rawHTML string, viewport Viewport) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{
		url:      url,
		title:    strings.TrimSpace(doc.Find("title").First().Text()),
		raw:      rawHTML,
		doc:      doc,
		viewport: viewport,
	}, nil
}

// ParsePageState builds a PageState from an HTML snapshot.
func ParsePageState(url, rawHTML string, viewport Viewport) (*PageState, error) {
	d, err := ParseDocument(url, rawHTML, viewport)
	if err != nil {
		return nil, err
	}
	return d.State(), nil
}

// Selection exposes the underlying goquery document.
func (d *Document) Selection() *goquery.Selection {
	return d.doc.Selection
}

// State returns the page state of the snapshot.
func (d *Document) State() *PageState {
	return &PageState{
		URL:      d.url,
		Title:    d.title,
		HTML:     d.raw,
		Elements: d.Elements(),
		Viewport: d.viewport,
	}
}

// Elements lists candidate elements in document order.
func (d *Document) Elements() []PageElement {
	var out []PageElement
	d.doc.FindMatcher(candidateMatcher).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = append(out, d.describe(s))
		return len(out) < MaxSnapshotElements
	})
	return out
}

// Resolve queries selector against the snapshot.
func (d *Document) Resolve(selector string) (*Resolution, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, err)
	}
	matches := d.doc.FindMatcher(m)
	res := &Resolution{Selector: selector, MatchCount: matches.Length()}
	if res.MatchCount > 0 {
		el := d.describe(matches.First())
		res.Element = &el
	}
	return res, nil
}

// ValidSelector reports whether selector is syntactically valid CSS.
func ValidSelector(selector string) bool {
	if strings.TrimSpace(selector) == "" {
		return false
	}
	_, err := cascadia.Compile(selector)
	return err == nil
}

func (d *Document) describe(s *goquery.Selection) PageElement {
	node := s.Get(0)
	el := PageElement{
		Selector: d.cssPath(node),
		Tag:      goquery.NodeName(s),
		Attrs:    make(map[string]string, len(node.Attr)),
	}
	for _, a := range node.Attr {
		if a.Key != "style" {
			el.Attrs[a.Key] = a.Val
		}
	}

	text := s.Text()
	if el.Tag == "input" || el.Tag == "textarea" {
		text = el.Attrs["value"]
	}
	el.Text = normalizeSpace(text, 200)
	el.Label = d.label(el.Attrs)
	el.Visible = visible(node)
	el.Interactable = el.Visible && interactable(node)
	if box, ok := parseBox(el.Attrs[BoxAttribute]); ok && el.Visible {
		el.BoundingBox = &box
	}
	return el
}

func (d *Document) label(attrs map[string]string) string {
	if v := attrs["aria-label"]; v != "" {
		return normalizeSpace(v, 200)
	}
	if by := attrs["aria-labelledby"]; by != "" {
		var parts []string
		for _, id := range strings.Fields(by) {
			parts = append(parts, d.byID(id).Text())
		}
		if txt := normalizeSpace(strings.Join(parts, " "), 200); txt != "" {
			return txt
		}
	}
	if id := attrs["id"]; id != "" {
		var lbl string
		d.doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
			if f, _ := l.Attr("for"); f == id {
				lbl = l.Text()
				return false
			}
			return true
		})
		if lbl = normalizeSpace(lbl, 200); lbl != "" {
			return lbl
		}
	}
	for _, a := range []string{"title", "placeholder", "alt"} {
		if v := attrs[a]; v != "" {
			return normalizeSpace(v, 200)
		}
	}
	return ""
}

func (d *Document) byID(id string) *goquery.Selection {
	return d.doc.FindMatcher(cascadia.MustCompile(idSelector(id)))
}

// cssPath builds a selector that uniquely addresses node, preferring ids.
func (d *Document) cssPath(node *html.Node) string {
	var parts []string
	for n := node; n != nil && n.Type == html.ElementNode && n.Data != "html"; n = n.Parent {
		if id := attrOf(n, "id"); id != "" && d.byID(id).Length() == 1 {
			parts = append([]string{idSelector(id)}, parts...)
			break
		}
		idx := 1
		for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode && sib.Data == n.Data {
				idx++
			}
		}
		parts = append([]string{n.Data + ":nth-of-type(" + strconv.Itoa(idx) + ")"}, parts...)
	}
	return strings.Join(parts, " > ")
}

func idSelector(id string) string {
	if simpleIdent.MatchString(id) {
		return "#" + id
	}
	return `[id="` + strings.ReplaceAll(id, `"`, `\"`) + `"]`
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// visible approximates CSS visibility from markup alone.
func visible(node *html.Node) bool {
	if node.Data == "input" && strings.EqualFold(attrOf(node, "type"), "hidden") {
		return false
	}
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		switch n.Data {
		case "head", "script", "style", "template", "noscript":
			return false
		}
		if hasAttr(n, "hidden") || attrOf(n, "aria-hidden") == "true" {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(attrOf(n, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func interactable(node *html.Node) bool {
	if hasAttr(node, "disabled") || attrOf(node, "aria-disabled") == "true" {
		return false
	}
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if hasAttr(n, "inert") {
			return false
		}
		if n != node && n.Data == "fieldset" && hasAttr(n, "disabled") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(attrOf(n, "style")), " ", "")
		if strings.Contains(style, "pointer-events:none") {
			return false
		}
	}
	return true
}

func parseBox(v string) (types.BoundingBox, bool) {
	fields := strings.Split(v, ",")
	if len(fields) != 4 {
		return types.BoundingBox{}, false
	}
	var nums [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return types.BoundingBox{}, false
		}
		nums[i] = n
	}
	return types.BoundingBox{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}, true
}

func normalizeSpace(s string, limit int) string {
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > limit {
		return string(r[:limit])
	}
	return s
}
