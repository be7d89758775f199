package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/autoheal/types"
)

// Action represents a browser action type.
type Action string

const (
	ActionNavigate   Action = "navigate"
	ActionClick      Action = "click"
	ActionType       Action = "type"
	ActionScroll     Action = "scroll"
	ActionScreenshot Action = "screenshot"
	ActionExtract    Action = "extract"
	ActionWait       Action = "wait"
	ActionSelect     Action = "select"
	ActionHover      Action = "hover"
	ActionBack       Action = "back"
	ActionForward    Action = "forward"
	ActionRefresh    Action = "refresh"
	ActionEvaluate   Action = "evaluate"
)

// Driver errors. Messages are stable so that failures can be classified by text.
var (
	ErrElementNotFound        = errors.New("no element matches selector")
	ErrElementNotInteractable = errors.New("element is not interactable")
	ErrInvalidSelector        = errors.New("invalid selector")
	ErrUnsupportedAction      = errors.New("unsupported action")
)

// BrowserCommand represents a command to execute in the browser.
type BrowserCommand struct {
	Action   Action            `json:"action"`
	Selector string            `json:"selector,omitempty"` // CSS selector
	Value    string            `json:"value,omitempty"`    // For type, navigate, select, evaluate
	Options  map[string]string `json:"options,omitempty"`
}

// CommandFromInvocation maps a tool invocation onto a browser command.
// The value is taken from the first of "value", "text", "url" or "script".
func CommandFromInvocation(inv types.ToolInvocation) BrowserCommand {
	cmd := BrowserCommand{
		Action:   Action(strings.ToLower(inv.Action)),
		Selector: inv.Selector,
	}
	valueKeys := []string{"value", "text", "url", "script"}
	for _, k := range valueKeys {
		if v := inv.StringParam(k); v != "" {
			cmd.Value = v
			break
		}
	}

	keys := make([]string, 0, len(inv.Params))
	for k := range inv.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if slices.Contains(valueKeys, k) {
			continue
		}
		if cmd.Options == nil {
			cmd.Options = make(map[string]string)
		}
		cmd.Options[k] = fmt.Sprint(inv.Params[k])
	}
	return cmd
}

// BrowserResult represents the result of a browser command.
type BrowserResult struct {
	Success    bool            `json:"success"`
	Action     Action          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
	Screenshot []byte          `json:"screenshot,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
	URL        string          `json:"url,omitempty"`
}

// Viewport is the visible page area in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Diagonal returns the viewport diagonal, used to normalise distances.
func (v Viewport) Diagonal() float64 {
	w, h := float64(v.Width), float64(v.Height)
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Hypot(w, h)
}

// PageState represents the current state of a browser page.
type PageState struct {
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	HTML     string        `json:"html,omitempty"`
	Elements []PageElement `json:"elements,omitempty"` // Candidate elements
	Viewport Viewport      `json:"viewport"`
}

// PageElement represents a candidate element on the page.
type PageElement struct {
	Selector     string             `json:"selector"`
	Tag          string             `json:"tag"`
	Text         string             `json:"text,omitempty"`
	Label        string             `json:"label,omitempty"` // Accessible name
	Attrs        map[string]string  `json:"attrs,omitempty"`
	Visible      bool               `json:"visible"`
	Interactable bool               `json:"interactable"`
	BoundingBox  *types.BoundingBox `json:"bounding_box,omitempty"`
}

// Attr returns an attribute value or "".
func (e PageElement) Attr(name string) string {
	return e.Attrs[name]
}

// Resolution is the live result of querying a selector.
type Resolution struct {
	Selector   string       `json:"selector"`
	MatchCount int          `json:"count"`
	Element    *PageElement `json:"element,omitempty"` // First match
}

// Found reports whether at least one element matched.
func (r *Resolution) Found() bool {
	return r != nil && r.MatchCount > 0 && r.Element != nil
}

// Usable reports whether the selector matches exactly one visible, interactable element.
func (r *Resolution) Usable() bool {
	return r.Found() && r.MatchCount == 1 && r.Element.Visible && r.Element.Interactable
}

// Browser defines the interface for browser automation.
type Browser interface {
	// Execute runs a browser command.
	Execute(ctx context.Context, cmd BrowserCommand) (*BrowserResult, error)
	// GetState returns the current page state.
	GetState(ctx context.Context) (*PageState, error)
	// Resolve queries a selector against the live page.
	Resolve(ctx context.Context, selector string) (*Resolution, error)
	// EvaluateScript evaluates a JavaScript expression and decodes its JSON result into out.
	EvaluateScript(ctx context.Context, script string, out any) error
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	ClearCookies(ctx context.Context) error
	ClearCache(ctx context.Context) error
	// RestartContext replaces the page with a fresh one on the last known URL.
	RestartContext(ctx context.Context) error
	// Close closes the browser.
	Close() error
}

// checkResolution turns a resolution into the driver error for an action target.
func checkResolution(res *Resolution, selector string) error {
	if !res.Found() {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	if !res.Element.Visible || !res.Element.Interactable {
		return fmt.Errorf("%w: %s", ErrElementNotInteractable, selector)
	}
	return nil
}
