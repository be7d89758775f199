package classifier

import (
	"regexp"

	"github.com/BaSui01/autoheal/types"
)

// Rule is one ordered heuristic. Pattern is matched against the lower-cased
// "<type name>: <message>" text of the error.
type Rule struct {
	Name       string
	Kind       types.ErrorKind
	Confidence float64
	Pattern    *regexp.Regexp
}

// Match reports whether the rule applies to the normalized error text.
func (r Rule) Match(text string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(text)
}

// UnknownConfidence is assigned when no rule matches.
const UnknownConfidence = 0.5

// DefaultRules returns the built-in rule list. Order matters: the first match
// wins, so specific patterns precede generic ones.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "page_crash",
			Kind:       types.KindPageCrash,
			Confidence: 0.95,
			Pattern:    regexp.MustCompile(`target crashed|page crashed|aw, snap|crashed tab|renderer process|browser has disconnected|target closed|session closed|websocket: close`),
		},
		{
			Name:       "wait_for_selector_timeout",
			Kind:       types.KindTimingIssue,
			Confidence: 0.85,
			Pattern:    regexp.MustCompile(`(timeout|timed out).*(waiting for|wait for)\s+(selector|locator|element)`),
		},
		{
			Name:       "navigation_timeout",
			Kind:       types.KindNavigationTimeout,
			Confidence: 0.9,
			Pattern:    regexp.MustCompile(`navigation timeout|(timeout|timed out).*(navigat|page\.goto|goto|load event|domcontentloaded)|(navigat|page\.goto).*(timeout|timed out)`),
		},
		{
			Name:       "invalid_selector",
			Kind:       types.KindSelectorNotFound,
			Confidence: 0.75,
			Pattern:    regexp.MustCompile(`invalid selector|not a valid selector|unsupported selector|selector syntax|expected selector`),
		},
		{
			Name:       "selector_not_found",
			Kind:       types.KindSelectorNotFound,
			Confidence: 0.9,
			Pattern:    regexp.MustCompile(`no element matches|no such element|element not found|unable to locate|could not find element|failed to find element|no node found|resolved to 0 elements|did not match any elements`),
		},
		{
			Name:       "not_interactable",
			Kind:       types.KindElementNotInteractable,
			Confidence: 0.85,
			Pattern:    regexp.MustCompile(`not interactable|not clickable|intercepts pointer events|element is not visible|element is disabled|not attached to the dom|detached from the dom|outside of the viewport|obscured|not editable`),
		},
		{
			Name:       "permission_denied",
			Kind:       types.KindPermissionDenied,
			Confidence: 0.8,
			Pattern:    regexp.MustCompile(`permission denied|notallowederror|access denied|forbidden|unauthorized|\b40[13]\b`),
		},
		{
			Name:       "network_error",
			Kind:       types.KindNetworkError,
			Confidence: 0.85,
			Pattern:    regexp.MustCompile(`net::err_|net\.(op|dns)error|econnrefused|econnreset|connection refused|connection reset|no such host|network error|failed to fetch|socket hang up|tls handshake|internet disconnected`),
		},
		{
			Name:       "javascript_error",
			Kind:       types.KindJavaScriptError,
			Confidence: 0.85,
			Pattern:    regexp.MustCompile(`evaluation failed|referenceerror|typeerror|syntaxerror|rangeerror|uncaught|javascript error|exception thrown|is not a function|is not defined|exceptiondetails`),
		},
		{
			Name:       "timeout",
			Kind:       types.KindTimingIssue,
			Confidence: 0.8,
			Pattern:    regexp.MustCompile(`timeout|timed out|deadline exceeded`),
		},
		{
			Name:       "transient",
			Kind:       types.KindTransient,
			Confidence: 0.75,
			Pattern:    regexp.MustCompile(`temporar|try again|too many requests|service unavailable|bad gateway|\b(429|502|503|504)\b|stale element|\beof\b|resource busy`),
		},
	}
}
