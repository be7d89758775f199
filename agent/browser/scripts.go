package browser

import (
	"encoding/json"
	"fmt"
)

// MaxSnapshotElements bounds the number of elements returned by a page snapshot.
const MaxSnapshotElements = 500

// candidateQuery selects elements worth considering as healing targets.
const candidateQuery = `a, button, input, select, textarea, label, summary, option, ` +
	`[role], [onclick], [tabindex], [aria-label], [title], [placeholder], [alt], [data-testid]`

// describePrelude defines helpers shared by the snapshot and resolve scripts.
const describePrelude = `
const __ahText = (s, n) => {
  s = (s || '').replace(/\s+/g, ' ').trim();
  return s.length > n ? s.slice(0, n) : s;
};
const __ahPath = (el) => {
  if (el.id && document.querySelectorAll('#' + CSS.escape(el.id)).length === 1) {
    return '#' + CSS.escape(el.id);
  }
  const parts = [];
  let node = el;
  while (node && node.nodeType === 1 && node !== document.documentElement) {
    if (node !== el && node.id && document.querySelectorAll('#' + CSS.escape(node.id)).length === 1) {
      parts.unshift('#' + CSS.escape(node.id));
      break;
    }
    let idx = 1;
    for (let sib = node.previousElementSibling; sib; sib = sib.previousElementSibling) {
      if (sib.tagName === node.tagName) idx++;
    }
    parts.unshift(node.tagName.toLowerCase() + ':nth-of-type(' + idx + ')');
    node = node.parentElement;
  }
  return parts.join(' > ');
};
const __ahLabel = (el) => {
  const direct = el.getAttribute('aria-label');
  if (direct) return __ahText(direct, 200);
  const by = el.getAttribute('aria-labelledby');
  if (by) {
    const txt = by.split(/\s+/).map(id => {
      const ref = document.getElementById(id);
      return ref ? ref.textContent : '';
    }).join(' ');
    if (txt.trim()) return __ahText(txt, 200);
  }
  if (el.id) {
    const lbl = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
    if (lbl) return __ahText(lbl.textContent, 200);
  }
  for (const a of ['title', 'placeholder', 'alt']) {
    const v = el.getAttribute(a);
    if (v) return __ahText(v, 200);
  }
  return '';
};
const __ahDescribe = (el) => {
  const rect = el.getBoundingClientRect();
  const style = window.getComputedStyle(el);
  const visible = rect.width > 0 && rect.height > 0 &&
    style.display !== 'none' && style.visibility !== 'hidden' &&
    parseFloat(style.opacity || '1') > 0 &&
    el.getAttribute('aria-hidden') !== 'true';
  const interactable = visible && !el.disabled &&
    el.getAttribute('aria-disabled') !== 'true' &&
    style.pointerEvents !== 'none' && !el.closest('[inert]');
  const attrs = {};
  for (const a of el.attributes) {
    if (a.name !== 'style') attrs[a.name] = a.value.slice(0, 200);
  }
  return {
    selector: __ahPath(el),
    tag: el.tagName.toLowerCase(),
    text: __ahText(el.innerText || el.textContent || el.value, 200),
    label: __ahLabel(el),
    attrs: attrs,
    visible: visible,
    interactable: interactable,
    bounding_box: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
  };
};
`

// snapshotScript lists candidate elements of the current page.
func snapshotScript() string {
	return fmt.Sprintf(`(() => {%s
  const out = [];
  for (const el of document.querySelectorAll(%s)) {
    if (out.length >= %d) break;
    out.push(__ahDescribe(el));
  }
  return out;
})()`, describePrelude, quoteJS(candidateQuery), MaxSnapshotElements)
}

// resolveScript counts the matches of selector and describes the first one.
func resolveScript(selector string) string {
	return fmt.Sprintf(`(() => {%s
  const sel = %s;
  let nodes;
  try {
    nodes = document.querySelectorAll(sel);
  } catch (e) {
    return {selector: sel, count: -1, error: String(e && e.message || e)};
  }
  return {
    selector: sel,
    count: nodes.length,
    element: nodes.length > 0 ? __ahDescribe(nodes[0]) : null,
  };
})()`, describePrelude, quoteJS(selector))
}

// resolveResult is the raw resolve script payload.
type resolveResult struct {
	Resolution
	Error string `json:"error,omitempty"`
}

// toResolution converts the script payload, mapping syntax failures to ErrInvalidSelector.
func (r resolveResult) toResolution() (*Resolution, error) {
	if r.MatchCount < 0 || r.Error != "" {
		return nil, fmt.Errorf("%w %q: %s", ErrInvalidSelector, r.Selector, r.Error)
	}
	res := r.Resolution
	return &res, nil
}

func quoteJS(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
