package stability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/autoheal/config"
)

// SignalSource produces raw stability signals.
type SignalSource interface {
	Collect(ctx context.Context) (Signals, error)
}

// SourceFunc adapts a function to SignalSource.
type SourceFunc func(ctx context.Context) (Signals, error)

// Collect calls f.
func (f SourceFunc) Collect(ctx context.Context) (Signals, error) { return f(ctx) }

// Evaluator runs a script in the page and decodes its JSON result.
type Evaluator interface {
	EvaluateScript(ctx context.Context, script string, out any) error
}

// ScriptSource collects signals through in-page instrumentation.
// The instrumentation is installed on first use and survives until the next navigation,
// so the first probe after a page load reports no mutations.
type ScriptSource struct {
	eval   Evaluator
	script string
}

// NewScriptSource creates a script-backed source.
func NewScriptSource(eval Evaluator, cfg config.StabilityConfig) *ScriptSource {
	return &ScriptSource{eval: eval, script: probeScript(cfg)}
}

// Collect evaluates the probe script.
func (s *ScriptSource) Collect(ctx context.Context) (Signals, error) {
	var sig Signals
	if err := s.eval.EvaluateScript(ctx, s.script, &sig); err != nil {
		return Signals{}, fmt.Errorf("stability probe: %w", err)
	}
	return sig, nil
}

// Script returns the probe script.
func (s *ScriptSource) Script() string { return s.script }

// maxTrackedMutations bounds the timestamp buffer kept in the page.
const maxTrackedMutations = 5000

func probeScript(cfg config.StabilityConfig) string {
	loaders := cfg.LoaderSelectors
	if loaders == nil {
		loaders = []string{}
	}
	selectors, _ := json.Marshal(loaders)
	return fmt.Sprintf(`(() => {
  const w = window;
  if (!w.__ahStability) {
    const st = {mutations: [], pending: 0, lastIdle: performance.now()};
    try {
      new MutationObserver((list) => {
        const t = performance.now();
        for (let i = 0; i < list.length; i++) st.mutations.push(t);
        if (st.mutations.length > %d) st.mutations.splice(0, st.mutations.length - %d);
      }).observe(document.documentElement, {subtree: true, childList: true, attributes: true, characterData: true});
    } catch (e) {}
    const done = () => { st.pending = Math.max(0, st.pending - 1); };
    if (w.fetch) {
      const origFetch = w.fetch;
      w.fetch = function (...args) {
        st.pending++;
        try {
          return origFetch.apply(this, args).finally(done);
        } catch (e) {
          done();
          throw e;
        }
      };
    }
    if (w.XMLHttpRequest) {
      const origSend = w.XMLHttpRequest.prototype.send;
      w.XMLHttpRequest.prototype.send = function (...args) {
        st.pending++;
        this.addEventListener('loadend', done, {once: true});
        return origSend.apply(this, args);
      };
    }
    const schedule = w.requestIdleCallback ? (cb) => w.requestIdleCallback(cb) : (cb) => setTimeout(cb, 50);
    const beat = () => { st.lastIdle = performance.now(); schedule(beat); };
    beat();
    w.__ahStability = st;
  }
  const st = w.__ahStability;
  const now = performance.now();
  const cutoff = now - %d;
  st.mutations = st.mutations.filter((t) => t >= cutoff);
  let animations = 0;
  try {
    animations = document.getAnimations().filter((a) => a.playState === 'running').length;
  } catch (e) {}
  let loaders = 0;
  for (const sel of %s) {
    try {
      for (const el of document.querySelectorAll(sel)) {
        const rect = el.getBoundingClientRect();
        const style = getComputedStyle(el);
        if (rect.width > 0 && rect.height > 0 && style.display !== 'none' &&
            style.visibility !== 'hidden' && parseFloat(style.opacity || '1') > 0) {
          loaders++;
        }
      }
    } catch (e) {}
  }
  return {
    mutations: st.mutations.length,
    animations: animations,
    pending: st.pending,
    loaders: loaders,
    ready_state: document.readyState,
    idle_lag_ms: now - st.lastIdle,
  };
})()`, maxTrackedMutations, maxTrackedMutations, cfg.MutationWindow.Milliseconds(), selectors)
}
