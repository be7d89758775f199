package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/autoheal/agent/healing"
	"github.com/BaSui01/autoheal/agent/smartwait"
	"github.com/BaSui01/autoheal/internal/backoff"
	"github.com/BaSui01/autoheal/types"
)

// Handler performs one recovery action. A nil error means the action succeeded.
type Handler func(ctx context.Context, rc *Context) error

// Browser is the page surface recovery handlers need.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	ClearCookies(ctx context.Context) error
	ClearCache(ctx context.Context) error
	RestartContext(ctx context.Context) error
}

// Healer finds replacement selectors.
type Healer interface {
	Heal(ctx context.Context, req healing.Request) (*types.HealedSelector, error)
}

// PageResetter forgets page observations that a navigation invalidates.
type PageResetter interface {
	Reset()
}

// Waiter waits for the page to settle. A zero condition selects the waiter's default.
type Waiter interface {
	WaitForStableState(ctx context.Context, cond smartwait.Condition, maxWait time.Duration) (bool, error)
}

var (
	errNoSelector   = errors.New("no selector to heal")
	errNoCandidate  = errors.New("no healing candidate qualified")
	errNotStable    = errors.New("page did not stabilize")
	errNoURL        = errors.New("no url to navigate to")
	errNotAvailable = errors.New("dependency not configured")
)

// handlers builds the dispatch table from the engine's dependencies.
func (e *Engine) handlers() map[types.RecoveryAction]Handler {
	return map[types.RecoveryAction]Handler{
		types.ActionWaitAndRetry: func(ctx context.Context, _ *Context) error {
			return backoff.Sleep(ctx, e.config.WaitAndRetryDelay)
		},
		types.ActionPageRefresh: func(ctx context.Context, _ *Context) error {
			return e.afterNavigation(e.browser.Reload(ctx))
		},
		types.ActionNavigationRetry: func(ctx context.Context, rc *Context) error {
			return e.afterNavigation(e.navigationRetry(ctx, rc))
		},
		types.ActionAlternativeSelector: e.alternativeSelector,
		types.ActionWaitForStability:    e.waitForStability,
		types.ActionClearCookies: func(ctx context.Context, _ *Context) error {
			return e.browser.ClearCookies(ctx)
		},
		types.ActionClearCache: func(ctx context.Context, _ *Context) error {
			return e.browser.ClearCache(ctx)
		},
		types.ActionRestartContext: func(ctx context.Context, rc *Context) error {
			if err := e.afterNavigation(e.browser.RestartContext(ctx)); err != nil {
				return err
			}
			rc.Restarted = true
			return nil
		},
	}
}

// afterNavigation resets stability state once the page has been replaced.
func (e *Engine) afterNavigation(err error) error {
	if err == nil && e.resetter != nil {
		e.resetter.Reset()
	}
	return err
}

func (e *Engine) navigationRetry(ctx context.Context, rc *Context) error {
	url := rc.URL
	if url == "" {
		url = rc.Invocation.StringParam("url")
	}
	if url == "" {
		current, err := e.browser.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("read current url: %w", err)
		}
		url = current
	}
	if url == "" || url == "about:blank" {
		return errNoURL
	}
	return e.browser.Navigate(ctx, url)
}

func (e *Engine) alternativeSelector(ctx context.Context, rc *Context) error {
	if e.healer == nil {
		return fmt.Errorf("selector healing: %w", errNotAvailable)
	}
	if rc.Selector == "" {
		return errNoSelector
	}
	healed, err := e.healer.Heal(ctx, healing.Request{
		FailedSelector:  rc.Selector,
		ExpectedText:    rc.ExpectedText,
		LastKnownBox:    rc.LastKnownBox,
		PriorScreenshot: rc.PriorScreenshot,
	})
	if err != nil {
		return err
	}
	if healed == nil {
		return errNoCandidate
	}
	rc.Selector = healed.Healed
	rc.Healed = healed
	return nil
}

func (e *Engine) waitForStability(ctx context.Context, _ *Context) error {
	if e.waiter == nil {
		return fmt.Errorf("smart wait: %w", errNotAvailable)
	}
	ok, err := e.waiter.WaitForStableState(ctx, smartwait.Condition{}, e.config.StabilityWait)
	if err != nil {
		return err
	}
	if !ok {
		return errNotStable
	}
	return nil
}
