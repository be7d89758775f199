package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/autoheal/agent/healing"
	"github.com/BaSui01/autoheal/agent/smartwait"
	"github.com/BaSui01/autoheal/testutil"
	"github.com/BaSui01/autoheal/testutil/mocks"
	"github.com/BaSui01/autoheal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_NavigationRetry(t *testing.T) {
	ctx := testutil.TestContext(t)

	tests := []struct {
		name string
		rc   *Context
		want string
	}{
		{
			name: "explicit url",
			rc:   &Context{URL: "https://app.example.test/dashboard"},
			want: "https://app.example.test/dashboard",
		},
		{
			name: "invocation url",
			rc:   NewContext(types.NewToolInvocation("navigate", "", map[string]any{"url": "https://app.example.test/home"})),
			want: "https://app.example.test/home",
		},
		{
			name: "current page",
			rc:   &Context{},
			want: mocks.DefaultURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mocks.NewMockBrowser(testutil.LoginPageHTML)
			e := newEngine(t, b)

			require.NoError(t, e.run(ctx, types.ActionNavigationRetry, tt.rc))
			assert.Equal(t, 1, b.CallCount(mocks.CallNavigate))
			url, err := b.CurrentURL(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, url)
		})
	}
}

func TestHandler_NavigationRetryWithoutURL(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).WithError(mocks.CallCurrentURL, errors.New("target closed"))
	e := newEngine(t, b)

	err := e.run(testutil.TestContext(t), types.ActionNavigationRetry, &Context{})
	require.Error(t, err)
	assert.Zero(t, b.CallCount(mocks.CallNavigate))
}

func TestHandler_AlternativeSelector(t *testing.T) {
	ctx := testutil.TestContext(t)

	t.Run("no healer", func(t *testing.T) {
		e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML))
		assert.ErrorIs(t, e.run(ctx, types.ActionAlternativeSelector, &Context{Selector: "#a"}), errNotAvailable)
	})

	t.Run("no selector", func(t *testing.T) {
		e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithHealer(healerFunc(nil)))
		assert.ErrorIs(t, e.run(ctx, types.ActionAlternativeSelector, &Context{}), errNoSelector)
	})

	t.Run("nothing qualified", func(t *testing.T) {
		e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML),
			WithHealer(healerFunc(func(context.Context, healing.Request) (*types.HealedSelector, error) {
				return nil, nil
			})))
		rc := &Context{Selector: "#a"}
		assert.ErrorIs(t, e.run(ctx, types.ActionAlternativeSelector, rc), errNoCandidate)
		assert.Equal(t, "#a", rc.Selector)
	})
}

func TestHandler_WaitForStability(t *testing.T) {
	ctx := testutil.TestContext(t)

	var gotWait time.Duration
	var gotCond smartwait.Condition
	stable := waiterFunc(func(_ context.Context, cond smartwait.Condition, maxWait time.Duration) (bool, error) {
		gotCond, gotWait = cond, maxWait
		return true, nil
	})
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithWaiter(stable))
	require.NoError(t, e.run(ctx, types.ActionWaitForStability, &Context{}))
	assert.Equal(t, testRecoveryConfig().StabilityWait, gotWait)
	assert.Nil(t, gotCond.Met, "default condition requested")

	unstable := waiterFunc(func(context.Context, smartwait.Condition, time.Duration) (bool, error) {
		return false, nil
	})
	e = newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithWaiter(unstable))
	assert.ErrorIs(t, e.run(ctx, types.ActionWaitForStability, &Context{}), errNotStable)

	e = newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML))
	assert.ErrorIs(t, e.run(ctx, types.ActionWaitForStability, &Context{}), errNotAvailable)
}

func TestHandler_BrowserResets(t *testing.T) {
	ctx := testutil.TestContext(t)
	b := mocks.NewMockBrowser(testutil.LoginPageHTML)
	e := newEngine(t, b)

	for action, call := range map[types.RecoveryAction]string{
		types.ActionPageRefresh:    mocks.CallReload,
		types.ActionClearCookies:   mocks.CallClearCookies,
		types.ActionClearCache:     mocks.CallClearCache,
		types.ActionRestartContext: mocks.CallRestartContext,
	} {
		require.NoError(t, e.run(ctx, action, &Context{}), action)
		assert.Equal(t, 1, b.CallCount(call), action)
	}

	require.NoError(t, e.run(ctx, types.ActionWaitAndRetry, &Context{}))
}

type resetCounter struct{ n atomic.Int32 }

func (r *resetCounter) Reset() { r.n.Add(1) }

func TestHandler_NavigationResetsStability(t *testing.T) {
	ctx := testutil.TestContext(t)

	tests := []struct {
		action    types.RecoveryAction
		wantReset int32
	}{
		{types.ActionPageRefresh, 1},
		{types.ActionNavigationRetry, 1},
		{types.ActionRestartContext, 1},
		{types.ActionClearCookies, 0},
		{types.ActionClearCache, 0},
		{types.ActionWaitAndRetry, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			resets := &resetCounter{}
			e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithPageResetter(resets))
			require.NoError(t, e.run(ctx, tt.action, &Context{}))
			assert.Equal(t, tt.wantReset, resets.n.Load())
		})
	}

	t.Run("failed reload keeps state", func(t *testing.T) {
		resets := &resetCounter{}
		b := mocks.NewMockBrowser(testutil.LoginPageHTML).WithError(mocks.CallReload, errors.New("target closed"))
		e := newEngine(t, b, WithPageResetter(resets))
		require.Error(t, e.run(ctx, types.ActionPageRefresh, &Context{}))
		assert.Zero(t, resets.n.Load())
	})
}
