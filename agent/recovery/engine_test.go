package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/autoheal/agent/classifier"
	"github.com/BaSui01/autoheal/agent/healing"
	"github.com/BaSui01/autoheal/agent/smartwait"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/backoff"
	"github.com/BaSui01/autoheal/testutil"
	"github.com/BaSui01/autoheal/testutil/mocks"
	"github.com/BaSui01/autoheal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type healerFunc func(ctx context.Context, req healing.Request) (*types.HealedSelector, error)

func (f healerFunc) Heal(ctx context.Context, req healing.Request) (*types.HealedSelector, error) {
	return f(ctx, req)
}

type waiterFunc func(ctx context.Context, cond smartwait.Condition, maxWait time.Duration) (bool, error)

func (f waiterFunc) WaitForStableState(ctx context.Context, cond smartwait.Condition, maxWait time.Duration) (bool, error) {
	return f(ctx, cond, maxWait)
}

func testRecoveryConfig() config.RecoveryConfig {
	cfg := config.DefaultRecoveryConfig()
	cfg.WaitAndRetryDelay = time.Millisecond
	cfg.ActionTimeout = time.Second
	return cfg
}

func classification(kind types.ErrorKind) types.ErrorClassification {
	return types.ErrorClassification{
		Kind:             kind,
		Confidence:       0.9,
		SuggestedActions: classifier.DefaultActionTable().Actions(kind),
	}
}

func oneCycle() Strategy {
	return Strategy{MaxAttempts: 1, Backoff: backoff.Policy{InitialDelay: time.Millisecond, Multiplier: 2}}
}

func failing(err error) Handler {
	return func(context.Context, *Context) error { return err }
}

func succeeding() Handler {
	return func(context.Context, *Context) error { return nil }
}

func newEngine(t *testing.T, b Browser, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	e, err := New(b, testRecoveryConfig(), opts...)
	require.NoError(t, err)
	return e
}

func TestNew_Validation(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML)

	t.Run("nil browser", func(t *testing.T) {
		_, err := New(nil, testRecoveryConfig())
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	})

	t.Run("missing handler", func(t *testing.T) {
		_, err := New(b, testRecoveryConfig(), WithHandler(types.ActionClearCache, nil))
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		assert.Contains(t, err.Error(), "ClearCache")
	})

	t.Run("invalid table", func(t *testing.T) {
		table := classifier.DefaultActionTable()
		table[types.KindTransient] = []types.RecoveryAction{"Reboot"}
		_, err := New(b, testRecoveryConfig(), WithActionTable(table))
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	})

	t.Run("unused missing handler is fine", func(t *testing.T) {
		table := classifier.ActionTable{types.KindTransient: {types.ActionWaitAndRetry}}
		_, err := New(b, testRecoveryConfig(), WithActionTable(table), WithHandler(types.ActionClearCache, nil))
		require.NoError(t, err)
	})
}

func TestPlan_DefaultOrder(t *testing.T) {
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML))
	plan := e.Plan(testutil.TestContext(t), classification(types.KindSelectorNotFound))
	assert.Equal(t, []types.RecoveryAction{
		types.ActionAlternativeSelector, types.ActionWaitForStability, types.ActionPageRefresh,
	}, plan)
}

func TestPlan_LearnedOrderFirst(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := mocks.NewMockHistoryStore(100)
	key := types.RecoveryKey(types.KindSelectorNotFound)
	base := time.Now().Add(-time.Hour)
	samples := []types.HistoricalSample{
		{Key: key, Kind: types.SampleRecovery, Success: true, Outcome: string(types.ActionPageRefresh), Timestamp: base},
		{Key: key, Kind: types.SampleRecovery, Success: true, Outcome: string(types.ActionPageRefresh), Timestamp: base.Add(time.Minute)},
		{Key: key, Kind: types.SampleRecovery, Success: true, Outcome: string(types.ActionClearCookies), Timestamp: base.Add(2 * time.Minute)},
		{Key: key, Kind: types.SampleRecovery, Success: true, Outcome: string(types.ActionWaitForStability), Timestamp: base},
		{Key: key, Kind: types.SampleRecovery, Success: false, Outcome: string(types.ActionAlternativeSelector), Timestamp: base},
		{Key: key, Kind: types.SampleRecovery, Success: false, Outcome: string(types.ActionAlternativeSelector), Timestamp: base},
		{Key: key, Kind: types.SampleRecovery, Success: true, Outcome: "Reboot", Timestamp: base},
	}
	for _, s := range samples {
		require.NoError(t, store.Append(ctx, s))
	}

	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithHistoryStore(store))
	plan := e.Plan(ctx, classification(types.KindSelectorNotFound))
	assert.Equal(t, []types.RecoveryAction{
		types.ActionPageRefresh,         // 2 wins
		types.ActionClearCookies,        // 1 win, most recent
		types.ActionWaitForStability,    // 1 win
		types.ActionAlternativeSelector, // default only
	}, plan)

	cfg := testRecoveryConfig()
	cfg.LearnFromHistory = false
	plain, err := New(mocks.NewMockBrowser(testutil.LoginPageHTML), cfg, WithHistoryStore(store))
	require.NoError(t, err)
	assert.Equal(t, classifier.DefaultActionTable().Actions(types.KindSelectorNotFound),
		plain.Plan(ctx, classification(types.KindSelectorNotFound)))
}

func TestPlan_QueryErrorFallsBackToDefaults(t *testing.T) {
	store := mocks.NewMockHistoryStore(10).WithQueryError(errors.New("connection refused"))
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithHistoryStore(store))
	assert.Equal(t, classifier.DefaultActionTable().Actions(types.KindNetworkError),
		e.Plan(testutil.TestContext(t), classification(types.KindNetworkError)))
}

func TestRecover_AlternativeSelectorHeals(t *testing.T) {
	store := mocks.NewMockHistoryStore(100)
	var got healing.Request
	healer := healerFunc(func(_ context.Context, req healing.Request) (*types.HealedSelector, error) {
		got = req
		return &types.HealedSelector{
			Original: req.FailedSelector, Healed: ".btn-login",
			Strategy: types.StrategyTextContent, Confidence: 0.96, Verified: true,
		}, nil
	})
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithHealer(healer), WithHistoryStore(store))

	inv := types.NewToolInvocation("click", "#login", map[string]any{"expected_text": "Sign In"})
	rc := NewContext(inv)
	res, err := e.Recover(testutil.TestContext(t), classification(types.KindSelectorNotFound), rc, oneCycle())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, types.ActionAlternativeSelector, res.Action)
	assert.Equal(t, []types.RecoveryAction{types.ActionAlternativeSelector}, res.ActionsTried)
	assert.Equal(t, ".btn-login", res.Selector)
	assert.Equal(t, ".btn-login", rc.Selector)
	require.NotNil(t, res.Healed)
	assert.Equal(t, "#login", got.FailedSelector)
	assert.Equal(t, "Sign In", got.ExpectedText)

	appended := store.AppendedKind(types.SampleRecovery)
	require.Len(t, appended, 1)
	assert.Equal(t, types.RecoveryKey(types.KindSelectorNotFound), appended[0].Key)
	assert.True(t, appended[0].Success)
	assert.Equal(t, string(types.ActionAlternativeSelector), appended[0].Outcome)
}

func TestRecover_FailuresAndPanicsFallThrough(t *testing.T) {
	store := mocks.NewMockHistoryStore(100)
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML),
		WithHistoryStore(store),
		WithHandler(types.ActionAlternativeSelector, failing(errors.New("no candidate"))),
		WithHandler(types.ActionWaitForStability, func(context.Context, *Context) error { panic("boom") }),
		WithHandler(types.ActionPageRefresh, succeeding()),
	)

	res, err := e.Recover(testutil.TestContext(t), classification(types.KindSelectorNotFound), &Context{Selector: "#x"}, oneCycle())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, types.ActionPageRefresh, res.Action)
	assert.Equal(t, []types.RecoveryAction{
		types.ActionAlternativeSelector, types.ActionWaitForStability, types.ActionPageRefresh,
	}, res.ActionsTried)
	assert.Len(t, store.AppendedKind(types.SampleRecovery), 1)
}

func TestRecover_CyclesExhausted(t *testing.T) {
	store := mocks.NewMockHistoryStore(100)
	var calls atomic.Int32
	fail := func(context.Context, *Context) error {
		calls.Add(1)
		return errors.New("still broken")
	}
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML),
		WithHistoryStore(store),
		WithHandler(types.ActionWaitAndRetry, fail),
		WithHandler(types.ActionWaitForStability, fail),
		WithHandler(types.ActionPageRefresh, fail),
	)

	strategy := Strategy{MaxAttempts: 2, Backoff: backoff.Policy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}}
	res, err := e.Recover(testutil.TestContext(t), classification(types.KindTransient), &Context{}, strategy)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.Terminal)
	assert.Equal(t, 2, res.Cycles)
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, []types.RecoveryAction{
		types.ActionWaitAndRetry, types.ActionWaitForStability, types.ActionPageRefresh,
		types.ActionWaitAndRetry, types.ActionWaitForStability, types.ActionPageRefresh,
	}, res.ActionsTried)

	appended := store.AppendedKind(types.SampleRecovery)
	require.Len(t, appended, 2, "one sample per cycle")
	for _, s := range appended {
		assert.False(t, s.Success)
	}
}

func TestRecover_PageCrash(t *testing.T) {
	ctx := testutil.TestContext(t)

	t.Run("restart marks context", func(t *testing.T) {
		b := mocks.NewMockBrowser(testutil.LoginPageHTML).WithError(mocks.CallReload, errors.New("Target crashed"))
		e := newEngine(t, b)
		rc := &Context{}

		res, err := e.Recover(ctx, classification(types.KindPageCrash), rc, oneCycle())
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, types.ActionRestartContext, res.Action)
		assert.True(t, rc.Restarted)
		assert.Equal(t, 1, b.CallCount(mocks.CallRestartContext))

		// 重启后再次崩溃为终止状态
		res, err = e.Recover(ctx, classification(types.KindPageCrash), rc, oneCycle())
		require.NoError(t, err)
		assert.True(t, res.Terminal)
		assert.False(t, res.Success)
		assert.Empty(t, res.ActionsTried)
		assert.Equal(t, 1, b.CallCount(mocks.CallRestartContext))
	})

	t.Run("failed restart is not terminal", func(t *testing.T) {
		b := mocks.NewMockBrowser(testutil.LoginPageHTML).
			WithError(mocks.CallReload, errors.New("Target crashed")).
			WithError(mocks.CallRestartContext, errors.New("Target crashed"))
		e := newEngine(t, b)
		rc := &Context{}

		res, err := e.Recover(ctx, classification(types.KindPageCrash), rc, oneCycle())
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.False(t, res.Terminal)
		assert.False(t, rc.Restarted)
		assert.Contains(t, res.ActionsTried, types.ActionRestartContext)
	})
}

func TestRecover_Cancelled(t *testing.T) {
	store := mocks.NewMockHistoryStore(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML),
		WithHistoryStore(store),
		WithHandler(types.ActionWaitAndRetry, func(ctx context.Context, _ *Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	res, err := e.Recover(ctx, classification(types.KindTransient), &Context{}, oneCycle())
	require.Error(t, err)
	assert.True(t, types.IsCancelled(err))
	assert.False(t, res.Success)
	assert.Equal(t, []types.RecoveryAction{types.ActionWaitAndRetry}, res.ActionsTried)
	assert.Len(t, store.AppendedKind(types.SampleRecovery), 1)
}

func TestRecover_ActionTimeout(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.ActionTimeout = 20 * time.Millisecond
	e, err := New(mocks.NewMockBrowser(testutil.LoginPageHTML), cfg,
		WithHandler(types.ActionWaitAndRetry, func(ctx context.Context, _ *Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		WithHandler(types.ActionWaitForStability, succeeding()),
	)
	require.NoError(t, err)

	start := time.Now()
	res, err := e.Recover(testutil.TestContext(t), classification(types.KindTransient), &Context{}, oneCycle())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, types.ActionWaitForStability, res.Action)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRecover_NoActions(t *testing.T) {
	store := mocks.NewMockHistoryStore(10)
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithHistoryStore(store))

	res, err := e.Recover(testutil.TestContext(t), types.ErrorClassification{Kind: types.KindUnknown}, nil, oneCycle())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.Cycles)
	assert.Empty(t, store.Appended())
}

func TestRecover_StoreFailureIsNotFatal(t *testing.T) {
	store := mocks.NewMockHistoryStore(10).WithAppendError(errors.New("disk full"))
	e := newEngine(t, mocks.NewMockBrowser(testutil.LoginPageHTML), WithHistoryStore(store))

	res, err := e.Recover(testutil.TestContext(t), classification(types.KindTransient), &Context{}, oneCycle())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, types.ActionWaitAndRetry, res.Action)
}
