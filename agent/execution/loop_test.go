package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/agent/classifier"
	"github.com/BaSui01/autoheal/agent/healing"
	"github.com/BaSui01/autoheal/agent/recovery"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/testutil"
	"github.com/BaSui01/autoheal/testutil/mocks"
	"github.com/BaSui01/autoheal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func testExecutionConfig() config.ExecutionConfig {
	cfg := config.DefaultExecutionConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.UseJitter = false
	cfg.ActionTimeout = 5 * time.Second
	cfg.AdaptiveTimeout = false
	return cfg
}

type helperT interface {
	require.TestingT
	Helper()
}

func newRecoverer(t helperT, b recovery.Browser, opts ...recovery.Option) *recovery.Engine {
	t.Helper()
	cfg := config.DefaultRecoveryConfig()
	cfg.WaitAndRetryDelay = time.Millisecond
	cfg.ActionTimeout = time.Second
	cfg.LearnFromHistory = false
	e, err := recovery.New(b, cfg, opts...)
	require.NoError(t, err)
	return e
}

func newLoop(t *testing.T, b *mocks.MockBrowser, cfg config.ExecutionConfig, opts ...Option) *Loop {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(b, classifier.New(), newRecoverer(t, b), cfg, opts...)
}

type healerFunc func(ctx context.Context, req healing.Request) (*types.HealedSelector, error)

func (f healerFunc) Heal(ctx context.Context, req healing.Request) (*types.HealedSelector, error) {
	return f(ctx, req)
}

type fakeTimer struct {
	mu       sync.Mutex
	timeout  time.Duration
	recorded []time.Duration
}

func (f *fakeTimer) CalculateOptimalTimeout(context.Context, string) time.Duration {
	return f.timeout
}

func (f *fakeTimer) RecordWaitTime(_ context.Context, _ string, d time.Duration, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, d)
	return nil
}

func (f *fakeTimer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

func executionError(t *testing.T, err error) *types.ExecutionError {
	t.Helper()
	var ee *types.ExecutionError
	require.ErrorAs(t, err, &ee)
	return ee
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML)
	timer := &fakeTimer{timeout: time.Second}
	store := mocks.NewMockHistoryStore(10)
	l := newLoop(t, b, testExecutionConfig(), WithTimer(timer), WithHistoryStore(store))

	inv := types.NewToolInvocation("extract", ".btn-login", nil)
	out, err := l.Execute(testutil.TestContext(t), inv)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.NotEmpty(t, out.CorrelationID)
	assert.Equal(t, 1, out.AttemptCount)
	assert.Len(t, out.Attempts, 1)
	assert.Equal(t, ".btn-login", out.FinalSelector)
	assert.JSONEq(t, `"Sign In"`, string(out.Data))
	assert.Nil(t, out.Classification)
	assert.Equal(t, 1, timer.count())

	samples := store.AppendedKind(types.SampleExecution)
	require.Len(t, samples, 1)
	assert.Equal(t, types.ExecutionKey("extract"), samples[0].Key)
	assert.True(t, samples[0].Success)

	stats := l.Stats()
	assert.EqualValues(t, 1, stats.TotalExecutions)
	assert.EqualValues(t, 1, stats.SuccessExecutions)
}

func TestExecute_KeepsCorrelationID(t *testing.T) {
	l := newLoop(t, mocks.NewMockBrowser(testutil.LoginPageHTML), testExecutionConfig())
	inv := types.NewToolInvocation("click", ".btn-login", nil)
	inv.CorrelationID = "req-42"

	out, err := l.Execute(testutil.TestContext(t), inv)
	require.NoError(t, err)
	assert.Equal(t, "req-42", out.CorrelationID)
}

func TestExecute_RequiresAction(t *testing.T) {
	l := newLoop(t, mocks.NewMockBrowser(testutil.LoginPageHTML), testExecutionConfig())
	_, err := l.Execute(testutil.TestContext(t), types.ToolInvocation{})
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestExecute_TimingIssueRecoversInOrder(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).
		WithExecuteErrors(errors.New("Timeout 30000ms exceeded while waiting for selector \".btn-login\""))
	l := newLoop(t, b, testExecutionConfig())

	out, err := l.Execute(testutil.TestContext(t), types.NewToolInvocation("click", ".btn-login", nil))
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.AttemptCount)
	require.NotNil(t, out.Classification)
	assert.Equal(t, types.KindTimingIssue, out.Classification.Kind)
	assert.GreaterOrEqual(t, out.Classification.Confidence, 0.8)

	// 无 waiter/healer 时前两个动作失败，WaitAndRetry 成功
	assert.Equal(t, []types.RecoveryAction{
		types.ActionWaitForStability,
		types.ActionAlternativeSelector,
		types.ActionWaitAndRetry,
	}, out.AttemptedActions)
	assert.NotEmpty(t, out.Attempts[0].Error)
	assert.Empty(t, out.Attempts[1].Error)
}

func TestExecute_ContinuesWithHealedSelector(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML)
	var gotReq healing.Request
	healer := healerFunc(func(_ context.Context, req healing.Request) (*types.HealedSelector, error) {
		gotReq = req
		return &types.HealedSelector{
			Original:   req.FailedSelector,
			Healed:     ".btn-login",
			Strategy:   types.StrategyTextContent,
			Confidence: 0.9,
			Verified:   true,
		}, nil
	})
	l := New(b, classifier.New(), newRecoverer(t, b, recovery.WithHealer(healer)), testExecutionConfig(),
		WithLogger(zaptest.NewLogger(t)))

	inv := types.NewToolInvocation("click", "#login", map[string]any{"expected_text": "Sign In"})
	out, err := l.Execute(testutil.TestContext(t), inv)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.AttemptCount)
	assert.Equal(t, ".btn-login", out.FinalSelector)
	assert.Equal(t, []types.RecoveryAction{types.ActionAlternativeSelector}, out.AttemptedActions)
	assert.Equal(t, types.KindSelectorNotFound, out.Classification.Kind)
	assert.Equal(t, "#login", gotReq.FailedSelector)
	assert.Equal(t, "Sign In", gotReq.ExpectedText)
}

func TestExecute_PageCrashExhaustsRetries(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).
		WithError(mocks.CallExecute, errors.New("Target crashed")).
		WithError(mocks.CallReload, errors.New("Target crashed")).
		WithError(mocks.CallRestartContext, errors.New("browser has disconnected"))
	cfg := testExecutionConfig()
	cfg.MaxRetries = 2
	l := newLoop(t, b, cfg)

	out, err := l.Execute(testutil.TestContext(t), types.NewToolInvocation("click", ".btn-login", nil))
	require.Error(t, err)

	assert.False(t, out.Success)
	assert.False(t, out.Cancelled)
	assert.Equal(t, 3, out.AttemptCount)
	assert.Contains(t, out.AttemptedActions, types.ActionRestartContext)
	assert.Equal(t, types.KindPageCrash, out.Classification.Kind)

	ee := executionError(t, err)
	assert.Equal(t, types.ErrRetriesExhausted, ee.Code)
	assert.Equal(t, types.KindPageCrash, ee.Kind)
	assert.Equal(t, 3, ee.Attempts)
	assert.Contains(t, ee.AttemptedActions, types.ActionRestartContext)
	assert.Equal(t, 3, b.CallCount(mocks.CallExecute))
	assert.Equal(t, 2, b.CallCount(mocks.CallRestartContext))
	assert.EqualValues(t, 1, l.Stats().FailedExecutions)
}

func TestExecute_PageCrashAfterRestartIsTerminal(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).
		WithError(mocks.CallExecute, errors.New("Target crashed")).
		WithError(mocks.CallReload, errors.New("Target crashed"))
	l := newLoop(t, b, testExecutionConfig())

	out, err := l.Execute(testutil.TestContext(t), types.NewToolInvocation("click", ".btn-login", nil))
	require.Error(t, err)

	ee := executionError(t, err)
	assert.Equal(t, types.ErrPageCrashTerminal, ee.Code)
	assert.Equal(t, 2, out.AttemptCount)
	assert.Equal(t, 1, b.CallCount(mocks.CallRestartContext))
	assert.Equal(t, []types.RecoveryAction{types.ActionPageRefresh, types.ActionRestartContext}, out.AttemptedActions)
}

func TestExecute_Unrecoverable(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).WithError(mocks.CallExecute, errors.New("widget exploded"))
	l := newLoop(t, b, testExecutionConfig())

	out, err := l.Execute(testutil.TestContext(t), types.NewToolInvocation("click", ".btn-login", nil))
	require.Error(t, err)

	ee := executionError(t, err)
	assert.Equal(t, types.ErrUnrecoverable, ee.Code)
	assert.Equal(t, types.KindUnknown, ee.Kind)
	assert.Equal(t, 1, out.AttemptCount)
	assert.Empty(t, out.AttemptedActions)
	assert.Equal(t, 1, b.CallCount(mocks.CallExecute))
}

func TestExecute_FailedResultBecomesError(t *testing.T) {
	calls := 0
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).
		WithExecuteFunc(func(context.Context, browser.BrowserCommand) (*browser.BrowserResult, error) {
			calls++
			if calls == 1 {
				return &browser.BrowserResult{Success: false, Error: "net::ERR_CONNECTION_RESET"}, nil
			}
			return &browser.BrowserResult{Success: true}, nil
		})
	l := newLoop(t, b, testExecutionConfig())

	out, err := l.Execute(testutil.TestContext(t), types.NewToolInvocation("navigate", "", map[string]any{"url": mocks.DefaultURL}))
	require.NoError(t, err)
	assert.Equal(t, 2, out.AttemptCount)
	assert.Equal(t, types.KindNetworkError, out.Classification.Kind)
	assert.Contains(t, out.Attempts[0].Error, "ERR_CONNECTION_RESET")
}

func TestExecute_Cancelled(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).
		WithExecuteFunc(func(ctx context.Context, _ browser.BrowserCommand) (*browser.BrowserResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	l := newLoop(t, b, testExecutionConfig())

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	out, err := l.Execute(ctx, types.NewToolInvocation("click", ".btn-login", nil))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, types.IsCancelled(err))
	assert.True(t, out.Cancelled)
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.AttemptCount)
	assert.EqualValues(t, 1, l.Stats().CancelledExecutions)
}

func TestExecute_AlreadyCancelled(t *testing.T) {
	store := mocks.NewMockHistoryStore(10)
	l := newLoop(t, mocks.NewMockBrowser(testutil.LoginPageHTML), testExecutionConfig(), WithHistoryStore(store))

	out, err := l.Execute(testutil.CancelledContext(), types.NewToolInvocation("click", ".btn-login", nil))
	assert.True(t, types.IsCancelled(err))
	assert.True(t, out.Cancelled)
	assert.Empty(t, store.Appended())
}

func TestExecute_AdaptiveTimeout(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).
		WithExecuteFunc(func(ctx context.Context, _ browser.BrowserCommand) (*browser.BrowserResult, error) {
			select {
			case <-ctx.Done():
				return nil, errors.New("driver gave up")
			case <-time.After(5 * time.Second):
				return &browser.BrowserResult{Success: true}, nil
			}
		})
	cfg := testExecutionConfig()
	cfg.MaxRetries = 0
	cfg.AdaptiveTimeout = true
	timer := &fakeTimer{timeout: 30 * time.Millisecond}
	l := newLoop(t, b, cfg, WithTimer(timer))

	start := time.Now()
	out, err := l.Execute(testutil.TestContext(t), types.NewToolInvocation("click", ".btn-login", nil))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.ErrRetriesExhausted, executionError(t, err).Code)
	assert.Equal(t, types.KindTimingIssue, out.Classification.Kind)
	assert.Zero(t, timer.count(), "failed attempts are not learned from")
}

func TestExecute_DurationsAddUp(t *testing.T) {
	b := mocks.NewMockBrowser(testutil.LoginPageHTML).
		WithExecuteErrors(errors.New("503 service unavailable"), errors.New("503 service unavailable"))
	l := newLoop(t, b, testExecutionConfig())

	out, err := l.Execute(testutil.TestContext(t), types.NewToolInvocation("click", ".btn-login", nil))
	require.NoError(t, err)

	var sum time.Duration
	for i, a := range out.Attempts {
		assert.Equal(t, i+1, a.Number)
		sum += a.Duration
	}
	assert.Equal(t, sum, out.TotalDuration)
	assert.Equal(t, 3, out.AttemptCount)
}

func TestPolicyFromConfig_NonDecreasing(t *testing.T) {
	cfg := config.DefaultExecutionConfig()
	cfg.UseJitter = false
	p := PolicyFromConfig(cfg)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		prev = d
	}
	assert.Equal(t, cfg.InitialDelay, p.Delay(1))
}

func TestExecute_AttemptBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRetries := rapid.IntRange(0, 3).Draw(rt, "maxRetries")
		failures := rapid.IntRange(0, 5).Draw(rt, "failures")

		errs := make([]error, failures)
		for i := range errs {
			errs[i] = errors.New("connection reset by peer")
		}
		b := mocks.NewMockBrowser(testutil.LoginPageHTML).WithExecuteErrors(errs...)
		cfg := testExecutionConfig()
		cfg.MaxRetries = maxRetries
		l := New(b, classifier.New(), newRecoverer(rt, b), cfg)

		out, err := l.Execute(context.Background(), types.NewToolInvocation("click", ".btn-login", nil))
		if out.AttemptCount > maxRetries+1 {
			rt.Fatalf("attempts %d exceed bound %d", out.AttemptCount, maxRetries+1)
		}
		if failures <= maxRetries {
			if err != nil || !out.Success || out.AttemptCount != failures+1 {
				rt.Fatalf("expected success after %d attempts, got %d (%v)", failures+1, out.AttemptCount, err)
			}
			return
		}
		if out.Success || types.GetErrorCode(err) != types.ErrRetriesExhausted {
			rt.Fatalf("expected exhaustion, got success=%v err=%v", out.Success, err)
		}
	})
}
