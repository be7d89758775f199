package smartwait

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/autoheal/agent/stability"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/testutil"
	"github.com/BaSui01/autoheal/testutil/mocks"
	"github.com/BaSui01/autoheal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

type proberFunc func(ctx context.Context) (stability.Metrics, error)

func (f proberFunc) GetMetrics(ctx context.Context) (stability.Metrics, error) { return f(ctx) }

func fastWaitConfig() config.WaitConfig {
	cfg := config.DefaultWaitConfig()
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

// requestTimeline simulates requests that finish at fixed offsets from start.
func requestTimeline(start time.Time, finishes ...time.Duration) stability.SignalSource {
	return stability.SourceFunc(func(context.Context) (stability.Signals, error) {
		elapsed := time.Since(start)
		pending := 0
		for _, f := range finishes {
			if elapsed < f {
				pending++
			}
		}
		return stability.Signals{PendingRequests: pending, ReadyState: "complete"}, nil
	})
}

func TestWait_PendingRequestsThenIdle(t *testing.T) {
	stabCfg := config.DefaultStabilityConfig()
	stabCfg.NetworkIdleDuration = 50 * time.Millisecond

	start := time.Now()
	detector := stability.NewDetector(requestTimeline(start,
		20*time.Millisecond, 40*time.Millisecond, 60*time.Millisecond), stabCfg)
	engine := New(detector, fastWaitConfig(), WithLogger(zaptest.NewLogger(t)))

	res := engine.Wait(testutil.TestContext(t), All(DomStable(), NetworkIdle()), 2*time.Second)

	require.Equal(t, OutcomeStable, res.Outcome)
	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond,
		"must wait for all three requests and the idle duration")
	assert.Zero(t, res.Metrics.PendingRequests)
	assert.GreaterOrEqual(t, res.Metrics.NetworkIdleFor, 50*time.Millisecond)
	assert.Greater(t, res.Polls, 1)
}

func TestWait_TimesOut(t *testing.T) {
	engine := New(proberFunc(func(context.Context) (stability.Metrics, error) {
		return stability.Metrics{PendingRequests: 1}, nil
	}), fastWaitConfig())

	ok, err := engine.WaitForStableState(testutil.TestContext(t), NetworkIdle(), 40*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	res := engine.Wait(testutil.TestContext(t), NetworkIdle(), 40*time.Millisecond)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.GreaterOrEqual(t, res.Waited, 40*time.Millisecond)
	assert.NoError(t, res.Err)
}

func TestWait_CancelledWithinOneInterval(t *testing.T) {
	cfg := config.DefaultWaitConfig()
	cfg.PollInterval = 300 * time.Millisecond
	engine := New(proberFunc(func(context.Context) (stability.Metrics, error) {
		return stability.Metrics{}, nil
	}), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	ok, err := engine.WaitForStableState(ctx, DomStable(), 10*time.Second)
	elapsed := time.Since(start)

	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, types.IsCancelled(err))
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
	assert.Less(t, elapsed, cfg.PollInterval)
}

func TestWait_AlreadyCancelled(t *testing.T) {
	var probes atomic.Int32
	engine := New(proberFunc(func(ctx context.Context) (stability.Metrics, error) {
		probes.Add(1)
		return stability.Metrics{}, ctx.Err()
	}), fastWaitConfig())

	res := engine.Wait(testutil.CancelledContext(), DomStable(), time.Second)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.True(t, types.IsCancelled(res.Err))
	assert.LessOrEqual(t, probes.Load(), int32(1))
}

func TestWait_ProbeErrorsCountAsUnstable(t *testing.T) {
	var probes atomic.Int32
	engine := New(proberFunc(func(context.Context) (stability.Metrics, error) {
		if probes.Add(1) <= 2 {
			return stability.Metrics{}, errors.New("execution context was destroyed")
		}
		return stability.Metrics{DOMStable: true}, nil
	}), fastWaitConfig())

	res := engine.Wait(testutil.TestContext(t), DomStable(), time.Second)
	assert.Equal(t, OutcomeStable, res.Outcome)
	assert.Equal(t, 3, res.Polls)
}

func TestWait_DefaultCondition(t *testing.T) {
	var probes atomic.Int32
	prober := proberFunc(func(context.Context) (stability.Metrics, error) {
		if probes.Add(1) == 1 {
			return stability.Metrics{DOMStable: true, NetworkIdle: true, NoLoaders: true, Score: 0.5}, nil
		}
		return stability.Metrics{DOMStable: true, NetworkIdle: true, NoLoaders: true, Score: 0.95}, nil
	})

	engine := New(prober, fastWaitConfig())
	res := engine.Wait(testutil.TestContext(t), Condition{}, time.Second)
	assert.Equal(t, OutcomeStable, res.Outcome)
	assert.Equal(t, 2, res.Polls)
	assert.Equal(t, engine.DefaultCondition().Name, res.Condition)

	custom := New(prober, fastWaitConfig(), WithDefaultCondition(DomStable()))
	res = custom.Wait(testutil.TestContext(t), Condition{}, time.Second)
	assert.Equal(t, "dom_stable", res.Condition)
	assert.Equal(t, 1, res.Polls)
}

func appendSamples(t *testing.T, store *mocks.MockHistoryStore, samples []types.HistoricalSample) {
	t.Helper()
	ctx := testutil.TestContext(t)
	for _, s := range samples {
		require.NoError(t, store.Append(ctx, s))
	}
}

func TestCalculateOptimalTimeout_Percentile(t *testing.T) {
	store := mocks.NewMockHistoryStore(100)
	appendSamples(t, store, testutil.Samples(types.WaitKey("login"), types.SampleWait, 2000, 2200, 1900, 2100, 2050))

	cfg := config.DefaultWaitConfig()
	engine := New(nil, cfg, WithHistoryStore(store))

	timeout := engine.CalculateOptimalTimeout(testutil.TestContext(t), "login")
	p95 := 2200 * time.Millisecond
	assert.GreaterOrEqual(t, timeout, time.Duration(float64(p95)*cfg.SafetyFactor))
	assert.Less(t, timeout, cfg.DefaultTimeout)
}

func TestCalculateOptimalTimeout_Fallbacks(t *testing.T) {
	cfg := config.DefaultWaitConfig()
	ctx := testutil.TestContext(t)

	t.Run("no store", func(t *testing.T) {
		assert.Equal(t, cfg.DefaultTimeout, New(nil, cfg).CalculateOptimalTimeout(ctx, "login"))
	})

	t.Run("too few samples", func(t *testing.T) {
		store := mocks.NewMockHistoryStore(100)
		appendSamples(t, store, testutil.Samples(types.WaitKey("login"), types.SampleWait, 2000, 2100, 2200, 2300))
		engine := New(nil, cfg, WithHistoryStore(store))
		assert.Equal(t, cfg.DefaultTimeout, engine.CalculateOptimalTimeout(ctx, "login"))
	})

	t.Run("failures ignored", func(t *testing.T) {
		store := mocks.NewMockHistoryStore(100)
		samples := testutil.Samples(types.WaitKey("login"), types.SampleWait, 2000, 2100, 2200, 2300, 2400)
		samples[4].Success = false
		appendSamples(t, store, samples)
		engine := New(nil, cfg, WithHistoryStore(store))
		assert.Equal(t, cfg.DefaultTimeout, engine.CalculateOptimalTimeout(ctx, "login"))
	})

	t.Run("query error", func(t *testing.T) {
		store := mocks.NewMockHistoryStore(100).WithQueryError(errors.New("connection refused"))
		engine := New(nil, cfg, WithHistoryStore(store))
		assert.Equal(t, cfg.DefaultTimeout, engine.CalculateOptimalTimeout(ctx, "login"))
	})

	t.Run("other actions do not count", func(t *testing.T) {
		store := mocks.NewMockHistoryStore(100)
		appendSamples(t, store, testutil.Samples(types.WaitKey("search"), types.SampleWait, 100, 100, 100, 100, 100))
		engine := New(nil, cfg, WithHistoryStore(store))
		assert.Equal(t, cfg.DefaultTimeout, engine.CalculateOptimalTimeout(ctx, "login"))
	})
}

func TestCalculateOptimalTimeout_Clamped(t *testing.T) {
	cfg := config.DefaultWaitConfig()
	ctx := testutil.TestContext(t)

	fast := mocks.NewMockHistoryStore(100)
	appendSamples(t, fast, testutil.Samples(types.WaitKey("click"), types.SampleWait, 50, 60, 40, 55, 45))
	assert.Equal(t, cfg.MinTimeout, New(nil, cfg, WithHistoryStore(fast)).CalculateOptimalTimeout(ctx, "click"))

	slow := mocks.NewMockHistoryStore(100)
	appendSamples(t, slow, testutil.Samples(types.WaitKey("report"), types.SampleWait, 90000, 95000, 80000, 85000, 99000))
	assert.Equal(t, cfg.MaxTimeout, New(nil, cfg, WithHistoryStore(slow)).CalculateOptimalTimeout(ctx, "report"))
}

func TestCalculateOptimalTimeout_WithinBounds(t *testing.T) {
	cfg := config.DefaultWaitConfig()
	rapid.Check(t, func(t *rapid.T) {
		store := mocks.NewMockHistoryStore(100)
		millis := rapid.SliceOfN(rapid.IntRange(1, 120000), 0, 30).Draw(t, "millis")
		for _, s := range testutil.Samples(types.WaitKey("act"), types.SampleWait, millis...) {
			if err := store.Append(context.Background(), s); err != nil {
				t.Fatal(err)
			}
		}
		got := New(nil, cfg, WithHistoryStore(store)).CalculateOptimalTimeout(context.Background(), "act")

		if len(millis) < cfg.MinSamples {
			if got != cfg.DefaultTimeout {
				t.Fatalf("expected default timeout with %d samples, got %v", len(millis), got)
			}
			return
		}
		if got < cfg.MinTimeout || got > cfg.MaxTimeout {
			t.Fatalf("timeout %v outside [%v, %v]", got, cfg.MinTimeout, cfg.MaxTimeout)
		}
	})
}

func TestRecordWaitTime(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := mocks.NewMockHistoryStore(100)
	engine := New(nil, config.DefaultWaitConfig(), WithHistoryStore(store))

	for _, ms := range []int{2000, 2200, 1900, 2100, 2050} {
		require.NoError(t, engine.RecordWaitTime(ctx, "login", time.Duration(ms)*time.Millisecond, true))
	}
	require.NoError(t, engine.RecordWaitTime(ctx, "login", 50*time.Second, false))

	appended := store.AppendedKind(types.SampleWait)
	require.Len(t, appended, 6)
	assert.Equal(t, types.WaitKey("login"), appended[0].Key)
	assert.False(t, appended[5].Success)

	assert.Equal(t, 2860*time.Millisecond, engine.CalculateOptimalTimeout(ctx, "login"))

	failing := New(nil, config.DefaultWaitConfig(),
		WithHistoryStore(mocks.NewMockHistoryStore(10).WithAppendError(errors.New("disk full"))))
	err := failing.RecordWaitTime(ctx, "login", time.Second, true)
	require.Error(t, err)
	assert.Equal(t, types.ErrStore, types.GetErrorCode(err))

	assert.NoError(t, New(nil, config.DefaultWaitConfig()).RecordWaitTime(ctx, "login", time.Second, true))
}
