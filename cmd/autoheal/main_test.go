package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/autoheal/agent/stability"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/types"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{name: "json debug", cfg: config.LogConfig{Level: "debug", Format: "json"}, level: zapcore.DebugLevel},
		{name: "console warn", cfg: config.LogConfig{Level: "warn", Format: "console"}, level: zapcore.WarnLevel},
		{name: "unknown level", cfg: config.LogConfig{Level: "loud"}, level: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := initLogger(tt.cfg)
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.level))
			assert.False(t, logger.Core().Enabled(tt.level-1))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "autoheal "+Version)
	assert.Contains(t, out.String(), "Git Commit")
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"run", "heal", "wait", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestLoadConfig_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AUTOHEAL_EXECUTION_MAX_RETRIES=5\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("AUTOHEAL_EXECUTION_MAX_RETRIES") })

	cfg, err := loadConfig(&globalFlags{envFile: envFile, logLevel: "debug", metrics: true})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Execution.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfig_MissingEnvFileIsIgnored(t *testing.T) {
	cfg, err := loadConfig(&globalFlags{envFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Execution.MaxRetries, cfg.Execution.MaxRetries)
}

func TestLoadConfig_InvalidYAMLValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoheal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  max_retries: 0\n"), 0o600))

	_, err := loadConfig(&globalFlags{configPath: path})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestRunFlags_Invocation(t *testing.T) {
	f := &runFlags{
		url:          "https://app.example.test/login",
		action:       "type",
		selector:     "#email",
		value:        "user@example.test",
		expectedText: "Email",
		params:       map[string]string{"delay": "20ms"},
	}
	inv := f.invocation()
	assert.Equal(t, "type", inv.Action)
	assert.Equal(t, "#email", inv.Selector)
	assert.Equal(t, "user@example.test", inv.StringParam("value"))
	assert.Equal(t, "Email", inv.StringParam("expected_text"))
	assert.Equal(t, "https://app.example.test/login", inv.StringParam("url"))
	assert.Equal(t, "20ms", inv.StringParam("delay"))
}

func TestParseConditions(t *testing.T) {
	cond, err := parseConditions(nil, 0.9)
	require.NoError(t, err)
	assert.Nil(t, cond.Met)

	cond, err = parseConditions([]string{"dom"}, 0.9)
	require.NoError(t, err)
	assert.Equal(t, "dom_stable", cond.Name)

	cond, err = parseConditions([]string{"dom", " Network "}, 0.9)
	require.NoError(t, err)
	assert.True(t, cond.Met(stability.Metrics{DOMStable: true, NetworkIdle: true}))
	assert.False(t, cond.Met(stability.Metrics{DOMStable: true}))

	_, err = parseConditions([]string{"dom", "vibes"}, 0.9)
	assert.ErrorContains(t, err, "vibes")
}

type fixedMetrics struct {
	m  stability.Metrics
	ok bool
}

func (f fixedMetrics) LatestMetrics() (stability.Metrics, bool) { return f.m, f.ok }

func TestObservabilityHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)

	get := func(h http.Handler, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	h := observabilityHandler(fixedMetrics{}, logger)
	w := get(h, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/stability").Code)
	assert.Equal(t, http.StatusOK, get(h, "/metrics").Code)

	h = observabilityHandler(fixedMetrics{m: stability.Metrics{Score: 0.95, DOMStable: true, CollectedAt: time.Now()}, ok: true}, logger)
	w = get(h, "/stability")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0.95")
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := Chain(panicking, Recovery(zap.NewNop()), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
}
