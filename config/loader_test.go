// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/autoheal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3, cfg.Execution.MaxRetries)
	assert.Equal(t, "memory", cfg.History.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "autoheal.yaml")

	yamlContent := `
execution:
  max_retries: 5
  initial_delay: 200ms
  max_delay: 5s
  use_jitter: false

healing:
  confidence_threshold: 0.8
  weights:
    text: 0.5

wait:
  poll_interval: 50ms
  safety_factor: 1.5

history:
  backend: redis
  window_size: 50
  redis:
    addr: "redis.example.com:6379"
    db: 2

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Execution.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Execution.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.Execution.MaxDelay)
	assert.False(t, cfg.Execution.UseJitter)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 2.0, cfg.Execution.BackoffMultiplier)

	assert.Equal(t, 0.8, cfg.Healing.ConfidenceThreshold)
	assert.Equal(t, 0.5, cfg.Healing.Weights.Text)
	assert.Equal(t, 0.3, cfg.Healing.Weights.Visual)

	assert.Equal(t, 50*time.Millisecond, cfg.Wait.PollInterval)
	assert.Equal(t, 1.5, cfg.Wait.SafetyFactor)

	assert.Equal(t, "redis", cfg.History.Backend)
	assert.Equal(t, 50, cfg.History.WindowSize)
	assert.Equal(t, "redis.example.com:6379", cfg.History.Redis.Addr)
	assert.Equal(t, 2, cfg.History.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AUTOHEAL_EXECUTION_MAX_RETRIES", "7")
	t.Setenv("AUTOHEAL_EXECUTION_USE_JITTER", "false")
	t.Setenv("AUTOHEAL_WAIT_POLL_INTERVAL", "250ms")
	t.Setenv("AUTOHEAL_HEALING_WEIGHTS_ARIA", "0.4")
	t.Setenv("AUTOHEAL_STABILITY_LOADER_SELECTORS", ".spin, .wait")
	t.Setenv("AUTOHEAL_HISTORY_REDIS_ADDR", "cache:6379")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Execution.MaxRetries)
	assert.False(t, cfg.Execution.UseJitter)
	assert.Equal(t, 250*time.Millisecond, cfg.Wait.PollInterval)
	assert.Equal(t, 0.4, cfg.Healing.Weights.Aria)
	assert.Equal(t, []string{".spin", ".wait"}, cfg.Stability.LoaderSelectors)
	assert.Equal(t, "cache:6379", cfg.History.Redis.Addr)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "autoheal.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("execution:\n  max_retries: 4\n"), 0644))

	t.Setenv("AUTOHEAL_EXECUTION_MAX_RETRIES", "9")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Execution.MaxRetries)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_EXECUTION_MAX_RETRIES", "6")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Execution.MaxRetries)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("AUTOHEAL_BROWSER_DRIVER", "playwright")

	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Browser.Driver == "playwright" && c.Browser.StartURL == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/autoheal.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Execution.MaxRetries)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("execution: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AUTOHEAL_EXECUTION_MAX_RETRIES", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOHEAL_EXECUTION_MAX_RETRIES")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero retries", func(c *Config) { c.Execution.MaxRetries = 0 }, "max_retries"},
		{"zero initial delay", func(c *Config) { c.Execution.InitialDelay = 0 }, "initial_delay"},
		{"max below initial", func(c *Config) { c.Execution.MaxDelay = time.Millisecond }, "max_delay"},
		{"shrinking multiplier", func(c *Config) { c.Execution.BackoffMultiplier = 0.5 }, "backoff_multiplier"},
		{"threshold zero", func(c *Config) { c.Healing.ConfidenceThreshold = 0 }, "confidence_threshold"},
		{"threshold above one", func(c *Config) { c.Healing.ConfidenceThreshold = 1.1 }, "confidence_threshold"},
		{"negative weight", func(c *Config) { c.Healing.Weights.Visual = -0.1 }, "weights"},
		{"zero weights", func(c *Config) { c.Healing.Weights = HealingWeights{} }, "positive sum"},
		{"zero poll", func(c *Config) { c.Wait.PollInterval = 0 }, "poll_interval"},
		{"zero max wait", func(c *Config) { c.Wait.DefaultMaxWait = 0 }, "default_max_wait"},
		{"inverted bounds", func(c *Config) { c.Wait.MinTimeout = 2 * c.Wait.MaxTimeout }, "min_timeout"},
		{"small safety factor", func(c *Config) { c.Wait.SafetyFactor = 0.9 }, "safety_factor"},
		{"zero window", func(c *Config) { c.History.WindowSize = 0 }, "window_size"},
		{"unknown backend", func(c *Config) { c.History.Backend = "etcd" }, "history.backend"},
		{"unknown driver", func(c *Config) { c.Browser.Driver = "selenium" }, "browser.driver"},
		{"valid", func(c *Config) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name:   "postgres",
			config: DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "u", Password: "p", Name: "db", SSLMode: "disable"},
			want:   "host=localhost port=5432 user=u password=p dbname=db sslmode=disable",
		},
		{
			name:   "mysql",
			config: DatabaseConfig{Driver: "mysql", Host: "localhost", Port: 3306, User: "root", Password: "pass", Name: "mydb"},
			want:   "root:pass@tcp(localhost:3306)/mydb?parseTime=true",
		},
		{
			name:   "sqlite",
			config: DatabaseConfig{Driver: "sqlite", Name: "/tmp/test.db"},
			want:   "/tmp/test.db",
		},
		{
			name:   "unknown driver",
			config: DatabaseConfig{Driver: "oracle"},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{{invalid"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
