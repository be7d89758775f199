package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/autoheal/types"
)

var (
	historyBackends = []string{"memory", "file", "redis", "sql", "mongo"}
	browserDrivers  = []string{"chromedp", "playwright"}
	dbDrivers       = []string{"postgres", "mysql", "sqlite"}
	tokenizers      = []string{"estimate", "tiktoken"}
)

// Validate 验证配置，所有问题一次性汇总返回
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	e := c.Execution
	if e.MaxRetries < 1 {
		add("execution.max_retries must be >= 1")
	}
	if e.InitialDelay <= 0 {
		add("execution.initial_delay must be positive")
	}
	if e.MaxDelay < e.InitialDelay {
		add("execution.max_delay must be >= initial_delay")
	}
	if e.BackoffMultiplier < 1 {
		add("execution.backoff_multiplier must be >= 1")
	}
	if e.ActionTimeout <= 0 {
		add("execution.action_timeout must be positive")
	}

	r := c.Recovery
	if r.MaxAttempts < 1 {
		add("recovery.max_attempts must be >= 1")
	}
	if r.ActionTimeout <= 0 {
		add("recovery.action_timeout must be positive")
	}
	if r.WaitAndRetryDelay < 0 {
		add("recovery.wait_and_retry_delay must not be negative")
	}

	h := c.Healing
	if h.ConfidenceThreshold <= 0 || h.ConfidenceThreshold > 1 {
		add("healing.confidence_threshold must be in (0,1]")
	}
	if slices.ContainsFunc(h.Weights.values(), func(w float64) bool { return w < 0 }) {
		add("healing.weights must not be negative")
	}
	if h.Weights.Sum() <= 0 {
		add("healing.weights must have a positive sum")
	}
	if h.AgreementBonus < 0 || h.AgreementBonus > 1 {
		add("healing.agreement_bonus must be in [0,1]")
	}
	if h.VerifyTopK < 1 {
		add("healing.verify_top_k must be >= 1")
	}
	if h.StrategyTimeout <= 0 {
		add("healing.strategy_timeout must be positive")
	}

	s := c.Stability
	if s.MonitorInterval <= 0 {
		add("stability.monitor_interval must be positive")
	}
	if s.MutationWindow <= 0 {
		add("stability.mutation_window must be positive")
	}
	if s.MaxMutations < 0 || s.NetworkIdleThreshold < 0 {
		add("stability thresholds must not be negative")
	}
	if s.MinScore < 0 || s.MinScore > 1 {
		add("stability.min_score must be in [0,1]")
	}
	if s.Weights.Sum() <= 0 {
		add("stability.weights must have a positive sum")
	}

	w := c.Wait
	if w.PollInterval <= 0 {
		add("wait.poll_interval must be positive")
	}
	if w.DefaultMaxWait <= 0 {
		add("wait.default_max_wait must be positive")
	}
	if w.DefaultTimeout <= 0 {
		add("wait.default_timeout must be positive")
	}
	if w.MinTimeout <= 0 || w.MinTimeout > w.MaxTimeout {
		add("wait.min_timeout must be positive and <= max_timeout")
	}
	if w.MinSamples < 1 {
		add("wait.min_samples must be >= 1")
	}
	if w.Percentile <= 0 || w.Percentile > 1 {
		add("wait.percentile must be in (0,1]")
	}
	if w.SafetyFactor < 1 {
		add("wait.safety_factor must be >= 1")
	}

	if c.History.WindowSize <= 0 {
		add("history.window_size must be positive")
	}
	if !slices.Contains(historyBackends, c.History.Backend) {
		add("history.backend must be one of %v", historyBackends)
	}
	if c.History.Backend == "sql" && !slices.Contains(dbDrivers, c.History.Database.Driver) {
		add("history.database.driver must be one of %v", dbDrivers)
	}

	if !slices.Contains(browserDrivers, c.Browser.Driver) {
		add("browser.driver must be one of %v", browserDrivers)
	}
	if !slices.Contains(tokenizers, c.LLM.Tokenizer) {
		add("llm.tokenizer must be one of %v", tokenizers)
	}
	if c.Healing.EnableLLM && c.LLM.Timeout <= 0 {
		add("llm.timeout must be positive when healing.enable_llm is set")
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig,
			"config validation errors: "+strings.Join(errs, "; "))
	}
	return nil
}
