// =============================================================================
// 📦 autoheal 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Execution: DefaultExecutionConfig(),
		Recovery:  DefaultRecoveryConfig(),
		Healing:   DefaultHealingConfig(),
		Stability: DefaultStabilityConfig(),
		Wait:      DefaultWaitConfig(),
		History:   DefaultHistoryConfig(),
		Browser:   DefaultBrowserConfig(),
		LLM:       DefaultLLMConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultExecutionConfig 返回默认执行配置
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxRetries:          3,
		InitialDelay:        500 * time.Millisecond,
		MaxDelay:            10 * time.Second,
		BackoffMultiplier:   2.0,
		UseJitter:           true,
		ActionTimeout:       30 * time.Second,
		AdaptiveTimeout:     true,
		LandmarkScreenshots: true,
	}
}

// DefaultRecoveryConfig 返回默认恢复配置
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts:       1,
		ActionTimeout:     15 * time.Second,
		WaitAndRetryDelay: time.Second,
		StabilityWait:     10 * time.Second,
		LearnFromHistory:  true,
	}
}

// DefaultHealingWeights 返回默认策略权重
func DefaultHealingWeights() HealingWeights {
	return HealingWeights{
		Visual:     0.3,
		Text:       0.3,
		Aria:       0.2,
		Position:   0.1,
		Attributes: 0.1,
		LLM:        0.2,
	}
}

// DefaultHealingConfig 返回默认修复配置
func DefaultHealingConfig() HealingConfig {
	return HealingConfig{
		ConfidenceThreshold: 0.75,
		Weights:             DefaultHealingWeights(),
		AgreementBonus:      0.05,
		VerifyTopK:          5,
		StrategyTimeout:     10 * time.Second,
		MinCandidateScore:   0.3,
		EnableLLM:           false,
		PromptTokenBudget:   2000,
	}
}

// DefaultStabilityWeights 返回默认稳定性权重
func DefaultStabilityWeights() StabilityWeights {
	return StabilityWeights{
		DOM:        0.3,
		Network:    0.3,
		Animations: 0.15,
		Loaders:    0.15,
		Scripts:    0.1,
	}
}

// DefaultStabilityConfig 返回默认稳定性配置
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		MonitorInterval:      time.Second,
		MutationWindow:       500 * time.Millisecond,
		MaxMutations:         0,
		NetworkIdleThreshold: 0,
		NetworkIdleDuration:  500 * time.Millisecond,
		LoaderSelectors: []string{
			".spinner", ".loader", ".loading", "[aria-busy='true']",
			"[role='progressbar']", ".skeleton",
		},
		MinScore:     0.9,
		Weights:      DefaultStabilityWeights(),
		ProbeTimeout: 2 * time.Second,
	}
}

// DefaultWaitConfig 返回默认等待配置
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		PollInterval:   100 * time.Millisecond,
		DefaultMaxWait: 10 * time.Second,
		DefaultTimeout: 30 * time.Second,
		MinTimeout:     time.Second,
		MaxTimeout:     60 * time.Second,
		MinSamples:     5,
		Percentile:     0.95,
		SafetyFactor:   1.3,
	}
}

// DefaultHistoryConfig 返回默认历史存储配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Backend:    "memory",
		WindowSize: 100,
		Dir:        "./data/history",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "autoheal:history:",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			User:            "autoheal",
			Name:            "autoheal.db",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "autoheal",
			Collection: "history",
			Timeout:    10 * time.Second,
		},
	}
}

// DefaultBrowserConfig 返回默认浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Driver:            "chromedp",
		Headless:          true,
		ViewportWidth:     1280,
		ViewportHeight:    720,
		NavigationTimeout: 30 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:            "gpt-4o-mini",
		Timeout:          15 * time.Second,
		MaxRetries:       2,
		RateLimitRPS:     2,
		RateLimitBurst:   4,
		MaxTokens:        512,
		Temperature:      0,
		Tokenizer:        "estimate",
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		CacheSize:        256,
		CacheTTL:         10 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "autoheal",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    true,
		Namespace:  "autoheal",
		ListenAddr: ":9091",
	}
}
