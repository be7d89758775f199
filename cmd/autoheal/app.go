package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/BaSui01/autoheal"
	"github.com/BaSui01/autoheal/agent/browser"
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/BaSui01/autoheal/internal/server"
	"github.com/BaSui01/autoheal/internal/telemetry"
	"github.com/BaSui01/autoheal/llm"
)

// =============================================================================
// 🧩 运行时装配
// =============================================================================

// app 持有一次命令执行所需的全部资源
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	browser   browser.Browser
	engine    *autoheal.Engine
	otel      *telemetry.Providers
	observe   *server.Manager
	collector *metrics.Collector
}

// loadConfig 依次加载 .env、YAML 与环境变量并校验
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", flags.envFile, err)
		}
	}

	loader := config.NewLoader()
	if flags.configPath != "" {
		loader = loader.WithConfigPath(flags.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.metrics {
		cfg.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp 打开浏览器并装配引擎；失败时释放已获取的资源
func newApp(flags *globalFlags) (a *app, err error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger := initLogger(cfg.Log)
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("starting autoheal",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("driver", cfg.Browser.Driver),
	)

	a.otel, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		err = nil
	}

	opts := []autoheal.Option{
		autoheal.WithLogger(logger),
		autoheal.WithTracerProvider(a.otel.TracerProvider()),
	}
	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		opts = append(opts, autoheal.WithMetrics(a.collector))
	}
	if cfg.Healing.EnableLLM {
		if cfg.LLM.APIKey == "" {
			logger.Warn("healing.enable_llm is set but llm.api_key is empty, LLM strategy disabled")
		} else {
			opts = append(opts, autoheal.WithCompleter(llm.NewFromConfig(cfg.LLM, nil, a.collector, logger), nil))
		}
	}

	a.browser, err = browser.New(cfg.Browser, logger)
	if err != nil {
		return a, fmt.Errorf("open browser: %w", err)
	}

	a.engine, err = autoheal.New(cfg, a.browser, opts...)
	if err != nil {
		return a, err
	}

	if cfg.Metrics.Enabled {
		a.observe = server.NewManager(observabilityHandler(a.engine, logger), server.ConfigFromMetrics(cfg.Metrics), logger)
		if err = a.observe.Start(); err != nil {
			return a, fmt.Errorf("start observability server: %w", err)
		}
	}
	return a, nil
}

// Close 按获取的逆序释放资源
func (a *app) Close() {
	ctx := context.Background()
	if a.observe != nil {
		if err := a.observe.Shutdown(ctx); err != nil {
			a.logger.Error("observability server shutdown error", zap.Error(err))
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Error("engine close error", zap.Error(err))
		}
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Error("browser close error", zap.Error(err))
		}
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Error("telemetry shutdown error", zap.Error(err))
	}
	_ = a.logger.Sync()
}
