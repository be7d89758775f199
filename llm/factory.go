package llm

import (
	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewFromConfig builds the OpenAI completer, wrapped in a cache when
// cfg.CacheSize > 0. rdb adds a shared cache level and may be nil.
func NewFromConfig(cfg config.LLMConfig, rdb redis.UniversalClient, collector *metrics.Collector, logger *zap.Logger) Completer {
	var c Completer = NewOpenAICompleter(cfg, collector, logger)
	if cfg.CacheSize > 0 {
		cacheCfg := DefaultCacheConfig()
		cacheCfg.LocalMaxSize = cfg.CacheSize
		cacheCfg.TTL = cfg.CacheTTL
		c = NewCachedCompleter(c, rdb, cacheCfg, logger)
	}
	return c
}
