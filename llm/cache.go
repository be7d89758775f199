package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheConfig configures the completion cache.
type CacheConfig struct {
	LocalMaxSize int           `json:"local_max_size"`
	TTL          time.Duration `json:"ttl"`
	KeyPrefix    string        `json:"key_prefix"`
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		LocalMaxSize: 256,
		TTL:          10 * time.Minute,
		KeyPrefix:    "autoheal:llm:",
	}
}

// CachedCompleter serves repeated deterministic requests from a local LRU
// and, when a Redis client is given, a shared second level.
// Only requests with temperature 0 are cached.
type CachedCompleter struct {
	next   Completer
	local  *lruCache
	redis  redis.UniversalClient
	config CacheConfig
	logger *zap.Logger
}

// NewCachedCompleter wraps next. rdb may be nil.
func NewCachedCompleter(next Completer, rdb redis.UniversalClient, config CacheConfig, logger *zap.Logger) *CachedCompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultCacheConfig()
	if config.LocalMaxSize <= 0 {
		config.LocalMaxSize = def.LocalMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	return &CachedCompleter{
		next:   next,
		local:  newLRUCache(config.LocalMaxSize, config.TTL),
		redis:  rdb,
		config: config,
		logger: logger.With(zap.String("component", "llm_cache")),
	}
}

// Complete implements Completer.
func (c *CachedCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Temperature != 0 {
		return c.next.Complete(ctx, req)
	}

	key := cacheKey(req)
	if resp, ok := c.get(ctx, key); ok {
		c.logger.Debug("completion cache hit", zap.String("key", key))
		hit := *resp
		hit.Cached = true
		return &hit, nil
	}

	resp, err := c.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, resp)
	return resp, nil
}

func (c *CachedCompleter) get(ctx context.Context, key string) (*Response, bool) {
	if resp, ok := c.local.get(key); ok {
		return resp, true
	}
	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("redis cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	c.local.set(key, &resp)
	return &resp, true
}

func (c *CachedCompleter) set(ctx context.Context, key string, resp *Response) {
	c.local.set(key, resp)
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.config.KeyPrefix+key, data, c.config.TTL).Err(); err != nil {
		c.logger.Debug("redis cache write failed", zap.Error(err))
	}
}

// cacheKey hashes every field that affects the completion.
func cacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%g\x00%s\x00%s", req.MaxTokens, req.Temperature, req.System, req.Prompt)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// =============================================================================
// LRU
// =============================================================================

type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
	now      func() time.Time
}

type lruNode struct {
	key       string
	resp      *Response
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
		now:      time.Now,
	}
}

func (c *lruCache) get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}
	c.moveToHead(node)
	return node.resp, true
}

func (c *lruCache) set(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.resp = resp
		node.expiresAt = c.now().Add(c.ttl)
		c.moveToHead(node)
		return
	}
	if len(c.items) >= c.capacity {
		c.evictTail()
	}
	node := &lruNode{key: key, resp: resp, expiresAt: c.now().Add(c.ttl)}
	c.items[key] = node
	c.addToHead(node)
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lruCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *lruCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *lruCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}
