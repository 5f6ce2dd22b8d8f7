package secretary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores raw provider responses keyed by prompt digest.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time // zero → never
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// RedisConfig holds connection settings for RedisCache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RedisCache stores responses in Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return connectRedis(ctx, client, cfg.Prefix)
}

func connectRedis(ctx context.Context, client *redis.Client, prefix string) (*RedisCache, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisCacheFromClient(client, prefix), nil
}

// NewRedisCacheFromURL parses a redis:// or rediss:// URL. Every option the
// URL carries is kept, TLS and username included.
func NewRedisCacheFromURL(ctx context.Context, rawURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return connectRedis(ctx, redis.NewClient(opts), "")
}

// NewRedisCacheFromClient uses an existing client. prefix defaults to "secretary:".
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "secretary:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

// CachedProvider answers repeated prompts from a Cache. Prompts compile
// deterministically, so equal model, schema, instructions and input hit the
// same key.
type CachedProvider struct {
	next  Provider
	cache Cache
	ttl   time.Duration
	model string
	log   *slog.Logger
}

// cachedChat is returned for a ChatProvider so history keeps travelling as
// messages; a plain provider stays plain and gets history folded upstream.
type cachedChat struct {
	*CachedProvider
	chat ChatProvider
}

// NewCachedProvider wraps next. A zero ttl keeps entries forever. The result
// implements ChatProvider exactly when next does.
func NewCachedProvider(next Provider, cache Cache, ttl time.Duration, log *slog.Logger) Provider {
	if log == nil {
		log = slog.Default()
	}
	c := &CachedProvider{next: next, cache: cache, ttl: ttl, model: modelOf(next), log: log}
	if cp, ok := next.(ChatProvider); ok {
		return &cachedChat{CachedProvider: c, chat: cp}
	}
	return c
}

// Model is the wrapped provider's model name, or "".
func (c *CachedProvider) Model() string { return c.model }

// CacheKey digests the model, the mode and every message of a call.
func CacheKey(model string, mode Mode, messages []Message) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", model, mode)
	for _, m := range messages {
		fmt.Fprintf(h, "%s\x00%s\x00", m.Role, m.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachedProvider) Send(ctx context.Context, systemPrompt, input string) (string, error) {
	msgs := []Message{{Role: RoleSystem, Content: systemPrompt}, {Role: RoleUser, Content: input}}
	return c.cached(ctx, msgs, func() (string, error) { return c.next.Send(ctx, systemPrompt, input) })
}

func (c *cachedChat) SendMessages(ctx context.Context, messages []Message) (string, error) {
	return c.cached(ctx, messages, func() (string, error) { return c.chat.SendMessages(ctx, messages) })
}

func (c *CachedProvider) cached(ctx context.Context, msgs []Message, call func() (string, error)) (string, error) {
	key := CacheKey(c.model, ModeFromContext(ctx), msgs)
	if v, err := c.cache.Get(ctx, key); err == nil {
		c.log.Debug("Cache hit", "key", key[:12], "field", FieldFromContext(ctx))
		return v, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("Cache read failed", "error", err)
	}
	out, err := call()
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.log.Warn("Cache write failed", "error", err)
	}
	return out, nil
}
