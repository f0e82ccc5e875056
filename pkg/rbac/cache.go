package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/posalpro/posalpro/pkg/observability"
)

// DefaultCacheTTL is how long an effective permission set is cached
const DefaultCacheTTL = 5 * time.Minute

// PermissionCache stores effective permission sets by user ID
type PermissionCache interface {
	// Get returns the cached set and whether it was present
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, permissions []string) error
	Invalidate(ctx context.Context, userID string) error
}

// MemoryCache is the process-local tier: a bounded LRU with TTL expiry
type MemoryCache struct {
	cache *lru.LRU[string, []string]
}

// NewMemoryCache creates a local cache holding up to size users
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, []string](size, nil, ttl),
	}
}

func (c *MemoryCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	perms, ok := c.cache.Get(userID)
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), perms...), true, nil
}

func (c *MemoryCache) Set(ctx context.Context, userID string, permissions []string) error {
	c.cache.Add(userID, append([]string(nil), permissions...))
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, userID string) error {
	c.cache.Remove(userID)
	return nil
}

// Len returns the number of cached users
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

// RedisCache is the shared tier, visible to every instance
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a shared cache on client
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func permissionsKey(userID string) string {
	return fmt.Sprintf("rbac:perms:%s", userID)
}

func (c *RedisCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	key := permissionsKey(userID)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var perms []string
	if err := json.Unmarshal([]byte(data), &perms); err != nil {
		// Corrupt entries are dropped so the next lookup recomputes
		c.client.Del(ctx, key)
		return nil, false, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	return perms, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, permissions []string) error {
	if permissions == nil {
		permissions = []string{}
	}
	data, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return c.client.Set(ctx, permissionsKey(userID), data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, permissionsKey(userID)).Err()
}

// ErrSharedInvalidation reports that the shared tier may still hold a
// cleared entry
var ErrSharedInvalidation = errors.New("shared permission cache not cleared")

// Cache tier labels
const (
	tierLocal  = "local"
	tierShared = "shared"
)

// TieredCache is a cache-aside pair: a local front tier over a shared tier.
// Shared-tier read and write failures degrade to a miss. Shared may be nil.
type TieredCache struct {
	local   PermissionCache
	shared  PermissionCache
	logger  *observability.Logger
	metrics *observability.Metrics

	// suspect holds users whose shared entry failed to clear. Their shared
	// entry is not read until a Set or Invalidate replaces it.
	suspect sync.Map
}

// NewTieredCache creates a two-tier cache. logger and metrics may be nil.
func NewTieredCache(local, shared PermissionCache, logger *observability.Logger, metrics *observability.Metrics) *TieredCache {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &TieredCache{
		local:   local,
		shared:  shared,
		logger:  logger.WithField("component", "permission_cache"),
		metrics: metrics,
	}
}

func (c *TieredCache) record(tier string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(tier, hit)
	}
}

// Get checks the local tier, then the shared tier. A shared hit back-fills
// the local tier.
func (c *TieredCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	if perms, ok, err := c.local.Get(ctx, userID); err == nil && ok {
		c.record(tierLocal, true)
		return perms, true, nil
	}
	c.record(tierLocal, false)

	if c.shared == nil {
		return nil, false, nil
	}
	if _, stale := c.suspect.Load(userID); stale {
		c.record(tierShared, false)
		return nil, false, nil
	}

	perms, ok, err := c.shared.Get(ctx, userID)
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("shared permission cache unavailable")
		c.record(tierShared, false)
		return nil, false, nil
	}
	c.record(tierShared, ok)
	if !ok {
		return nil, false, nil
	}

	_ = c.local.Set(ctx, userID, perms)
	return perms, true, nil
}

// Set writes both tiers
func (c *TieredCache) Set(ctx context.Context, userID string, permissions []string) error {
	if err := c.local.Set(ctx, userID, permissions); err != nil {
		return err
	}
	if c.shared != nil {
		if err := c.shared.Set(ctx, userID, permissions); err != nil {
			c.logger.WithError(err).WithField("user_id", userID).Warn("failed to write shared permission cache")
			return nil
		}
		c.suspect.Delete(userID)
	}
	return nil
}

// Invalidate clears both tiers. The local tier is always cleared. A shared
// tier failure is returned as ErrSharedInvalidation because another instance
// may still serve the stale entry; this instance stops reading it.
func (c *TieredCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.local.Invalidate(ctx, userID); err != nil {
		return err
	}
	if c.shared == nil {
		return nil
	}
	if err := c.shared.Invalidate(ctx, userID); err != nil {
		c.suspect.Store(userID, struct{}{})
		return fmt.Errorf("%w: %v", ErrSharedInvalidation, err)
	}
	c.suspect.Delete(userID)
	return nil
}
