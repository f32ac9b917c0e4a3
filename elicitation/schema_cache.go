package elicitation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lighthouse/bridge/core"
)

// SchemaCache caches the JSON Schema documents elicitation requests declare
// in their schema field (spec §4.2 Open Question #3), keyed by agent role
// and elicitation type. Manager does not consult it; it validates accept
// data against the schema stored on the request itself.
type SchemaCache interface {
	// Get retrieves a cached schema for a given elicitation type issued by
	// a given agent role. Returns the schema and true if found.
	Get(ctx context.Context, agentRole, elicitationType string) (map[string]interface{}, bool)

	// Set stores a schema in the cache.
	Set(ctx context.Context, agentRole, elicitationType string, schema map[string]interface{}) error

	// Stats returns cache performance counters for monitoring.
	Stats() map[string]interface{}
}

// RedisSchemaCache is a Redis-backed SchemaCache, shared across every
// elicitation.Manager instance in a multi-process deployment.
type RedisSchemaCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	hits   int64
	misses int64
}

// SchemaCacheOption customizes a RedisSchemaCache.
type SchemaCacheOption func(*RedisSchemaCache)

// WithTTL sets the TTL for cached schemas. Default core.DefaultSchemaCacheTTL.
func WithTTL(ttl time.Duration) SchemaCacheOption {
	return func(c *RedisSchemaCache) { c.ttl = ttl }
}

// WithPrefix sets the Redis key prefix. Default "lighthouse:schema:".
func WithPrefix(prefix string) SchemaCacheOption {
	return func(c *RedisSchemaCache) { c.prefix = prefix }
}

// NewSchemaCache creates a Redis-backed schema cache.
func NewSchemaCache(redisClient *redis.Client, opts ...SchemaCacheOption) SchemaCache {
	cache := &RedisSchemaCache{
		client: redisClient,
		ttl:    core.DefaultSchemaCacheTTL,
		prefix: "lighthouse:schema:",
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

func (c *RedisSchemaCache) key(agentRole, elicitationType string) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, agentRole, elicitationType)
}

func (c *RedisSchemaCache) Get(ctx context.Context, agentRole, elicitationType string) (map[string]interface{}, bool) {
	val, err := c.client.Get(ctx, c.key(agentRole, elicitationType)).Result()
	if err != nil {
		// Redis.Nil (miss) and any connectivity error both degrade to a
		// cache miss — the caller falls back to validating the schema
		// itself, so a cache outage costs latency, not correctness.
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(val), &schema); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return schema, true
}

func (c *RedisSchemaCache) Set(ctx context.Context, agentRole, elicitationType string, schema map[string]interface{}) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := c.client.Set(ctx, c.key(agentRole, elicitationType), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set schema in redis: %w", err)
	}
	return nil
}

func (c *RedisSchemaCache) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses

	stats := map[string]interface{}{
		"hits":          hits,
		"misses":        misses,
		"total_lookups": total,
	}
	if total > 0 {
		stats["hit_rate"] = float64(hits) / float64(total)
	}
	return stats
}
