package expert

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lighthouse/bridge/core"
	"github.com/lighthouse/bridge/resilience"
)

// Registry is the directory of registered experts a coordinator matches
// delegation requests against.
type Registry interface {
	Register(ctx context.Context, e *Expert) error
	Heartbeat(ctx context.Context, expertID string, status Status) error
	Unregister(ctx context.Context, expertID string) error
	ByCapability(ctx context.Context, capability string) ([]*Expert, error)
	Get(ctx context.Context, expertID string) (*Expert, error)
	ListAll(ctx context.Context) ([]*Expert, error)
}

var ErrExpertNotFound = fmt.Errorf("expert not found")

type heartbeatStats struct {
	successCount  int64
	failureCount  int64
	lastSuccess   time.Time
	lastFailure   time.Time
	startedAt     time.Time
	lastSummaryAt time.Time
}

// RedisRegistry is a Redis-backed Registry shared across every bridge
// process that runs an Expert Coordinator, so delegation can balance load
// across experts regardless of which process registered them.
//
// It keeps a local copy of each registration so that if the Redis key
// expires out from under a still-live expert (a missed heartbeat, a Redis
// restart), the next heartbeat attempt re-registers it rather than
// requiring the expert process to notice and re-register itself.
type RedisRegistry struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger

	stateMu sync.RWMutex
	state   map[string]*Expert

	hbMu sync.RWMutex
	hb   map[string]*heartbeatStats
}

// NewRedisRegistry creates a registry under the default namespace.
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	return NewRedisRegistryWithNamespace(redisURL, "lighthouse:expert")
}

// NewRedisRegistryWithNamespace creates a registry under a custom namespace.
func NewRedisRegistryWithNamespace(redisURL, namespace string) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", core.ErrInvalidConfiguration)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 100 * time.Millisecond
	opt.MaxRetryBackoff = time.Second
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second
	opt.PoolTimeout = 10 * time.Second

	client := redis.NewClient(opt)

	pingErr := resilience.Retry(context.Background(), &resilience.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 1.5,
		JitterEnabled: true,
	}, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	})
	if pingErr != nil {
		return nil, fmt.Errorf("connect to redis after retries: %w", core.ErrConnectionFailed)
	}

	return &RedisRegistry{
		client:    client,
		namespace: namespace,
		ttl:       30 * time.Second,
		logger:    &core.NoOpLogger{},
		state:     make(map[string]*Expert),
		hb:        make(map[string]*heartbeatStats),
	}, nil
}

// SetLogger attaches a component-tagged logger.
func (r *RedisRegistry) SetLogger(logger core.Logger) {
	if logger == nil {
		r.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		r.logger = cal.WithComponent("expert")
		return
	}
	r.logger = logger
}

func (r *RedisRegistry) expertKey(id string) string      { return fmt.Sprintf("%s:experts:%s", r.namespace, id) }
func (r *RedisRegistry) capKey(capability string) string { return fmt.Sprintf("%s:capabilities:%s", r.namespace, capability) }
func (r *RedisRegistry) allKey() string                  { return fmt.Sprintf("%s:all", r.namespace) }

// Register registers an expert and indexes it by every capability it
// advertises, all inside one Redis transaction.
func (r *RedisRegistry) Register(ctx context.Context, e *Expert) error {
	if e.ID == "" {
		return core.NewFrameworkError("expert.Register", core.KindInvalidInput, fmt.Errorf("expert id required"))
	}
	if e.RegisteredAt.IsZero() {
		e.RegisteredAt = time.Now()
	}
	e.LastSeen = time.Now()

	r.storeState(e)

	pipe := r.client.TxPipeline()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal expert %s: %w", e.ID, err)
	}
	pipe.Set(ctx, r.expertKey(e.ID), data, r.ttl)
	pipe.SAdd(ctx, r.allKey(), e.ID)
	pipe.Expire(ctx, r.allKey(), r.ttl*2)

	for _, cap := range e.Capabilities {
		ck := r.capKey(cap)
		pipe.SAdd(ctx, ck, e.ID)
		pipe.Expire(ctx, ck, r.ttl*2)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewFrameworkErrorWithID("expert.Register", core.KindIO, e.ID, err)
	}

	r.logger.Info("expert registered", map[string]interface{}{
		"expert_id":    e.ID,
		"capabilities": e.Capabilities,
	})
	return nil
}

// Heartbeat refreshes an expert's TTL and status. If the expert key has
// already expired in Redis, it is re-registered from the locally cached
// state rather than dropped silently.
func (r *RedisRegistry) Heartbeat(ctx context.Context, expertID string, status Status) error {
	key := r.expertKey(expertID)

	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return r.recoverExpired(ctx, expertID)
	}
	if err != nil {
		return core.NewFrameworkErrorWithID("expert.Heartbeat", core.KindIO, expertID, err)
	}

	var e Expert
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return core.NewFrameworkErrorWithID("expert.Heartbeat", core.KindCorruption, expertID, err)
	}

	e.Status = status
	e.LastSeen = time.Now()

	updated, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal expert %s: %w", expertID, err)
	}
	if err := r.client.Set(ctx, key, updated, r.ttl).Err(); err != nil {
		return core.NewFrameworkErrorWithID("expert.Heartbeat", core.KindIO, expertID, err)
	}

	for _, cap := range e.Capabilities {
		r.client.Expire(ctx, r.capKey(cap), r.ttl*2)
	}

	r.recordHeartbeat(expertID, true)
	return nil
}

func (r *RedisRegistry) recoverExpired(ctx context.Context, expertID string) error {
	r.recordHeartbeat(expertID, false)

	stored := r.storedState(expertID)
	if stored == nil {
		return core.NewFrameworkErrorWithID("expert.Heartbeat", core.KindNotFound, expertID, ErrExpertNotFound)
	}

	jitterMs, _ := rand.Int(rand.Reader, big.NewInt(1000))
	time.Sleep(time.Duration(jitterMs.Int64()) * time.Millisecond)

	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return r.Register(ctx, stored)
	})
	if err != nil {
		r.logger.Error("failed to re-register expert after expiry", map[string]interface{}{
			"expert_id": expertID, "error": err.Error(),
		})
		return err
	}
	r.logger.Info("re-registered expert after missed heartbeat", map[string]interface{}{"expert_id": expertID})
	return nil
}

// Unregister removes an expert from the directory and its capability indexes.
func (r *RedisRegistry) Unregister(ctx context.Context, expertID string) error {
	key := r.expertKey(expertID)

	if data, err := r.client.Get(ctx, key).Result(); err == nil {
		var e Expert
		if err := json.Unmarshal([]byte(data), &e); err == nil {
			for _, cap := range e.Capabilities {
				r.client.SRem(ctx, r.capKey(cap), expertID)
			}
		}
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return core.NewFrameworkErrorWithID("expert.Unregister", core.KindIO, expertID, err)
	}
	r.client.SRem(ctx, r.allKey(), expertID)

	r.stateMu.Lock()
	delete(r.state, expertID)
	r.stateMu.Unlock()

	return nil
}

// ListAll returns every currently-registered expert. Stale index entries
// (an expert key that has expired out from under the "all" set) are
// skipped rather than surfaced, same as ByCapability.
func (r *RedisRegistry) ListAll(ctx context.Context) ([]*Expert, error) {
	ids, err := r.client.SMembers(ctx, r.allKey()).Result()
	if err != nil {
		return nil, core.NewFrameworkError("expert.ListAll", core.KindIO, err)
	}

	experts := make([]*Expert, 0, len(ids))
	for _, id := range ids {
		e, err := r.Get(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		experts = append(experts, e)
	}
	return experts, nil
}

// ByCapability returns every currently-registered expert advertising the
// given capability.
func (r *RedisRegistry) ByCapability(ctx context.Context, capability string) ([]*Expert, error) {
	ids, err := r.client.SMembers(ctx, r.capKey(capability)).Result()
	if err != nil {
		return nil, core.NewFrameworkError("expert.ByCapability", core.KindIO, err)
	}

	experts := make([]*Expert, 0, len(ids))
	for _, id := range ids {
		e, err := r.Get(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				continue // stale index entry; cleaned up lazily
			}
			return nil, err
		}
		experts = append(experts, e)
	}
	return experts, nil
}

// Get fetches a single expert by id.
func (r *RedisRegistry) Get(ctx context.Context, expertID string) (*Expert, error) {
	data, err := r.client.Get(ctx, r.expertKey(expertID)).Result()
	if err == redis.Nil {
		return nil, core.NewFrameworkErrorWithID("expert.Get", core.KindNotFound, expertID, ErrExpertNotFound)
	}
	if err != nil {
		return nil, core.NewFrameworkErrorWithID("expert.Get", core.KindIO, expertID, err)
	}

	var e Expert
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, core.NewFrameworkErrorWithID("expert.Get", core.KindCorruption, expertID, err)
	}
	return &e, nil
}

func (r *RedisRegistry) storeState(e *Expert) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	cp := *e
	cp.Capabilities = append([]string{}, e.Capabilities...)
	r.state[e.ID] = &cp
}

func (r *RedisRegistry) storedState(id string) *Expert {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	e, ok := r.state[id]
	if !ok {
		return nil
	}
	cp := *e
	cp.Capabilities = append([]string{}, e.Capabilities...)
	return &cp
}

func (r *RedisRegistry) recordHeartbeat(expertID string, success bool) {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	stats, ok := r.hb[expertID]
	if !ok {
		stats = &heartbeatStats{startedAt: time.Now(), lastSummaryAt: time.Now()}
		r.hb[expertID] = stats
	}
	if success {
		stats.successCount++
		stats.lastSuccess = time.Now()
	} else {
		stats.failureCount++
		stats.lastFailure = time.Now()
	}
}

// Close releases the underlying Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
