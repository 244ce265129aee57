package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/fieldadmin/model"
)

// Cache holds the last server-confirmed read of each data model, keyed by
// the caller's tenant scope. It never holds state the remote API has not
// returned.
type Cache interface {
	Get(ctx context.Context, scope, id string) (model.DataModel, bool, error)
	// FieldOwner returns the id of the model a cached field belongs to.
	FieldOwner(ctx context.Context, scope, fieldID string) (string, bool, error)
	Put(ctx context.Context, scope string, m model.DataModel) error
	Delete(ctx context.Context, scope, id string) error
	Ping(ctx context.Context) error
}

// ScopeOf returns the cache scope of a caller. A caller keyed by session id
// shares no cached model with the tenant it claims.
func ScopeOf(rctx *model.RequestContext) string {
	if rctx != nil && rctx.SessionID != "" {
		return "session-" + rctx.SessionID
	}
	return rctx.Scope()
}

func modelKey(scope, id string) string {
	return fmt.Sprintf("schema:%s:model:%s", scope, id)
}

func fieldKey(scope, fieldID string) string {
	return fmt.Sprintf("schema:%s:field:%s", scope, fieldID)
}

// --- MemoryCache ---

type modelEntry struct {
	model     model.DataModel
	expiresAt time.Time
}

type ownerEntry struct {
	modelID   string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with a TTL and an entry bound.
type MemoryCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu     sync.RWMutex
	models map[string]modelEntry
	owners map[string]ownerEntry
}

// NewMemoryCache creates a MemoryCache.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		models:     make(map[string]modelEntry),
		owners:     make(map[string]ownerEntry),
	}
}

// Get returns the cached model if present and not expired.
func (c *MemoryCache) Get(_ context.Context, scope, id string) (model.DataModel, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.models[modelKey(scope, id)]
	if !ok || c.now().After(entry.expiresAt) {
		return model.DataModel{}, false, nil
	}
	return cloneModel(entry.model), true, nil
}

// FieldOwner returns the owning model id of a cached field.
func (c *MemoryCache) FieldOwner(_ context.Context, scope, fieldID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.owners[fieldKey(scope, fieldID)]
	if !ok || c.now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.modelID, true, nil
}

// Put stores m, replacing any earlier read of the same model.
func (c *MemoryCache) Put(_ context.Context, scope string, m model.DataModel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := modelKey(scope, m.ID)
	if _, exists := c.models[key]; !exists && len(c.models) >= c.maxEntries {
		c.evict()
	}
	c.dropOwners(scope, key)

	expiresAt := c.now().Add(c.ttl)
	c.models[key] = modelEntry{model: cloneModel(m), expiresAt: expiresAt}
	for _, f := range m.Fields {
		c.owners[fieldKey(scope, f.ID)] = ownerEntry{modelID: m.ID, expiresAt: expiresAt}
	}
	return nil
}

// Delete forgets a model and its fields.
func (c *MemoryCache) Delete(_ context.Context, scope, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := modelKey(scope, id)
	c.dropOwners(scope, key)
	delete(c.models, key)
	return nil
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error {
	return nil
}

// Len returns the number of cached models. For testing.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

// dropOwners removes field entries of the model cached at key. Must be
// called with mu held.
func (c *MemoryCache) dropOwners(scope, key string) {
	prev, ok := c.models[key]
	if !ok {
		return
	}
	for _, f := range prev.model.Fields {
		delete(c.owners, fieldKey(scope, f.ID))
	}
}

// evict removes expired entries, then the entry closest to expiry if the
// cache is still full. Must be called with mu held.
func (c *MemoryCache) evict() {
	now := c.now()
	for k, v := range c.models {
		if now.After(v.expiresAt) {
			delete(c.models, k)
		}
	}
	for k, v := range c.owners {
		if now.After(v.expiresAt) {
			delete(c.owners, k)
		}
	}
	if len(c.models) < c.maxEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	for k, v := range c.models {
		if oldestKey == "" || v.expiresAt.Before(oldest) {
			oldestKey, oldest = k, v.expiresAt
		}
	}
	delete(c.models, oldestKey)
}

func cloneModel(m model.DataModel) model.DataModel {
	out := m
	out.Settings = model.CloneDocument(m.Settings)
	out.Fields = make([]model.DataModelField, len(m.Fields))
	for i, f := range m.Fields {
		f.Validations = model.CloneDocument(f.Validations)
		f.Settings = model.CloneDocument(f.Settings)
		out.Fields[i] = f
	}
	return out
}

// --- RedisCache ---

// RedisCache is a Redis-backed Cache shared between admin BFF replicas.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a Redis-backed cache. Keys are namespaced by prefix.
func NewRedisCache(client redis.Cmdable, ttl time.Duration, prefix string) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if prefix == "" {
		prefix = "fieldadmin"
	}
	return &RedisCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

// Get returns the cached model if present.
func (c *RedisCache) Get(ctx context.Context, scope, id string) (model.DataModel, bool, error) {
	key := c.key(modelKey(scope, id))
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return model.DataModel{}, false, nil
	}
	if err != nil {
		return model.DataModel{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var m model.DataModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.DataModel{}, false, fmt.Errorf("unmarshal cached model %q: %w", key, err)
	}
	return m, true, nil
}

// FieldOwner returns the owning model id of a cached field.
func (c *RedisCache) FieldOwner(ctx context.Context, scope, fieldID string) (string, bool, error) {
	key := c.key(fieldKey(scope, fieldID))
	id, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return id, true, nil
}

// Put stores m and an owner entry per field in one pipeline. Owner entries
// of fields removed since the previous read expire on their own; readers
// confirm ownership against the cached model.
func (c *RedisCache) Put(ctx context.Context, scope string, m model.DataModel) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model %q: %w", m.ID, err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(modelKey(scope, m.ID)), data, c.ttl)
		for _, f := range m.Fields {
			pipe.Set(ctx, c.key(fieldKey(scope, f.ID)), m.ID, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put model %q: %w", m.ID, err)
	}
	return nil
}

// Delete forgets a model.
func (c *RedisCache) Delete(ctx context.Context, scope, id string) error {
	key := c.key(modelKey(scope, id))
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
