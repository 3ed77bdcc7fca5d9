package cache

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// InvalidationChannel is the Redis Pub/Sub channel used for cache
	// invalidation signals. PublishInvalidation sends a cache key on
	// this channel (an operational override; TTL expiry already handles
	// the common case), and every subscribed instance deletes that key
	// from its local L1 cache without waiting for TTL expiry.
	// artifactcache.Coordinator.Invalidate does not publish here; it
	// evicts only from its own instance and the backing cache.
	InvalidationChannel = "lambda:cache:invalidate"
)

// CacheInvalidator listens for invalidation signals over Redis Pub/Sub
// and evicts the corresponding keys from a local cache (typically the
// L1 in-memory cache in a tiered setup).
type CacheInvalidator struct {
	local  Cache
	client *redis.Client
	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewCacheInvalidator creates a cache invalidator that subscribes to Redis
// Pub/Sub and invalidates keys in the local cache when signals arrive.
func NewCacheInvalidator(local Cache, client *redis.Client) *CacheInvalidator {
	return &CacheInvalidator{
		local:  local,
		client: client,
	}
}

// Start begins listening for invalidation signals. It blocks until the
// context is cancelled or Close is called.
func (ci *CacheInvalidator) Start(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	ci.mu.Lock()
	ci.cancel = cancel
	ci.mu.Unlock()

	pubsub := ci.client.Subscribe(subCtx, InvalidationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_ = ci.local.Delete(subCtx, msg.Payload)
		}
	}
}

// PublishInvalidation publishes a cache invalidation signal for the given key.
func (ci *CacheInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	return ci.client.Publish(ctx, InvalidationChannel, key).Err()
}

// Close stops the invalidation listener.
func (ci *CacheInvalidator) Close() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.closed {
		return nil
	}
	ci.closed = true
	if ci.cancel != nil {
		ci.cancel()
	}
	return nil
}
