// Package cache is the time-boxed read cache between the facade and the
// active adapter. Reads inside the freshness window never touch the
// network; concurrent misses on one key collapse into a single in-flight
// load; writes are guarded by source timestamps so a stale in-flight
// result can never resurrect invalidated data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/paybridge/paybridge/domain"
	"github.com/paybridge/paybridge/storage"
)

// Entity kinds used in cache keys.
const (
	KindCustomer       = "customer"
	KindSubscription   = "subscription"
	KindSubscriptions  = "subscriptions"
	KindPaymentMethods = "payment_methods"
	KindCharges        = "charges"
)

const keyPrefix = "cache:"

// DefaultTTL is the freshness window applied when none is configured.
const DefaultTTL = 5 * time.Minute

// Cache wraps a Storage with freshness bookkeeping. A paired
// cache:<kind>:<key>:timestamp entry records when each value was written.
type Cache struct {
	store  storage.Storage
	ttl    time.Duration
	clock  domain.Clock
	logger *slog.Logger

	mu    sync.Mutex
	group singleflight.Group
}

// New builds a Cache over store with the given freshness window.
func New(store storage.Storage, ttl time.Duration, clock domain.Clock, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, clock: clock, logger: logger}
}

// EntryKey builds the storage key for a cached entity.
func EntryKey(kind, key string) string {
	return keyPrefix + kind + ":" + key
}

func timestampKey(kind, key string) string {
	return EntryKey(kind, key) + ":timestamp"
}

// Get reads a fresh entry into out. It returns false on a missing, stale or
// corrupted entry; a corrupted entry is removed rather than surfaced as an
// error.
func (c *Cache) Get(kind, key string, out any) (bool, error) {
	ts, err := c.store.GetInt(timestampKey(kind, key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache timestamp read: %w", err)
	}
	if c.clock.Now().Sub(time.Unix(0, ts)) > c.ttl {
		return false, nil
	}
	err = c.store.GetObject(EntryKey(kind, key), out, json.Unmarshal)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		// Corrupted persisted entry: treat as a miss and drop it so the
		// next read repopulates instead of failing again.
		c.logger.Warn("removing corrupted cache entry", "kind", kind, "key", key, "err", err)
		c.Invalidate(kind, key)
		return false, nil
	}
	return true, nil
}

// GetAny reads an entry regardless of freshness. The webhook engine merges
// event patches onto whatever copy exists, fresh or not.
func (c *Cache) GetAny(kind, key string, out any) (bool, error) {
	err := c.store.GetObject(EntryKey(kind, key), out, json.Unmarshal)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		c.logger.Warn("removing corrupted cache entry", "kind", kind, "key", key, "err", err)
		c.Invalidate(kind, key)
		return false, nil
	}
	return true, nil
}

// Put stores value under kind/key stamped with sourceTime. A write whose
// source is older than the current entry's timestamp is discarded: it is
// the result of a call that raced an invalidation or a newer write.
func (c *Cache) Put(kind, key string, value any, sourceTime time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, err := c.store.GetInt(timestampKey(kind, key))
	if err == nil && current > sourceTime.UnixNano() {
		c.logger.Debug("discarding stale cache write", "kind", kind, "key", key)
		return nil
	}
	if err := c.store.SetObject(EntryKey(kind, key), value, marshalAny); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	if err := c.store.SetInt(timestampKey(kind, key), sourceTime.UnixNano()); err != nil {
		return fmt.Errorf("cache timestamp write: %w", err)
	}
	return nil
}

func marshalAny(v any) ([]byte, error) { return json.Marshal(v) }

// GetOrLoad returns the cached entry when fresh, otherwise runs load and
// caches the result. Concurrent misses on the same key share a single
// in-flight call. forceRefresh bypasses the freshness check.
func (c *Cache) GetOrLoad(ctx context.Context, kind, key string, out any, forceRefresh bool, load func(ctx context.Context) (any, error)) error {
	if !forceRefresh {
		hit, err := c.Get(kind, key, out)
		if err != nil {
			return err
		}
		if hit {
			return nil
		}
	}
	raw, err, _ := c.group.Do(EntryKey(kind, key), func() (any, error) {
		started := c.clock.Now()
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(kind, key, v, started); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), out)
}

// Invalidate drops one entry and its timestamp.
func (c *Cache) Invalidate(kind, key string) {
	_ = c.store.Remove(EntryKey(kind, key))
	_ = c.store.Remove(timestampKey(kind, key))
}

// InvalidateKind drops every entry of one kind, e.g. all per-product
// subscription lists after a subscription-level change.
func (c *Cache) InvalidateKind(kind string) {
	keys, err := c.store.Keys(keyPrefix + kind + ":")
	if err != nil {
		c.logger.Warn("cache kind invalidation scan failed", "kind", kind, "err", err)
		return
	}
	for _, k := range keys {
		_ = c.store.Remove(k)
	}
}

// Flush drops every cache entry. Idempotency records and other non-cache
// keys in the same store are untouched.
func (c *Cache) Flush() {
	keys, err := c.store.Keys(keyPrefix)
	if err != nil {
		c.logger.Warn("cache flush scan failed", "err", err)
		return
	}
	for _, k := range keys {
		_ = c.store.Remove(k)
	}
}
