// calltips/helpers_cache.go
// Contains the in-memory cache (Ristretto) used for parsed declaration files.
package calltips

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ============================================================================
// Memory Cache
// ============================================================================

// memoryCacher is the narrow cache surface withMemoryCache needs.
type memoryCacher interface {
	GetMemoryCache(key string) (any, bool)
	SetMemoryCache(key string, value any, cost int64, ttl time.Duration) bool
	MemoryCacheEnabled() bool
}

// MemoryCache wraps a Ristretto cache. A nil inner cache disables caching without
// making callers branch.
type MemoryCache struct {
	mu     sync.RWMutex
	cache  *ristretto.Cache
	logger *slog.Logger
}

// NewMemoryCache creates a Ristretto-backed cache bounded by maxCost bytes.
// Creation failures are logged and produce a disabled cache.
func NewMemoryCache(maxCost int64, logger *slog.Logger) *MemoryCache {
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("component", "MemoryCache")
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		cacheLogger.Warn("Failed to create ristretto memory cache, in-memory caching disabled.", "error", err)
		inner = nil
	} else {
		cacheLogger.Info("Initialized ristretto in-memory cache", "max_cost", maxCost)
	}
	return &MemoryCache{cache: inner, logger: cacheLogger}
}

// GetMemoryCache looks up a key.
func (m *MemoryCache) GetMemoryCache(key string) (any, bool) {
	m.mu.RLock()
	cache := m.cache
	m.mu.RUnlock()
	if cache == nil {
		return nil, false
	}
	return cache.Get(key)
}

// SetMemoryCache stores a value. Ristretto admits items asynchronously, so a
// successful Set is not immediately visible to Get.
func (m *MemoryCache) SetMemoryCache(key string, value any, cost int64, ttl time.Duration) bool {
	m.mu.RLock()
	cache := m.cache
	m.mu.RUnlock()
	if cache == nil {
		return false
	}
	return cache.SetWithTTL(key, value, cost, ttl)
}

// MemoryCacheEnabled reports whether the underlying cache was created.
// A nil *MemoryCache is a disabled cache.
func (m *MemoryCache) MemoryCacheEnabled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache != nil
}

// Clear drops every entry.
func (m *MemoryCache) Clear() {
	if m == nil {
		return
	}
	m.mu.RLock()
	cache := m.cache
	m.mu.RUnlock()
	if cache != nil {
		m.logger.Debug("Clearing ristretto memory cache")
		cache.Clear()
	}
}

// Metrics returns the Ristretto metrics, or nil when caching is disabled.
func (m *MemoryCache) Metrics() *ristretto.Metrics {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache == nil {
		return nil
	}
	return m.cache.Metrics
}

// Close releases the cache. Safe to call more than once.
func (m *MemoryCache) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache != nil {
		m.logger.Info("Closing ristretto memory cache.")
		m.cache.Close()
		m.cache = nil
	}
}

// withMemoryCache returns the cached value for cacheKey, or computes and stores it.
// Errors from computeFn are never cached. The boolean reports a cache hit.
func withMemoryCache[T any](
	cacher memoryCacher,
	cacheKey string,
	cost int64,
	ttl time.Duration,
	computeFn func() (T, error),
	logger *slog.Logger,
) (T, bool, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("cache_key", cacheKey)

	if cacher == nil || !cacher.MemoryCacheEnabled() {
		result, err := computeFn()
		return result, false, err
	}

	if cached, found := cacher.GetMemoryCache(cacheKey); found {
		if typed, ok := cached.(T); ok {
			cacheLogger.Debug("Memory cache hit")
			return typed, true, nil
		}
		cacheLogger.Error("Memory cache type assertion failed", "expected_type", fmt.Sprintf("%T", zero), "actual_type", fmt.Sprintf("%T", cached))
	}

	computed, err := computeFn()
	if err != nil {
		return zero, false, err
	}
	if cost <= 0 {
		cost = 1
	}
	if !cacher.SetMemoryCache(cacheKey, computed, cost, ttl) {
		cacheLogger.Debug("Memory cache Set rejected, item not cached", "cost", cost, "ttl", ttl)
	}
	return computed, false, nil
}

// estimateCost approximates the memory footprint of a cached value.
func estimateCost(v any) int64 {
	switch val := v.(type) {
	case string:
		return int64(len(val))
	case []byte:
		return int64(len(val))
	default:
		return 1
	}
}
