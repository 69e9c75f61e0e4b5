// Package cache provides caching for viewport query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ResultCacheSizeMB int
	ResultTTL         time.Duration
	QueryCacheSize    int
}

// Manager manages the serialized-result byte cache and a small LRU for
// metadata-sized query payloads.
type Manager struct {
	resultCache *bigcache.BigCache
	queryCache  *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	resultCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.ResultTTL,
		CleanWindow:        cfg.ResultTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       1024 * 1024, // serialized viewport selections run larger than tiles
		HardMaxCacheSize:   cfg.ResultCacheSizeMB,
		Verbose:            false,
	}

	resultCache, err := bigcache.New(context.Background(), resultCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		resultCache: resultCache,
		queryCache:  queryCache,
	}, nil
}

// GetResult retrieves a serialized viewport result from cache.
func (m *Manager) GetResult(key string) ([]byte, bool) {
	data, err := m.resultCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetResult stores a serialized viewport result in cache.
func (m *Manager) SetResult(key string, data []byte) error {
	return m.resultCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// ViewportKey generates a cache key for a viewport selection. ladderVersion
// is the ladder's configuration hash, so a rebuilt ladder invalidates every
// cached selection for the dataset. Filters are hashed in sorted order so
// equivalent filter sets share an entry.
func ViewportKey(datasetID, ladderVersion string, x0, x1, y0, y1 float64, minPoints int, filters map[string]string) string {
	base := fmt.Sprintf("vp:%s:%s:%g/%g/%g/%g:%d", datasetID, ladderVersion, x0, x1, y0, y1, minPoints)
	if len(filters) == 0 {
		return base
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(base))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(filters[k]))
		h.Write([]byte{';'})
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// ConfigHash derives the ladder invalidation key from everything that
// changes level membership: ranking field, axis columns, minimum level size,
// bin counts, strategy, build mode and the level file format version.
func ConfigHash(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"result_cache_len": m.resultCache.Len(),
		"result_cache_cap": m.resultCache.Capacity(),
		"query_cache_len":  m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.resultCache.Close()
}
