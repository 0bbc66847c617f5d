package embedder

import (
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flapjack/flapjack/internal/errs"
)

// storeKey identifies one tenant's instantiated embedder by name.
type storeKey struct {
	tenantID     string
	embedderName string
}

// Store caches instantiated Embedders per (tenant, embedder name) so a
// search request doesn't reparse config or reconnect a remote client on
// every call. Grounded on EmbedderStore in embedder_store.rs, which uses
// DashMap for the same purpose; a plain map plus a mutex is the Go
// equivalent at this scale (one process per node, not a process-wide
// service under heavy concurrent tenant churn).
type Store struct {
	mu    sync.Mutex
	cache map[storeKey]Embedder

	QueryCache *QueryEmbeddingCache
}

// NewStore builds an empty Store with a 1000-entry query embedding cache,
// per the original's QueryEmbeddingCache::new(1000).
func NewStore() *Store {
	return &Store{
		cache:      make(map[storeKey]Embedder),
		QueryCache: NewQueryEmbeddingCache(1000),
	}
}

// embedderConfigLookup is the narrow view of a tenant's settings this
// store needs: the raw per-embedder-name config blobs. Defined here
// rather than imported from the index package to avoid a dependency
// cycle (index will depend on embedder, not the reverse).
type embedderConfigLookup interface {
	EmbedderConfig(name string) (json.RawMessage, bool)
}

// GetOrCreate returns the cached embedder for (tenantID, embedderName),
// creating and caching it on first use by parsing its config out of
// settings.
func (s *Store) GetOrCreate(tenantID, embedderName string, settings embedderConfigLookup) (Embedder, error) {
	key := storeKey{tenantID: tenantID, embedderName: embedderName}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cache[key]; ok {
		return e, nil
	}

	raw, ok := settings.EmbedderConfig(embedderName)
	if !ok {
		return nil, errs.New("embedder.GetOrCreate", errs.KindInvalidRequest,
			fmt.Errorf("embedder %q not found in settings for tenant %q", embedderName, tenantID))
	}

	var config Config
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, errs.New("embedder.GetOrCreate", errs.KindInvalidRequest,
			fmt.Errorf("invalid embedder config for %q: %w", embedderName, err))
	}

	e, err := New(config)
	if err != nil {
		return nil, err
	}
	s.cache[key] = e
	return e, nil
}

// Invalidate drops every cached embedder for tenantID, so the next
// GetOrCreate for that tenant builds a fresh instance from the settings it
// is given. The index manager's settings-update path does not call it.
func (s *Store) Invalidate(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if key.tenantID == tenantID {
			delete(s.cache, key)
		}
	}
}

// queryCacheKey identifies one (embedder, query text) pair.
type queryCacheKey struct {
	embedderName string
	queryText    string
}

// QueryEmbeddingCache caches already-computed query embeddings so typeahead,
// pagination, and repeated searches never re-embed identical text.
// Capacity-bounded via hashicorp/golang-lru, which is itself safe for
// concurrent use, so no additional locking is needed here.
type QueryEmbeddingCache struct {
	inner *lru.Cache[queryCacheKey, []float32]
}

// NewQueryEmbeddingCache builds a cache holding up to capacity entries.
func NewQueryEmbeddingCache(capacity int) *QueryEmbeddingCache {
	if capacity <= 0 {
		capacity = 1
	}
	inner, _ := lru.New[queryCacheKey, []float32](capacity) // capacity > 0 never errors
	return &QueryEmbeddingCache{inner: inner}
}

// Get returns the cached vector for (embedderName, queryText), if present.
func (c *QueryEmbeddingCache) Get(embedderName, queryText string) ([]float32, bool) {
	return c.inner.Get(queryCacheKey{embedderName: embedderName, queryText: queryText})
}

// Put stores vector under (embedderName, queryText), evicting the least
// recently used entry if the cache is at capacity.
func (c *QueryEmbeddingCache) Put(embedderName, queryText string, vector []float32) {
	c.inner.Add(queryCacheKey{embedderName: embedderName, queryText: queryText}, vector)
}
