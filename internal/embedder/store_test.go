package embedder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	embedders map[string]json.RawMessage
}

func (f fakeSettings) EmbedderConfig(name string) (json.RawMessage, bool) {
	raw, ok := f.embedders[name]
	return raw, ok
}

func settingsWithUserProvidedEmbedder(name string, dims int) fakeSettings {
	raw, _ := json.Marshal(Config{Source: SourceUserProvided, Dimensions: dims})
	return fakeSettings{embedders: map[string]json.RawMessage{name: raw}}
}

func TestStoreCreatesFromConfig(t *testing.T) {
	store := NewStore()
	settings := settingsWithUserProvidedEmbedder("default", 384)

	e, err := store.GetOrCreate("tenant1", "default", settings)
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimensions())
	assert.Equal(t, SourceUserProvided, e.Source())
}

func TestStoreReturnsCachedInstance(t *testing.T) {
	store := NewStore()
	settings := settingsWithUserProvidedEmbedder("default", 768)

	e1, err := store.GetOrCreate("t1", "default", settings)
	require.NoError(t, err)
	e2, err := store.GetOrCreate("t1", "default", settings)
	require.NoError(t, err)
	assert.Same(t, e1, e2)
}

func TestStoreMissingEmbedderReturnsError(t *testing.T) {
	store := NewStore()
	settings := settingsWithUserProvidedEmbedder("default", 384)
	_, err := store.GetOrCreate("t1", "nonexistent", settings)
	assert.Error(t, err)
}

func TestStoreMissingSettingsReturnsError(t *testing.T) {
	store := NewStore()
	_, err := store.GetOrCreate("t1", "default", fakeSettings{})
	assert.Error(t, err)
}

func TestStoreInvalidateClearsCache(t *testing.T) {
	store := NewStore()
	settings := settingsWithUserProvidedEmbedder("default", 384)

	e1, err := store.GetOrCreate("t1", "default", settings)
	require.NoError(t, err)
	store.Invalidate("t1")
	e2, err := store.GetOrCreate("t1", "default", settings)
	require.NoError(t, err)
	assert.NotSame(t, e1, e2)
}

func TestStoreInvalidateOnlyAffectsNamedTenant(t *testing.T) {
	store := NewStore()
	settings := settingsWithUserProvidedEmbedder("default", 384)

	e1, err := store.GetOrCreate("t1", "default", settings)
	require.NoError(t, err)
	e2, err := store.GetOrCreate("t2", "default", settings)
	require.NoError(t, err)

	store.Invalidate("t1")

	e1Again, err := store.GetOrCreate("t1", "default", settings)
	require.NoError(t, err)
	assert.NotSame(t, e1, e1Again)

	e2Again, err := store.GetOrCreate("t2", "default", settings)
	require.NoError(t, err)
	assert.Same(t, e2, e2Again)
}

func TestQueryCacheHit(t *testing.T) {
	cache := NewQueryEmbeddingCache(10)
	cache.Put("emb1", "hello world", []float32{0.1, 0.2, 0.3})
	v, ok := cache.Get("emb1", "hello world")
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestQueryCacheMiss(t *testing.T) {
	cache := NewQueryEmbeddingCache(10)
	cache.Put("emb1", "hello world", []float32{0.1})
	_, ok := cache.Get("emb1", "different query")
	assert.False(t, ok)
}

func TestQueryCacheEviction(t *testing.T) {
	cache := NewQueryEmbeddingCache(2)
	cache.Put("emb", "q1", []float32{1.0})
	cache.Put("emb", "q2", []float32{2.0})
	cache.Put("emb", "q3", []float32{3.0}) // evicts q1

	_, ok := cache.Get("emb", "q1")
	assert.False(t, ok)
	v2, ok := cache.Get("emb", "q2")
	require.True(t, ok)
	assert.Equal(t, []float32{2.0}, v2)
	v3, ok := cache.Get("emb", "q3")
	require.True(t, ok)
	assert.Equal(t, []float32{3.0}, v3)
}
