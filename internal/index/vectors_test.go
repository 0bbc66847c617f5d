package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVectorsPresent(t *testing.T) {
	doc := map[string]any{
		"title":    "hello",
		"_vectors": map[string]any{"default": []any{0.1, 0.2, 0.3}},
	}
	vecs, err := extractVectors(doc)
	require.NoError(t, err)
	require.Contains(t, vecs, "default")
	assert.Len(t, vecs["default"], 3)
	assert.InDelta(t, 0.1, vecs["default"][0], 0.0001)
}

func TestExtractVectorsAbsent(t *testing.T) {
	doc := map[string]any{"title": "hello"}
	vecs, err := extractVectors(doc)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestExtractVectorsMultipleEmbedders(t *testing.T) {
	doc := map[string]any{
		"_vectors": map[string]any{
			"default": []any{0.1, 0.2},
			"mymodel": []any{0.4, 0.5, 0.6},
		},
	}
	vecs, err := extractVectors(doc)
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs["mymodel"], 3)
}

func TestExtractVectorsRejectsNonObject(t *testing.T) {
	doc := map[string]any{"_vectors": "not-an-object"}
	_, err := extractVectors(doc)
	assert.Error(t, err)
}

func TestExtractVectorsRejectsNonArrayValue(t *testing.T) {
	doc := map[string]any{"_vectors": map[string]any{"default": "nope"}}
	_, err := extractVectors(doc)
	assert.Error(t, err)
}

func TestExtractVectorsRejectsNonNumericElement(t *testing.T) {
	doc := map[string]any{"_vectors": map[string]any{"default": []any{"a", "b"}}}
	_, err := extractVectors(doc)
	assert.Error(t, err)
}

func TestStripVectorsRemovesField(t *testing.T) {
	doc := map[string]any{"title": "x", "_vectors": map[string]any{"default": []any{0.1}}}
	stripVectors(doc)
	_, ok := doc["_vectors"]
	assert.False(t, ok)
	assert.Equal(t, "x", doc["title"])
}
