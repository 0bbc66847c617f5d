package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistanceIdenticalIsZero(t *testing.T) {
	d := cosineDistance([]float32{1, 2, 3}, []float32{1, 2, 3})
	assert.InDelta(t, 0, d, 0.0001)
}

func TestCosineDistanceOrthogonalIsOne(t *testing.T) {
	d := cosineDistance([]float32{1, 0}, []float32{0, 1})
	assert.InDelta(t, 1, d, 0.0001)
}

func TestCosineDistanceOppositeIsTwo(t *testing.T) {
	d := cosineDistance([]float32{1, 0}, []float32{-1, 0})
	assert.InDelta(t, 2, d, 0.0001)
}

func TestCosineDistanceMismatchedLengthIsMaxDistance(t *testing.T) {
	d := cosineDistance([]float32{1, 2}, []float32{1, 2, 3})
	assert.Equal(t, float32(2.0), d)
}

func TestCosineDistanceZeroMagnitudeIsMaxDistance(t *testing.T) {
	d := cosineDistance([]float32{0, 0}, []float32{1, 1})
	assert.Equal(t, float32(2.0), d)
}

func TestVectorIndexSearchOrdersByDistanceAscending(t *testing.T) {
	vi := newVectorIndex(2)
	vi.put("far", []float32{0, 1})
	vi.put("near", []float32{0.99, 0.01})
	vi.put("exact", []float32{1, 0})

	matches := vi.search([]float32{1, 0}, 3)
	require := assert.New(t)
	require.Equal("exact", matches[0].DocID)
	require.Equal("near", matches[1].DocID)
	require.Equal("far", matches[2].DocID)
}

func TestVectorIndexSearchRespectsTopK(t *testing.T) {
	vi := newVectorIndex(1)
	vi.put("a", []float32{1})
	vi.put("b", []float32{2})
	vi.put("c", []float32{3})

	matches := vi.search([]float32{1}, 1)
	assert.Len(t, matches, 1)
}

func TestVectorIndexDeleteRemovesDoc(t *testing.T) {
	vi := newVectorIndex(1)
	vi.put("a", []float32{1})
	vi.delete("a")
	assert.Equal(t, 0, vi.len())
}
