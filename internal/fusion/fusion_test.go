package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	return ids
}

func TestRRFPureBM25(t *testing.T) {
	results := RRFFuse([]string{"A", "B", "C"}, nil, 0, 60)
	assert.Equal(t, []string{"A", "B", "C"}, docIDs(results))
	for _, r := range results {
		assert.Nil(t, r.SemanticSimilarity)
	}
}

func TestRRFPureVector(t *testing.T) {
	results := RRFFuse(nil, []VectorHit{{DocID: "A", Distance: 0.1}, {DocID: "B", Distance: 0.2}}, 1, 60)
	assert.Equal(t, []string{"A", "B"}, docIDs(results))
}

func TestRRFEqualBlend(t *testing.T) {
	lexical := []string{"A", "B", "C"}
	vector := []VectorHit{{DocID: "C", Distance: 0}, {DocID: "A", Distance: 0.1}, {DocID: "D", Distance: 0.2}}
	results := RRFFuse(lexical, vector, 0.5, 60)
	require.Equal(t, []string{"A", "C", "B", "D"}, docIDs(results))
}

func TestRRFDocumentInOneSourceOnly(t *testing.T) {
	results := RRFFuse([]string{"A"}, []VectorHit{{DocID: "B", Distance: 0}}, 0.5, 60)
	require.Len(t, results, 2)
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.DocID] = r
	}
	assert.Nil(t, byID["A"].SemanticSimilarity)
	assert.NotNil(t, byID["B"].SemanticSimilarity)
}

func TestRRFEmptyInputs(t *testing.T) {
	results := RRFFuse(nil, nil, 0.5, 60)
	assert.Empty(t, results)
}

func TestRRFScoresMonotonicallyDecrease(t *testing.T) {
	lexical := []string{"A", "B", "C", "D", "E"}
	vector := []VectorHit{{DocID: "E", Distance: 0.05}, {DocID: "C", Distance: 0.1}}
	results := RRFFuse(lexical, vector, 0.4, 60)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].FusedScore, results[i-1].FusedScore)
	}
}

func TestRRFFusedResultIncludesVectorSimilarity(t *testing.T) {
	results := RRFFuse([]string{"A"}, []VectorHit{{DocID: "A", Distance: 0.25}}, 0.5, 60)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].SemanticSimilarity)
	assert.InDelta(t, 0.75, *results[0].SemanticSimilarity, 0.0001)
}

func TestRRFNoDuplicates(t *testing.T) {
	results := RRFFuse([]string{"A", "B"}, []VectorHit{{DocID: "A", Distance: 0}, {DocID: "B", Distance: 0.1}}, 0.5, 60)
	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.DocID])
		seen[r.DocID] = true
	}
}

func TestRRFDefaultKUsedWhenNonPositive(t *testing.T) {
	a := RRFFuse([]string{"A"}, nil, 0, 0)
	b := RRFFuse([]string{"A"}, nil, 0, DefaultK)
	assert.Equal(t, b[0].FusedScore, a[0].FusedScore)
}
