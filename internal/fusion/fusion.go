// Package fusion implements Reciprocal Rank Fusion (C6): blending a lexical
// result list and a vector result list into one ranked list by reciprocal
// rank, with an optional semantic-similarity annotation carried through for
// internal use only.
package fusion

import "sort"

// VectorHit is one result from the vector index: a document id and its
// distance (smaller is closer).
type VectorHit struct {
	DocID    string
	Distance float32
}

// Result is one fused, ranked output entry.
type Result struct {
	DocID             string
	FusedScore        float64
	SemanticSimilarity *float32 // only set if DocID appeared in the vector list
}

const DefaultK = 60

type accum struct {
	score        float64
	similarity   *float32
	firstSeenIdx int
}

// RRFFuse blends lexicalDocIDs (best-first) and vectorHits (best-first, by
// distance ascending) using semanticRatio in [0,1] and constant k. Missing
// contributions from either list are zero. Output is sorted by score
// descending; ties break by first-seen insertion order (lexical list first,
// then vector list) for determinism — the reference implementation this is
// grounded on uses an unordered map and is not actually stable on ties;
// this one is, by design, since fused output feeding a paginated UI must
// not reorder itself between identical requests.
func RRFFuse(lexicalDocIDs []string, vectorHits []VectorHit, semanticRatio float64, k int) []Result {
	if k <= 0 {
		k = DefaultK
	}
	lexicalWeight := 1 - semanticRatio
	vectorWeight := semanticRatio

	scores := make(map[string]*accum)
	var order []string
	nextIdx := 0

	get := func(docID string) *accum {
		a, ok := scores[docID]
		if !ok {
			a = &accum{firstSeenIdx: nextIdx}
			nextIdx++
			scores[docID] = a
			order = append(order, docID)
		}
		return a
	}

	for rank, docID := range lexicalDocIDs {
		a := get(docID)
		a.score += lexicalWeight / float64(k+rank+1)
	}
	for rank, hit := range vectorHits {
		a := get(hit.DocID)
		a.score += vectorWeight / float64(k+rank+1)
		similarity := 1 - hit.Distance
		a.similarity = &similarity
	}

	results := make([]Result, 0, len(order))
	for _, docID := range order {
		a := scores[docID]
		results = append(results, Result{
			DocID:              docID,
			FusedScore:         a.score,
			SemanticSimilarity: a.similarity,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return scores[results[i].DocID].firstSeenIdx < scores[results[j].DocID].firstSeenIdx
	})
	return results
}
