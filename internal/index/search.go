package index

import (
	"encoding/json"

	"github.com/blevesearch/bleve/v2"

	"github.com/flapjack/flapjack/internal/errs"
)

// Hit is one lexical search result: the document ID in bleve's relevance
// order, plus its score. Reciprocal rank fusion uses only the hits' order,
// not the score.
type Hit struct {
	DocID string
	Score float64
}

// SearchResult bundles the hits a bleve query produced along with the
// total number of matches found (before the limit/offset page was cut),
// since callers report totalHits separately from the page they display.
type SearchResult struct {
	Hits       []Hit
	TotalHits  uint64
}

// Search runs a bleve query-string search against this tenant's index,
// returning up to limit hits starting at offset.
func (t *Tenant) Search(queryString string, limit, offset int) (SearchResult, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var q bleve.Query
	if queryString == "" {
		q = bleve.NewMatchAllQuery()
	} else {
		q = bleve.NewQueryStringQuery(queryString)
	}

	req := bleve.NewSearchRequestOptions(q, limit, offset, false)
	res, err := t.bleve.Search(req)
	if err != nil {
		return SearchResult{}, errs.New("index.Search", errs.KindStorageFailure, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{DocID: h.ID, Score: h.Score})
	}
	return SearchResult{Hits: hits, TotalHits: res.Total}, nil
}

// VectorSearch runs a brute-force cosine search against embedderName's
// vector index, returning an error if no vectors were ever indexed under
// that embedder name for this tenant.
func (t *Tenant) VectorSearch(embedderName string, queryVector []float32, topK int) ([]VectorMatch, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	vi, ok := t.vectors[embedderName]
	if !ok {
		return nil, errs.New("index.VectorSearch", errs.KindNotFound, nil)
	}
	return vi.search(queryVector, topK), nil
}

// Document returns the last-applied, non-tombstoned body for docID.
func (t *Tenant) Document(docID string) (json.RawMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.docs[docID]
	if !ok || rec.deleted {
		return nil, false
	}
	return rec.body, true
}
