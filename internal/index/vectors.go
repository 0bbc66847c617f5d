package index

import (
	"encoding/json"
	"fmt"
)

// vectorsFieldKey is the reserved document field carrying per-embedder
// vectors. Grounded on engine/src/vector/vectors_field.rs's "_vectors"
// convention.
const vectorsFieldKey = "_vectors"

// extractVectors pulls the _vectors object out of a raw document body, if
// present, returning one parsed float32 slice per embedder name. A present
// but malformed _vectors value (not an object, or a non-numeric-array
// value) is an error; an absent field is not.
func extractVectors(doc map[string]any) (map[string][]float32, error) {
	raw, ok := doc[vectorsFieldKey]
	if !ok {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("_vectors must be a JSON object mapping embedder names to vectors, got %T", raw)
	}

	result := make(map[string][]float32, len(obj))
	for embedderName, v := range obj {
		vec, err := parseVector(v)
		if err != nil {
			return nil, fmt.Errorf("_vectors[%q]: %w", embedderName, err)
		}
		result[embedderName] = vec
	}
	return result, nil
}

func parseVector(v any) ([]float32, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be an array of floats, got %T", v)
	}
	out := make([]float32, len(arr))
	for i, elem := range arr {
		f, ok := elem.(float64)
		if !ok {
			return nil, fmt.Errorf("array element [%d] is not a number", i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// stripVectors removes _vectors from doc in place, to call before handing
// the document to bleve — large float arrays have no business in a
// lexical index.
func stripVectors(doc map[string]any) {
	delete(doc, vectorsFieldKey)
}

// decodeDocument parses a document's raw JSON payload into a generic map,
// the shape extractVectors/stripVectors/bleve all operate on.
func decodeDocument(raw json.RawMessage) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
