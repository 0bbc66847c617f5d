// Package index implements the per-tenant Index Manager (C4): document
// storage, LWW conflict resolution on replicated ops, lexical search via
// bleve, and brute-force cosine vector search. Grounded on
// engine/src/index/schema.rs, engine/src/index/memory.rs and
// engine/src/vector/vectors_field.rs.
package index

import "encoding/json"

// FieldType names the declared type of one document field. Unlike the
// original's tantivy schema (which needs a field type up front to pick a
// tokenizer), bleve's default mapping already infers text vs numeric vs
// date from the Go value's dynamic type, so FieldType here is bookkeeping
// for the facet/filter layer rather than something that drives indexing
// directly.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
	FieldDate    FieldType = "date"
	FieldFacet   FieldType = "facet"
)

// FieldDefinition declares one named, typed field in a tenant's settings.
type FieldDefinition struct {
	Name string
	Type FieldType
}

// Settings holds a tenant's searchable/filterable/faceted field
// declarations plus ranking knobs. Stored as an oplog UpdateSettings
// payload and as the (tenant, "settings") LWW record.
type Settings struct {
	SearchableFields []string          `json:"searchable_fields"`
	FilterableFields []string          `json:"filterable_fields"`
	FacetFields      []string          `json:"facet_fields"`
	RankingRules     []string          `json:"ranking_rules,omitempty"`
	Fields           []FieldDefinition `json:"fields,omitempty"`

	// Embedders maps embedder name to its raw config blob, parsed lazily
	// by the embedder package's Store so this package never needs to
	// import embedder-specific config types.
	Embedders map[string]json.RawMessage `json:"embedders,omitempty"`
}

// EmbedderConfig returns the raw config blob for the named embedder, if
// declared in these settings. Satisfies embedder.embedderConfigLookup.
func (s Settings) EmbedderConfig(name string) (json.RawMessage, bool) {
	if s.Embedders == nil {
		return nil, false
	}
	raw, ok := s.Embedders[name]
	return raw, ok
}

// DefaultSettings matches what a freshly created tenant gets before any
// UpdateSettings op has been applied: everything searchable, nothing
// faceted, no ranking rules.
func DefaultSettings() Settings {
	return Settings{
		SearchableFields: []string{"*"},
		FilterableFields: nil,
		FacetFields:      nil,
	}
}

func (s FieldType) IsNumeric() bool {
	return s == FieldInteger || s == FieldFloat
}
