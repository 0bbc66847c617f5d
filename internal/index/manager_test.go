package index

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flapjack/flapjack/internal/memorybudget"
	"github.com/flapjack/flapjack/internal/oplog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	oplogs, err := oplog.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = oplogs.Close() })
	budget := memorybudget.New(64*1024*1024, 40, 1024*1024)
	return New("node-a", oplogs, budget)
}

func TestCreateTenantIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateTenant("acme"))
	require.NoError(t, m.CreateTenant("acme"))
	assert.Equal(t, []string{"acme"}, m.ListTenants())
}

func TestWriteDocumentMakesItSearchable(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.WriteDocument(ctx, "acme", "doc1", json.RawMessage(`{"title":"red shoes"}`))
	require.NoError(t, err)

	tenant, err := m.Tenant("acme")
	require.NoError(t, err)
	res, err := tenant.Search("shoes", 10, 0)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "doc1", res.Hits[0].DocID)
}

func TestWriteDocumentRejectsOversized(t *testing.T) {
	m := newTestManager(t)
	big := make([]byte, 2*1024*1024)
	_, err := m.WriteDocument(context.Background(), "acme", "doc1", json.RawMessage(big))
	assert.Error(t, err)
}

func TestDeleteDocumentRemovesFromSearch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.WriteDocument(ctx, "acme", "doc1", json.RawMessage(`{"title":"red shoes"}`))
	require.NoError(t, err)
	_, err = m.DeleteDocument(ctx, "acme", "doc1")
	require.NoError(t, err)

	tenant, _ := m.Tenant("acme")
	res, err := tenant.Search("shoes", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestUpdateSettingsAppliesNewValue(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	newSettings := Settings{SearchableFields: []string{"title"}, FacetFields: []string{"brand"}}
	_, err := m.UpdateSettings(ctx, "acme", newSettings)
	require.NoError(t, err)

	tenant, _ := m.Tenant("acme")
	assert.Equal(t, newSettings, tenant.Settings())
}

func TestClearTenantRemovesAllDocuments(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.WriteDocument(ctx, "acme", "doc1", json.RawMessage(`{"title":"red shoes"}`))
	require.NoError(t, err)
	_, err = m.ClearTenant(ctx, "acme")
	require.NoError(t, err)

	tenant, _ := m.Tenant("acme")
	assert.Equal(t, 0, tenant.DocumentCount())
}

func TestApplyOpsResolvesLWWAgainstNewerLocalWrite(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.WriteDocument(ctx, "acme", "doc1", json.RawMessage(`{"title":"local version"}`))
	require.NoError(t, err)

	tenant, _ := m.Tenant("acme")
	localRecord := tenant.docs["doc1"]

	stalePayload, _ := json.Marshal(addOrReplaceDocumentPayload{ID: "doc1", Body: json.RawMessage(`{"title":"stale remote version"}`)})
	staleOp := oplog.Op{
		TimestampMs:  localRecord.timestampMs - 1000,
		OriginNodeID: "node-z",
		Kind:         oplog.AddOrReplaceDocument,
		Payload:      stalePayload,
	}
	require.NoError(t, m.ApplyOps("acme", []oplog.Op{staleOp}))

	body, ok := tenant.Document("doc1")
	require.True(t, ok)
	assert.Contains(t, string(body), "local version")
}

func TestApplyOpsAdvancesLocalSeq(t *testing.T) {
	m := newTestManager(t)
	payload, _ := json.Marshal(addOrReplaceDocumentPayload{ID: "doc1", Body: json.RawMessage(`{"title":"x"}`)})
	op := oplog.Op{TimestampMs: 1000, OriginNodeID: "node-z", Kind: oplog.AddOrReplaceDocument, Payload: payload}
	require.NoError(t, m.ApplyOps("acme", []oplog.Op{op}))

	seq, err := m.oplogs.Tenant("acme").CurrentSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestVectorSearchReturnsNearestByCosine(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	docs := map[string][]float64{
		"doc1": {1, 0, 0},
		"doc2": {0, 1, 0},
		"doc3": {0.9, 0.1, 0},
	}
	for id, vec := range docs {
		body := map[string]any{"title": id, "_vectors": map[string]any{"default": vec}}
		encoded, _ := json.Marshal(body)
		_, err := m.WriteDocument(ctx, "acme", id, encoded)
		require.NoError(t, err)
	}

	tenant, _ := m.Tenant("acme")
	matches, err := tenant.VectorSearch("default", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc1", matches[0].DocID)
	assert.Equal(t, "doc3", matches[1].DocID)
}

func TestVectorSearchUnknownEmbedderReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	tenant, err := m.Tenant("acme")
	require.NoError(t, err)
	_, err = tenant.VectorSearch("missing", []float32{1, 0}, 5)
	assert.Error(t, err)
}

func TestDeleteTenantClosesAndRemoves(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateTenant("acme"))
	require.NoError(t, m.DeleteTenant("acme"))
	assert.Empty(t, m.ListTenants())
}
