package oplog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestAppendAllocatesDenseSeq(t *testing.T) {
	m := openTestManager(t)
	log := m.Tenant("acme")

	for i := 1; i <= 5; i++ {
		seq, err := log.Append(Op{
			TimestampMs:  int64(1000 + i),
			OriginNodeID: "node-a",
			Kind:         AddOrReplaceDocument,
			Payload:      json.RawMessage(`{"id":"d1"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}

	current, err := log.CurrentSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), current)
}

func TestCurrentSeqZeroWhenEmpty(t *testing.T) {
	m := openTestManager(t)
	seq, err := m.Tenant("empty-tenant").CurrentSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)
}

func TestReadSinceReturnsContiguousOrderedRange(t *testing.T) {
	m := openTestManager(t)
	log := m.Tenant("acme")
	for i := 1; i <= 10; i++ {
		_, err := log.Append(Op{TimestampMs: int64(i), OriginNodeID: "a", Kind: AddOrReplaceDocument})
		require.NoError(t, err)
	}

	ops, err := log.ReadSince(5, 100)
	require.NoError(t, err)
	require.Len(t, ops, 5)
	for i, op := range ops {
		assert.Equal(t, uint64(6+i), op.Seq)
	}
}

func TestReadSinceRespectsMax(t *testing.T) {
	m := openTestManager(t)
	log := m.Tenant("acme")
	for i := 1; i <= 10; i++ {
		_, err := log.Append(Op{TimestampMs: int64(i), OriginNodeID: "a", Kind: AddOrReplaceDocument})
		require.NoError(t, err)
	}

	ops, err := log.ReadSince(0, 3)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, uint64(1), ops[0].Seq)
	assert.Equal(t, uint64(3), ops[2].Seq)
}

func TestTenantsAreIsolated(t *testing.T) {
	m := openTestManager(t)
	_, err := m.Tenant("a").Append(Op{Kind: AddOrReplaceDocument})
	require.NoError(t, err)
	_, err = m.Tenant("a").Append(Op{Kind: AddOrReplaceDocument})
	require.NoError(t, err)
	_, err = m.Tenant("b").Append(Op{Kind: AddOrReplaceDocument})
	require.NoError(t, err)

	seqA, _ := m.Tenant("a").CurrentSeq()
	seqB, _ := m.Tenant("b").CurrentSeq()
	assert.Equal(t, uint64(2), seqA)
	assert.Equal(t, uint64(1), seqB)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	_, err = m.Tenant("acme").Append(Op{Kind: AddOrReplaceDocument, TimestampMs: 1})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := Open(dir)
	require.NoError(t, err)
	defer m2.Close()
	seq, err := m2.Tenant("acme").CurrentSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestListTenants(t *testing.T) {
	m := openTestManager(t)
	_, _ = m.Tenant("acme").Append(Op{Kind: AddOrReplaceDocument})
	_, _ = m.Tenant("widgets").Append(Op{Kind: AddOrReplaceDocument})

	tenants, err := m.ListTenants(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme", "widgets"}, tenants)
}
