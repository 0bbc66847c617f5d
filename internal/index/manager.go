package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flapjack/flapjack/internal/errs"
	"github.com/flapjack/flapjack/internal/memorybudget"
	"github.com/flapjack/flapjack/internal/oplog"
)

// Manager owns every tenant's in-memory index and is the single point
// through which both local writes and replicated ops flow. It satisfies
// replication.Applier, so the replication manager can call ApplyOps
// without importing this package's concrete types.
type Manager struct {
	selfNodeID string
	oplogs     *oplog.Manager
	budget     *memorybudget.Budget

	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// New builds an Index Manager backed by oplogs for durability and budget
// for write admission control.
func New(selfNodeID string, oplogs *oplog.Manager, budget *memorybudget.Budget) *Manager {
	return &Manager{
		selfNodeID: selfNodeID,
		oplogs:     oplogs,
		budget:     budget,
		tenants:    make(map[string]*Tenant),
	}
}

// tenant returns the in-memory Tenant for id, creating it on first touch.
// A tenant with no documents yet still needs a bleve index to search
// against, so lazily creating one here (rather than requiring an explicit
// CreateTenant call first) matches how ApplyOps has to behave for an
// incoming replicated write about a tenant this node has never seen.
func (m *Manager) tenant(id string) (*Tenant, error) {
	m.mu.RLock()
	t, ok := m.tenants[id]
	m.mu.RUnlock()
	if ok {
		return t, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		return t, nil
	}
	t, err := newTenant(id)
	if err != nil {
		return nil, errs.New("index.tenant", errs.KindStorageFailure, err)
	}
	m.tenants[id] = t
	return t, nil
}

// CreateTenant ensures a tenant exists and is ready to accept writes and
// queries. It is idempotent: calling it twice for the same ID is a no-op.
func (m *Manager) CreateTenant(id string) error {
	_, err := m.tenant(id)
	return err
}

// DeleteTenant permanently removes a tenant's in-memory index. It does not
// touch the tenant's oplog — the oplog is the durable record that a
// ClearTenant op was issued, and a peer still catching up needs to see it.
func (m *Manager) DeleteTenant(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil
	}
	delete(m.tenants, id)
	return t.close()
}

// Tenant exposes the tenant handle for read paths (search, vector search,
// settings lookup) that don't need to go through Write.
func (m *Manager) Tenant(id string) (*Tenant, error) {
	return m.tenant(id)
}

// ListTenants returns every tenant ID currently held in memory.
func (m *Manager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	return ids
}

// WriteDocument admits a document write against the memory budget, appends
// an AddOrReplaceDocument op to the tenant's durable oplog, applies it
// locally, and returns the op so the caller (the HTTP handler) can hand it
// to the replication manager for fan-out. Admission and append happen
// before apply: a document that was never durably logged must never be
// visible to search, even on this node.
func (m *Manager) WriteDocument(ctx context.Context, tenantID, docID string, body json.RawMessage) (oplog.Op, error) {
	if err := m.budget.ValidateDocumentSize(int64(len(body))); err != nil {
		return oplog.Op{}, err
	}
	guard, err := m.budget.AcquireWriter()
	if err != nil {
		return oplog.Op{}, err
	}
	defer guard.Release()

	payload, err := json.Marshal(addOrReplaceDocumentPayload{ID: docID, Body: body})
	if err != nil {
		return oplog.Op{}, errs.New("index.WriteDocument", errs.KindInvalidRequest, err)
	}

	return m.appendAndApply(ctx, tenantID, oplog.AddOrReplaceDocument, payload)
}

// DeleteDocument appends and applies a DeleteDocument op for docID.
func (m *Manager) DeleteDocument(ctx context.Context, tenantID, docID string) (oplog.Op, error) {
	payload, err := json.Marshal(deleteDocumentPayload{ID: docID})
	if err != nil {
		return oplog.Op{}, errs.New("index.DeleteDocument", errs.KindInvalidRequest, err)
	}
	return m.appendAndApply(ctx, tenantID, oplog.DeleteDocument, payload)
}

// UpdateSettings appends and applies an UpdateSettings op.
func (m *Manager) UpdateSettings(ctx context.Context, tenantID string, settings Settings) (oplog.Op, error) {
	payload, err := json.Marshal(updateSettingsPayload{Settings: settings})
	if err != nil {
		return oplog.Op{}, errs.New("index.UpdateSettings", errs.KindInvalidRequest, err)
	}
	return m.appendAndApply(ctx, tenantID, oplog.UpdateSettings, payload)
}

// ClearTenant appends and applies a ClearTenant op.
func (m *Manager) ClearTenant(ctx context.Context, tenantID string) (oplog.Op, error) {
	return m.appendAndApply(ctx, tenantID, oplog.ClearTenant, json.RawMessage(`{}`))
}

func (m *Manager) appendAndApply(ctx context.Context, tenantID string, kind oplog.Kind, payload json.RawMessage) (oplog.Op, error) {
	op := oplog.Op{
		TimestampMs:  nowMs(),
		OriginNodeID: m.selfNodeID,
		Kind:         kind,
		Payload:      payload,
	}
	seq, err := m.oplogs.Tenant(tenantID).Append(op)
	if err != nil {
		return oplog.Op{}, err
	}
	op.Seq = seq

	t, err := m.tenant(tenantID)
	if err != nil {
		return oplog.Op{}, err
	}
	if err := t.ApplyOps([]oplog.Op{op}); err != nil {
		return oplog.Op{}, err
	}
	return op, nil
}

// ApplyOps implements replication.Applier: incoming replicated ops (from
// catch-up or direct fan-out) are first appended to this node's own
// tenant oplog — WAL-first, same as a local write — which re-sequences
// them into this node's local append order rather than preserving
// whatever seq they carried on their origin node. That keeps "current
// seq" a meaningful per-node, per-tenant total (used as the anti-entropy
// cursor against whichever peer is selected) without requiring every node
// to agree on a single global sequence space. Only after the durable
// append succeeds are the ops applied to the in-memory LWW state.
func (m *Manager) ApplyOps(tenantID string, ops []oplog.Op) error {
	log := m.oplogs.Tenant(tenantID)
	for _, op := range ops {
		if _, err := log.Append(op); err != nil {
			return err
		}
	}

	t, err := m.tenant(tenantID)
	if err != nil {
		return err
	}
	if err := t.ApplyOps(ops); err != nil {
		return fmt.Errorf("apply ops for tenant %s: %w", tenantID, err)
	}
	return nil
}
