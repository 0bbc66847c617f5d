package index

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/flapjack/flapjack/internal/errs"
	"github.com/flapjack/flapjack/internal/oplog"
)

// docRecord is the LWW-tracked state for one document: its last-applied
// timestamp and origin, plus whether it is currently a tombstone.
type docRecord struct {
	timestampMs  int64
	originNodeID string
	deleted      bool
	body         json.RawMessage
}

// settingsRecord is the LWW-tracked state for a tenant's settings, keyed
// separately from documents per spec's (tenant, settings_key) LWW scope.
type settingsRecord struct {
	timestampMs  int64
	originNodeID string
	settings     Settings
}

// Tenant owns one isolated search index: a bleve full-text index, a
// per-embedder brute-force vector index, and the LWW bookkeeping that
// decides whether an incoming replicated op actually mutates either.
type Tenant struct {
	id string

	mu       sync.RWMutex
	bleve    bleve.Index
	docs     map[string]*docRecord
	settings settingsRecord
	vectors  map[string]*vectorIndex // embedder name -> vectors
}

func newTenant(id string) (*Tenant, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("new bleve index: %w", err)
	}
	return &Tenant{
		id:       id,
		bleve:    idx,
		docs:     make(map[string]*docRecord),
		settings: settingsRecord{settings: DefaultSettings()},
		vectors:  make(map[string]*vectorIndex),
	}, nil
}

func (t *Tenant) close() error {
	return t.bleve.Close()
}

// Settings returns the tenant's currently applied settings.
func (t *Tenant) Settings() Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings.settings
}

// DocumentCount reports how many live (non-tombstoned) documents this
// tenant currently holds.
func (t *Tenant) DocumentCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, r := range t.docs {
		if !r.deleted {
			n++
		}
	}
	return n
}

// addOrReplaceDocumentPayload is the AddOrReplaceDocument op's payload
// shape: a document body plus its declared ID.
type addOrReplaceDocumentPayload struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// deleteDocumentPayload carries only the target ID: the op's Kind itself
// (DeleteDocument) is the tombstone marker, so no redundant "deleted" flag
// is carried in the payload (resolved Open Question: standardize on
// kind-as-tombstone rather than an explicit boolean).
type deleteDocumentPayload struct {
	ID string `json:"id"`
}

type updateSettingsPayload struct {
	Settings Settings `json:"settings"`
}

// applyDocument resolves LWW for one AddOrReplaceDocument or
// DeleteDocument op against the per-document record keyed by doc ID. The
// incoming op wins if its timestamp is strictly newer, or - on an exact
// timestamp tie - if its origin_node_id sorts lexicographically greater
// than the current record's origin. This tiebreak gives every node in the
// cluster the same deterministic answer without requiring a shared clock.
func (t *Tenant) applyDocument(op oplog.Op, deleted bool) error {
	var docID string
	var body json.RawMessage
	if deleted {
		var payload deleteDocumentPayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return errs.New("index.applyDocument", errs.KindInvalidRequest, err)
		}
		docID = payload.ID
	} else {
		var payload addOrReplaceDocumentPayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return errs.New("index.applyDocument", errs.KindInvalidRequest, err)
		}
		docID = payload.ID
		body = payload.Body
	}
	if docID == "" {
		return errs.New("index.applyDocument", errs.KindInvalidRequest, fmt.Errorf("document id is empty"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.docs[docID]
	if exists && !wins(op.TimestampMs, op.OriginNodeID, current.timestampMs, current.originNodeID) {
		return nil // stale op: a more recent write already won this key
	}

	record := &docRecord{timestampMs: op.TimestampMs, originNodeID: op.OriginNodeID, deleted: deleted, body: body}
	t.docs[docID] = record

	if deleted {
		if err := t.bleve.Delete(docID); err != nil {
			return errs.New("index.applyDocument", errs.KindStorageFailure, err)
		}
		for _, vi := range t.vectors {
			vi.delete(docID)
		}
		return nil
	}

	decoded, err := decodeDocument(body)
	if err != nil {
		return errs.New("index.applyDocument", errs.KindInvalidRequest, err)
	}

	vectorsByEmbedder, err := extractVectors(decoded)
	if err != nil {
		return errs.New("index.applyDocument", errs.KindInvalidRequest, err)
	}
	stripVectors(decoded)

	if err := t.bleve.Index(docID, decoded); err != nil {
		return errs.New("index.applyDocument", errs.KindStorageFailure, err)
	}
	for embedderName, vec := range vectorsByEmbedder {
		vi, ok := t.vectors[embedderName]
		if !ok {
			vi = newVectorIndex(len(vec))
			t.vectors[embedderName] = vi
		}
		vi.put(docID, vec)
	}
	return nil
}

// applySettings resolves LWW for an UpdateSettings op against the
// tenant-wide settings record, the same (timestamp, origin) tiebreak rule
// as documents but scoped to a single shared key rather than per-document.
func (t *Tenant) applySettings(op oplog.Op) error {
	var payload updateSettingsPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return errs.New("index.applySettings", errs.KindInvalidRequest, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !wins(op.TimestampMs, op.OriginNodeID, t.settings.timestampMs, t.settings.originNodeID) {
		return nil
	}
	t.settings = settingsRecord{timestampMs: op.TimestampMs, originNodeID: op.OriginNodeID, settings: payload.Settings}
	return nil
}

// applyClear drops every document unconditionally. ClearTenant is a
// destructive administrative op, not a per-key conflict to resolve: the
// last ClearTenant any node applies always takes effect immediately,
// matching the original's treatment of tenant deletion as out-of-band from
// per-document LWW.
func (t *Tenant) applyClear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	mapping := bleve.NewIndexMapping()
	fresh, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return errs.New("index.applyClear", errs.KindStorageFailure, err)
	}
	_ = t.bleve.Close()
	t.bleve = fresh
	t.docs = make(map[string]*docRecord)
	t.vectors = make(map[string]*vectorIndex)
	return nil
}

// wins reports whether (candidateTs, candidateOrigin) should replace
// (currentTs, currentOrigin) under the LWW rule: strictly newer timestamp
// always wins; on an exact tie, the lexicographically greater origin node
// ID wins, giving every replica the same answer without coordination.
func wins(candidateTs int64, candidateOrigin string, currentTs int64, currentOrigin string) bool {
	if candidateTs != currentTs {
		return candidateTs > currentTs
	}
	return candidateOrigin > currentOrigin
}

// ApplyOps applies a batch of ops to this tenant in order, resolving LWW
// per op. This is where conflict resolution actually happens — not in the
// replication manager, which only moves bytes between nodes.
func (t *Tenant) ApplyOps(ops []oplog.Op) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case oplog.AddOrReplaceDocument:
			err = t.applyDocument(op, false)
		case oplog.DeleteDocument:
			err = t.applyDocument(op, true)
		case oplog.UpdateSettings:
			err = t.applySettings(op)
		case oplog.ClearTenant:
			err = t.applyClear()
		default:
			err = errs.New("index.ApplyOps", errs.KindInvalidRequest, fmt.Errorf("unknown op kind %q", op.Kind))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
