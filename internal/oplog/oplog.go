// Package oplog implements the per-tenant operation log (C1): a monotonic,
// durable sequence of mutations that is the source of truth for
// replication. It is backed by a single embedded Badger database shared by
// every tenant, keyed so that a tenant's ops sit in one contiguous range.
//
// Badger's own write-ahead log gives us the crash-safety the contract
// requires: a transaction is not acknowledged as committed until it is
// fsynced, so "the sequence observed after a crash equals the last
// successfully fsynced entry" falls out of Badger's own guarantee rather
// than anything bespoke here.
package oplog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/flapjack/flapjack/internal/errs"
)

// Kind is the type of mutation an Op represents.
type Kind string

const (
	AddOrReplaceDocument Kind = "AddOrReplaceDocument"
	DeleteDocument       Kind = "DeleteDocument"
	UpdateSettings       Kind = "UpdateSettings"
	ClearTenant          Kind = "ClearTenant"
)

// Op is a single, immutable oplog entry. Ops are value types: once built
// they are copied by value into the network and into peer oplogs, never
// shared by mutable reference.
type Op struct {
	Seq          uint64          `json:"seq"`
	TimestampMs  int64           `json:"timestamp_ms"`
	OriginNodeID string          `json:"origin_node_id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// TenantLog is the per-tenant contract: append, read the high-water mark,
// and read a contiguous range since a given seq.
type TenantLog interface {
	Append(op Op) (seq uint64, err error)
	CurrentSeq() (uint64, error)
	ReadSince(sinceSeq uint64, max int) ([]Op, error)
}

// Manager owns one Badger database for all tenants and hands out TenantLog
// handles scoped by key prefix.
type Manager struct {
	db *badger.DB
}

// Open opens (creating if absent) the oplog database rooted at dir.
func Open(dir string) (*Manager, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.New("oplog.Open", errs.KindStorageFailure, err)
	}
	return &Manager{db: db}, nil
}

// Close releases the underlying database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Tenant returns a TenantLog scoped to tenantID. Opening the handle never
// touches storage; it is a cheap, reusable view over the shared database.
func (m *Manager) Tenant(tenantID string) TenantLog {
	return &tenantLog{db: m.db, tenant: tenantID}
}

type tenantLog struct {
	db     *badger.DB
	tenant string
}

// Keys live in two disjoint namespaces so an op-range scan can never walk
// into the seq counter: "op\x00{tenant}\x00{seq}" and "meta\x00{tenant}\x00seq".
func opKey(tenant string, seq uint64) []byte {
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(opKeyPrefix(tenant), seqBytes[:]...)
}

func opKeyPrefix(tenant string) []byte {
	return []byte(fmt.Sprintf("op\x00%s\x00", tenant))
}

func seqMetaKey(tenant string) []byte {
	return []byte(fmt.Sprintf("meta\x00%s\x00seq", tenant))
}

// Append allocates the next seq for this tenant (ignoring any seq already
// set on op), writes the entry, and advances the durable high-water mark —
// all inside one Badger transaction, so either both persist or neither
// does.
func (t *tenantLog) Append(op Op) (uint64, error) {
	var newSeq uint64
	err := t.db.Update(func(txn *badger.Txn) error {
		current, err := readSeq(txn, t.tenant)
		if err != nil {
			return err
		}
		newSeq = current + 1
		op.Seq = newSeq

		encoded, err := json.Marshal(op)
		if err != nil {
			return err
		}
		if err := txn.Set(opKey(t.tenant, newSeq), encoded); err != nil {
			return err
		}
		return txn.Set(seqMetaKey(t.tenant), encodeSeq(newSeq))
	})
	if err != nil {
		return 0, errs.New("oplog.Append", errs.KindStorageFailure, err)
	}
	return newSeq, nil
}

// CurrentSeq returns the highest durable seq for this tenant, 0 if empty.
func (t *tenantLog) CurrentSeq() (uint64, error) {
	var seq uint64
	err := t.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = readSeq(txn, t.tenant)
		return err
	})
	if err != nil {
		return 0, errs.New("oplog.CurrentSeq", errs.KindStorageFailure, err)
	}
	return seq, nil
}

// ReadSince returns ops with seq > sinceSeq, in seq order, capped at max.
func (t *tenantLog) ReadSince(sinceSeq uint64, max int) ([]Op, error) {
	var ops []Op
	err := t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		start := opKey(t.tenant, sinceSeq+1)
		prefix := opKeyPrefix(t.tenant)
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if len(ops) >= max {
				break
			}
			item := it.Item()
			var op Op
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			}); err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, errs.New("oplog.ReadSince", errs.KindStorageFailure, err)
	}
	return ops, nil
}

func readSeq(txn *badger.Txn, tenant string) (uint64, error) {
	item, err := txn.Get(seqMetaKey(tenant))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func encodeSeq(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

// ListTenants walks the database's distinct tenant key prefixes. It is how
// the replication manager's startup and periodic catch-up discover which
// tenants this node knows about.
func (m *Manager) ListTenants(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var tenants []string
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			key := it.Item().Key()
			const prefix = "op\x00"
			if !bytes.HasPrefix(key, []byte(prefix)) {
				continue
			}
			rest := key[len(prefix):]
			idx := bytes.IndexByte(rest, 0x00)
			if idx < 0 {
				continue
			}
			tenant := string(rest[:idx])
			if _, ok := seen[tenant]; !ok {
				seen[tenant] = struct{}{}
				tenants = append(tenants, tenant)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.New("oplog.ListTenants", errs.KindStorageFailure, err)
	}
	return tenants, nil
}
