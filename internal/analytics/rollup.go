// Rollup broadcaster: precomputes a small summary per analytics index and
// pushes it to every peer so peers can answer certain fan-out endpoints
// from cache rather than a live round trip. Grounded on
// flapjack-http/src/rollup_broadcaster.rs.
package analytics

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"
)

// Rollup is the pushed payload: one node's precomputed results for one
// index, keyed by the same endpoint_key strings the fan-out uses.
type Rollup struct {
	NodeID         string                     `json:"node_id"`
	Index          string                     `json:"index"`
	GeneratedAtSec int64                      `json:"generated_at_secs"`
	Results        map[string]json.RawMessage `json:"results"`
}

// RollupPusher is the subset of peer.Client the broadcaster needs, kept as
// an interface so this package does not import net/http transport details.
type RollupPusher interface {
	PushRollup(ctx context.Context, rollup any) error
}

// DataSource supplies the numbers a rollup summarizes. In production this
// is backed by the analytics event store; it is a narrow interface here
// because that store is an out-of-scope external collaborator (spec §1)
// and this core only needs three numbers out of it.
type DataSource interface {
	TopSearches(ctx context.Context, index string, limit int, sinceDays int) ([]CountItem, error)
	SearchCount(ctx context.Context, index string, sinceDays int) (CountWithDaily, error)
	NoResultSearches(ctx context.Context, index string, limit int, sinceDays int) ([]CountItem, error)
}

const rollupLookbackDays = 30

// DiscoverIndexes lists the analytics index subdirectories under
// analyticsDir, sorted for deterministic broadcast order. A missing
// directory yields an empty result rather than an error.
func DiscoverIndexes(analyticsDir string) ([]string, error) {
	entries, err := os.ReadDir(analyticsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ComputeRollup builds the rollup for one index: top 50 searches, total
// search count, and top 50 no-result searches over the last 30 UTC days.
// Exactly these three keys are always present, even for an index with no
// data, so a receiving peer can always assume the shape.
func ComputeRollup(ctx context.Context, source DataSource, nodeID, index string, now time.Time) (Rollup, error) {
	results := make(map[string]json.RawMessage)

	top, err := source.TopSearches(ctx, index, 50, rollupLookbackDays)
	if err != nil {
		return Rollup{}, err
	}
	if encoded, err := json.Marshal(top); err == nil {
		results["searches"] = encoded
	}

	count, err := source.SearchCount(ctx, index, rollupLookbackDays)
	if err != nil {
		return Rollup{}, err
	}
	if encoded, err := json.Marshal(count); err == nil {
		results["searches/count"] = encoded
	}

	noResults, err := source.NoResultSearches(ctx, index, 50, rollupLookbackDays)
	if err != nil {
		return Rollup{}, err
	}
	if encoded, err := json.Marshal(noResults); err == nil {
		results["searches/noResults"] = encoded
	}

	return Rollup{
		NodeID:         nodeID,
		Index:          index,
		GeneratedAtSec: now.Unix(),
		Results:        results,
	}, nil
}

// RunRollupBroadcast discovers every local index, computes its rollup, and
// pushes to every peer. Errors pushing to any one peer are swallowed (peer
// failures never block other peers or fail the broadcast).
func RunRollupBroadcast(ctx context.Context, source DataSource, analyticsDir, nodeID string, peers []RollupPusher) error {
	indexes, err := DiscoverIndexes(analyticsDir)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, index := range indexes {
		rollup, err := ComputeRollup(ctx, source, nodeID, index, now)
		if err != nil {
			continue
		}
		for _, p := range peers {
			_ = p.PushRollup(ctx, rollup)
		}
	}
	return nil
}

// RollupCache caches received rollups keyed by (node_id, index), TTL-expired
// lazily on read; expired entries stay in the map until Sweep is called,
// and no background loop calls it. Concurrent map semantics per the
// design notes: entries are write-once-then-replaced, guarded by a mutex
// since reads and writes are both cheap here.
type RollupCache struct {
	mu      sync.Mutex
	entries map[rollupKey]cachedRollup
	ttl     time.Duration
	now     func() time.Time
}

type rollupKey struct {
	nodeID string
	index  string
}

type cachedRollup struct {
	rollup    Rollup
	expiresAt time.Time
}

// NewRollupCache builds a cache with the given TTL (recommended:
// 2 × rollup_interval_secs, per spec's Open Question resolution).
func NewRollupCache(ttl time.Duration) *RollupCache {
	return &RollupCache{
		entries: make(map[rollupKey]cachedRollup),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores or replaces the rollup for (rollup.NodeID, rollup.Index).
func (c *RollupCache) Put(rollup Rollup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := rollupKey{nodeID: rollup.NodeID, index: rollup.Index}
	c.entries[key] = cachedRollup{rollup: rollup, expiresAt: c.now().Add(c.ttl)}
}

// Get returns the cached rollup for (nodeID, index) if present and not
// expired.
func (c *RollupCache) Get(nodeID, index string) (Rollup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := rollupKey{nodeID: nodeID, index: index}
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return Rollup{}, false
	}
	return entry.rollup, true
}

// Sweep removes every expired entry. It runs only when a caller invokes it.
func (c *RollupCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Entries returns a snapshot of all live (non-expired) cached rollups, for
// the GET /internal/rollup-cache introspection endpoint.
func (c *RollupCache) Entries() []Rollup {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []Rollup
	for _, v := range c.entries {
		if !now.After(v.expiresAt) {
			out = append(out, v.rollup)
		}
	}
	return out
}

// RunRollupBroadcastLoop runs RunRollupBroadcast every intervalSecs. The
// first tick is consumed and skipped (peers need time to open their ports
// right after a coordinated cluster start), and missed ticks use "delay"
// semantics: a slow pass never triggers a burst of queued-up catch-up runs.
func RunRollupBroadcastLoop(ctx context.Context, source DataSource, analyticsDir, nodeID string, peers []RollupPusher, intervalSecs int, log func(format string, args ...any)) {
	if intervalSecs <= 0 {
		intervalSecs = 300
	}
	ticker := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	defer ticker.Stop()

	select {
	case <-ticker.C: // consume and skip the first tick, one interval after start
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := RunRollupBroadcast(ctx, source, analyticsDir, nodeID, peers); err != nil && log != nil {
				log("rollup broadcast failed: %v", err)
			}
		}
	}
}
