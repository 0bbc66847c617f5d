// Query aggregator: deduplicates rapid repeated searches from the same
// user into a single counted event, distinguishing pagination (same query)
// from typing continuation (different query, same window) from a genuinely
// new search (window expired). Grounded on src/analytics/aggregation.rs.
package analytics

import (
	"sync"
	"time"
)

type aggKey struct {
	userID string
	index  string
}

type aggWindow struct {
	lastSeen   time.Time
	finalQuery string
	filters    string
}

// QueryAggregator tracks one sliding window per (user_id, index). A sharded
// map is unwarranted at this scale — the Rust original uses a DashMap, but
// a single mutex over a map this small (one entry per active user) is
// simpler and correct, matching the design note's carve-out for the
// query-embedding cache.
type QueryAggregator struct {
	mu         sync.Mutex
	windows    map[aggKey]*aggWindow
	windowSecs int64
	now        func() time.Time
}

const DefaultWindowSecs = 30

// NewQueryAggregator builds an aggregator with the given window, in
// seconds (0 uses DefaultWindowSecs).
func NewQueryAggregator(windowSecs int64) *QueryAggregator {
	if windowSecs <= 0 {
		windowSecs = DefaultWindowSecs
	}
	return &QueryAggregator{
		windows:    make(map[aggKey]*aggWindow),
		windowSecs: windowSecs,
		now:        time.Now,
	}
}

// ShouldCount decides whether this search should be counted as a new event
// and updates internal state. Returns true for: the first search for this
// (user, index); any search after the window has expired. Returns false
// for: an identical query+filters within the window (pagination); a
// different query within the window (typing continuation — finalQuery is
// still updated so the eventually-settled query is what gets recorded).
func (a *QueryAggregator) ShouldCount(userID, index, query, filters string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := aggKey{userID: userID, index: index}
	now := a.now()
	w, exists := a.windows[key]
	if !exists || now.Sub(w.lastSeen) >= time.Duration(a.windowSecs)*time.Second {
		a.windows[key] = &aggWindow{lastSeen: now, finalQuery: query, filters: filters}
		return true
	}

	w.lastSeen = now
	if query == w.finalQuery && filters == w.filters {
		return false // pagination: identical search repeated
	}
	w.finalQuery = query
	w.filters = filters
	return false // typing continuation: new characters, same logical search
}

// EvictExpired removes windows last touched more than 2*windowSecs ago, to
// bound memory for long-running processes.
func (a *QueryAggregator) EvictExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := time.Duration(2*a.windowSecs) * time.Second
	now := a.now()
	for k, w := range a.windows {
		if now.Sub(w.lastSeen) >= cutoff {
			delete(a.windows, k)
		}
	}
}

// Len reports the number of tracked windows (diagnostics/tests only).
func (a *QueryAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}
