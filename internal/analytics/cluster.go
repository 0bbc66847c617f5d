// Analytics Cluster Coordinator (C5): fans an analytics query out to every
// peer, merges by per-endpoint strategy, and reports fan-out health as
// response metadata. Grounded on flapjack-http/src/analytics_cluster.rs —
// but that file constructs itself as a OnceCell-backed process-wide
// singleton (set_global_cluster/get_global_cluster). spec §9 explicitly
// flags that as an anti-pattern to fix: this Coordinator is instead an
// explicit handle built once at server bootstrap and threaded through the
// request context, never touched by package-level init.
package analytics

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// NodeStatus classifies one peer's contribution to a fan-out.
type NodeStatus string

const (
	NodeStatusOK      NodeStatus = "ok"
	NodeStatusTimeout NodeStatus = "timeout"
	NodeStatusError   NodeStatus = "error"
	NodeStatusSkipped NodeStatus = "skipped" // breaker open; never attempted
)

// NodeDetail reports one node's outcome in a fan-out.
type NodeDetail struct {
	NodeID    string     `json:"node_id"`
	Status    NodeStatus `json:"status"`
	LatencyMs *int64     `json:"latency_ms,omitempty"`
}

// ClusterMetadata is attached to every fanned-out analytics response.
type ClusterMetadata struct {
	NodesTotal      int          `json:"nodes_total"`
	NodesResponding int          `json:"nodes_responding"`
	Partial         bool         `json:"partial"`
	NodeDetails     []NodeDetail `json:"node_details"`
}

// PeerQuerier is the subset of a peer client the coordinator needs: fetch a
// local-only copy of whatever analytics path the client requested.
type PeerQuerier interface {
	PeerIdentity() string
	Allow() bool
	FetchLocalOnly(ctx context.Context, path string) (json.RawMessage, error)
}

type peerResult struct {
	nodeID    string
	latencyMs int64
	data      json.RawMessage
	status    NodeStatus
}

// Coordinator fans out analytics queries to peers and merges the results.
// One Coordinator per node; constructed at bootstrap, passed explicitly to
// handlers — never a package-level global.
type Coordinator struct {
	nodeID string
	peers  []PeerQuerier
}

// NewCoordinator returns nil if peers is empty: with no peers configured,
// analytics fan-out has nothing to do and every caller should fall back to
// the local-only answer, exactly as the original's new() returning None
// signaled standalone mode.
func NewCoordinator(nodeID string, peers []PeerQuerier) *Coordinator {
	if len(peers) == 0 {
		return nil
	}
	return &Coordinator{nodeID: nodeID, peers: peers}
}

// QueryPeers issues a local-only GET to path against every peer in
// parallel, 5s timeout per the peer client's own budget, classifying each
// outcome.
func (c *Coordinator) QueryPeers(ctx context.Context, path string) []peerResult {
	results := make([]peerResult, len(c.peers))
	var g errgroup.Group
	for i, p := range c.peers {
		i, p := i, p
		g.Go(func() error {
			if !p.Allow() {
				results[i] = peerResult{nodeID: p.PeerIdentity(), status: NodeStatusSkipped}
				return nil
			}
			start := time.Now()
			data, err := p.FetchLocalOnly(ctx, path)
			latency := time.Since(start).Milliseconds()
			if err != nil {
				status := NodeStatusError
				if ctx.Err() != nil {
					status = NodeStatusTimeout
				}
				results[i] = peerResult{nodeID: p.PeerIdentity(), latencyMs: latency, status: status}
				return nil
			}
			results[i] = peerResult{nodeID: p.PeerIdentity(), latencyMs: latency, data: data, status: NodeStatusOK}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FanOutAndMerge queries every peer for path, merges localResult with every
// successful peer result by the strategy bound to path, and returns the
// merged body plus cluster metadata. local must already be in the
// canonical shape the relevant Merge* function expects.
func (c *Coordinator) FanOutAndMerge(ctx context.Context, path string, local json.RawMessage, limit int) (json.RawMessage, ClusterMetadata) {
	peerResults := c.QueryPeers(ctx, path)

	details := make([]NodeDetail, 0, len(peerResults)+1)
	details = append(details, NodeDetail{NodeID: c.nodeID, Status: NodeStatusOK})

	bodies := []json.RawMessage{local}
	responding := 1
	for _, r := range peerResults {
		detail := NodeDetail{NodeID: r.nodeID, Status: r.status}
		if r.status == NodeStatusOK || r.status == NodeStatusError || r.status == NodeStatusTimeout {
			latency := r.latencyMs
			detail.LatencyMs = &latency
		}
		details = append(details, detail)
		if r.status == NodeStatusOK {
			bodies = append(bodies, r.data)
			responding++
		}
	}

	meta := ClusterMetadata{
		NodesTotal:      len(c.peers) + 1,
		NodesResponding: responding,
		Partial:         responding < len(c.peers)+1,
		NodeDetails:     details,
	}

	merged := mergeByStrategy(StrategyForEndpoint(path), bodies, limit)
	return merged, meta
}

// mergeByStrategy decodes each raw body into the strategy's canonical shape
// and merges. Bodies that fail to decode are skipped — a malformed peer
// response degrades the merge, it does not fail the whole request.
func mergeByStrategy(strategy StrategyKind, bodies []json.RawMessage, limit int) json.RawMessage {
	switch strategy {
	case StrategyTopK:
		var decoded [][]CountItem
		for _, b := range bodies {
			var items []CountItem
			if json.Unmarshal(b, &items) == nil {
				decoded = append(decoded, items)
			}
		}
		out, _ := json.Marshal(MergeTopK(decoded, limit))
		return out
	case StrategyCountWithDaily:
		var decoded []CountWithDaily
		for _, b := range bodies {
			var v CountWithDaily
			if json.Unmarshal(b, &v) == nil {
				decoded = append(decoded, v)
			}
		}
		out, _ := json.Marshal(MergeCountWithDaily(decoded))
		return out
	case StrategyRate:
		var decoded []RateParts
		for _, b := range bodies {
			var v RateParts
			if json.Unmarshal(b, &v) == nil {
				decoded = append(decoded, v)
			}
		}
		out, _ := json.Marshal(struct {
			Rate float64 `json:"rate"`
		}{Rate: MergeRate(decoded)})
		return out
	case StrategyWeightedAvg:
		var decoded []WeightedAvgParts
		for _, b := range bodies {
			var v WeightedAvgParts
			if json.Unmarshal(b, &v) == nil {
				decoded = append(decoded, v)
			}
		}
		out, _ := json.Marshal(struct {
			Average float64 `json:"average"`
		}{Average: MergeWeightedAvg(decoded)})
		return out
	case StrategyHistogram, StrategyCategoryCounts:
		var decoded []map[string]int64
		for _, b := range bodies {
			var v map[string]int64
			if json.Unmarshal(b, &v) == nil {
				decoded = append(decoded, v)
			}
		}
		out, _ := json.Marshal(MergeHistogram(decoded))
		return out
	case StrategyUserCountHLL:
		var sketches []string
		for _, b := range bodies {
			var v struct {
				Sketch string `json:"sketch"`
			}
			if json.Unmarshal(b, &v) == nil {
				sketches = append(sketches, v.Sketch)
			}
		}
		estimate, _ := MergeUserCountHLL(sketches)
		out, _ := json.Marshal(struct {
			Count float64 `json:"count"`
		}{Count: estimate})
		return out
	case StrategyOverview:
		return mergeOverview(bodies, limit)
	default: // StrategyNone: pass the local answer through unmerged.
		if len(bodies) > 0 {
			return bodies[0]
		}
		return json.RawMessage(`{}`)
	}
}

// mergeOverview implements the Overview composite: an overview body is a
// JSON object keyed by the same endpoint-key strings the rollup cache uses
// (e.g. "searches", "searches/count", "searches/noResults" — see
// ComputeRollup). Each field is merged independently by the strategy its
// own key would get outside of overview, then the merged fields are
// reassembled into one object. A field missing from a given node's body is
// simply skipped for that node, so a partial overview from an older or
// differently-configured peer still contributes whatever fields it has.
func mergeOverview(bodies []json.RawMessage, limit int) json.RawMessage {
	decoded := make([]map[string]json.RawMessage, 0, len(bodies))
	var fieldOrder []string
	seen := make(map[string]bool)
	for _, b := range bodies {
		var fields map[string]json.RawMessage
		if json.Unmarshal(b, &fields) != nil {
			continue
		}
		decoded = append(decoded, fields)
		for key := range fields {
			if !seen[key] {
				seen[key] = true
				fieldOrder = append(fieldOrder, key)
			}
		}
	}
	sort.Strings(fieldOrder)

	merged := make(map[string]json.RawMessage, len(fieldOrder))
	for _, key := range fieldOrder {
		var fieldBodies []json.RawMessage
		for _, fields := range decoded {
			if raw, ok := fields[key]; ok {
				fieldBodies = append(fieldBodies, raw)
			}
		}
		merged[key] = mergeByStrategy(StrategyForEndpoint(key), fieldBodies, limit)
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}
