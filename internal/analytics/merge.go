// Merge strategies for the Analytics Cluster Coordinator's fan-out (C5).
// Each strategy is a StrategyKind tag with its own Merge* function — the
// tag is selected once per endpoint by StrategyForEndpoint and dispatched in
// one place (mergeByStrategy in cluster.go), never a string-switch scattered
// across call sites, per the design note in spec §9. The concrete per-strategy JSON shapes are this core's own
// canonical wire contracts (the original's merge.rs was not available to
// port verbatim; these are grounded on src/analytics/types.rs's
// MergeStrategy enum and the exact rules spec.md §4.5 specifies for each).
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
)

// StrategyKind names one of the nine tagged merge variants.
type StrategyKind string

const (
	StrategyTopK           StrategyKind = "top_k"
	StrategyCountWithDaily StrategyKind = "count_with_daily"
	StrategyRate           StrategyKind = "rate"
	StrategyWeightedAvg    StrategyKind = "weighted_avg"
	StrategyHistogram      StrategyKind = "histogram"
	StrategyCategoryCounts StrategyKind = "category_counts"
	StrategyUserCountHLL   StrategyKind = "user_count_hll"
	StrategyOverview       StrategyKind = "overview"
	StrategyNone           StrategyKind = "none"
)

// StrategyForEndpoint maps an endpoint path (as used by the client, e.g.
// "searches/count") to the merge strategy that applies. Unknown paths and
// "status" use StrategyNone: pass through the local answer only.
func StrategyForEndpoint(path string) StrategyKind {
	switch path {
	case "searches", "searches/noResults", "searches/noClicks", "hits", "filters":
		return StrategyTopK
	case "searches/count":
		return StrategyCountWithDaily
	case "searches/noResultRate", "searches/noClickRate", "clicks/clickThroughRate", "conversions/conversionRate":
		return StrategyRate
	case "clicks/averageClickPosition":
		return StrategyWeightedAvg
	case "clicks/positions":
		return StrategyHistogram
	case "devices", "geo":
		return StrategyCategoryCounts
	case "users/count":
		return StrategyUserCountHLL
	case "overview":
		return StrategyOverview
	default:
		switch {
		case hasPrefix(path, "filters/"):
			return StrategyTopK
		case hasPrefix(path, "geo/") && hasSuffix(path, "/regions"):
			return StrategyCategoryCounts
		default:
			return StrategyNone
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// CountItem is the canonical TopK entry shape: a key (a search query, a
// filter value, a hit id — whatever the endpoint counts) and its count.
type CountItem struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// MergeTopK sums counts per key across all the given bodies (each an array
// of CountItem), sorts by count descending (equal counts by key
// descending), and truncates to limit.
func MergeTopK(bodies [][]CountItem, limit int) []CountItem {
	totals := make(map[string]int64)
	var order []string
	for _, body := range bodies {
		for _, item := range body {
			if _, ok := totals[item.Key]; !ok {
				order = append(order, item.Key)
			}
			totals[item.Key] += item.Count
		}
	}
	merged := make([]CountItem, 0, len(order))
	for _, key := range order {
		merged = append(merged, CountItem{Key: key, Count: totals[key]})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Count != merged[j].Count {
			return merged[i].Count > merged[j].Count
		}
		return merged[i].Key > merged[j].Key
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// CountWithDaily is the canonical searches/count shape: a grand total plus
// a per-date breakdown.
type CountWithDaily struct {
	Total int64            `json:"total"`
	Daily map[string]int64 `json:"daily"`
}

// MergeCountWithDaily sums the total and each date's count independently.
func MergeCountWithDaily(bodies []CountWithDaily) CountWithDaily {
	result := CountWithDaily{Daily: make(map[string]int64)}
	for _, b := range bodies {
		result.Total += b.Total
		for date, count := range b.Daily {
			result.Daily[date] += count
		}
	}
	return result
}

// RateParts is the canonical shape for any of the rate endpoints:
// numerator/denominator pairs that must be summed before dividing, never
// averaged as already-computed rates.
type RateParts struct {
	Numerator   int64 `json:"numerator"`
	Denominator int64 `json:"denominator"`
}

// MergeRate sums numerators and denominators, dropping any shard whose
// denominator is zero (per the Open Question resolution: a zero-den shard
// contributes nothing rather than forcing a 0/0 NaN), then divides once.
func MergeRate(parts []RateParts) float64 {
	var num, den int64
	for _, p := range parts {
		if p.Denominator == 0 {
			continue
		}
		num += p.Numerator
		den += p.Denominator
	}
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// WeightedAvgParts is the canonical shape for clicks/averageClickPosition:
// each shard reports its own average and the count it was computed over.
type WeightedAvgParts struct {
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// MergeWeightedAvg computes Σ(avg·count)/Σ(count).
func MergeWeightedAvg(parts []WeightedAvgParts) float64 {
	var weightedSum float64
	var totalCount int64
	for _, p := range parts {
		weightedSum += p.Average * float64(p.Count)
		totalCount += p.Count
	}
	if totalCount == 0 {
		return 0
	}
	return weightedSum / float64(totalCount)
}

// MergeHistogram sums bucket-wise across shards (used for clicks/positions
// and for any category/geo breakdown keyed by an arbitrary string bucket).
func MergeHistogram(buckets []map[string]int64) map[string]int64 {
	result := make(map[string]int64)
	for _, b := range buckets {
		for k, v := range b {
			result[k] += v
		}
	}
	return result
}

// MergeCategoryCounts is CategoryCounts — identical rule to histogram
// (sum per category) but kept as its own name so devices/geo endpoints
// read as what they are, not borrowed histogram plumbing.
func MergeCategoryCounts(buckets []map[string]int64) map[string]int64 {
	return MergeHistogram(buckets)
}

// MergeUserCountHLL merges base64-encoded sketches and returns the
// estimated distinct-user cardinality.
func MergeUserCountHLL(sketchesB64 []string) (float64, error) {
	sketches := make([]*HLLSketch, 0, len(sketchesB64))
	for _, s := range sketchesB64 {
		if s == "" {
			continue
		}
		sketch, err := HLLFromBase64(s)
		if err != nil {
			return 0, fmt.Errorf("merge users/count: %w", err)
		}
		sketches = append(sketches, sketch)
	}
	if len(sketches) == 0 {
		return 0, nil
	}
	return MergeAll(sketches).Cardinality(), nil
}

// MergeNone passes the local-only body through unchanged; used for
// "status" and any endpoint without a defined cross-node merge.
func MergeNone(local json.RawMessage) json.RawMessage {
	return local
}
