package analytics

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeerQuerier struct {
	id      string
	allow   bool
	data    json.RawMessage
	err     error
}

func (f fakePeerQuerier) PeerIdentity() string { return f.id }
func (f fakePeerQuerier) Allow() bool          { return f.allow }
func (f fakePeerQuerier) FetchLocalOnly(ctx context.Context, path string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func TestNewCoordinatorNilWithNoPeers(t *testing.T) {
	assert.Nil(t, NewCoordinator("node-a", nil))
}

func TestFanOutAndMergeTopK(t *testing.T) {
	peers := []PeerQuerier{
		fakePeerQuerier{id: "node-b", allow: true, data: json.RawMessage(`[{"key":"x","count":2}]`)},
	}
	c := NewCoordinator("node-a", peers)
	require.NotNil(t, c)

	local := json.RawMessage(`[{"key":"x","count":3},{"key":"y","count":5}]`)
	merged, meta := c.FanOutAndMerge(context.Background(), "searches", local, 10)

	var items []CountItem
	require.NoError(t, json.Unmarshal(merged, &items))
	assert.Equal(t, []CountItem{{Key: "y", Count: 5}, {Key: "x", Count: 5}}, items)

	assert.Equal(t, 2, meta.NodesTotal)
	assert.Equal(t, 2, meta.NodesResponding)
	assert.False(t, meta.Partial)
	assert.Len(t, meta.NodeDetails, 2)
}

func TestFanOutAndMergeSkipsBreakerOpenPeer(t *testing.T) {
	peers := []PeerQuerier{
		fakePeerQuerier{id: "node-b", allow: false},
	}
	c := NewCoordinator("node-a", peers)

	local := json.RawMessage(`[{"key":"x","count":1}]`)
	merged, meta := c.FanOutAndMerge(context.Background(), "searches", local, 10)

	var items []CountItem
	require.NoError(t, json.Unmarshal(merged, &items))
	assert.Equal(t, []CountItem{{Key: "x", Count: 1}}, items)

	assert.Equal(t, 2, meta.NodesTotal)
	assert.Equal(t, 1, meta.NodesResponding)
	assert.True(t, meta.Partial)

	var skipped int
	for _, d := range meta.NodeDetails {
		if d.Status == NodeStatusSkipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestFanOutAndMergePeerErrorMarksPartial(t *testing.T) {
	peers := []PeerQuerier{
		fakePeerQuerier{id: "node-b", allow: true, err: assert.AnError},
	}
	c := NewCoordinator("node-a", peers)

	local := json.RawMessage(`[{"key":"x","count":1}]`)
	_, meta := c.FanOutAndMerge(context.Background(), "searches", local, 10)

	assert.True(t, meta.Partial)
	assert.Equal(t, 1, meta.NodesResponding)
}

func TestFanOutAndMergeRateNeverAverages(t *testing.T) {
	peers := []PeerQuerier{
		fakePeerQuerier{id: "node-b", allow: true, data: json.RawMessage(`{"numerator":3,"denominator":90}`)},
	}
	c := NewCoordinator("node-a", peers)

	local := json.RawMessage(`{"numerator":2,"denominator":10}`)
	merged, _ := c.FanOutAndMerge(context.Background(), "searches/noResultRate", local, 0)

	var out struct {
		Rate float64 `json:"rate"`
	}
	require.NoError(t, json.Unmarshal(merged, &out))
	assert.InDelta(t, 0.05, out.Rate, 0.0001)
}

func TestFanOutAndMergeOverviewComposesPerField(t *testing.T) {
	peers := []PeerQuerier{
		fakePeerQuerier{id: "node-b", allow: true, data: json.RawMessage(
			`{"searches":[{"key":"x","count":2}],"searches/count":{"total":7,"daily":{"2026-07-30":7}}}`)},
	}
	c := NewCoordinator("node-a", peers)
	require.NotNil(t, c)

	local := json.RawMessage(
		`{"searches":[{"key":"x","count":3},{"key":"y","count":1}],"searches/count":{"total":4,"daily":{"2026-07-30":4}}}`)
	merged, _ := c.FanOutAndMerge(context.Background(), "overview", local, 10)

	var out struct {
		Searches      []CountItem    `json:"searches"`
		SearchesCount CountWithDaily `json:"searches/count"`
	}
	require.NoError(t, json.Unmarshal(merged, &out))
	assert.Equal(t, []CountItem{{Key: "x", Count: 5}, {Key: "y", Count: 1}}, out.Searches)
	assert.Equal(t, int64(11), out.SearchesCount.Total)
	assert.Equal(t, int64(11), out.SearchesCount.Daily["2026-07-30"])
}

func TestFanOutAndMergeOverviewSkipsFieldsMissingFromAPeer(t *testing.T) {
	peers := []PeerQuerier{
		fakePeerQuerier{id: "node-b", allow: true, data: json.RawMessage(`{"searches":[{"key":"x","count":2}]}`)},
	}
	c := NewCoordinator("node-a", peers)

	local := json.RawMessage(`{"searches":[{"key":"x","count":1}],"searches/noResults":[{"key":"z","count":9}]}`)
	merged, _ := c.FanOutAndMerge(context.Background(), "overview", local, 10)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(merged, &out))
	require.Contains(t, out, "searches/noResults")

	var noResults []CountItem
	require.NoError(t, json.Unmarshal(out["searches/noResults"], &noResults))
	assert.Equal(t, []CountItem{{Key: "z", Count: 9}}, noResults)
}

func TestFanOutAndMergeNoneEndpointPassesLocalThrough(t *testing.T) {
	c := NewCoordinator("node-a", []PeerQuerier{fakePeerQuerier{id: "node-b", allow: true, data: json.RawMessage(`{}`)}})
	local := json.RawMessage(`{"foo":"bar"}`)
	merged, _ := c.FanOutAndMerge(context.Background(), "totally/unknown/endpoint", local, 0)
	assert.JSONEq(t, `{"foo":"bar"}`, string(merged))
}
