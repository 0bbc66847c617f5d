package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstSearchAlwaysCounted(t *testing.T) {
	a := NewQueryAggregator(30)
	assert.True(t, a.ShouldCount("u1", "idx", "laptop", ""))
}

func TestRapidKeystrokeNotCounted(t *testing.T) {
	a := NewQueryAggregator(30)
	assert.True(t, a.ShouldCount("u1", "idx", "l", ""))
	assert.False(t, a.ShouldCount("u1", "idx", "la", ""))
	assert.False(t, a.ShouldCount("u1", "idx", "lap", ""))
}

func TestDifferentUsersBothCounted(t *testing.T) {
	a := NewQueryAggregator(30)
	assert.True(t, a.ShouldCount("u1", "idx", "laptop", ""))
	assert.True(t, a.ShouldCount("u2", "idx", "laptop", ""))
}

func TestDifferentIndexesBothCounted(t *testing.T) {
	a := NewQueryAggregator(30)
	assert.True(t, a.ShouldCount("u1", "idx-a", "laptop", ""))
	assert.True(t, a.ShouldCount("u1", "idx-b", "laptop", ""))
}

func TestPaginationDedupSameQuerySameFilters(t *testing.T) {
	a := NewQueryAggregator(30)
	assert.True(t, a.ShouldCount("u1", "idx", "laptop", "color:red"))
	assert.False(t, a.ShouldCount("u1", "idx", "laptop", "color:red"))
}

func TestDifferentFiltersWithinWindowNotCounted(t *testing.T) {
	a := NewQueryAggregator(30)
	assert.True(t, a.ShouldCount("u1", "idx", "laptop", "color:red"))
	assert.False(t, a.ShouldCount("u1", "idx", "laptop", "color:blue"), "different filters is still a continuation, not a new window")
}

func TestEvictExpiredCleansUp(t *testing.T) {
	a := NewQueryAggregator(30)
	fixed := time.Now()
	a.now = func() time.Time { return fixed }
	a.ShouldCount("u1", "idx", "laptop", "")
	assert.Equal(t, 1, a.Len())

	a.now = func() time.Time { return fixed.Add(61 * time.Second) }
	a.EvictExpired()
	assert.Equal(t, 0, a.Len())
}

func TestSameQueryCountedAgainAfterWindowExpiry(t *testing.T) {
	a := NewQueryAggregator(30)
	fixed := time.Now()
	a.now = func() time.Time { return fixed }
	assert.True(t, a.ShouldCount("u1", "idx", "laptop", ""))

	a.now = func() time.Time { return fixed.Add(31 * time.Second) }
	assert.True(t, a.ShouldCount("u1", "idx", "laptop", ""), "after window expiry the same query is a new search")
}
