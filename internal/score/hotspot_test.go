package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTopicWeightOrdersScores(t *testing.T) {
	now := time.Now().UTC()
	recency := now

	conflict := Compute(10, 5, &recency, "conflict, war and peace", now)
	sport := Compute(10, 5, &recency, "sport", now)

	assert.GreaterOrEqual(t, conflict.Score, sport.Score)
	assert.Greater(t, conflict.Components.TopicWeight, sport.Components.TopicWeight)
}

func TestComputeScoreInUnitRange(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name          string
		articleCount  int
		uniqueDomains int
		recency       *time.Time
		topic         string
	}{
		{"maximal signals", 1000, 50, &now, "conflict, war and peace"},
		{"no recency", 10, 5, nil, "politics"},
		{"empty cluster", 0, 0, nil, ""},
		{"unknown topic", 5, 2, &now, "astrology"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.articleCount, tt.uniqueDomains, tt.recency, tt.topic, now)

			assert.GreaterOrEqual(t, got.Score, 0.0)
			assert.LessOrEqual(t, got.Score, 1.0)
		})
	}
}

func TestComputeRecencyDecay(t *testing.T) {
	now := time.Now().UTC()
	fresh := now
	stale := now.Add(-24 * time.Hour)

	freshScore := Compute(10, 5, &fresh, "politics", now)
	staleScore := Compute(10, 5, &stale, "politics", now)

	assert.Greater(t, freshScore.Components.Recency, staleScore.Components.Recency)

	// 24 hours is two half-lives; recency should be near 0.25.
	assert.InDelta(t, 0.25, staleScore.Components.Recency, 0.01)
}

func TestComputeUnknownTopicGetsDefaultWeight(t *testing.T) {
	now := time.Now().UTC()

	got := Compute(10, 5, nil, "unclassified", now)
	assert.InDelta(t, 0.3, got.Components.TopicWeight, 0.0001)
}

func TestComputeTopicLookupIsCaseInsensitive(t *testing.T) {
	now := time.Now().UTC()

	lower := Compute(10, 5, nil, "sport", now)
	upper := Compute(10, 5, nil, "Sport", now)

	assert.Equal(t, lower.Score, upper.Score)
}

func TestFlagTopFlagsAtLeastOne(t *testing.T) {
	hotspots := []Hotspot{
		{ClusterID: 1, Score: 0.2},
		{ClusterID: 2, Score: 0.9},
		{ClusterID: 3, Score: 0.5},
	}

	FlagTop(hotspots, 0.10)

	require.Equal(t, 2, hotspots[0].ClusterID)
	assert.True(t, hotspots[0].IsTopHotspot)
	assert.False(t, hotspots[1].IsTopHotspot)
	assert.False(t, hotspots[2].IsTopHotspot)
}

func TestFlagTopEmptyIsNoop(t *testing.T) {
	FlagTop(nil, 0.10)
}

func TestFlagTopFlagsFraction(t *testing.T) {
	hotspots := make([]Hotspot, 10)
	for i := range hotspots {
		hotspots[i] = Hotspot{ClusterID: i, Score: float64(i) / 10}
	}

	FlagTop(hotspots, 0.3)

	flagged := 0
	for _, h := range hotspots {
		if h.IsTopHotspot {
			flagged++
		}
	}

	assert.Equal(t, 3, flagged)
	assert.True(t, hotspots[0].IsTopHotspot)
	assert.Equal(t, 9, hotspots[0].ClusterID)
}
