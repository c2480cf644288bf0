// Package score computes hotspot scores for summarized clusters.
//
// A hotspot score in [0, 1] blends four signals: article volume, recency,
// source diversity, and the editorial weight of the cluster's primary IPTC
// topic. Conflict and disaster topics outrank sport and lifestyle, so a
// mid-sized cluster about an armed escalation beats a large one about a
// football transfer.
package score

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Component weights of the blended score.
const (
	volumeWeight    = 0.30
	recencyWeight   = 0.25
	diversityWeight = 0.25
	topicWeight     = 0.20

	// recencyHalfLife is how quickly the recency signal decays: a cluster
	// created 12 hours ago contributes half the recency of one created now.
	recencyHalfLife = 12 * time.Hour

	// maxArticleCount normalizes the log-scaled volume signal.
	maxArticleCount = 100

	// maxUniqueDomains normalizes the log-scaled diversity signal.
	maxUniqueDomains = 20

	// defaultTopicWeight applies to unknown or unclassified topics.
	defaultTopicWeight = 0.3
)

// TopicWeights maps IPTC top-level categories to editorial weights.
// Conflict and disaster coverage scores highest.
var TopicWeights = map[string]float64{
	"conflict, war and peace":                   1.0,
	"disaster, accident and emergency incident": 0.9,
	"crime, law and justice":                    0.8,
	"politics":                                  0.7,
	"society":                                   0.6,
	"health":                                    0.6,
	"environmental issue":                       0.5,
	"economy, business and finance":             0.5,
	"human interest":                            0.4,
	"education":                                 0.3,
	"religion":                                  0.3,
	"science and technology":                    0.3,
	"labour":                                    0.3,
	"weather":                                   0.3,
	"arts, culture, entertainment and media":    0.2,
	"lifestyle and leisure":                     0.2,
	"sport":                                     0.1,
}

type (
	// Hotspot is the computed score for one cluster.
	Hotspot struct {
		ClusterID    int
		Score        float64
		Components   Components
		IsTopHotspot bool
	}

	// Components is the per-signal breakdown of a hotspot score.
	Components struct {
		Volume      float64
		Recency     float64
		Diversity   float64
		TopicWeight float64
	}
)

// Compute blends the four signals into a hotspot score.
//
// Volume and diversity are log-scaled and capped at 1.0; recency decays
// exponentially with a 12-hour half-life from maxRecency to now. A nil
// maxRecency contributes zero recency. The topic lookup is
// case-insensitive; unknown topics get the default weight.
func Compute(articleCount, uniqueDomains int, maxRecency *time.Time, primaryTopic string, now time.Time) Hotspot {
	volume := math.Min(
		math.Log2(float64(articleCount)+1)/math.Log2(maxArticleCount+1),
		1.0,
	)

	recency := 0.0
	if maxRecency != nil {
		ageHours := now.Sub(*maxRecency).Hours()
		recency = math.Exp(-0.693 * ageHours / recencyHalfLife.Hours())
	}

	diversity := math.Min(
		math.Log2(float64(uniqueDomains)+1)/math.Log2(maxUniqueDomains),
		1.0,
	)

	weight, ok := TopicWeights[strings.ToLower(primaryTopic)]
	if !ok {
		weight = defaultTopicWeight
	}

	score := volumeWeight*volume + recencyWeight*recency +
		diversityWeight*diversity + topicWeight*weight

	return Hotspot{
		Score: round4(score),
		Components: Components{
			Volume:      round4(volume),
			Recency:     round4(recency),
			Diversity:   round4(diversity),
			TopicWeight: round4(weight),
		},
	}
}

// FlagTop sorts hotspots by score descending and flags the top fraction
// (at least one when any exist) as top hotspots. The slice is modified in
// place and re-ordered.
func FlagTop(hotspots []Hotspot, topPct float64) {
	if len(hotspots) == 0 {
		return
	}

	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspots[i].Score > hotspots[j].Score
	})

	topN := int(float64(len(hotspots)) * topPct)
	if topN < 1 {
		topN = 1
	}

	for i := 0; i < topN && i < len(hotspots); i++ {
		hotspots[i].IsTopHotspot = true
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
