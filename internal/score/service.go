package score

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

// Service scores the summarized clusters of a run and flags the hottest.
type Service struct {
	clusters *storage.ClusterStore
	topics   *storage.TopicStore
	runID    string
	topPct   float64
	logger   *slog.Logger
}

// NewService creates a scoring service for one run.
func NewService(clusters *storage.ClusterStore, topics *storage.TopicStore, runID string, topPct float64) *Service {
	return &Service{
		clusters: clusters,
		topics:   topics,
		runID:    runID,
		topPct:   topPct,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// ScoredCluster pairs a news cluster row with its hotspot score.
type ScoredCluster struct {
	FlashpointID uuid.UUID
	Cluster      *storage.NewsCluster
	Hotspot      Hotspot
}

// ScoreClusters computes hotspot scores for every news cluster the run
// wrote, across all given flashpoints, and flags the top fraction.
func (s *Service) ScoreClusters(
	ctx context.Context,
	tables *storage.Tables,
	flashpointIDs []uuid.UUID,
) ([]ScoredCluster, error) {
	scored := make([]ScoredCluster, 0)

	for _, fpID := range flashpointIDs {
		clusters, err := s.clusters.ListNewsClusters(ctx, tables, fpID)
		if err != nil {
			return nil, err
		}

		if len(clusters) == 0 {
			continue
		}

		primaryTopic, err := s.topics.PrimaryTopicForCluster(ctx, fpID, s.runID)
		if err != nil {
			// Topic rows are optional; score with the default weight.
			s.logger.Warn("primary topic lookup failed",
				"flashpoint_id", fpID,
				"error", err)

			primaryTopic = ""
		}

		for _, nc := range clusters {
			createdAt := nc.CreatedAt

			hotspot := Compute(
				nc.ArticleCount,
				uniqueCount(nc.TopDomains),
				&createdAt,
				primaryTopic,
				time.Now().UTC(),
			)
			hotspot.ClusterID = nc.ClusterID

			scored = append(scored, ScoredCluster{
				FlashpointID: fpID,
				Cluster:      nc,
				Hotspot:      hotspot,
			})
		}
	}

	flagTopScored(scored, s.topPct)

	top := 0
	for _, sc := range scored {
		if sc.Hotspot.IsTopHotspot {
			top++
		}
	}

	s.logger.Info("scoring complete",
		"run_id", s.runID,
		"total_clusters", len(scored),
		"top_hotspots", top)

	return scored, nil
}

// flagTopScored flags the top fraction of scored clusters (at least one)
// without reordering the slice.
func flagTopScored(scored []ScoredCluster, topPct float64) {
	if len(scored) == 0 {
		return
	}

	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return scored[order[a]].Hotspot.Score > scored[order[b]].Hotspot.Score
	})

	topN := int(float64(len(scored)) * topPct)
	if topN < 1 {
		topN = 1
	}

	for _, idx := range order[:topN] {
		scored[idx].Hotspot.IsTopHotspot = true
	}
}

func uniqueCount(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it] = struct{}{}
	}

	return len(seen)
}
