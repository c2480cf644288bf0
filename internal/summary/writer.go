package summary

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

// Writer materializes the clusters of one run into news_clusters rows and
// advances the member jobs to summarized.
type Writer struct {
	clusters   *storage.ClusterStore
	jobs       *storage.JobStore
	summarizer Summarizer
	tier       config.Tier
	batchSize  int
	runID      string
	logger     *slog.Logger
}

// NewWriter creates a writer for one run. summarizer may be nil when the
// tier has no LLM pass.
func NewWriter(
	clusters *storage.ClusterStore,
	jobs *storage.JobStore,
	summarizer Summarizer,
	pipeline *config.Pipeline,
	runID string,
) *Writer {
	batchSize := pipeline.LLMSummarizeBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	return &Writer{
		clusters:   clusters,
		jobs:       jobs,
		summarizer: summarizer,
		tier:       pipeline.Tier,
		batchSize:  batchSize,
		runID:      runID,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// clusterGroup is one cluster's articles plus its dense rank within the
// flashpoint.
type clusterGroup struct {
	uuid     uuid.UUID
	rank     int
	articles []storage.ClusterArticle
}

// WriteFlashpoint summarizes every cluster of one flashpoint and writes the
// output rows. Existing rows for the flashpoint are replaced, making re-runs
// idempotent. It returns the number of clusters written.
func (w *Writer) WriteFlashpoint(ctx context.Context, tables *storage.Tables, flashpointID uuid.UUID) (int, error) {
	articles, err := w.clusters.ClusterArticles(ctx, tables, flashpointID, w.runID)
	if err != nil {
		return 0, fmt.Errorf("failed to load cluster articles: %w", err)
	}

	if len(articles) == 0 {
		return 0, nil
	}

	groups := groupClusters(articles)

	summaries, err := w.summarizeGroups(ctx, groups)
	if err != nil {
		return 0, err
	}

	deleted, err := w.clusters.DeleteClustersForFlashpoint(ctx, tables, flashpointID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear previous clusters: %w", err)
	}

	if deleted > 0 {
		w.logger.Info("replaced previous cluster rows",
			"flashpoint_id", flashpointID,
			"deleted", deleted)
	}

	entryIDs := make([]uuid.UUID, 0, len(articles))

	for _, group := range groups {
		meta := Aggregate(group.articles)

		nc := &storage.NewsCluster{
			FlashpointID: flashpointID,
			ClusterID:    group.rank,
			Summary:      summaries[group.uuid],
			ArticleCount: len(group.articles),
			TopDomains:   meta.TopDomains,
			Languages:    meta.Languages,
			URLs:         meta.URLs,
			Images:       meta.Images,
		}

		if err := w.clusters.WriteNewsCluster(ctx, tables, nc); err != nil {
			return 0, fmt.Errorf("failed to write cluster %d: %w", group.rank, err)
		}

		for _, article := range group.articles {
			entryIDs = append(entryIDs, article.FeedEntryID)
		}
	}

	if _, err := w.jobs.BulkUpdateStatus(ctx, entryIDs, w.runID, storage.JobSummarized); err != nil {
		return 0, fmt.Errorf("failed to mark jobs summarized: %w", err)
	}

	w.logger.Info("flashpoint summarized",
		"flashpoint_id", flashpointID,
		"clusters", len(groups),
		"articles", len(articles))

	return len(groups), nil
}

// summarizeGroups produces one summary per cluster. Tier C runs the LLM with
// bounded concurrency, falling back to the extractive summary per cluster on
// failure; other tiers are extractive-only.
func (w *Writer) summarizeGroups(ctx context.Context, groups []clusterGroup) (map[uuid.UUID]string, error) {
	summaries := make(map[uuid.UUID]string, len(groups))

	if !w.tier.LLMEnabled() || w.summarizer == nil {
		for _, group := range groups {
			summaries[group.uuid] = Extractive(group.articles)
		}

		return summaries, nil
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.batchSize)

	for _, group := range groups {
		g.Go(func() error {
			text, err := w.summarizer.Summarize(gctx, group.articles)
			if err != nil {
				w.logger.Warn("llm summary failed, using extractive fallback",
					"cluster_uuid", group.uuid,
					"error", err)

				text = Extractive(group.articles)
			}

			mu.Lock()
			summaries[group.uuid] = text
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return summaries, nil
}

// groupClusters splits the ordered member rows into per-cluster groups and
// assigns dense ranks: largest cluster first, rank 1 upward. Sorting is
// stable so equal-sized clusters keep their query order.
func groupClusters(articles []storage.ClusterArticle) []clusterGroup {
	order := make([]uuid.UUID, 0)
	byUUID := make(map[uuid.UUID][]storage.ClusterArticle)

	for _, article := range articles {
		if _, seen := byUUID[article.ClusterUUID]; !seen {
			order = append(order, article.ClusterUUID)
		}

		byUUID[article.ClusterUUID] = append(byUUID[article.ClusterUUID], article)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return len(byUUID[order[i]]) > len(byUUID[order[j]])
	})

	groups := make([]clusterGroup, 0, len(order))

	for rank, clusterUUID := range order {
		groups = append(groups, clusterGroup{
			uuid:     clusterUUID,
			rank:     rank + 1,
			articles: byUUID[clusterUUID],
		})
	}

	return groups
}
