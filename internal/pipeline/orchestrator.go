// Package pipeline runs one end-to-end processing run: select and claim
// entries, ingest them, then (tier permitting) embed, cluster, summarize,
// score, and alert. One orchestrator instance drives exactly one run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/AteetVatan/masx-geosignal/internal/alert"
	"github.com/AteetVatan/masx-geosignal/internal/cluster"
	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/dedupe"
	"github.com/AteetVatan/masx-geosignal/internal/embed"
	"github.com/AteetVatan/masx-geosignal/internal/enrich"
	"github.com/AteetVatan/masx-geosignal/internal/fetch"
	"github.com/AteetVatan/masx-geosignal/internal/ingest"
	"github.com/AteetVatan/masx-geosignal/internal/score"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
	"github.com/AteetVatan/masx-geosignal/internal/summary"
)

// maxEntriesPerRun caps how many entries one run claims. Anything beyond the
// cap is picked up by the next trigger.
const maxEntriesPerRun = 20000

type (
	// Options carries the pluggable stage implementations. Embedder and
	// Summarizer may be nil on tiers that skip those stages; Dispatchers may
	// be empty.
	Options struct {
		Fetcher     *fetch.Fetcher
		Enricher    *enrich.Enricher
		Embedder    embed.Embedder
		Summarizer  summary.Summarizer
		Dispatchers []alert.Dispatcher
	}

	// Result summarizes a completed run.
	Result struct {
		RunID           string
		TargetDate      string
		TotalEntries    int
		Processed       int
		Failed          int
		Duplicates      int
		Embedded        int
		ClustersCreated int
		TopHotspots     int
		Duration        time.Duration
	}

	// Orchestrator owns the stores and stage services for one run.
	Orchestrator struct {
		conn     *storage.Connection
		runs     *storage.RunStore
		jobs     *storage.JobStore
		entries  *storage.EntryStore
		vectors  *storage.VectorStore
		clusters *storage.ClusterStore
		topics   *storage.TopicStore
		fps      *storage.FlashpointStore

		pipeline *config.Pipeline
		opts     Options
		logger   *slog.Logger
	}
)

// NewOrchestrator builds an orchestrator over an open connection.
func NewOrchestrator(conn *storage.Connection, pipeline *config.Pipeline, opts Options) (*Orchestrator, error) {
	runs, err := storage.NewRunStore(conn)
	if err != nil {
		return nil, err
	}

	jobs, err := storage.NewJobStore(conn)
	if err != nil {
		return nil, err
	}

	entries, err := storage.NewEntryStore(conn)
	if err != nil {
		return nil, err
	}

	vectors, err := storage.NewVectorStore(conn)
	if err != nil {
		return nil, err
	}

	clusters, err := storage.NewClusterStore(conn)
	if err != nil {
		return nil, err
	}

	topics, err := storage.NewTopicStore(conn)
	if err != nil {
		return nil, err
	}

	fps, err := storage.NewFlashpointStore(conn)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		conn:     conn,
		runs:     runs,
		jobs:     jobs,
		entries:  entries,
		vectors:  vectors,
		clusters: clusters,
		topics:   topics,
		fps:      fps,
		pipeline: pipeline,
		opts:     opts,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// NewRunID builds a run identifier: run_YYYYMMDD_HHMMSS plus a short random
// suffix so two triggers in the same second never collide.
func NewRunID(now time.Time) string {
	suffix := uuid.New().String()[:8]

	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102_150405"), suffix)
}

// Execute runs the full pipeline for one target date. The run row is created
// up front and finalized on every exit path; a fatal stage error marks the
// run failed before being returned.
func (o *Orchestrator) Execute(ctx context.Context, targetDate string) (*Result, error) {
	start := time.Now()
	runID := NewRunID(start)

	tables, err := storage.ResolveTables(ctx, o.conn, targetDate)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tables: %w", err)
	}

	if err := storage.EnsureOutputTable(ctx, o.conn, tables); err != nil {
		return nil, err
	}

	if _, err := o.runs.MarkStaleRunsFailed(ctx, o.pipeline.StaleRunMaxAge); err != nil {
		return nil, err
	}

	if err := o.runs.CreateRun(ctx, runID, string(o.pipeline.Tier), tables.TargetDate); err != nil {
		return nil, err
	}

	if err := o.runs.UpdateStatus(ctx, runID, storage.RunRunning); err != nil {
		return nil, err
	}

	o.logger.Info("run started",
		"run_id", runID,
		"tier", o.pipeline.Tier,
		"target_date", tables.TargetDate,
		"feed_table", tables.FeedEntries)

	result, err := o.execute(ctx, tables, runID)
	if err != nil {
		if failErr := o.runs.MarkFailed(context.WithoutCancel(ctx), runID, err.Error()); failErr != nil {
			o.logger.Error("failed to mark run failed", "run_id", runID, "error", failErr)
		}

		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	result.RunID = runID
	result.TargetDate = tables.TargetDate
	result.Duration = time.Since(start)

	metrics, err := json.Marshal(map[string]any{
		"tier":             string(o.pipeline.Tier),
		"processed":        result.Processed,
		"failed":           result.Failed,
		"duplicates":       result.Duplicates,
		"embedded":         result.Embedded,
		"clusters_created": result.ClustersCreated,
		"top_hotspots":     result.TopHotspots,
		"duration_seconds": int(result.Duration.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run metrics: %w", err)
	}

	counters := storage.RunCounters{
		Processed:       result.Processed,
		Failed:          result.Failed,
		DedupeSkipped:   result.Duplicates,
		ClustersCreated: result.ClustersCreated,
	}

	if err := o.runs.MarkCompleted(ctx, runID, result.TotalEntries, counters, metrics); err != nil {
		return nil, err
	}

	o.logger.Info("run completed",
		"run_id", runID,
		"total_entries", result.TotalEntries,
		"processed", result.Processed,
		"failed", result.Failed,
		"duplicates", result.Duplicates,
		"clusters", result.ClustersCreated,
		"duration_seconds", int(result.Duration.Seconds()))

	return result, nil
}

// execute runs the pipeline stages against an already-registered run.
func (o *Orchestrator) execute(ctx context.Context, tables *storage.Tables, runID string) (*Result, error) {
	result := &Result{}

	entries, err := o.entries.GetUnprocessed(ctx, tables, runID, maxEntriesPerRun)
	if err != nil {
		return nil, err
	}

	result.TotalEntries = len(entries)

	if len(entries) == 0 {
		o.logger.Info("no unprocessed entries", "run_id", runID)

		return result, nil
	}

	claimed, err := o.jobs.ClaimJobsBulk(ctx, entryIDsOf(entries), runID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("entries claimed", "run_id", runID, "selected", len(entries), "claimed", claimed)

	deduper := dedupe.NewEngine(o.pipeline.MinHashNumPerm, o.pipeline.MinHashThreshold)

	ingestSvc := ingest.NewService(
		o.conn, o.entries, o.jobs, o.vectors,
		o.opts.Fetcher, o.opts.Enricher, deduper, o.opts.Embedder,
		o.pipeline, runID,
	)

	stats, err := ingestSvc.ProcessEntries(ctx, tables, entries)
	if err != nil {
		return nil, err
	}

	result.Processed = stats.Processed
	result.Failed = stats.Failed
	result.Duplicates = stats.Duplicates

	if !o.pipeline.Tier.ClusteringEnabled() {
		return result, nil
	}

	embedded, err := ingestSvc.EmbedRun(ctx, tables)
	if err != nil {
		return nil, err
	}

	result.Embedded = embedded

	flashpointIDs, err := o.entries.FlashpointIDsForRun(ctx, tables, runID)
	if err != nil {
		return nil, err
	}

	memberIDs, err := o.clusterFlashpoints(ctx, tables, runID, flashpointIDs)
	if err != nil {
		return nil, err
	}

	writer := summary.NewWriter(o.clusters, o.jobs, o.opts.Summarizer, o.pipeline, runID)

	for _, fpID := range flashpointIDs {
		written, err := writer.WriteFlashpoint(ctx, tables, fpID)
		if err != nil {
			return nil, err
		}

		result.ClustersCreated += written
	}

	topHotspots, err := o.scoreAndAlert(ctx, tables, runID, flashpointIDs)
	if err != nil {
		return nil, err
	}

	result.TopHotspots = topHotspots

	if _, err := o.jobs.BulkUpdateStatus(ctx, memberIDs, runID, storage.JobScored); err != nil {
		return nil, err
	}

	return result, nil
}

// clusterFlashpoints groups each flashpoint's embedded entries into clusters
// and records the memberships. Returns every entry id that landed in a
// cluster.
func (o *Orchestrator) clusterFlashpoints(
	ctx context.Context,
	tables *storage.Tables,
	runID string,
	flashpointIDs []uuid.UUID,
) ([]uuid.UUID, error) {
	memberIDs := make([]uuid.UUID, 0)

	for _, fpID := range flashpointIDs {
		embeddings, err := o.vectors.EmbeddingsForFlashpoint(ctx, tables, fpID, runID)
		if err != nil {
			return nil, err
		}

		if len(embeddings) == 0 {
			continue
		}

		ids := make([]uuid.UUID, len(embeddings))
		vecs := make([][]float32, len(embeddings))

		for i, e := range embeddings {
			ids[i] = e.FeedEntryID
			vecs[i] = e.Embedding
		}

		assignments, err := cluster.ClusterEntries(ids, vecs, o.pipeline.ClusterKNNK, o.pipeline.ClusterCosineThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to cluster flashpoint %s: %w", fpID, err)
		}

		members := make([]storage.ClusterMember, len(assignments))
		for i, a := range assignments {
			members[i] = storage.ClusterMember{
				FlashpointID: fpID,
				ClusterUUID:  a.ClusterUUID,
				FeedEntryID:  a.EntryID,
				RunID:        runID,
				Similarity:   a.Similarity,
			}

			memberIDs = append(memberIDs, a.EntryID)
		}

		if err := o.clusters.InsertMembers(ctx, members); err != nil {
			return nil, err
		}

		if _, err := o.jobs.BulkUpdateStatus(ctx, ids, runID, storage.JobClustered); err != nil {
			return nil, err
		}

		o.logger.Info("flashpoint clustered",
			"run_id", runID,
			"flashpoint_id", fpID,
			"entries", len(ids),
			"clusters", countClusters(assignments))
	}

	return memberIDs, nil
}

// scoreAndAlert computes hotspot scores for the run's clusters and fires the
// configured dispatchers for the flagged ones. Dispatch failures are logged
// and never fail the run.
func (o *Orchestrator) scoreAndAlert(
	ctx context.Context,
	tables *storage.Tables,
	runID string,
	flashpointIDs []uuid.UUID,
) (int, error) {
	scorer := score.NewService(o.clusters, o.topics, runID, o.pipeline.PremiumLLMTopPct)

	scored, err := scorer.ScoreClusters(ctx, tables, flashpointIDs)
	if err != nil {
		return 0, err
	}

	titles := make(map[uuid.UUID]string)
	top := 0

	for _, sc := range scored {
		if !sc.Hotspot.IsTopHotspot {
			continue
		}

		top++

		title, ok := titles[sc.FlashpointID]
		if !ok {
			title = o.flashpointTitle(ctx, tables, sc.FlashpointID)
			titles[sc.FlashpointID] = title
		}

		payload := alert.Payload{
			FlashpointID:    sc.FlashpointID.String(),
			FlashpointTitle: title,
			ClusterID:       sc.Cluster.ClusterID,
			Summary:         sc.Cluster.Summary,
			ArticleCount:    sc.Cluster.ArticleCount,
			HotspotScore:    sc.Hotspot.Score,
			TopDomains:      sc.Cluster.TopDomains,
		}

		for _, dispatcher := range o.opts.Dispatchers {
			if err := dispatcher.Dispatch(ctx, payload); err != nil {
				o.logger.Warn("alert dispatch failed",
					"run_id", runID,
					"flashpoint_id", sc.FlashpointID,
					"cluster_id", sc.Cluster.ClusterID,
					"error", err)
			}
		}
	}

	return top, nil
}

func (o *Orchestrator) flashpointTitle(ctx context.Context, tables *storage.Tables, fpID uuid.UUID) string {
	fp, err := o.fps.GetByID(ctx, tables, fpID)
	if err != nil {
		o.logger.Warn("flashpoint title lookup failed", "flashpoint_id", fpID, "error", err)

		return ""
	}

	return fp.Title
}

func entryIDsOf(entries []*storage.FeedEntry) []uuid.UUID {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	return ids
}

func countClusters(assignments []cluster.Assignment) int {
	maxRank := 0
	for _, a := range assignments {
		if a.ClusterID > maxRank {
			maxRank = a.ClusterID
		}
	}

	return maxRank
}
