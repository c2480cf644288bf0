// Package ingest drives the per-entry stages of a run: fetch, extract,
// enrich, dedupe, and the batch embedding pass. Network work runs
// concurrently; each chunk's database writes commit in one transaction so a
// crash loses at most one chunk of progress and never leaves an entry with
// enrichment written but no job transition.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/dedupe"
	"github.com/AteetVatan/masx-geosignal/internal/embed"
	"github.com/AteetVatan/masx-geosignal/internal/enrich"
	"github.com/AteetVatan/masx-geosignal/internal/extract"
	"github.com/AteetVatan/masx-geosignal/internal/fetch"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

// chunkSize is how many entries are processed between database write
// phases. Each chunk's writes commit in one transaction before the next
// chunk starts.
const chunkSize = 100

type (
	// Stats counts the outcomes of one ingest pass.
	Stats struct {
		Processed  int
		Failed     int
		Duplicates int
		Embedded   int
	}

	// Service runs the per-entry pipeline stages for one run.
	Service struct {
		conn     *storage.Connection
		entries  *storage.EntryStore
		jobs     *storage.JobStore
		vectors  *storage.VectorStore
		fetcher  *fetch.Fetcher
		enricher *enrich.Enricher
		deduper  *dedupe.Engine
		embedder embed.Embedder
		pipeline *config.Pipeline
		runID    string
		logger   *slog.Logger
	}

	// fetchOutcome is the phase-1 result for one entry: either extracted
	// text plus timings, or a classified failure.
	fetchOutcome struct {
		content   string
		html      string
		method    string
		fetchMS   int
		extractMS int
		failErr   error
		failWhy   storage.FailureReason
	}

	// writePlan is the fully decided database write for one entry: a failed
	// job, a duplicate skip, or enrichment plus the extracted transition.
	// Plans are computed outside the chunk transaction so the transaction
	// body is pure statements and safe to retry.
	writePlan struct {
		entryID   uuid.UUID
		url       string
		failErr   error
		failWhy   storage.FailureReason
		upd       *storage.EnrichmentUpdate
		status    storage.JobStatus
		statusUpd *storage.StatusUpdate
	}
)

// NewService wires an ingest service for one run. embedder may be nil on
// tiers without the embedding stage.
func NewService(
	conn *storage.Connection,
	entries *storage.EntryStore,
	jobs *storage.JobStore,
	vectors *storage.VectorStore,
	fetcher *fetch.Fetcher,
	enricher *enrich.Enricher,
	deduper *dedupe.Engine,
	embedder embed.Embedder,
	pipeline *config.Pipeline,
	runID string,
) *Service {
	return &Service{
		conn:     conn,
		entries:  entries,
		jobs:     jobs,
		vectors:  vectors,
		fetcher:  fetcher,
		enricher: enricher,
		deduper:  deduper,
		embedder: embedder,
		pipeline: pipeline,
		runID:    runID,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// ProcessEntries runs fetch+extract+enrich+dedupe over the claimed entries
// in chunks. Entries that already carry content from a prior run skip the
// network phase and resume at enrichment.
func (s *Service) ProcessEntries(
	ctx context.Context,
	tables *storage.Tables,
	entries []*storage.FeedEntry,
) (Stats, error) {
	var stats Stats

	for start := 0; start < len(entries); start += chunkSize {
		end := min(start+chunkSize, len(entries))
		chunk := entries[start:end]

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunkStats, err := s.processChunk(ctx, tables, chunk)
		if err != nil {
			return stats, err
		}

		stats.Processed += chunkStats.Processed
		stats.Failed += chunkStats.Failed
		stats.Duplicates += chunkStats.Duplicates

		s.logger.Info("chunk processed",
			"run_id", s.runID,
			"offset", start,
			"chunk", len(chunk),
			"processed", chunkStats.Processed,
			"failed", chunkStats.Failed,
			"duplicates", chunkStats.Duplicates)
	}

	return stats, nil
}

// processChunk runs the network phase concurrently, then commits the chunk's
// outcomes in one transaction.
func (s *Service) processChunk(
	ctx context.Context,
	tables *storage.Tables,
	chunk []*storage.FeedEntry,
) (Stats, error) {
	outcomes := make([]fetchOutcome, len(chunk))
	resumeIDs := make([]uuid.UUID, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.pipeline.MaxConcurrentFetches)

	for i, entry := range chunk {
		if entry.HasContent {
			resumeIDs = append(resumeIDs, entry.ID)

			continue
		}

		g.Go(func() error {
			outcomes[i] = s.fetchAndExtract(gctx, entry)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	existing, err := s.entries.ContentBatch(ctx, tables, resumeIDs)
	if err != nil {
		return Stats{}, err
	}

	plans := make([]writePlan, len(chunk))

	for i, entry := range chunk {
		outcome := outcomes[i]

		if entry.HasContent {
			outcome = resumeOutcome(existing[entry.ID])
		}

		plan, err := s.planOutcome(ctx, entry, outcome)
		if err != nil {
			return Stats{}, err
		}

		plans[i] = plan
	}

	err = s.conn.RunInTx(ctx, "ingest_chunk_writes", func(tx *sql.Tx) error {
		for _, plan := range plans {
			if err := s.applyPlan(ctx, tx, tables, plan); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	return s.tallyPlans(plans), nil
}

// tallyPlans counts committed outcomes and logs the failures. Logging happens
// after the transaction so a retried chunk reports each failure once.
func (s *Service) tallyPlans(plans []writePlan) Stats {
	var stats Stats

	for _, plan := range plans {
		switch {
		case plan.failErr != nil:
			stats.Failed++

			s.logger.Warn("entry failed",
				"entry_id", plan.entryID,
				"url", plan.url,
				"reason", plan.failWhy,
				"error", plan.failErr.Error())
		case plan.status == storage.JobSkippedDuplicate:
			stats.Duplicates++
		default:
			stats.Processed++
		}
	}

	return stats
}

// fetchAndExtract downloads and extracts one entry. Failures are classified,
// not returned; the caller records them on the job row.
func (s *Service) fetchAndExtract(ctx context.Context, entry *storage.FeedEntry) fetchOutcome {
	if entry.URL == "" {
		return fetchOutcome{
			failErr: errors.New("entry has no url"),
			failWhy: storage.FailureNoText,
		}
	}

	page, err := s.fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		return fetchOutcome{failErr: err, failWhy: classifyFetchError(err)}
	}

	result, err := extract.Extract(page.HTML, s.pipeline.MinContentLength)
	if err != nil {
		return fetchOutcome{
			failErr: err,
			failWhy: classifyExtractError(err),
			fetchMS: int(page.Duration.Milliseconds()),
		}
	}

	return fetchOutcome{
		content:   result.Text,
		html:      page.HTML,
		method:    result.Method,
		fetchMS:   int(page.Duration.Milliseconds()),
		extractMS: int(result.Duration.Milliseconds()),
	}
}

// resumeOutcome rebuilds an outcome from content persisted by a prior run.
func resumeOutcome(ec *storage.EntryContent) fetchOutcome {
	if ec == nil || ec.Content == "" {
		return fetchOutcome{
			failErr: errors.New("resumed entry has no stored content"),
			failWhy: storage.FailureNoText,
		}
	}

	return fetchOutcome{content: ec.Content, method: "stored"}
}

// planOutcome decides one entry's database write: a failed job, a duplicate
// skip, or enrichment plus the extracted transition. Enrichment and the
// dedupe check run here, once per entry, so the plan can be applied (and on
// connection failure re-applied) without side effects.
func (s *Service) planOutcome(
	ctx context.Context,
	entry *storage.FeedEntry,
	outcome fetchOutcome,
) (writePlan, error) {
	plan := writePlan{entryID: entry.ID, url: entry.URL}

	if outcome.failErr != nil {
		plan.failErr = outcome.failErr
		plan.failWhy = outcome.failWhy

		return plan, nil
	}

	enriched := s.enricher.Enrich(ctx, enrich.Input{
		Title:         entry.Title,
		Content:       outcome.content,
		URL:           entry.URL,
		HTML:          outcome.html,
		Language:      entry.Language,
		SourceCountry: entry.SourceCountry,
	})

	upd, err := enrichmentUpdate(entry, outcome, enriched)
	if err != nil {
		return writePlan{}, err
	}

	plan.upd = upd

	dup := s.deduper.CheckAndRegister(entry.ID.String(), outcome.content)

	if dup.IsExactDuplicate || dup.IsNearDuplicate {
		plan.status = storage.JobSkippedDuplicate
		plan.statusUpd = duplicateUpdate(dup)

		return plan, nil
	}

	statusUpd := &storage.StatusUpdate{
		ExtractionMethod: &outcome.method,
		ContentHash:      &dup.ContentHash,
	}

	chars := len(outcome.content)
	statusUpd.ExtractionChars = &chars

	if outcome.fetchMS > 0 {
		statusUpd.FetchDurationMS = &outcome.fetchMS
	}

	if outcome.extractMS > 0 {
		statusUpd.ExtractDurationMS = &outcome.extractMS
	}

	plan.status = storage.JobExtracted
	plan.statusUpd = statusUpd

	return plan, nil
}

// applyPlan writes one plan inside the chunk transaction. The enrichment
// columns are written even for duplicates so the duplicate row still carries
// its extracted content.
func (s *Service) applyPlan(
	ctx context.Context,
	tx *sql.Tx,
	tables *storage.Tables,
	plan writePlan,
) error {
	if plan.failErr != nil {
		return s.jobs.MarkFailedTx(ctx, tx, plan.entryID, s.runID, plan.failErr.Error(), plan.failWhy)
	}

	if err := s.entries.UpdateEnrichmentTx(ctx, tx, tables, plan.entryID, plan.upd); err != nil {
		return err
	}

	return s.jobs.UpdateStatusTx(ctx, tx, plan.entryID, s.runID, plan.status, plan.statusUpd)
}

// duplicateUpdate builds the skipped_duplicate bookkeeping with the
// original's id when the dedupe engine reported one.
func duplicateUpdate(dup dedupe.Result) *storage.StatusUpdate {
	isDup := true

	upd := &storage.StatusUpdate{
		ContentHash: &dup.ContentHash,
		IsDuplicate: &isDup,
	}

	if dup.DuplicateOf != "" {
		if originalID, err := uuid.Parse(dup.DuplicateOf); err == nil {
			upd.DuplicateOf = &originalID
		}
	}

	return upd
}

// enrichmentUpdate builds the column update for one processed entry. Only
// newly derived values are written; columns already populated upstream are
// left alone.
func enrichmentUpdate(
	entry *storage.FeedEntry,
	outcome fetchOutcome,
	enriched *enrich.Output,
) (*storage.EnrichmentUpdate, error) {
	upd := &storage.EnrichmentUpdate{}

	if outcome.method != "stored" {
		upd.Content = &outcome.content
	}

	if enriched.TitleEN != "" && enriched.TitleEN != entry.TitleEN {
		upd.TitleEN = &enriched.TitleEN
	}

	if enriched.Hostname != "" && enriched.Hostname != entry.Hostname {
		upd.Hostname = &enriched.Hostname
	}

	if len(enriched.Entities) > 0 {
		data, err := json.Marshal(enriched.Entities)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entities: %w", err)
		}

		upd.Entities = data
	}

	if len(enriched.GeoEntities) > 0 {
		data, err := json.Marshal(enriched.GeoEntities)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal geo entities: %w", err)
		}

		upd.GeoEntities = data
	}

	if len(enriched.Images) > 0 {
		upd.Images = enriched.Images
	}

	return upd, nil
}

// EmbedRun encodes every extracted, non-duplicate entry of the run and
// stores the vectors. Jobs advance to embedded in one bulk statement.
func (s *Service) EmbedRun(ctx context.Context, tables *storage.Tables) (int, error) {
	if s.embedder == nil {
		return 0, nil
	}

	texts, err := s.entries.EmbeddableTexts(ctx, tables, s.runID)
	if err != nil {
		return 0, err
	}

	if len(texts) == 0 {
		return 0, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = embeddingText(t)
	}

	start := time.Now()

	vectors, err := s.embedder.Embed(ctx, inputs)
	if err != nil {
		return 0, fmt.Errorf("failed to embed run texts: %w", err)
	}

	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	embeddings := make([]storage.EntryEmbedding, len(texts))
	entryIDs := make([]uuid.UUID, len(texts))

	for i, t := range texts {
		embeddings[i] = storage.EntryEmbedding{FeedEntryID: t.FeedEntryID, Embedding: vectors[i]}
		entryIDs[i] = t.FeedEntryID
	}

	if err := s.vectors.BulkUpsertEmbeddings(ctx, embeddings, s.embedder.Model()); err != nil {
		return 0, err
	}

	if _, err := s.jobs.BulkUpdateStatus(ctx, entryIDs, s.runID, storage.JobEmbedded); err != nil {
		return 0, err
	}

	s.logger.Info("run embedded",
		"run_id", s.runID,
		"entries", len(texts),
		"model", s.embedder.Model(),
		"duration_ms", time.Since(start).Milliseconds())

	return len(texts), nil
}

// embeddingText is the text encoded for one entry: title plus the leading
// slice of content the store already truncated.
func embeddingText(t storage.EntryText) string {
	switch {
	case t.Title == "":
		return t.Content
	case t.Content == "":
		return t.Title
	default:
		return t.Title + ". " + t.Content
	}
}

// classifyFetchError maps fetch failures to job failure reasons.
func classifyFetchError(err error) storage.FailureReason {
	var httpErr *fetch.HTTPError

	switch {
	case errors.Is(err, fetch.ErrDomainBlocked), errors.Is(err, fetch.ErrUnsafeURL):
		return storage.FailureBlocked
	case errors.Is(err, context.DeadlineExceeded):
		return storage.FailureTimeout
	case errors.As(err, &httpErr):
		return storage.FailureHTTPError
	default:
		return storage.FailureUnknown
	}
}

// classifyExtractError maps the extractor's diagnosed reason to a job
// failure reason.
func classifyExtractError(err error) storage.FailureReason {
	var exErr *extract.Error
	if !errors.As(err, &exErr) {
		return storage.FailureUnknown
	}

	switch exErr.Reason {
	case extract.ReasonPaywall:
		return storage.FailurePaywall
	case extract.ReasonConsent:
		return storage.FailureConsent
	case extract.ReasonJSRequired:
		return storage.FailureJSRequired
	default:
		return storage.FailureNoText
	}
}
