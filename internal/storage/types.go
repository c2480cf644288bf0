// Package storage provides the PostgreSQL persistence layer for the pipeline:
// run and job bookkeeping in static sidecar tables, reads and enrichment
// writes against the date-partitioned feed tables, embedding vectors, and the
// per-date cluster output tables.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run lifecycle states.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// JobStatus is the per-entry processing state. Jobs advance monotonically
// through the pipeline stages; failed and skipped_duplicate are terminal.
type JobStatus string

// Job processing states.
const (
	JobQueued           JobStatus = "queued"
	JobFetching         JobStatus = "fetching"
	JobExtracted        JobStatus = "extracted"
	JobDeduped          JobStatus = "deduped"
	JobEmbedded         JobStatus = "embedded"
	JobClustered        JobStatus = "clustered"
	JobSummarized       JobStatus = "summarized"
	JobScored           JobStatus = "scored"
	JobFailed           JobStatus = "failed"
	JobSkippedDuplicate JobStatus = "skipped_duplicate"
)

// IsTerminalSuccess reports whether the status marks an entry as fully
// processed. Entries with a job in a terminal success state in ANY run are
// excluded from selection in later runs.
func (s JobStatus) IsTerminalSuccess() bool {
	return s == JobSummarized || s == JobScored
}

// FailureReason classifies why an entry failed, for operational triage.
type FailureReason string

// Failure reasons recorded on failed jobs.
const (
	FailureBlocked    FailureReason = "blocked"
	FailureJSRequired FailureReason = "js_required"
	FailurePaywall    FailureReason = "paywall"
	FailureConsent    FailureReason = "consent"
	FailureNoText     FailureReason = "no_text"
	FailureTimeout    FailureReason = "timeout"
	FailureHTTPError  FailureReason = "http_error"
	FailureUnknown    FailureReason = "unknown"
)

type (
	// Run is a row in processing_runs, one per pipeline invocation.
	Run struct {
		ID               int64
		RunID            string
		Status           RunStatus
		PipelineTier     string
		TargetDate       string
		TotalEntries     int
		ProcessedEntries int
		FailedEntries    int
		DedupeSkipped    int
		ClustersCreated  int
		StartedAt        *time.Time
		CompletedAt      *time.Time
		ErrorMessage     string
		Metrics          []byte // raw JSONB
		CreatedAt        time.Time
	}

	// Job is a row in feed_entry_jobs. One job exists per (feed_entry_id,
	// run_id) pair; the unique constraint makes claiming idempotent.
	Job struct {
		ID                int64
		FeedEntryID       uuid.UUID
		RunID             string
		Status            JobStatus
		Attempts          int
		LastError         string
		FailureReason     FailureReason
		ExtractionMethod  string
		ExtractionChars   int
		ContentHash       string
		Simhash           string
		IsDuplicate       bool
		DuplicateOf       uuid.NullUUID
		FetchDurationMS   int
		ExtractDurationMS int
		EmbedDurationMS   int
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}

	// FeedEntry is the lean selection shape read from a feed_entries_YYYYMMDD
	// table. Heavy enrichment columns (content, entities, geo_entities) are
	// loaded separately per chunk via EntryStore.ContentBatch; HasContent
	// flags entries that already carry extracted content from a prior run so
	// the ingest can skip fetch+extract.
	FeedEntry struct {
		ID            uuid.UUID
		FlashpointID  uuid.NullUUID
		URL           string
		Title         string
		TitleEN       string
		Domain        string
		Language      string
		SourceCountry string
		Description   string
		Image         string
		Hostname      string
		HasContent    bool
	}

	// EntryContent carries the heavy enrichment columns for one entry.
	EntryContent struct {
		Content     string
		Entities    []byte // raw JSONB
		GeoEntities []byte // raw JSONB
	}

	// EnrichmentUpdate holds the writable enrichment columns for a feed
	// entry. Nil pointer and nil slice fields are left untouched; set fields
	// are written as-is. updated_at is always bumped.
	EnrichmentUpdate struct {
		Content     *string
		TitleEN     *string
		Hostname    *string
		Summary     *string
		Entities    []byte   // JSONB document
		GeoEntities []byte   // JSONB document
		Images      []string // replaces the TEXT[] column when non-nil
	}

	// StatusUpdate carries the optional bookkeeping columns written together
	// with a job status transition. Nil fields are not written.
	StatusUpdate struct {
		ExtractionMethod  *string
		ExtractionChars   *int
		ContentHash       *string
		Simhash           *string
		IsDuplicate       *bool
		DuplicateOf       *uuid.UUID
		FetchDurationMS   *int
		ExtractDurationMS *int
		EmbedDurationMS   *int
	}

	// Flashpoint is a row in a flash_point_YYYYMMDD table (read-only,
	// seeded upstream).
	Flashpoint struct {
		ID          uuid.UUID
		Title       string
		Description string
		Entities    []byte // raw JSONB
		Domains     []byte // raw JSONB
		RunID       string
		CreatedAt   *time.Time
		UpdatedAt   *time.Time
	}

	// ClusterMember is a row in cluster_members binding an entry to a
	// cluster within one run.
	ClusterMember struct {
		FlashpointID uuid.UUID
		ClusterUUID  uuid.UUID
		FeedEntryID  uuid.UUID
		RunID        string
		Similarity   float64
	}

	// ClusterArticle is the joined shape the summary stage reads: one row
	// per cluster member with the feed entry columns needed for
	// summarization and metadata aggregation.
	ClusterArticle struct {
		ClusterUUID uuid.UUID
		FeedEntryID uuid.UUID
		Similarity  float64
		Title       string
		TitleEN     string
		Content     string
		Description string
		URL         string
		Domain      string
		Hostname    string
		Language    string
		Image       string
		Images      []string
	}

	// NewsCluster is a row in a news_clusters_YYYYMMDD output table: one
	// summarized cluster per flashpoint per run.
	NewsCluster struct {
		ID           int64
		FlashpointID uuid.UUID
		ClusterID    int
		Summary      string
		ArticleCount int
		TopDomains   []string
		Languages    []string
		URLs         []string
		Images       []string
		CreatedAt    time.Time
	}

	// EntryEmbedding pairs an entry with its stored vector.
	EntryEmbedding struct {
		FeedEntryID uuid.UUID
		Embedding   []float32
	}

	// EntryText pairs an entry with the text to embed.
	EntryText struct {
		FeedEntryID uuid.UUID
		Title       string
		Content     string
	}
)
