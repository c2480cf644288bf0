package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

// ErrJobNotFound is returned when no job row exists for the
// (feed_entry_id, run_id) pair. Every selected entry is claimed before the
// workers touch it, so a miss here indicates a bookkeeping bug.
var ErrJobNotFound = errors.New("job not found")

// JobStore manages rows in the feed_entry_jobs sidecar table: one row per
// (feed_entry_id, run_id) pair tracking the entry through the pipeline.
type JobStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewJobStore creates a job store backed by conn.
func NewJobStore(conn *Connection) (*JobStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &JobStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// ClaimJobsBulk claims entries for a run in one statement: one job row per
// entry with status fetching and attempts=1. Entries that already have a row
// for this run collide on uq_job_entry_run and are silently skipped, which
// makes re-invocation idempotent. Returns the count of newly claimed rows.
func (s *JobStore) ClaimJobsBulk(ctx context.Context, entryIDs []uuid.UUID, runID string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO feed_entry_jobs (feed_entry_id, run_id, status, attempts)
		SELECT unnest($1::uuid[]), $2, $3, 1
		ON CONFLICT ON CONSTRAINT uq_job_entry_run DO NOTHING`

	var claimed int64

	err := s.conn.withRetry(ctx, "claim_jobs_bulk", func() error {
		result, err := s.conn.ExecContext(ctx, query, pq.Array(uuidStrings(entryIDs)), runID, JobFetching)
		if err != nil {
			return fmt.Errorf("failed to claim jobs: %w", err)
		}

		claimed, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read claimed row count: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return claimed, nil
}

// UpdateStatus transitions a job to the given status, writing any set fields
// of upd alongside. updated_at is always bumped.
func (s *JobStore) UpdateStatus(
	ctx context.Context,
	entryID uuid.UUID,
	runID string,
	status JobStatus,
	upd *StatusUpdate,
) error {
	return s.conn.withRetry(ctx, "update_job_status", func() error {
		return updateJobStatus(ctx, s.conn, entryID, runID, status, upd)
	})
}

// UpdateStatusTx is UpdateStatus inside an open transaction. No per-statement
// retry: the caller owns the transaction's retry semantics.
func (s *JobStore) UpdateStatusTx(
	ctx context.Context,
	tx *sql.Tx,
	entryID uuid.UUID,
	runID string,
	status JobStatus,
	upd *StatusUpdate,
) error {
	return updateJobStatus(ctx, tx, entryID, runID, status, upd)
}

func updateJobStatus(
	ctx context.Context,
	ex execer,
	entryID uuid.UUID,
	runID string,
	status JobStatus,
	upd *StatusUpdate,
) error {
	sets := []string{"status = $3", "updated_at = NOW()"}
	args := []any{entryID, runID, status}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd != nil {
		if upd.ExtractionMethod != nil {
			add("extraction_method", *upd.ExtractionMethod)
		}

		if upd.ExtractionChars != nil {
			add("extraction_chars", *upd.ExtractionChars)
		}

		if upd.ContentHash != nil {
			add("content_hash", *upd.ContentHash)
		}

		if upd.Simhash != nil {
			add("simhash", *upd.Simhash)
		}

		if upd.IsDuplicate != nil {
			add("is_duplicate", *upd.IsDuplicate)
		}

		if upd.DuplicateOf != nil {
			add("duplicate_of", *upd.DuplicateOf)
		}

		if upd.FetchDurationMS != nil {
			add("fetch_duration_ms", *upd.FetchDurationMS)
		}

		if upd.ExtractDurationMS != nil {
			add("extract_duration_ms", *upd.ExtractDurationMS)
		}

		if upd.EmbedDurationMS != nil {
			add("embed_duration_ms", *upd.EmbedDurationMS)
		}
	}

	query := fmt.Sprintf(
		"UPDATE feed_entry_jobs SET %s WHERE feed_entry_id = $1 AND run_id = $2",
		strings.Join(sets, ", "),
	)

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return requireJobAffected(result, entryID, runID)
}

// MarkFailed transitions a job to failed with a truncated error message and
// an optional failure reason.
func (s *JobStore) MarkFailed(
	ctx context.Context,
	entryID uuid.UUID,
	runID string,
	errorMessage string,
	reason FailureReason,
) error {
	return s.conn.withRetry(ctx, "mark_job_failed", func() error {
		return markJobFailed(ctx, s.conn, entryID, runID, errorMessage, reason)
	})
}

// MarkFailedTx is MarkFailed inside an open transaction.
func (s *JobStore) MarkFailedTx(
	ctx context.Context,
	tx *sql.Tx,
	entryID uuid.UUID,
	runID string,
	errorMessage string,
	reason FailureReason,
) error {
	return markJobFailed(ctx, tx, entryID, runID, errorMessage, reason)
}

func markJobFailed(
	ctx context.Context,
	ex execer,
	entryID uuid.UUID,
	runID string,
	errorMessage string,
	reason FailureReason,
) error {
	sets := "status = $3, last_error = $4, updated_at = NOW()"
	args := []any{entryID, runID, JobFailed, truncate(errorMessage, maxErrorMessageLen)}

	if reason != "" {
		args = append(args, reason)
		sets += fmt.Sprintf(", failure_reason = $%d", len(args))
	}

	query := "UPDATE feed_entry_jobs SET " + sets + " WHERE feed_entry_id = $1 AND run_id = $2"

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return requireJobAffected(result, entryID, runID)
}

func requireJobAffected(result sql.Result, entryID uuid.UUID, runID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: entry %s run %s", ErrJobNotFound, entryID, runID)
	}

	return nil
}

// BulkUpdateStatus advances all given jobs of a run to the same status in
// one statement. Returns the number of updated rows.
func (s *JobStore) BulkUpdateStatus(
	ctx context.Context,
	entryIDs []uuid.UUID,
	runID string,
	status JobStatus,
) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE feed_entry_jobs
		SET status = $3, updated_at = NOW()
		WHERE run_id = $2 AND feed_entry_id = ANY($1::uuid[])`

	var updated int64

	err := s.conn.withRetry(ctx, "bulk_update_job_status", func() error {
		result, err := s.conn.ExecContext(ctx, query, pq.Array(uuidStrings(entryIDs)), runID, status)
		if err != nil {
			return fmt.Errorf("failed to bulk update job status: %w", err)
		}

		updated, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read updated row count: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return updated, nil
}

// RunStats aggregates job counts by status for a run.
func (s *JobStore) RunStats(ctx context.Context, runID string) (map[JobStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM feed_entry_jobs
		WHERE run_id = $1
		GROUP BY status`

	stats := make(map[JobStatus]int)

	err := s.conn.withRetry(ctx, "job_run_stats", func() error {
		rows, err := s.conn.QueryContext(ctx, query, runID)
		if err != nil {
			return fmt.Errorf("failed to query run stats: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		clear(stats)

		for rows.Next() {
			var (
				status JobStatus
				count  int
			)

			if err := rows.Scan(&status, &count); err != nil {
				return fmt.Errorf("failed to scan run stats: %w", err)
			}

			stats[status] = count
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// uuidStrings renders UUIDs in text form for uuid[] array parameters.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}

	return out
}
