package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

// Sentinel errors for run bookkeeping.
var (
	// ErrRunNotFound is returned when no run exists with the given run_id.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyExists is returned when creating a run whose run_id is taken.
	ErrRunAlreadyExists = errors.New("run already exists")
)

// maxErrorMessageLen bounds error_message so a pathological stack trace
// cannot bloat the runs table.
const maxErrorMessageLen = 2000

// RunStore manages rows in the processing_runs sidecar table, one row per
// pipeline invocation.
type RunStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRunStore creates a run store backed by conn.
func NewRunStore(conn *Connection) (*RunStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &RunStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// CreateRun inserts a new run in status pending with started_at set to now.
func (s *RunStore) CreateRun(ctx context.Context, runID, tier, targetDate string) error {
	query := `
		INSERT INTO processing_runs (run_id, status, pipeline_tier, target_date, started_at)
		VALUES ($1, $2, $3, $4, NOW())`

	return s.conn.withRetry(ctx, "create_run", func() error {
		_, err := s.conn.ExecContext(ctx, query, runID, RunPending, tier, targetDate)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrRunAlreadyExists, runID)
			}

			return fmt.Errorf("failed to create run: %w", err)
		}

		return nil
	})
}

// UpdateStatus transitions the run to the given status.
func (s *RunStore) UpdateStatus(ctx context.Context, runID string, status RunStatus) error {
	query := `UPDATE processing_runs SET status = $2 WHERE run_id = $1`

	return s.conn.withRetry(ctx, "update_run_status", func() error {
		result, err := s.conn.ExecContext(ctx, query, runID, status)
		if err != nil {
			return fmt.Errorf("failed to update run status: %w", err)
		}

		return requireRowsAffected(result, runID)
	})
}

// RunCounters aggregates the per-entry outcome counts persisted on the run
// row when it finalizes.
type RunCounters struct {
	Processed       int
	Failed          int
	DedupeSkipped   int
	ClustersCreated int
}

// MarkCompleted finalizes a successful run: status completed, completed_at
// now, plus the total entry count, the outcome counters and the run metrics
// document.
func (s *RunStore) MarkCompleted(
	ctx context.Context,
	runID string,
	totalEntries int,
	counters RunCounters,
	metrics []byte,
) error {
	if metrics == nil {
		metrics = []byte("{}")
	}

	query := `
		UPDATE processing_runs
		SET status = $2, completed_at = NOW(), total_entries = $3,
			processed_entries = $4, failed_entries = $5, dedupe_skipped = $6,
			clusters_created = $7, metrics = $8
		WHERE run_id = $1`

	return s.conn.withRetry(ctx, "mark_run_completed", func() error {
		result, err := s.conn.ExecContext(ctx, query, runID, RunCompleted, totalEntries,
			counters.Processed, counters.Failed, counters.DedupeSkipped,
			counters.ClustersCreated, metrics)
		if err != nil {
			return fmt.Errorf("failed to mark run completed: %w", err)
		}

		return requireRowsAffected(result, runID)
	})
}

// MarkFailed finalizes a failed run with a truncated error message.
func (s *RunStore) MarkFailed(ctx context.Context, runID, errorMessage string) error {
	query := `
		UPDATE processing_runs
		SET status = $2, completed_at = NOW(), error_message = $3
		WHERE run_id = $1`

	return s.conn.withRetry(ctx, "mark_run_failed", func() error {
		result, err := s.conn.ExecContext(ctx, query, runID, RunFailed, truncate(errorMessage, maxErrorMessageLen))
		if err != nil {
			return fmt.Errorf("failed to mark run failed: %w", err)
		}

		return requireRowsAffected(result, runID)
	})
}

// HasActiveRun reports whether a run is currently in progress: status
// running with started_at inside the staleness window. Older running rows
// are crash leftovers and do not block new triggers.
func (s *RunStore) HasActiveRun(ctx context.Context, window time.Duration) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processing_runs
			WHERE status = $1 AND started_at > NOW() - $2::interval
		)`

	var active bool

	err := s.conn.withRetry(ctx, "has_active_run", func() error {
		return s.conn.QueryRowContext(ctx, query, RunRunning, intervalArg(window)).Scan(&active)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check active runs: %w", err)
	}

	return active, nil
}

// MarkStaleRunsFailed force-fails runs stuck in status running longer than
// maxAge, so a crashed orchestrator never blocks the next trigger. Returns
// the number of recovered rows.
func (s *RunStore) MarkStaleRunsFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	query := `
		UPDATE processing_runs
		SET status = $1, completed_at = NOW(),
			error_message = 'marked failed by stale-run recovery'
		WHERE status = $2 AND started_at < NOW() - $3::interval`

	var recovered int64

	err := s.conn.withRetry(ctx, "mark_stale_runs_failed", func() error {
		result, err := s.conn.ExecContext(ctx, query, RunFailed, RunRunning, intervalArg(maxAge))
		if err != nil {
			return fmt.Errorf("failed to recover stale runs: %w", err)
		}

		recovered, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read recovered row count: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if recovered > 0 {
		s.logger.Warn("recovered stale runs", slog.Int64("count", recovered))
	}

	return recovered, nil
}

// GetRun fetches a single run by run_id. Returns ErrRunNotFound when absent.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	query := `
		SELECT id, run_id, status, pipeline_tier, COALESCE(target_date, ''),
			total_entries, processed_entries, failed_entries, dedupe_skipped,
			clusters_created, started_at, completed_at,
			COALESCE(error_message, ''), COALESCE(metrics, '{}'::jsonb), created_at
		FROM processing_runs
		WHERE run_id = $1`

	var run *Run

	err := s.conn.withRetry(ctx, "get_run", func() error {
		r, err := scanRun(s.conn.QueryRowContext(ctx, query, runID))
		if err != nil {
			return err
		}

		run = r

		return nil
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRunsByDate returns all runs for a target date, newest first.
func (s *RunStore) ListRunsByDate(ctx context.Context, targetDate string) ([]*Run, error) {
	query := `
		SELECT id, run_id, status, pipeline_tier, COALESCE(target_date, ''),
			total_entries, processed_entries, failed_entries, dedupe_skipped,
			clusters_created, started_at, completed_at,
			COALESCE(error_message, ''), COALESCE(metrics, '{}'::jsonb), created_at
		FROM processing_runs
		WHERE target_date = $1
		ORDER BY created_at DESC`

	runs := make([]*Run, 0)

	err := s.conn.withRetry(ctx, "list_runs_by_date", func() error {
		rows, err := s.conn.QueryContext(ctx, query, targetDate)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		runs = runs[:0]

		for rows.Next() {
			r, err := scanRun(rows)
			if err != nil {
				return err
			}

			runs = append(runs, r)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return runs, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		startedAt sql.NullTime
		completed sql.NullTime
	)

	err := row.Scan(
		&run.ID, &run.RunID, &run.Status, &run.PipelineTier, &run.TargetDate,
		&run.TotalEntries, &run.ProcessedEntries, &run.FailedEntries,
		&run.DedupeSkipped, &run.ClustersCreated, &startedAt, &completed,
		&run.ErrorMessage, &run.Metrics, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}

	if completed.Valid {
		run.CompletedAt = &completed.Time
	}

	return &run, nil
}

func requireRowsAffected(result sql.Result, runID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	return nil
}

// intervalArg renders a duration as a Postgres interval literal for
// $n::interval placeholders.
func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence;
// Postgres rejects strings with broken encoding.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}

	return s[:limit]
}
