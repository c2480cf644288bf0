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

// ErrFlashpointNotFound is returned when a flashpoint id is absent from the
// run's flash_point table.
var ErrFlashpointNotFound = errors.New("flashpoint not found")

// EntryStore reads feed entries from the date-partitioned feed_entries
// tables and writes the enrichment columns back. Physical table names come
// from the resolved Tables; everything else about the feed tables is owned
// upstream.
type EntryStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEntryStore creates an entry store backed by conn.
func NewEntryStore(conn *Connection) (*EntryStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EntryStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// GetUnprocessed selects entries eligible for this run: flashpoint_id is
// set, no job in any run reached a terminal success state, and no job exists
// in the current run yet. The second condition makes interrupted runs
// resumable; partially processed entries are picked up again.
//
// Heavy columns are not loaded here. HasContent flags entries whose content
// column is already populated so the ingest can skip fetch+extract. Rows come
// back ordered by entry id so repeated selections see the same order.
func (s *EntryStore) GetUnprocessed(
	ctx context.Context,
	tables *Tables,
	runID string,
	limit int,
) ([]*FeedEntry, error) {
	query := fmt.Sprintf(`
		SELECT fe.id, fe.flashpoint_id, COALESCE(fe.url, ''), COALESCE(fe.title, ''),
			COALESCE(fe.title_en, ''), COALESCE(fe.domain, ''), COALESCE(fe.language, ''),
			COALESCE(fe.sourcecountry, ''), COALESCE(fe.description, ''),
			COALESCE(fe.image, ''), COALESCE(fe.hostname, ''),
			fe.content IS NOT NULL AS has_content
		FROM %q fe
		WHERE fe.flashpoint_id IS NOT NULL
		AND fe.id NOT IN (
			SELECT feed_entry_id FROM feed_entry_jobs
			WHERE status IN ($1, $2)
		)
		AND fe.id NOT IN (
			SELECT feed_entry_id FROM feed_entry_jobs
			WHERE run_id = $3
		)
		ORDER BY fe.id
		LIMIT $4`, tables.FeedEntries)

	entries := make([]*FeedEntry, 0)

	err := s.conn.withRetry(ctx, "get_unprocessed", func() error {
		rows, err := s.conn.QueryContext(ctx, query, JobSummarized, JobScored, runID, limit)
		if err != nil {
			return fmt.Errorf("failed to select unprocessed entries: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		entries = entries[:0]

		for rows.Next() {
			var e FeedEntry

			err := rows.Scan(
				&e.ID, &e.FlashpointID, &e.URL, &e.Title, &e.TitleEN, &e.Domain,
				&e.Language, &e.SourceCountry, &e.Description, &e.Image,
				&e.Hostname, &e.HasContent,
			)
			if err != nil {
				return fmt.Errorf("failed to scan feed entry: %w", err)
			}

			entries = append(entries, &e)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// ContentBatch loads the heavy enrichment columns (content, entities,
// geo_entities) for a chunk of entries. Called per chunk by the ingest so
// the initial selection stays lean.
func (s *EntryStore) ContentBatch(
	ctx context.Context,
	tables *Tables,
	ids []uuid.UUID,
) (map[uuid.UUID]*EntryContent, error) {
	out := make(map[uuid.UUID]*EntryContent, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
		SELECT id, COALESCE(content, ''), entities, geo_entities
		FROM %q
		WHERE id = ANY($1::uuid[])`, tables.FeedEntries)

	err := s.conn.withRetry(ctx, "entry_content_batch", func() error {
		rows, err := s.conn.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
		if err != nil {
			return fmt.Errorf("failed to load entry content: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		clear(out)

		for rows.Next() {
			var (
				id uuid.UUID
				ec EntryContent
			)

			if err := rows.Scan(&id, &ec.Content, &ec.Entities, &ec.GeoEntities); err != nil {
				return fmt.Errorf("failed to scan entry content: %w", err)
			}

			out[id] = &ec
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// UpdateEnrichment writes the set fields of upd back to the entry's row.
// Unset fields are untouched; a call with nothing set is a no-op. The JSONB
// columns are bound as text and cast server-side, which keeps the statement
// compatible with pgBouncer's transaction pooling.
func (s *EntryStore) UpdateEnrichment(
	ctx context.Context,
	tables *Tables,
	entryID uuid.UUID,
	upd *EnrichmentUpdate,
) error {
	return s.conn.withRetry(ctx, "update_enrichment", func() error {
		return updateEnrichment(ctx, s.conn, tables, entryID, upd)
	})
}

// UpdateEnrichmentTx is UpdateEnrichment inside an open transaction. No
// per-statement retry: the caller owns the transaction's retry semantics.
func (s *EntryStore) UpdateEnrichmentTx(
	ctx context.Context,
	tx *sql.Tx,
	tables *Tables,
	entryID uuid.UUID,
	upd *EnrichmentUpdate,
) error {
	return updateEnrichment(ctx, tx, tables, entryID, upd)
}

func updateEnrichment(
	ctx context.Context,
	ex execer,
	tables *Tables,
	entryID uuid.UUID,
	upd *EnrichmentUpdate,
) error {
	if upd == nil {
		return nil
	}

	sets := make([]string, 0, 8)
	args := []any{entryID}

	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if upd.Content != nil {
		add("content = $%d", *upd.Content)
	}

	if upd.TitleEN != nil {
		add("title_en = $%d", *upd.TitleEN)
	}

	if upd.Hostname != nil {
		add("hostname = $%d", *upd.Hostname)
	}

	if upd.Summary != nil {
		add("summary = $%d", *upd.Summary)
	}

	if upd.Entities != nil {
		add("entities = CAST($%d AS jsonb)", string(upd.Entities))
	}

	if upd.GeoEntities != nil {
		add("geo_entities = CAST($%d AS jsonb)", string(upd.GeoEntities))
	}

	if upd.Images != nil {
		// images is TEXT[] in the feed table, not JSONB.
		add("images = $%d", pq.Array(upd.Images))
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(
		"UPDATE %q SET %s WHERE id = $1",
		tables.FeedEntries, strings.Join(sets, ", "),
	)

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update enrichment: %w", err)
	}

	return nil
}

// FlashpointIDsForRun returns the distinct flashpoints with at least one
// non-duplicate, non-failed entry in this run. The cluster and summary
// stages iterate this set.
func (s *EntryStore) FlashpointIDsForRun(
	ctx context.Context,
	tables *Tables,
	runID string,
) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT fe.flashpoint_id
		FROM %q fe
		JOIN feed_entry_jobs jej ON fe.id = jej.feed_entry_id
		WHERE fe.flashpoint_id IS NOT NULL
		AND jej.run_id = $1
		AND jej.is_duplicate = false
		AND jej.status != $2`, tables.FeedEntries)

	ids := make([]uuid.UUID, 0)

	err := s.conn.withRetry(ctx, "flashpoint_ids_for_run", func() error {
		rows, err := s.conn.QueryContext(ctx, query, runID, JobFailed)
		if err != nil {
			return fmt.Errorf("failed to select flashpoint ids: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		ids = ids[:0]

		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("failed to scan flashpoint id: %w", err)
			}

			ids = append(ids, id)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// EmbeddableTexts loads (id, title, first 1000 chars of content) for every
// job in this run still at extracted and not flagged duplicate. This feeds
// the batch embedding pass.
func (s *EntryStore) EmbeddableTexts(
	ctx context.Context,
	tables *Tables,
	runID string,
) ([]EntryText, error) {
	query := fmt.Sprintf(`
		SELECT fe.id, COALESCE(fe.title, ''), LEFT(COALESCE(fe.content, ''), 1000)
		FROM %q fe
		JOIN feed_entry_jobs jej ON fe.id = jej.feed_entry_id
		WHERE jej.run_id = $1
		AND jej.status = $2
		AND jej.is_duplicate = false`, tables.FeedEntries)

	texts := make([]EntryText, 0)

	err := s.conn.withRetry(ctx, "embeddable_texts", func() error {
		rows, err := s.conn.QueryContext(ctx, query, runID, JobExtracted)
		if err != nil {
			return fmt.Errorf("failed to select embeddable texts: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		texts = texts[:0]

		for rows.Next() {
			var t EntryText
			if err := rows.Scan(&t.FeedEntryID, &t.Title, &t.Content); err != nil {
				return fmt.Errorf("failed to scan embeddable text: %w", err)
			}

			texts = append(texts, t)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return texts, nil
}

// FlashpointStore reads the date-partitioned flash_point tables. They are
// seeded upstream and read-only for the pipeline.
type FlashpointStore struct {
	conn *Connection
}

// NewFlashpointStore creates a flashpoint store backed by conn.
func NewFlashpointStore(conn *Connection) (*FlashpointStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &FlashpointStore{conn: conn}, nil
}

// GetAll returns every flashpoint for the target date, newest first.
func (s *FlashpointStore) GetAll(ctx context.Context, tables *Tables) ([]*Flashpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, COALESCE(title, ''), COALESCE(description, ''),
			entities, domains, COALESCE(run_id, ''), created_at, updated_at
		FROM %q
		ORDER BY created_at DESC`, tables.Flashpoints)

	flashpoints := make([]*Flashpoint, 0)

	err := s.conn.withRetry(ctx, "flashpoints_get_all", func() error {
		rows, err := s.conn.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to select flashpoints: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		flashpoints = flashpoints[:0]

		for rows.Next() {
			fp, err := scanFlashpoint(rows)
			if err != nil {
				return err
			}

			flashpoints = append(flashpoints, fp)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return flashpoints, nil
}

// GetByID returns one flashpoint or ErrFlashpointNotFound.
func (s *FlashpointStore) GetByID(
	ctx context.Context,
	tables *Tables,
	flashpointID uuid.UUID,
) (*Flashpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, COALESCE(title, ''), COALESCE(description, ''),
			entities, domains, COALESCE(run_id, ''), created_at, updated_at
		FROM %q
		WHERE id = $1`, tables.Flashpoints)

	var fp *Flashpoint

	err := s.conn.withRetry(ctx, "flashpoint_get_by_id", func() error {
		f, err := scanFlashpoint(s.conn.QueryRowContext(ctx, query, flashpointID))
		if err != nil {
			return err
		}

		fp = f

		return nil
	})
	if err != nil {
		return nil, err
	}

	return fp, nil
}

func scanFlashpoint(row rowScanner) (*Flashpoint, error) {
	var (
		fp        Flashpoint
		createdAt sql.NullTime
		updatedAt sql.NullTime
	)

	err := row.Scan(
		&fp.ID, &fp.Title, &fp.Description, &fp.Entities, &fp.Domains,
		&fp.RunID, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFlashpointNotFound
		}

		return nil, fmt.Errorf("failed to scan flashpoint: %w", err)
	}

	if createdAt.Valid {
		fp.CreatedAt = &createdAt.Time
	}

	if updatedAt.Valid {
		fp.UpdatedAt = &updatedAt.Time
	}

	return &fp, nil
}
