package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

// bulkVectorChunk caps rows per bulk upsert statement. Three parameters per
// row keeps even the largest chunk far below the protocol parameter limit.
const bulkVectorChunk = 500

// VectorStore manages rows in feed_entry_vectors. Embeddings are keyed by
// feed_entry_id and survive across runs; an upsert overwrites the stored
// vector and model tag unconditionally.
type VectorStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewVectorStore creates a vector store backed by conn.
func NewVectorStore(conn *Connection) (*VectorStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &VectorStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// UpsertEmbedding stores one embedding, replacing any existing row for the
// entry.
func (s *VectorStore) UpsertEmbedding(
	ctx context.Context,
	entryID uuid.UUID,
	embedding []float32,
	modelName string,
) error {
	query := `
		INSERT INTO feed_entry_vectors (feed_entry_id, embedding, model_name)
		VALUES ($1, $2::vector, $3)
		ON CONFLICT (feed_entry_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, model_name = EXCLUDED.model_name`

	return s.conn.withRetry(ctx, "upsert_embedding", func() error {
		if _, err := s.conn.ExecContext(ctx, query, entryID, Vector(embedding), modelName); err != nil {
			return fmt.Errorf("failed to upsert embedding: %w", err)
		}

		return nil
	})
}

// BulkUpsertEmbeddings stores a batch of embeddings sharing one model tag,
// chunked at bulkVectorChunk rows per statement.
func (s *VectorStore) BulkUpsertEmbeddings(
	ctx context.Context,
	embeddings []EntryEmbedding,
	modelName string,
) error {
	for start := 0; start < len(embeddings); start += bulkVectorChunk {
		end := min(start+bulkVectorChunk, len(embeddings))
		if err := s.upsertChunk(ctx, embeddings[start:end], modelName); err != nil {
			return err
		}
	}

	return nil
}

func (s *VectorStore) upsertChunk(ctx context.Context, chunk []EntryEmbedding, modelName string) error {
	var values strings.Builder

	args := make([]any, 0, len(chunk)*2+1)
	args = append(args, modelName)

	for i, e := range chunk {
		if i > 0 {
			values.WriteString(", ")
		}

		args = append(args, e.FeedEntryID, Vector(e.Embedding))
		fmt.Fprintf(&values, "($%d, $%d::vector, $1)", len(args)-1, len(args))
	}

	query := `
		INSERT INTO feed_entry_vectors (feed_entry_id, embedding, model_name)
		VALUES ` + values.String() + `
		ON CONFLICT (feed_entry_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, model_name = EXCLUDED.model_name`

	return s.conn.withRetry(ctx, "bulk_upsert_embeddings", func() error {
		if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to bulk upsert embeddings: %w", err)
		}

		return nil
	})
}

// EmbeddingsForFlashpoint loads the stored vectors for all non-duplicate
// entries of a flashpoint in this run, ordered by entry id so clustering
// sees a stable input order.
func (s *VectorStore) EmbeddingsForFlashpoint(
	ctx context.Context,
	tables *Tables,
	flashpointID uuid.UUID,
	runID string,
) ([]EntryEmbedding, error) {
	query := fmt.Sprintf(`
		SELECT fev.feed_entry_id, fev.embedding
		FROM feed_entry_vectors fev
		JOIN %q fe ON fe.id = fev.feed_entry_id
		JOIN feed_entry_jobs jej ON fe.id = jej.feed_entry_id
		WHERE fe.flashpoint_id = $1
		AND jej.run_id = $2
		AND jej.is_duplicate = false
		ORDER BY fev.feed_entry_id`, tables.FeedEntries)

	embeddings := make([]EntryEmbedding, 0)

	err := s.conn.withRetry(ctx, "embeddings_for_flashpoint", func() error {
		rows, err := s.conn.QueryContext(ctx, query, flashpointID, runID)
		if err != nil {
			return fmt.Errorf("failed to select embeddings: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		embeddings = embeddings[:0]

		for rows.Next() {
			var (
				e   EntryEmbedding
				vec Vector
			)

			if err := rows.Scan(&e.FeedEntryID, &vec); err != nil {
				return fmt.Errorf("failed to scan embedding: %w", err)
			}

			e.Embedding = vec
			embeddings = append(embeddings, e)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return embeddings, nil
}
