package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

// bulkMemberChunk caps rows per cluster_members insert statement.
const bulkMemberChunk = 500

// ClusterStore manages cluster_members rows and the date-partitioned
// news_clusters output tables.
type ClusterStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewClusterStore creates a cluster store backed by conn.
func NewClusterStore(conn *Connection) (*ClusterStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ClusterStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// InsertMembers writes cluster membership rows. Collisions on
// uq_cluster_member_entry_run are silently skipped so re-running a cluster
// stage never duplicates members.
func (s *ClusterStore) InsertMembers(ctx context.Context, members []ClusterMember) error {
	for start := 0; start < len(members); start += bulkMemberChunk {
		end := min(start+bulkMemberChunk, len(members))
		if err := s.insertMemberChunk(ctx, members[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (s *ClusterStore) insertMemberChunk(ctx context.Context, chunk []ClusterMember) error {
	if len(chunk) == 0 {
		return nil
	}

	var values strings.Builder

	args := make([]any, 0, len(chunk)*5)

	for i, m := range chunk {
		if i > 0 {
			values.WriteString(", ")
		}

		args = append(args, m.FlashpointID, m.ClusterUUID, m.FeedEntryID, m.RunID, m.Similarity)
		fmt.Fprintf(&values, "($%d, $%d, $%d, $%d, $%d)",
			len(args)-4, len(args)-3, len(args)-2, len(args)-1, len(args))
	}

	query := `
		INSERT INTO cluster_members (flashpoint_id, cluster_uuid, feed_entry_id, run_id, similarity)
		VALUES ` + values.String() + `
		ON CONFLICT ON CONSTRAINT uq_cluster_member_entry_run DO NOTHING`

	return s.conn.withRetry(ctx, "insert_cluster_members", func() error {
		if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert cluster members: %w", err)
		}

		return nil
	})
}

// ClusterArticles loads every cluster member of a flashpoint in this run
// joined with the feed entry columns the summary stage needs. Rows are
// ordered by cluster_uuid, then similarity descending, so consumers can
// group by walking the slice.
func (s *ClusterStore) ClusterArticles(
	ctx context.Context,
	tables *Tables,
	flashpointID uuid.UUID,
	runID string,
) ([]ClusterArticle, error) {
	query := fmt.Sprintf(`
		SELECT cm.cluster_uuid, cm.feed_entry_id, cm.similarity,
			COALESCE(fe.title, ''), COALESCE(fe.title_en, ''),
			COALESCE(fe.content, ''), COALESCE(fe.description, ''),
			COALESCE(fe.url, ''), COALESCE(fe.domain, ''),
			COALESCE(fe.hostname, ''), COALESCE(fe.language, ''),
			COALESCE(fe.image, ''), fe.images
		FROM cluster_members cm
		JOIN %q fe ON fe.id = cm.feed_entry_id
		WHERE cm.flashpoint_id = $1
		AND cm.run_id = $2
		ORDER BY cm.cluster_uuid, cm.similarity DESC`, tables.FeedEntries)

	articles := make([]ClusterArticle, 0)

	err := s.conn.withRetry(ctx, "cluster_articles", func() error {
		rows, err := s.conn.QueryContext(ctx, query, flashpointID, runID)
		if err != nil {
			return fmt.Errorf("failed to select cluster articles: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		articles = articles[:0]

		for rows.Next() {
			var (
				a      ClusterArticle
				images pq.StringArray
			)

			err := rows.Scan(
				&a.ClusterUUID, &a.FeedEntryID, &a.Similarity, &a.Title,
				&a.TitleEN, &a.Content, &a.Description, &a.URL, &a.Domain,
				&a.Hostname, &a.Language, &a.Image, &images,
			)
			if err != nil {
				return fmt.Errorf("failed to scan cluster article: %w", err)
			}

			a.Images = images
			articles = append(articles, a)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return articles, nil
}

// WriteNewsCluster inserts one summarized cluster into the output table.
// The list columns are JSONB in the output schema, so they are bound as
// JSON text and cast server-side.
func (s *ClusterStore) WriteNewsCluster(ctx context.Context, tables *Tables, nc *NewsCluster) error {
	query := fmt.Sprintf(`
		INSERT INTO %q (
			flashpoint_id, cluster_id, summary, article_count,
			top_domains, languages, urls, images
		)
		VALUES ($1, $2, $3, $4,
			CAST($5 AS jsonb), CAST($6 AS jsonb), CAST($7 AS jsonb), CAST($8 AS jsonb))`,
		tables.NewsClusters)

	topDomains, err := jsonList(nc.TopDomains)
	if err != nil {
		return err
	}

	languages, err := jsonList(nc.Languages)
	if err != nil {
		return err
	}

	urls, err := jsonList(nc.URLs)
	if err != nil {
		return err
	}

	images, err := jsonList(nc.Images)
	if err != nil {
		return err
	}

	return s.conn.withRetry(ctx, "write_news_cluster", func() error {
		_, err := s.conn.ExecContext(ctx, query,
			nc.FlashpointID, nc.ClusterID, nc.Summary, nc.ArticleCount,
			topDomains, languages, urls, images,
		)
		if err != nil {
			return fmt.Errorf("failed to write news cluster: %w", err)
		}

		return nil
	})
}

// DeleteClustersForFlashpoint removes existing output rows for a flashpoint
// so re-runs stay idempotent. Returns the number of deleted rows.
func (s *ClusterStore) DeleteClustersForFlashpoint(
	ctx context.Context,
	tables *Tables,
	flashpointID uuid.UUID,
) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %q WHERE flashpoint_id = $1`, tables.NewsClusters)

	var deleted int64

	err := s.conn.withRetry(ctx, "delete_clusters_for_flashpoint", func() error {
		result, err := s.conn.ExecContext(ctx, query, flashpointID)
		if err != nil {
			return fmt.Errorf("failed to delete news clusters: %w", err)
		}

		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read deleted row count: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// ListNewsClusters returns the output rows for a flashpoint. The scoring
// stage reads these back to compute hotspot scores.
func (s *ClusterStore) ListNewsClusters(
	ctx context.Context,
	tables *Tables,
	flashpointID uuid.UUID,
) ([]*NewsCluster, error) {
	query := fmt.Sprintf(`
		SELECT id, flashpoint_id, cluster_id, summary, article_count,
			top_domains, languages, urls, images, created_at
		FROM %q
		WHERE flashpoint_id = $1
		ORDER BY cluster_id`, tables.NewsClusters)

	clusters := make([]*NewsCluster, 0)

	err := s.conn.withRetry(ctx, "list_news_clusters", func() error {
		rows, err := s.conn.QueryContext(ctx, query, flashpointID)
		if err != nil {
			return fmt.Errorf("failed to select news clusters: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		clusters = clusters[:0]

		for rows.Next() {
			var (
				nc         NewsCluster
				topDomains []byte
				languages  []byte
				urls       []byte
				images     []byte
			)

			err := rows.Scan(
				&nc.ID, &nc.FlashpointID, &nc.ClusterID, &nc.Summary,
				&nc.ArticleCount, &topDomains, &languages, &urls, &images,
				&nc.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to scan news cluster: %w", err)
			}

			if err := decodeJSONList(topDomains, &nc.TopDomains); err != nil {
				return err
			}

			if err := decodeJSONList(languages, &nc.Languages); err != nil {
				return err
			}

			if err := decodeJSONList(urls, &nc.URLs); err != nil {
				return err
			}

			if err := decodeJSONList(images, &nc.Images); err != nil {
				return err
			}

			clusters = append(clusters, &nc)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return clusters, nil
}

// jsonList marshals a string slice as a JSON array, treating nil as empty.
func jsonList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}

	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}

	return string(b), nil
}

func decodeJSONList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = []string{}

		return nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode list column: %w", err)
	}

	return nil
}
