package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// unclassifiedTopic is the fallback when no topic rows exist for a cluster.
const unclassifiedTopic = "unclassified"

// TopicStore manages feed_entry_topics rows. Topic inference runs outside
// the pipeline; this store only records and reads back the assignments.
type TopicStore struct {
	conn *Connection
}

// NewTopicStore creates a topic store backed by conn.
func NewTopicStore(conn *Connection) (*TopicStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &TopicStore{conn: conn}, nil
}

// UpsertTopic records a topic assignment for an entry.
func (s *TopicStore) UpsertTopic(
	ctx context.Context,
	entryID uuid.UUID,
	topLevel, path string,
	confidence float64,
) error {
	query := `
		INSERT INTO feed_entry_topics (feed_entry_id, iptc_top_level, iptc_path, confidence)
		VALUES ($1, $2, $3, $4)`

	return s.conn.withRetry(ctx, "upsert_topic", func() error {
		if _, err := s.conn.ExecContext(ctx, query, entryID, topLevel, path, confidence); err != nil {
			return fmt.Errorf("failed to insert topic: %w", err)
		}

		return nil
	})
}

// PrimaryTopicForCluster returns the most common top-level topic among up to
// five members of the flashpoint's clusters in this run, or "unclassified"
// when no topic rows exist. Feeds the topic weight in hotspot scoring.
func (s *TopicStore) PrimaryTopicForCluster(
	ctx context.Context,
	flashpointID uuid.UUID,
	runID string,
) (string, error) {
	query := `
		SELECT fet.iptc_top_level
		FROM feed_entry_topics fet
		JOIN cluster_members cm ON cm.feed_entry_id = fet.feed_entry_id
		WHERE cm.flashpoint_id = $1
		AND cm.run_id = $2
		LIMIT 5`

	topics := make([]string, 0, 5)

	err := s.conn.withRetry(ctx, "primary_topic_for_cluster", func() error {
		rows, err := s.conn.QueryContext(ctx, query, flashpointID, runID)
		if err != nil {
			return fmt.Errorf("failed to select topics: %w", err)
		}

		defer func() {
			_ = rows.Close()
		}()

		topics = topics[:0]

		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return fmt.Errorf("failed to scan topic: %w", err)
			}

			topics = append(topics, t)
		}

		return rows.Err()
	})
	if err != nil {
		return "", err
	}

	if len(topics) == 0 {
		return unclassifiedTopic, nil
	}

	// Most common wins; first occurrence breaks ties.
	counts := make(map[string]int, len(topics))
	best := topics[0]

	for _, t := range topics {
		counts[t]++
		if counts[t] > counts[best] {
			best = t
		}
	}

	return best, nil
}
