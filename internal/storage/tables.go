package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Sentinel errors for table resolution.
var (
	// ErrNoFeedTables is returned when no date-partitioned feed_entries
	// tables exist in the database.
	ErrNoFeedTables = errors.New("no feed_entries tables found")

	// ErrTableNotFound is returned when a required input table is missing
	// for the target date.
	ErrTableNotFound = errors.New("required table does not exist")
)

// Base names of the date-partitioned tables. The physical tables carry a
// _YYYYMMDD suffix, one set per day, created upstream (feed_entries,
// flash_point) or by this pipeline (news_clusters).
const (
	feedEntriesBase  = "feed_entries"
	flashpointBase   = "flash_point"
	newsClustersBase = "news_clusters"
)

// tableDateLayout is the suffix format on partitioned table names.
const tableDateLayout = "20060102"

var dateSuffixPattern = regexp.MustCompile(`_(\d{8})$`)

// Tables holds the resolved physical table names for one pipeline run. It is
// the single source of truth for which tables the run reads and writes.
type Tables struct {
	FeedEntries  string
	Flashpoints  string
	NewsClusters string

	// TargetDate is the resolved date in YYYY-MM-DD form, or the raw suffix
	// string when resolution was bypassed.
	TargetDate string
}

// MakeTableName builds a date-partitioned table name, e.g.
// MakeTableName("feed_entries", d) == "feed_entries_20251103".
func MakeTableName(base string, date time.Time) string {
	return base + "_" + date.Format(tableDateLayout)
}

// extractTableDate parses the _YYYYMMDD suffix from a table name.
func extractTableDate(tableName string) (time.Time, bool) {
	m := dateSuffixPattern.FindStringSubmatch(tableName)
	if m == nil {
		return time.Time{}, false
	}

	d, err := time.Parse(tableDateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}

	return d, true
}

// ResolveTables resolves the physical table names for a target date.
//
// An empty targetDate selects the most recent feed_entries partition. An ISO
// date (YYYY-MM-DD) selects that day's partitions and requires the input
// tables to exist; ErrTableNotFound is returned otherwise. Anything else is
// treated as a raw suffix (dashes stripped) and bypasses existence checks,
// which lets operators point a run at ad-hoc test tables.
//
// The news_clusters output table is never checked here; it may not exist yet
// and is created by EnsureOutputTable.
func ResolveTables(ctx context.Context, conn *Connection, targetDate string) (*Tables, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if targetDate == "" {
		latest, err := latestTableDate(ctx, conn, feedEntriesBase)
		if err != nil {
			return nil, err
		}

		return resolveForDate(ctx, conn, latest)
	}

	d, err := time.Parse("2006-01-02", targetDate)
	if err != nil {
		// Raw suffix mode.
		suffix := strings.ReplaceAll(targetDate, "-", "")

		return &Tables{
			FeedEntries:  feedEntriesBase + "_" + suffix,
			Flashpoints:  flashpointBase + "_" + suffix,
			NewsClusters: newsClustersBase + "_" + suffix,
			TargetDate:   targetDate,
		}, nil
	}

	return resolveForDate(ctx, conn, d)
}

func resolveForDate(ctx context.Context, conn *Connection, date time.Time) (*Tables, error) {
	tables := &Tables{
		FeedEntries:  MakeTableName(feedEntriesBase, date),
		Flashpoints:  MakeTableName(flashpointBase, date),
		NewsClusters: MakeTableName(newsClustersBase, date),
		TargetDate:   date.Format("2006-01-02"),
	}

	// Only the input tables must exist; news_clusters is created on demand.
	for _, name := range []string{tables.FeedEntries, tables.Flashpoints} {
		exists, err := tableExists(ctx, conn, name)
		if err != nil {
			return nil, err
		}

		if !exists {
			return nil, fmt.Errorf("%w: %s for date %s", ErrTableNotFound, name, tables.TargetDate)
		}
	}

	return tables, nil
}

// latestTableDate returns the most recent date suffix among partitions of
// base. Tables whose names contain "duplicate" are ignored; Supabase leaves
// those behind when a partition is copied in the dashboard.
func latestTableDate(ctx context.Context, conn *Connection, base string) (time.Time, error) {
	query := `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename LIKE $1
		AND tablename NOT LIKE '%duplicate%'
		ORDER BY tablename DESC`

	rows, err := conn.QueryContext(ctx, query, base+"_%")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to list %s tables: %w", base, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return time.Time{}, fmt.Errorf("failed to scan table name: %w", err)
		}

		if d, ok := extractTableDate(name); ok {
			return d, rows.Err()
		}
	}

	if err := rows.Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to iterate table names: %w", err)
	}

	return time.Time{}, ErrNoFeedTables
}

func tableExists(ctx context.Context, conn *Connection, name string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM pg_tables
			WHERE schemaname = 'public' AND tablename = $1
		)`

	var exists bool
	if err := conn.QueryRowContext(ctx, query, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}

	return exists, nil
}

// EnsureOutputTable creates the news_clusters output table for the run if it
// does not exist yet. The schema matches the upstream news_clusters_YYYYMMDD
// convention; list columns are JSONB arrays.
func EnsureOutputTable(ctx context.Context, conn *Connection, tables *Tables) error {
	if conn == nil {
		return ErrNoDatabaseConnection
	}

	exists, err := tableExists(ctx, conn, tables.NewsClusters)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id BIGSERIAL PRIMARY KEY,
			flashpoint_id uuid NOT NULL,
			cluster_id integer NOT NULL,
			summary text NOT NULL,
			article_count integer NOT NULL,
			top_domains jsonb DEFAULT '[]'::jsonb,
			languages jsonb DEFAULT '[]'::jsonb,
			urls jsonb DEFAULT '[]'::jsonb,
			images jsonb DEFAULT '[]'::jsonb,
			created_at timestamptz DEFAULT CURRENT_TIMESTAMP
		)`, tables.NewsClusters)

	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create output table %s: %w", tables.NewsClusters, err)
	}

	return nil
}
