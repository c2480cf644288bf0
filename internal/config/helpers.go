package config

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migration source
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// containerStartupTimeout bounds the wait for the postgres container; image
// pulls on a cold CI runner dominate this.
const containerStartupTimeout = 2 * time.Minute

// TestDatabase is a disposable PostgreSQL instance for integration tests: a
// pgvector container with every project migration applied. Cleanup is
// registered on the test, callers never terminate it themselves.
type TestDatabase struct {
	Container *postgres.PostgresContainer
	DB        *sql.DB

	// URL is the plain connection string, for code paths that open their
	// own pool (storage.LoadConfig reads it from DATABASE_URL).
	URL string
}

// SetupTestDatabase starts a pgvector container, applies the migrations and
// returns the ready database. Callers gate on testing.Short() themselves.
//
// The pgvector/pgvector:pg16 image is required: the schema creates the
// vector extension for embedding columns. The migration source path is
// relative to the calling test's package, which works for any package two
// levels below the repository root (internal/storage, internal/ingest, ...).
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("geosignal_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(containerStartupTimeout),
		),
	)
	require.NoError(t, err, "postgres container failed to start")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to resolve container connection string")

	db, err := sql.Open("postgres", url)
	require.NoError(t, err, "failed to open test database")

	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, applyTestMigrations(db), "migrations failed on test database")

	return &TestDatabase{Container: container, DB: db, URL: url}
}

// applyTestMigrations runs every up migration from the migrations directory.
// An already-migrated database is not an error.
func applyTestMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
