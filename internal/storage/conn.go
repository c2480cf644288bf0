package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

// Sentinel errors for database connection management.
var (
	// ErrNoDatabaseConnection is returned when a store is constructed with a nil connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrInvalidConfig is returned when the connection config fails validation.
	ErrInvalidConfig = errors.New("invalid database configuration")
)

const (
	// connectMaxElapsed bounds the initial ping retry loop. Supabase's pooler
	// occasionally refuses the first connection after a cold start.
	connectMaxElapsed = 30 * time.Second

	// retryMaxAttempts is the number of times a store operation is retried
	// after a connection-class failure before giving up.
	retryMaxAttempts = 3
)

// Connection wraps a pooled *sql.DB with config-driven pool limits and a
// retry helper for connection-class failures. DB is exported for
// integrations that need the raw pool (migrations).
type Connection struct {
	DB *sql.DB

	config *Config
	logger *slog.Logger
}

// NewConnection opens a PostgreSQL connection pool and verifies connectivity
// with an exponential-backoff ping. Pool limits come from the Config.
func NewConnection(cfg *Config) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	conn := &Connection{
		DB:     db,
		config: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = connectMaxElapsed

	err = backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if pingErr := db.PingContext(ctx); pingErr != nil {
			conn.logger.Warn("database ping failed, retrying", slog.String("error", pingErr.Error()))

			return pingErr
		}

		return nil
	}, policy)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to connect to database at %s: %w", cfg.MaskDatabaseURL(), err)
	}

	conn.logger.Info("database connection established",
		slog.String("url", cfg.MaskDatabaseURL()),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return conn, nil
}

// BeginTx starts a transaction with the given options.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.DB.BeginTx(ctx, opts)
}

// RunInTx runs fn inside one transaction, committing on success and rolling
// back on error. Connection-class failures retry the whole transaction, so fn
// must be safe to run more than once; plain UPDATE/INSERT..ON CONFLICT
// statements are.
func (c *Connection) RunInTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	return c.withRetry(ctx, name, func() error {
		tx, err := c.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()

			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		return nil
	})
}

// execer is the statement-execution surface shared by *sql.Tx and
// Connection. Store write helpers take it so the same statement runs
// standalone or inside a chunk transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryContext executes a query that returns rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement without returning rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.DB.ExecContext(ctx, query, args...)
}

// HealthCheck verifies the connection is alive.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	if err := c.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// withRetry runs op, retrying up to retryMaxAttempts times when the failure
// is connection-class (Supabase's pooler drops idle connections). Query
// errors and constraint violations are never retried.
func (c *Connection) withRetry(ctx context.Context, name string, op func() error) error {
	var err error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if !isConnectionError(err) {
			return err
		}

		c.logger.Warn("retrying after connection error",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}

	return err
}

// isConnectionError reports whether err is a connection-level failure worth
// retrying: PostgreSQL class 08 (connection exceptions) or a dead pool
// connection surfaced by database/sql.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
