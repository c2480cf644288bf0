package api

import (
	"context"
	"time"

	"github.com/AteetVatan/masx-geosignal/internal/storage"
)

type (
	// RunStore is the slice of run bookkeeping the trigger API needs.
	// *storage.RunStore satisfies it; tests substitute fakes.
	RunStore interface {
		HasActiveRun(ctx context.Context, window time.Duration) (bool, error)
		MarkStaleRunsFailed(ctx context.Context, maxAge time.Duration) (int64, error)
		GetRun(ctx context.Context, runID string) (*storage.Run, error)
		ListRunsByDate(ctx context.Context, targetDate string) ([]*storage.Run, error)
	}

	// HealthChecker verifies the storage backend is reachable.
	// *storage.Connection satisfies it.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}
)
