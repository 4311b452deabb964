package store

import (
	"context"
	"errors"
	"time"

	"fleetroute/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store persists solve runs, their metrics, per-tenant solver defaults and completion
// callback deliveries.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, tenantID string, problem []byte, callbackURL, callbackSecret string) (model.Run, error)
	GetRun(ctx context.Context, tenantID, id string) (model.Run, error)
	ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Run, string, error)
	// ClaimQueuedRuns moves up to limit queued runs to running, oldest first.
	ClaimQueuedRuns(ctx context.Context, limit int) ([]model.Run, error)
	CompleteRun(ctx context.Context, id string, result model.SolveResponse) error
	FailRun(ctx context.Context, id, message string) error

	// Run metrics
	SaveRunMetrics(ctx context.Context, m model.RunMetrics) error
	ListRunMetrics(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.RunMetrics, error)

	// Solver defaults
	GetSolverConfig(ctx context.Context, tenantID string) (model.SolveOptions, error)
	SaveSolverConfig(ctx context.Context, tenantID string, cfg model.SolveOptions) error

	// Completion callbacks
	EnqueueCallback(ctx context.Context, tenantID, runID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error)
	MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListCallbacks(ctx context.Context, tenantID, status, cursor string, limit int) ([]CallbackDelivery, string, error)
	RetryCallback(ctx context.Context, tenantID, id string) error

	Ping(ctx context.Context) error
}
