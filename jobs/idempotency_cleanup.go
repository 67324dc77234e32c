package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/prorab-app/prorab/internal/jobs"
	"github.com/prorab-app/prorab/internal/shared"
)

const (
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"

	idempotencyRetention = 24 * time.Hour
)

// NewIdempotencyCleanupTask builds the cleanup task. It carries no payload.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}

// NewIdempotencyCleanupHandler builds the handler pruning stale keys.
func NewIdempotencyCleanupHandler(logger *slog.Logger, store *shared.IdempotencyStore, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("shared.idempotency_cleanup")
		removed, err := store.Cleanup(ctx, idempotencyRetention)
		if err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return tracker.End(err)
		}
		if removed > 0 {
			logger.Info("idempotency cleanup", slog.Int64("removed", removed))
		}
		return tracker.End(nil)
	}
}
