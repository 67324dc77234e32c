package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/prorab-app/prorab/internal/jobs"
)

const (
	// TaskCapabilityReindex rebuilds cached capability material after grant
	// changes or on the periodic cron.
	TaskCapabilityReindex = "capability:reindex"
)

// CapabilityReindexPayload contains options for the reindex job.
type CapabilityReindexPayload struct {
	Force bool `json:"force"`
}

// Refresher drops or revalidates cached capability sets.
type Refresher interface {
	InvalidateAll()
}

// NewCapabilityReindexTask builds a new reindex task.
func NewCapabilityReindexTask(force bool) (*asynq.Task, error) {
	body, err := json.Marshal(CapabilityReindexPayload{Force: force})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCapabilityReindex, body, asynq.Queue(QueueDefault)), nil
}

// NewCapabilityReindexHandler builds the handler processing reindex tasks.
func NewCapabilityReindexHandler(logger *slog.Logger, refresher Refresher, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("capability.reindex")
		var payload CapabilityReindexPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if refresher != nil {
			refresher.InvalidateAll()
		}
		logger.Info("capability reindex", slog.Bool("force", payload.Force))
		return tracker.End(nil)
	}
}
