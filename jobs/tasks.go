package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/prorab-app/prorab/internal/request"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStageNotify delivers a stage-change notification.
	TaskStageNotify = "request:stage_notify"
)

// NewStageNotifyTask constructs the notification task for a committed
// transition.
func NewStageNotifyTask(evt request.StageChangedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStageNotify, data, asynq.Queue(QueueDefault)), nil
}

// StageNotifySink receives decoded stage-change events on the worker side.
// The default sink logs; deployments plug in mail or messenger delivery.
type StageNotifySink func(ctx context.Context, evt request.StageChangedEvent) error

// NewStageNotifyHandler builds the handler processing TaskStageNotify tasks.
func NewStageNotifyHandler(logger *slog.Logger, sink StageNotifySink) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var evt request.StageChangedEvent
		if err := json.Unmarshal(t.Payload(), &evt); err != nil {
			return asynq.SkipRetry
		}
		if sink != nil {
			return sink(ctx, evt)
		}
		logger.Info("stage change notification",
			slog.String("request", evt.Number),
			slog.String("from", string(evt.FromStage)),
			slog.String("to", string(evt.ToStage)),
			slog.Int64("actor", evt.ActorID))
		return nil
	}
}
