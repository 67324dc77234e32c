package request

import (
	"context"

	"github.com/google/uuid"
)

// StageChangedEvent captures a committed transition for notification
// delivery. Notifications are a side effect: they ride a background queue
// and never gate the transition itself.
type StageChangedEvent struct {
	RequestID uuid.UUID `json:"request_id"`
	Number    string    `json:"number"`
	ProjectID int64     `json:"project_id"`
	AuthorID  int64     `json:"author_id"`
	ActorID   int64     `json:"actor_id"`
	Action    Action    `json:"action"`
	FromStage Stage     `json:"from_stage"`
	ToStage   Stage     `json:"to_stage"`
	Note      string    `json:"note,omitempty"`
}

// Notifier enqueues stage-change notifications. The asynq-backed
// implementation lives in the jobs package.
type Notifier interface {
	StageChanged(ctx context.Context, evt StageChangedEvent) error
}
