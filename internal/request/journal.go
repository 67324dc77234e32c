package request

import (
	"time"

	"github.com/google/uuid"
)

// JournalAction enumerates approval journal actions.
type JournalAction string

const (
	JournalSubmit  JournalAction = "SUBMIT"
	JournalApprove JournalAction = "APPROVE"
	JournalReject  JournalAction = "REJECT"
	JournalPay     JournalAction = "PAY"
	JournalDeliver JournalAction = "DELIVER"
	JournalCreate  JournalAction = "CREATE"
)

// JournalEntry is one approval-history record for a material request. The
// journal is written inside the same transaction as the stage change so
// history and state cannot diverge.
type JournalEntry struct {
	ID        int64
	RequestID uuid.UUID
	ActorID   int64
	Action    JournalAction
	FromStage Stage
	ToStage   Stage
	Note      string
	At        time.Time
}

func journalActionFor(action Action) JournalAction {
	switch action {
	case ActionSubmit:
		return JournalSubmit
	case ActionApprove:
		return JournalApprove
	case ActionReject:
		return JournalReject
	case ActionMarkPaid:
		return JournalPay
	case ActionMarkDelivered:
		return JournalDeliver
	}
	return JournalAction(action)
}
