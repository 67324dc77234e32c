package request

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prorab-app/prorab/internal/identity"
)

// Stage is a discrete position in the material-request approval/delivery
// pipeline. The ordered chain below is the single canonical table; no call
// site infers ordering on its own.
type Stage string

const (
	StageDraft                 Stage = "DRAFT"
	StageSiteManagerApproval   Stage = "SITE_MANAGER_APPROVAL"
	StageEngineerApproval      Stage = "ENGINEER_APPROVAL"
	StagePMApproval            Stage = "PM_APPROVAL"
	StageChiefPowerApproval    Stage = "CHIEF_POWER_APPROVAL"
	StageChiefEngineerApproval Stage = "CHIEF_ENGINEER_APPROVAL"
	StageDirectorApproval      Stage = "DIRECTOR_APPROVAL"
	StageApproved              Stage = "APPROVED"
	StageWarehouseReview       Stage = "WAREHOUSE_REVIEW"
	StageProcurement           Stage = "PROCUREMENT"
	StagePayment               Stage = "PAYMENT"
	StageDelivery              Stage = "DELIVERY"
	StageCompleted             Stage = "COMPLETED"
	// StageRejected is the rework state, reachable from any approval stage.
	// Submit returns a rejected request to the head of the approval chain.
	StageRejected Stage = "REJECTED"
)

// approvalStages are the stages cleared by the approve action, in order.
var approvalStages = []Stage{
	StageSiteManagerApproval,
	StageEngineerApproval,
	StagePMApproval,
	StageChiefPowerApproval,
	StageChiefEngineerApproval,
	StageDirectorApproval,
}

// approverByStage maps each stage that accepts an advancing action to the
// role expected to perform it. Elevated actors bypass the role check.
var approverByStage = map[Stage]identity.Role{
	StageSiteManagerApproval:   identity.RoleSiteManager,
	StageEngineerApproval:      identity.RoleEngineer,
	StagePMApproval:            identity.RoleProjectManager,
	StageChiefPowerApproval:    identity.RoleChiefPowerEngineer,
	StageChiefEngineerApproval: identity.RoleChiefEngineer,
	StageDirectorApproval:      identity.RoleDirector,
	StageApproved:              identity.RoleWarehouseHead,
	StageWarehouseReview:       identity.RoleWarehouseHead,
	StageProcurement:           identity.RoleSupplyManager,
	StagePayment:               identity.RoleSupplyManager,
	StageDelivery:              identity.RoleWarehouseHead,
}

// IsApprovalStage reports whether s is one of the approval-chain stages.
func IsApprovalStage(s Stage) bool {
	for _, stage := range approvalStages {
		if stage == s {
			return true
		}
	}
	return false
}

// Action is a named lifecycle operation requested by a caller.
type Action string

const (
	ActionSubmit        Action = "submit"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionMarkPaid      Action = "mark_paid"
	ActionMarkDelivered Action = "mark_delivered"
)

// RequestItem is one material line on a request. QtyActual stays nil until
// the delivery stage reconciles it; once set it is non-negative.
type RequestItem struct {
	ID           uuid.UUID
	RequestID    uuid.UUID
	Name         string
	Unit         string
	QtyRequested float64
	QtyActual    *float64
	Position     int
}

// Reconciled reports whether the item has a delivered quantity recorded.
func (i RequestItem) Reconciled() bool {
	return i.QtyActual != nil
}

// MaterialRequest is the aggregate root of the procurement workflow. The
// backend of record owns it; the stage field only moves through Transition.
type MaterialRequest struct {
	ID           uuid.UUID
	Number       string
	ProjectID    int64
	AuthorID     int64
	Stage        Stage
	ApproverRole identity.Role
	Items        []RequestItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllReconciled reports whether every item carries a delivered quantity.
func (r MaterialRequest) AllReconciled() bool {
	for _, item := range r.Items {
		if !item.Reconciled() {
			return false
		}
	}
	return len(r.Items) > 0
}

// RejectionKind classifies why a transition was refused.
type RejectionKind string

const (
	// KindInvalidTransition: the action is not legal for the current stage.
	KindInvalidTransition RejectionKind = "INVALID_TRANSITION"
	// KindValidationError: the payload is incomplete or malformed.
	KindValidationError RejectionKind = "VALIDATION_ERROR"
	// KindStaleState: the caller acted on an outdated stage; it must
	// refresh and retry rather than overwrite newer state.
	KindStaleState RejectionKind = "STALE_STATE"
	// KindPermissionDenied: the actor lacks the capability or the role for
	// this transition.
	KindPermissionDenied RejectionKind = "PERMISSION_DENIED"
)

// Rejection is the typed refusal of a transition. It implements error so
// services return it through the usual error path; callers branch on Kind.
type Rejection struct {
	Kind    RejectionKind
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("request: %s: %s", r.Kind, r.Message)
}

func reject(kind RejectionKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
