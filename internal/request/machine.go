package request

import (
	"github.com/prorab-app/prorab/internal/capability"
	"github.com/prorab-app/prorab/internal/identity"
)

// Plan resolves the single legal (current stage, action) pair into the next
// stage. Every transition is either one step forward or a rejection to the
// rework state; stages cannot be skipped.
func Plan(current Stage, action Action) (Stage, error) {
	switch action {
	case ActionSubmit:
		if current == StageDraft || current == StageRejected {
			return StageSiteManagerApproval, nil
		}
	case ActionApprove:
		for i, stage := range approvalStages {
			if stage != current {
				continue
			}
			if i == len(approvalStages)-1 {
				return StageApproved, nil
			}
			return approvalStages[i+1], nil
		}
		// The warehouse branch also advances through approve.
		switch current {
		case StageApproved:
			return StageWarehouseReview, nil
		case StageWarehouseReview:
			return StageProcurement, nil
		}
	case ActionReject:
		if IsApprovalStage(current) {
			return StageRejected, nil
		}
	case ActionMarkPaid:
		// Direct purchases bypass the warehouse branch from APPROVED; both
		// paths converge on PAYMENT before DELIVERY.
		switch current {
		case StageApproved, StageProcurement:
			return StagePayment, nil
		case StagePayment:
			return StageDelivery, nil
		}
	case ActionMarkDelivered:
		if current == StageDelivery {
			return StageCompleted, nil
		}
	}
	return "", reject(KindInvalidTransition, "%s is not legal at stage %s", action, current)
}

// RoleAllowed reports whether the role may drive the given action at the
// given stage. Submit is reserved to the request's author path and is not
// stage-gated by role; every advancing action checks the approver table.
func RoleAllowed(current Stage, action Action, role identity.Role) bool {
	if action == ActionSubmit {
		return true
	}
	expected, ok := approverByStage[current]
	return ok && expected == role
}

// CapabilityFor maps an action to the capability key gating it on the
// material-requests surface.
func CapabilityFor(action Action) string {
	switch action {
	case ActionSubmit:
		return capability.KeyCreate
	case ActionApprove:
		return capability.KeyApprove
	case ActionReject:
		return capability.KeyReject
	case ActionMarkPaid:
		return capability.KeyMarkPaid
	case ActionMarkDelivered:
		return capability.KeyMarkDelivered
	}
	return ""
}
