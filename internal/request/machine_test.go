package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prorab-app/prorab/internal/identity"
)

func TestPlanApproveWalksTheFullChain(t *testing.T) {
	stage := Stage(StageSiteManagerApproval)
	want := []Stage{
		StageEngineerApproval,
		StagePMApproval,
		StageChiefPowerApproval,
		StageChiefEngineerApproval,
		StageDirectorApproval,
		StageApproved,
		StageWarehouseReview,
		StageProcurement,
	}
	for _, expected := range want {
		next, err := Plan(stage, ActionApprove)
		require.NoError(t, err)
		require.Equal(t, expected, next)
		stage = next
	}
}

func TestPlanSubmitFromDraftAndRejected(t *testing.T) {
	next, err := Plan(StageDraft, ActionSubmit)
	require.NoError(t, err)
	require.Equal(t, StageSiteManagerApproval, next)

	next, err = Plan(StageRejected, ActionSubmit)
	require.NoError(t, err)
	require.Equal(t, StageSiteManagerApproval, next)

	_, err = Plan(StagePMApproval, ActionSubmit)
	requireRejection(t, err, KindInvalidTransition)
}

func TestPlanMarkPaidPaths(t *testing.T) {
	// Direct purchase skips the warehouse branch.
	next, err := Plan(StageApproved, ActionMarkPaid)
	require.NoError(t, err)
	require.Equal(t, StagePayment, next)

	next, err = Plan(StageProcurement, ActionMarkPaid)
	require.NoError(t, err)
	require.Equal(t, StagePayment, next)

	next, err = Plan(StagePayment, ActionMarkPaid)
	require.NoError(t, err)
	require.Equal(t, StageDelivery, next)

	_, err = Plan(StageDelivery, ActionMarkPaid)
	requireRejection(t, err, KindInvalidTransition)
}

func TestPlanRejectOnlyFromApprovalStages(t *testing.T) {
	for _, stage := range approvalStages {
		next, err := Plan(stage, ActionReject)
		require.NoError(t, err)
		require.Equal(t, StageRejected, next)
	}
	for _, stage := range []Stage{StageDraft, StageApproved, StagePayment, StageDelivery, StageCompleted} {
		_, err := Plan(stage, ActionReject)
		requireRejection(t, err, KindInvalidTransition)
	}
}

func TestPlanCompletedIsTerminal(t *testing.T) {
	for _, action := range []Action{ActionSubmit, ActionApprove, ActionReject, ActionMarkPaid, ActionMarkDelivered} {
		_, err := Plan(StageCompleted, action)
		requireRejection(t, err, KindInvalidTransition)
	}
}

func TestRoleAllowedMatchesApproverTable(t *testing.T) {
	require.True(t, RoleAllowed(StageSiteManagerApproval, ActionApprove, identity.RoleSiteManager))
	require.False(t, RoleAllowed(StageSiteManagerApproval, ActionApprove, identity.RoleForeman))
	require.True(t, RoleAllowed(StageProcurement, ActionMarkPaid, identity.RoleSupplyManager))
	require.True(t, RoleAllowed(StageDelivery, ActionMarkDelivered, identity.RoleWarehouseHead))
	require.False(t, RoleAllowed(StageDelivery, ActionMarkDelivered, identity.RoleSupplyManager))
	// Submit is not stage-gated by role.
	require.True(t, RoleAllowed(StageDraft, ActionSubmit, identity.RoleForeman))
}

func requireRejection(t *testing.T, err error, kind RejectionKind) {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected *Rejection, got %v", err)
	require.Equal(t, kind, rej.Kind)
}
