package deploy_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/deploy"
	inmemory "github.com/greenlight-sh/greenlight/internal/infra/in-memory"
	"github.com/greenlight-sh/greenlight/internal/ledger"
	"github.com/greenlight-sh/greenlight/internal/ledger/mocks"
	"github.com/greenlight-sh/greenlight/internal/rollout"
	"github.com/greenlight-sh/greenlight/pkg/simulator"
)

var testTarget = controlplane.ServiceTarget{
	Cluster: "prod",
	Service: "checkout",
	Region:  "eu-west-1",
}

func newRequest() deploy.Request {
	return deploy.Request{
		Target:       testTarget,
		Image:        "registry.example.com/checkout:v2",
		RequestedBy:  "ci@example.com",
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
	}
}

func newOrchestrator(t *testing.T, sim *simulator.ControlPlane) (*deploy.Orchestrator, *inmemory.Ledger) {
	t.Helper()
	led := inmemory.NewLedger()
	return deploy.NewOrchestrator(sim, led, inmemory.NewLocker(), nil, zap.NewNop()), led
}

func phases(t *testing.T, led ledger.Ledger, deploymentID string) []string {
	t.Helper()
	history, err := led.History(context.Background(), deploymentID)
	require.NoError(t, err)
	out := make([]string, 0, len(history))
	for _, e := range history {
		out = append(out, e.Phase)
	}
	return out
}

func details(t *testing.T, led ledger.Ledger, deploymentID string) map[string]string {
	t.Helper()
	history, err := led.History(context.Background(), deploymentID)
	require.NoError(t, err)
	out := make(map[string]string, len(history))
	for _, e := range history {
		out[e.Phase] = e.Detail
	}
	return out
}

func TestRunDeployment_Completes(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	orch, led := newOrchestrator(t, sim)

	res, err := orch.RunDeployment(context.Background(), newRequest())
	require.NoError(t, err)

	assert.Equal(t, deploy.PhaseCompleted, res.FinalPhase)
	assert.Equal(t, controlplane.RevisionRef("rev-1"), res.PreviousRevision)
	assert.Equal(t, controlplane.RevisionRef("rev-2"), res.TargetRevision)
	assert.Equal(t, controlplane.RevisionRef("rev-2"), sim.ActiveRevision())

	assert.Equal(t, []string{
		"PRECHECK",
		"SNAPSHOT_CURRENT",
		"REGISTER_REVISION",
		"UPDATE_SERVICE",
		"MONITOR_ROLLOUT",
		"VERIFY_HEALTH",
		"COMPLETED",
	}, phases(t, led, res.DeploymentID))

	d := details(t, led, res.DeploymentID)
	assert.Equal(t, "prev=rev-1", d["SNAPSHOT_CURRENT"])
	assert.Equal(t, "target=rev-2", d["REGISTER_REVISION"])
	assert.Equal(t, "COMPLETED", d["MONITOR_ROLLOUT"])
	assert.Equal(t, "4/4", d["VERIFY_HEALTH"])
}

func TestRunDeployment_UsesProvidedDeploymentID(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 2)
	orch, _ := newOrchestrator(t, sim)

	req := newRequest()
	req.DeploymentID = "dep-42"

	res, err := orch.RunDeployment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "dep-42", res.DeploymentID)
}

func TestRunDeployment_StreamsProgress(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	sim.SetBehavior("rev-2", simulator.Behavior{CompleteAfterPolls: 3})
	orch, _ := newOrchestrator(t, sim)

	progress := make(chan controlplane.RolloutProgress, 16)
	req := newRequest()
	req.Progress = progress

	_, err := orch.RunDeployment(context.Background(), req)
	require.NoError(t, err)
	close(progress)

	var got []controlplane.RolloutProgress
	for p := range progress {
		got = append(got, p)
	}
	require.Len(t, got, 3)
	assert.True(t, got[len(got)-1].Converged("rev-2"))
}

func TestRunDeployment_FailedRolloutRollsBack(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	sim.SetBehavior("rev-2", simulator.Behavior{FailAfterPolls: 2})
	orch, led := newOrchestrator(t, sim)

	res, err := orch.RunDeployment(context.Background(), newRequest())
	require.ErrorIs(t, err, deploy.ErrRolloutFailed)

	assert.Equal(t, deploy.PhaseRolledBack, res.FinalPhase)
	assert.Equal(t, controlplane.RevisionRef("rev-1"), sim.ActiveRevision())

	assert.Equal(t, []string{
		"PRECHECK",
		"SNAPSHOT_CURRENT",
		"REGISTER_REVISION",
		"UPDATE_SERVICE",
		"MONITOR_ROLLOUT",
		"ROLLING_BACK",
		"UPDATE_SERVICE", // rollback re-points the service at rev-1
		"MONITOR_ROLLOUT",
		"ROLLED_BACK",
	}, phases(t, led, res.DeploymentID))

	// Rollback restores the snapshot, it never registers anything new.
	require.Len(t, sim.RegisterCalls(), 1)
	updates := sim.UpdateCalls()
	require.Len(t, updates, 2)
	assert.Equal(t, controlplane.RevisionRef("rev-2"), updates[0].Revision)
	assert.Equal(t, controlplane.RevisionRef("rev-1"), updates[1].Revision)
}

func TestRunDeployment_RollbackTimeoutIsRollbackFailed(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	sim.SetBehavior("rev-2", simulator.Behavior{FailAfterPolls: 1})
	sim.SetBehavior("rev-1", simulator.Behavior{NeverConverge: true})
	orch, led := newOrchestrator(t, sim)

	req := newRequest()
	req.MaxWait = 50 * time.Millisecond

	res, err := orch.RunDeployment(context.Background(), req)
	require.ErrorIs(t, err, deploy.ErrRollbackFailed)
	assert.Equal(t, deploy.PhaseRollbackFailed, res.FinalPhase)

	got := phases(t, led, res.DeploymentID)
	require.NotEmpty(t, got)
	assert.Equal(t, "ROLLBACK_FAILED", got[len(got)-1])
	assert.Contains(t, got, "ROLLING_BACK")
}

func TestRunDeployment_UnhealthyServiceRollsBack(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	sim.SetHealth("rev-2", 0, 4)
	orch, led := newOrchestrator(t, sim)

	res, err := orch.RunDeployment(context.Background(), newRequest())
	require.ErrorIs(t, err, deploy.ErrHealthDegraded)

	assert.Equal(t, deploy.PhaseRolledBack, res.FinalPhase)
	assert.Equal(t, controlplane.RevisionRef("rev-1"), sim.ActiveRevision())

	d := details(t, led, res.DeploymentID)
	assert.Equal(t, "0/4", d["VERIFY_HEALTH"])
}

func TestRunDeployment_PartialHealthIsAWarning(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	sim.SetHealth("rev-2", 3, 1)
	orch, led := newOrchestrator(t, sim)

	res, err := orch.RunDeployment(context.Background(), newRequest())
	require.NoError(t, err)

	assert.Equal(t, deploy.PhaseCompleted, res.FinalPhase)
	d := details(t, led, res.DeploymentID)
	assert.Equal(t, "3/4 (degraded)", d["VERIFY_HEALTH"])
}

func TestRunDeployment_HealthFractionPolicy(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	sim.SetHealth("rev-2", 3, 1)
	orch, _ := newOrchestrator(t, sim)

	req := newRequest()
	req.RollbackBelowHealthyFraction = 0.9

	res, err := orch.RunDeployment(context.Background(), req)
	require.ErrorIs(t, err, deploy.ErrHealthDegraded)
	assert.Equal(t, deploy.PhaseRolledBack, res.FinalPhase)
}

func TestRunDeployment_DryRunMutatesNothing(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	orch, led := newOrchestrator(t, sim)

	req := newRequest()
	req.DryRun = true

	res, err := orch.RunDeployment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, deploy.PhaseCompleted, res.FinalPhase)
	assert.Empty(t, sim.RegisterCalls())
	assert.Empty(t, sim.UpdateCalls())
	assert.Equal(t, controlplane.RevisionRef("rev-1"), sim.ActiveRevision())

	assert.Equal(t, []string{
		"PRECHECK",
		"SNAPSHOT_CURRENT",
		"COMPLETED",
	}, phases(t, led, res.DeploymentID))
}

func TestRunDeployment_RejectsMutableTag(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	orch, led := newOrchestrator(t, sim)

	req := newRequest()
	req.Image = "registry.example.com/checkout:latest"
	req.DeploymentID = "dep-mutable"

	res, err := orch.RunDeployment(context.Background(), req)
	require.Error(t, err)
	assert.True(t, deploy.IsConfigurationError(err))
	assert.Equal(t, deploy.PhasePrecheck, res.FinalPhase)

	assert.Equal(t, []string{"PRECHECK"}, phases(t, led, "dep-mutable"))
	assert.Empty(t, sim.RegisterCalls())
}

func TestRunDeployment_RejectsUnknownService(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	orch, _ := newOrchestrator(t, sim)

	req := newRequest()
	req.Target.Service = "nope"

	_, err := orch.RunDeployment(context.Background(), req)
	require.Error(t, err)
	assert.True(t, deploy.IsConfigurationError(err))
	assert.ErrorIs(t, err, controlplane.ErrServiceNotFound)
}

func TestRunDeployment_RejectsInactiveService(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	sim.SetServiceStatus("DRAINING")
	orch, _ := newOrchestrator(t, sim)

	_, err := orch.RunDeployment(context.Background(), newRequest())
	require.Error(t, err)
	assert.True(t, deploy.IsConfigurationError(err))
}

func TestRunDeployment_ConcurrentAttemptIsRejected(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	led := inmemory.NewLedger()
	locker := inmemory.NewLocker()
	orch := deploy.NewOrchestrator(sim, led, locker, nil, zap.NewNop())

	require.NoError(t, locker.Lock(context.Background(), testTarget.Key()))

	req := newRequest()
	req.DeploymentID = "dep-locked"

	_, err := orch.RunDeployment(context.Background(), req)
	require.ErrorIs(t, err, deploy.ErrDeploymentInFlight)
	assert.Empty(t, phases(t, led, "dep-locked"))

	// Terminal states release the lock.
	require.NoError(t, locker.Unlock(context.Background(), testTarget.Key()))
	_, err = orch.RunDeployment(context.Background(), newRequest())
	require.NoError(t, err)
}

func TestRollbackManager_IdempotentWhenAlreadyOnPrevious(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	led := inmemory.NewLedger()
	logger := zap.NewNop()
	rb := deploy.NewRollbackManager(sim, rollout.NewMonitor(sim, logger), led, logger)

	attempt := &deploy.Attempt{
		DeploymentID:     "dep-rb",
		Target:           testTarget,
		PreviousRevision: "rev-1",
		TargetRevision:   "rev-2",
		Phase:            deploy.PhaseMonitorRollout,
	}

	res, err := rb.Run(context.Background(), attempt, newRequest(), deploy.ErrRolloutFailed)
	require.ErrorIs(t, err, deploy.ErrRolloutFailed)
	assert.NotErrorIs(t, err, deploy.ErrRollbackFailed)
	assert.Equal(t, deploy.PhaseRolledBack, res.FinalPhase)
	assert.Empty(t, sim.UpdateCalls())

	// A second run is byte-for-byte the same outcome, still without updates.
	res, err = rb.Run(context.Background(), attempt, newRequest(), deploy.ErrRolloutFailed)
	require.ErrorIs(t, err, deploy.ErrRolloutFailed)
	assert.Equal(t, deploy.PhaseRolledBack, res.FinalPhase)
	assert.Empty(t, sim.UpdateCalls())

	assert.Equal(t, []string{
		"ROLLING_BACK",
		"ROLLED_BACK",
		"ROLLING_BACK",
		"ROLLED_BACK",
	}, phases(t, led, "dep-rb"))
}

// A ledger that cannot record PRECHECK stops the attempt before anything is
// registered or updated: no audit trail, no irreversible work.
func TestRunDeployment_LedgerFailureAbortsBeforeMutation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	led := mocks.NewMockLedger(ctrl)
	led.EXPECT().Record(gomock.Any(), gomock.Any()).Return(assert.AnError)

	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	orch := deploy.NewOrchestrator(sim, led, inmemory.NewLocker(), nil, zap.NewNop())

	_, err := orch.RunDeployment(context.Background(), newRequest())
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, sim.RegisterCalls())
	assert.Empty(t, sim.UpdateCalls())
}

func TestRunDeployment_UpdateFailureRollsBack(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	orch, led := newOrchestrator(t, sim)

	sim.FailUpdate(assert.AnError)
	req := newRequest()
	req.DeploymentID = "dep-upd"

	res, err := orch.RunDeployment(context.Background(), req)
	require.ErrorIs(t, err, deploy.ErrRolloutFailed)

	// The update never took effect, so the rollback finds the service still
	// converged on rev-1 and settles without another update call.
	assert.Equal(t, deploy.PhaseRolledBack, res.FinalPhase)
	assert.Equal(t, []string{
		"PRECHECK",
		"SNAPSHOT_CURRENT",
		"REGISTER_REVISION",
		"UPDATE_SERVICE",
		"ROLLING_BACK",
		"ROLLED_BACK",
	}, phases(t, led, "dep-upd"))
}

// stalledClient wraps a control plane whose mutating calls hang until the
// caller's context expires.
type stalledClient struct {
	controlplane.Client
	stallRegister bool
	stallUpdate   bool
}

func (s *stalledClient) RegisterRevision(ctx context.Context, base controlplane.RevisionRef, image string, metadata map[string]string) (controlplane.RevisionRef, error) {
	if s.stallRegister {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.Client.RegisterRevision(ctx, base, image, metadata)
}

func (s *stalledClient) UpdateService(ctx context.Context, target controlplane.ServiceTarget, rev controlplane.RevisionRef, bounds controlplane.CapacityBounds) error {
	if s.stallUpdate {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.Client.UpdateService(ctx, target, rev, bounds)
}

func TestRunDeployment_StalledRegisterHitsDeadline(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	stalled := &stalledClient{Client: sim, stallRegister: true}
	led := inmemory.NewLedger()
	orch := deploy.NewOrchestrator(stalled, led, inmemory.NewLocker(), nil, zap.NewNop())

	req := newRequest()
	req.RegisterTimeout = 20 * time.Millisecond

	res, err := orch.RunDeployment(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, deploy.PhaseRegisterRevision, res.FinalPhase)
	assert.Empty(t, sim.UpdateCalls())

	// The lock was released, so a retry against a responsive control plane
	// goes through.
	stalled.stallRegister = false
	res, err = orch.RunDeployment(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseCompleted, res.FinalPhase)
}

func TestRunDeployment_StalledUpdateHitsDeadlineAndRollsBack(t *testing.T) {
	sim := simulator.NewControlPlane(testTarget, "rev-1", 4)
	stalled := &stalledClient{Client: sim, stallUpdate: true}
	led := inmemory.NewLedger()
	orch := deploy.NewOrchestrator(stalled, led, inmemory.NewLocker(), nil, zap.NewNop())

	req := newRequest()
	req.UpdateTimeout = 20 * time.Millisecond

	res, err := orch.RunDeployment(context.Background(), req)
	require.ErrorIs(t, err, deploy.ErrRolloutFailed)

	// The stalled update never reached the control plane: the rollback finds
	// the service still converged on rev-1.
	assert.Equal(t, deploy.PhaseRolledBack, res.FinalPhase)
	assert.Equal(t, controlplane.RevisionRef("rev-1"), sim.ActiveRevision())
}
