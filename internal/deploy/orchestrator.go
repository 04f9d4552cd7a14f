package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/health"
	"github.com/greenlight-sh/greenlight/internal/ledger"
	"github.com/greenlight-sh/greenlight/internal/metrics"
	"github.com/greenlight-sh/greenlight/internal/revision"
	"github.com/greenlight-sh/greenlight/internal/rollout"
)

// DefaultMutationTimeout bounds RegisterRevision and UpdateService calls
// when the request does not set its own limit.
const DefaultMutationTimeout = 30 * time.Second

// mutationCtx derives the per-phase deadline for a mutating control-plane
// call.
func mutationCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultMutationTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Orchestrator composes the revision registry, rollout monitor, health
// verifier and rollback manager into the end-to-end deployment state machine.
// One attempt runs to a terminal state before another may start against the
// same service target.
type Orchestrator struct {
	cp       controlplane.Client
	registry *revision.Registry
	monitor  *rollout.Monitor
	verifier *health.Verifier
	rollback *RollbackManager
	ledger   ledger.Ledger
	locker   Locker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(cp controlplane.Client, led ledger.Ledger, locker Locker, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	monitor := rollout.NewMonitor(cp, logger)
	return &Orchestrator{
		cp:       cp,
		registry: revision.NewRegistry(cp, logger),
		monitor:  monitor,
		verifier: health.NewVerifier(cp, logger),
		rollback: NewRollbackManager(cp, monitor, led, logger),
		ledger:   led,
		locker:   locker,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// RunDeployment drives one attempt through the state machine and blocks until
// it reaches a terminal state. The returned Result always carries the final
// phase; err is non-nil for every outcome other than COMPLETED.
func (o *Orchestrator) RunDeployment(ctx context.Context, req Request) (Result, error) {
	attempt, err := o.begin(ctx, &req)
	if err != nil {
		return o.result(attempt), err
	}
	return o.finish(ctx, attempt, req)
}

// StartDeployment acquires the target's lock synchronously, so callers see
// ErrDeploymentInFlight right away, then drives the attempt in the
// background. Every other outcome lands in the ledger under the returned
// deployment ID.
func (o *Orchestrator) StartDeployment(ctx context.Context, req Request) (string, error) {
	attempt, err := o.begin(ctx, &req)
	if err != nil {
		return "", err
	}
	go func() {
		// The attempt outlives the triggering request.
		o.finish(context.Background(), attempt, req)
	}()
	return attempt.DeploymentID, nil
}

// begin fills in request defaults, creates the attempt and takes the advisory
// lock. The lock is held from PRECHECK until the terminal state.
func (o *Orchestrator) begin(ctx context.Context, req *Request) (*Attempt, error) {
	if req.Capacity == (controlplane.CapacityBounds{}) {
		req.Capacity = controlplane.DefaultCapacityBounds
	}

	attempt := &Attempt{
		DeploymentID: req.DeploymentID,
		Target:       req.Target,
		Image:        req.Image,
		RequestedBy:  req.RequestedBy,
		CreatedAt:    o.now(),
		Phase:        PhasePrecheck,
	}
	if attempt.DeploymentID == "" {
		attempt.DeploymentID = uuid.NewString()
	}

	if err := o.locker.Lock(ctx, req.Target.Key()); err != nil {
		return attempt, fmt.Errorf("acquire deployment lock for %s: %w", req.Target, err)
	}
	return attempt, nil
}

// finish runs the locked attempt to its terminal state and releases the lock.
func (o *Orchestrator) finish(ctx context.Context, attempt *Attempt, req Request) (Result, error) {
	defer o.locker.Unlock(ctx, req.Target.Key())

	logger := o.logger.With(
		zap.String("deployment_id", attempt.DeploymentID),
		zap.String("target", req.Target.Key()),
		zap.String("image", req.Image),
	)

	start := o.now()
	res, err := o.run(ctx, attempt, req, logger)
	o.metrics.DeploymentFinished(string(res.FinalPhase), o.now().Sub(start))

	if err != nil {
		logger.Error("deployment finished with error",
			zap.String("final_phase", string(res.FinalPhase)),
			zap.Error(err),
		)
	} else {
		logger.Info("deployment finished", zap.String("final_phase", string(res.FinalPhase)))
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, attempt *Attempt, req Request, logger *zap.Logger) (Result, error) {
	// PRECHECK: validate inputs before anything is mutated. A ledger failure
	// here aborts the attempt: if the audit trail cannot be written, no
	// irreversible work is started.
	snap, err := o.precheck(ctx, attempt, req)
	if err != nil {
		o.record(ctx, attempt, PhasePrecheck, err.Error())
		return o.result(attempt), err
	}
	if err := o.recordStrict(ctx, attempt, PhasePrecheck, precheckDetail(req)); err != nil {
		return o.result(attempt), err
	}

	// SNAPSHOT_CURRENT: capture the rollback anchor before any mutation.
	attempt.PreviousRevision = snap.Revision
	if err := o.recordStrict(ctx, attempt, PhaseSnapshotCurrent, fmt.Sprintf("prev=%s", snap.Revision)); err != nil {
		return o.result(attempt), err
	}

	if req.DryRun {
		o.record(ctx, attempt, PhaseCompleted, "dry-run: no changes applied")
		logger.Info("dry run complete", zap.String("previous_revision", string(snap.Revision)))
		return o.result(attempt), nil
	}

	// REGISTER_REVISION: additive, so a failure needs no rollback. The call
	// carries its own deadline; a hung registration is this phase's failure,
	// not a silent hang under the lock.
	regCtx, cancelReg := mutationCtx(ctx, req.RegisterTimeout)
	targetRev, err := o.registry.Register(regCtx, attempt.PreviousRevision, req.Image, map[string]string{
		"deployment_id": attempt.DeploymentID,
		"requested_by":  attempt.RequestedBy,
	})
	cancelReg()
	if err != nil {
		o.record(ctx, attempt, PhaseRegisterRevision, err.Error())
		return o.result(attempt), err
	}
	attempt.TargetRevision = targetRev
	o.record(ctx, attempt, PhaseRegisterRevision, fmt.Sprintf("target=%s", targetRev))

	// UPDATE_SERVICE: from here on every failure takes the rollback edge.
	updCtx, cancelUpd := mutationCtx(ctx, req.UpdateTimeout)
	err = o.cp.UpdateService(updCtx, req.Target, targetRev, req.Capacity)
	cancelUpd()
	if err != nil {
		o.record(ctx, attempt, PhaseUpdateService, err.Error())
		return o.rollback.Run(ctx, attempt, req, fmt.Errorf("%w: update service: %v", ErrRolloutFailed, err))
	}
	o.record(ctx, attempt, PhaseUpdateService, fmt.Sprintf("revision=%s", targetRev))

	// MONITOR_ROLLOUT
	progress, outcome, err := o.monitor.Watch(ctx, req.Target, targetRev, rollout.WatchOptions{
		PollInterval: req.PollInterval,
		MaxWait:      req.MaxWait,
		OnProgress: func(p controlplane.RolloutProgress) {
			o.metrics.RolloutPoll()
			sendProgress(req.Progress, p)
		},
	})
	if err != nil {
		o.record(ctx, attempt, PhaseMonitorRollout, fmt.Sprintf("%s: %v", outcome, err))
		return o.rollback.Run(ctx, attempt, req, fmt.Errorf("%w: %v", ErrRolloutFailed, err))
	}
	if outcome != rollout.OutcomeCompleted {
		o.record(ctx, attempt, PhaseMonitorRollout, string(outcome))
		return o.rollback.Run(ctx, attempt, req,
			fmt.Errorf("%w: rollout of %s ended %s (%d/%d running)",
				ErrRolloutFailed, targetRev, outcome, progress.Running, progress.Desired))
	}
	o.record(ctx, attempt, PhaseMonitorRollout, string(outcome))

	// VERIFY_HEALTH
	result, err := o.verifier.Verify(ctx, req.Target, targetRev, req.GracePeriod)
	if err != nil {
		o.record(ctx, attempt, PhaseVerifyHealth, err.Error())
		return o.rollback.Run(ctx, attempt, req, fmt.Errorf("%w: verify health: %v", ErrHealthDegraded, err))
	}
	if degraded, fatal := o.judgeHealth(result, req); fatal {
		o.record(ctx, attempt, PhaseVerifyHealth, result.String())
		return o.rollback.Run(ctx, attempt, req,
			fmt.Errorf("%w: %s instances healthy", ErrHealthDegraded, result))
	} else if degraded {
		logger.Warn("service partially healthy after rollout", zap.String("health", result.String()))
		o.record(ctx, attempt, PhaseVerifyHealth, fmt.Sprintf("%s (degraded)", result))
	} else {
		o.record(ctx, attempt, PhaseVerifyHealth, result.String())
	}

	o.record(ctx, attempt, PhaseCompleted, fmt.Sprintf("revision=%s image=%s", targetRev, req.Image))
	return o.result(attempt), nil
}

// precheck validates the request and resolves the target service. Every
// failure here is a ConfigurationError: nothing has been mutated yet.
func (o *Orchestrator) precheck(ctx context.Context, attempt *Attempt, req Request) (controlplane.ServiceSnapshot, error) {
	attempt.Phase = PhasePrecheck

	if err := revision.ValidateImageRef(req.Image); err != nil {
		return controlplane.ServiceSnapshot{}, configErr("image", err)
	}

	snap, err := o.cp.DescribeService(ctx, req.Target)
	if err != nil {
		return controlplane.ServiceSnapshot{}, configErr(fmt.Sprintf("resolve service %s", req.Target), err)
	}
	if snap.Status != controlplane.ServiceStatusActive {
		return controlplane.ServiceSnapshot{}, configErr(
			fmt.Sprintf("service %s is %s, not %s", req.Target, snap.Status, controlplane.ServiceStatusActive), nil)
	}
	if snap.Desired <= 0 {
		return controlplane.ServiceSnapshot{}, configErr(
			fmt.Sprintf("service %s has no desired capacity", req.Target), nil)
	}
	if snap.Revision == "" {
		return controlplane.ServiceSnapshot{}, configErr(
			fmt.Sprintf("service %s has no active revision to roll back to", req.Target), nil)
	}
	return snap, nil
}

// judgeHealth applies the health policy: total failure is always fatal,
// anything below the configured fraction is fatal, the rest is a warning.
func (o *Orchestrator) judgeHealth(result health.Result, req Request) (degraded, fatal bool) {
	if result.Healthy == 0 {
		return true, true
	}
	if result.Fraction() < req.RollbackBelowHealthyFraction {
		return true, true
	}
	return result.Healthy < result.Total, false
}

// record writes the phase transition to the ledger, logging rather than
// failing when the ledger is unavailable mid-rollout.
func (o *Orchestrator) record(ctx context.Context, attempt *Attempt, phase Phase, detail string) {
	if err := o.recordStrict(ctx, attempt, phase, detail); err != nil {
		o.logger.Error("failed to record ledger entry",
			zap.String("deployment_id", attempt.DeploymentID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) recordStrict(ctx context.Context, attempt *Attempt, phase Phase, detail string) error {
	attempt.Phase = phase
	return o.ledger.Record(ctx, ledger.Entry{
		DeploymentID: attempt.DeploymentID,
		Timestamp:    o.now(),
		Phase:        string(phase),
		Detail:       detail,
	})
}

func (o *Orchestrator) result(attempt *Attempt) Result {
	return Result{
		DeploymentID:     attempt.DeploymentID,
		FinalPhase:       attempt.Phase,
		PreviousRevision: attempt.PreviousRevision,
		TargetRevision:   attempt.TargetRevision,
		Target:           attempt.Target,
	}
}

func precheckDetail(req Request) string {
	if req.RequestedBy == "" {
		return fmt.Sprintf("image=%s", req.Image)
	}
	return fmt.Sprintf("image=%s requested_by=%s", req.Image, req.RequestedBy)
}

// sendProgress forwards a snapshot without ever blocking the poll loop.
func sendProgress(ch chan<- controlplane.RolloutProgress, p controlplane.RolloutProgress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}
