package deploy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/ledger"
	"github.com/greenlight-sh/greenlight/internal/rollout"
)

// RollbackManager restores the previous revision after a failed rollout. It
// never registers a new revision and never re-runs strict health
// verification: the previous revision was serving traffic minutes ago, and
// the goal is restoring it fast, not re-qualifying it.
type RollbackManager struct {
	cp      controlplane.Client
	monitor *rollout.Monitor
	ledger  ledger.Ledger
	logger  *zap.Logger
	now     func() time.Time
}

func NewRollbackManager(cp controlplane.Client, monitor *rollout.Monitor, led ledger.Ledger, logger *zap.Logger) *RollbackManager {
	return &RollbackManager{
		cp:      cp,
		monitor: monitor,
		ledger:  led,
		logger:  logger,
		now:     time.Now,
	}
}

// Run takes the failure edge: it points the service back at
// attempt.PreviousRevision and waits for convergence. The returned error
// always carries cause; on ROLLBACK_FAILED it additionally wraps
// ErrRollbackFailed. Run is idempotent: a service already converged on the
// previous revision is recorded as rolled back without another update.
func (r *RollbackManager) Run(ctx context.Context, attempt *Attempt, req Request, cause error) (Result, error) {
	logger := r.logger.With(
		zap.String("deployment_id", attempt.DeploymentID),
		zap.String("target", attempt.Target.Key()),
		zap.String("previous_revision", string(attempt.PreviousRevision)),
	)
	logger.Warn("rolling back", zap.Error(cause))

	r.record(ctx, attempt, PhaseRollingBack, cause.Error())

	prev := attempt.PreviousRevision
	if prev == "" {
		r.record(ctx, attempt, PhaseRollbackFailed, "no previous revision captured")
		return r.result(attempt), fmt.Errorf("%w: no previous revision captured: %v", ErrRollbackFailed, cause)
	}

	// Idempotency: the control plane may already be back on the previous
	// revision (rollback retried, or the failed update never took effect).
	if snap, err := r.cp.DescribeService(ctx, attempt.Target); err == nil && snap.Progress().Converged(prev) {
		r.record(ctx, attempt, PhaseRolledBack, fmt.Sprintf("already serving %s", prev))
		logger.Info("service already on previous revision, nothing to do")
		return r.result(attempt), cause
	}

	updCtx, cancelUpd := mutationCtx(ctx, req.UpdateTimeout)
	err := r.cp.UpdateService(updCtx, attempt.Target, prev, req.Capacity)
	cancelUpd()
	if err != nil {
		r.record(ctx, attempt, PhaseRollbackFailed, err.Error())
		return r.result(attempt), fmt.Errorf("%w: update service to %s: %v (during rollback of: %v)", ErrRollbackFailed, prev, err, cause)
	}
	r.record(ctx, attempt, PhaseUpdateService, fmt.Sprintf("revision=%s", prev))

	progress, outcome, err := r.monitor.Watch(ctx, attempt.Target, prev, rollout.WatchOptions{
		PollInterval: req.PollInterval,
		MaxWait:      req.MaxWait,
		OnProgress: func(p controlplane.RolloutProgress) {
			sendProgress(req.Progress, p)
		},
	})
	if err != nil {
		r.record(ctx, attempt, PhaseMonitorRollout, fmt.Sprintf("%s: %v", outcome, err))
		r.record(ctx, attempt, PhaseRollbackFailed, err.Error())
		return r.result(attempt), fmt.Errorf("%w: %v (during rollback of: %v)", ErrRollbackFailed, err, cause)
	}
	r.record(ctx, attempt, PhaseMonitorRollout, string(outcome))

	if outcome != rollout.OutcomeCompleted {
		detail := fmt.Sprintf("rollback to %s ended %s (%d/%d running)", prev, outcome, progress.Running, progress.Desired)
		r.record(ctx, attempt, PhaseRollbackFailed, detail)
		logger.Error("rollback did not converge, operator intervention required",
			zap.String("outcome", string(outcome)),
		)
		return r.result(attempt), fmt.Errorf("%w: %s (during rollback of: %v)", ErrRollbackFailed, detail, cause)
	}

	r.record(ctx, attempt, PhaseRolledBack, fmt.Sprintf("restored %s", prev))
	logger.Info("rollback complete")
	return r.result(attempt), cause
}

func (r *RollbackManager) record(ctx context.Context, attempt *Attempt, phase Phase, detail string) {
	attempt.Phase = phase
	err := r.ledger.Record(ctx, ledger.Entry{
		DeploymentID: attempt.DeploymentID,
		Timestamp:    r.now(),
		Phase:        string(phase),
		Detail:       detail,
	})
	if err != nil {
		r.logger.Error("failed to record ledger entry",
			zap.String("deployment_id", attempt.DeploymentID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	}
}

func (r *RollbackManager) result(attempt *Attempt) Result {
	return Result{
		DeploymentID:     attempt.DeploymentID,
		FinalPhase:       attempt.Phase,
		PreviousRevision: attempt.PreviousRevision,
		TargetRevision:   attempt.TargetRevision,
		Target:           attempt.Target,
	}
}
