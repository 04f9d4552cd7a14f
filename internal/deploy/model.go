package deploy

import (
	"context"
	"time"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

// Phase is the orchestrator's state-machine state. Phases move strictly
// forward except for the single failure edge into PhaseRollingBack.
type Phase string

const (
	PhasePrecheck         Phase = "PRECHECK"
	PhaseSnapshotCurrent  Phase = "SNAPSHOT_CURRENT"
	PhaseRegisterRevision Phase = "REGISTER_REVISION"
	PhaseUpdateService    Phase = "UPDATE_SERVICE"
	PhaseMonitorRollout   Phase = "MONITOR_ROLLOUT"
	PhaseVerifyHealth     Phase = "VERIFY_HEALTH"
	PhaseCompleted        Phase = "COMPLETED"
	PhaseRollingBack      Phase = "ROLLING_BACK"
	PhaseRolledBack       Phase = "ROLLED_BACK"
	PhaseRollbackFailed   Phase = "ROLLBACK_FAILED"
)

// Terminal reports whether the phase ends the attempt.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseRolledBack, PhaseRollbackFailed:
		return true
	}
	return false
}

// Request describes one rollout to perform.
type Request struct {
	Target      controlplane.ServiceTarget
	Image       string
	RequestedBy string

	// DeploymentID is generated when empty. Callers that need the ID before
	// the run finishes (async triggering) can supply their own.
	DeploymentID string

	// DryRun stops after SNAPSHOT_CURRENT, before any mutation.
	DryRun bool

	Capacity     controlplane.CapacityBounds
	PollInterval time.Duration
	MaxWait      time.Duration
	GracePeriod  time.Duration

	// RegisterTimeout and UpdateTimeout bound the two mutating control-plane
	// calls so a hung API never holds the advisory lock forever. Zero means
	// DefaultMutationTimeout; expiry is that phase's failure.
	RegisterTimeout time.Duration
	UpdateTimeout   time.Duration

	// RollbackBelowHealthyFraction triggers rollback when the post-rollout
	// healthy fraction is strictly below it. Zero keeps the default policy:
	// only a fully unhealthy service rolls back, partial degradation is a
	// warning.
	RollbackBelowHealthyFraction float64

	// Progress, if set, receives a snapshot on every monitor poll. Sends
	// never block; slow consumers miss intermediate snapshots.
	Progress chan<- controlplane.RolloutProgress
}

// Attempt is one deployment attempt moving through the state machine. The
// DeploymentID is generated once and stays stable across the rollback of the
// same attempt; it is the join key in the ledger.
type Attempt struct {
	DeploymentID     string                     `json:"deployment_id"`
	Target           controlplane.ServiceTarget `json:"target"`
	PreviousRevision controlplane.RevisionRef   `json:"previous_revision,omitempty"`
	TargetRevision   controlplane.RevisionRef   `json:"target_revision,omitempty"`
	Image            string                     `json:"image"`
	RequestedBy      string                     `json:"requested_by,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	Phase            Phase                      `json:"phase"`
}

// Result is what the top-level caller receives when the attempt reaches a
// terminal state.
type Result struct {
	DeploymentID     string                     `json:"deployment_id"`
	FinalPhase       Phase                      `json:"final_phase"`
	PreviousRevision controlplane.RevisionRef   `json:"previous_revision,omitempty"`
	TargetRevision   controlplane.RevisionRef   `json:"target_revision,omitempty"`
	Target           controlplane.ServiceTarget `json:"target"`
}

// Locker is the advisory lock serializing attempts per service target. It is
// acquired during PRECHECK and released only on terminal state.
type Locker interface {
	Lock(ctx context.Context, key string) error
	Unlock(ctx context.Context, key string) error
}
