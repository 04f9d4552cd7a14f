package controlplane

import "fmt"

// RevisionRef is an opaque identifier for a registered service revision
// (image + runtime configuration). Revisions are immutable: a rollout always
// registers a new one rather than editing an existing one.
type RevisionRef string

// ServiceTarget identifies the managed service a deployment acts on.
type ServiceTarget struct {
	Cluster string `json:"cluster" yaml:"cluster"`
	Service string `json:"service" yaml:"service"`
	Region  string `json:"region" yaml:"region"`
}

// Key returns a stable string identity for the target, used as the advisory
// lock key and in log fields.
func (t ServiceTarget) Key() string {
	return fmt.Sprintf("%s/%s/%s", t.Region, t.Cluster, t.Service)
}

func (t ServiceTarget) String() string { return t.Key() }

// RolloutState is the control plane's own judgement of a single deployment's
// progress.
type RolloutState string

const (
	RolloutInProgress RolloutState = "IN_PROGRESS"
	RolloutCompleted  RolloutState = "COMPLETED"
	RolloutFailed     RolloutState = "FAILED"
)

// DeploymentDescriptor describes one active deployment of a revision within
// the service. During a blue-green transition two descriptors coexist: the
// new revision converging and the old one draining.
type DeploymentDescriptor struct {
	Revision RevisionRef  `json:"revision"`
	State    RolloutState `json:"state"`
	Running  int          `json:"running"`
	Desired  int          `json:"desired"`
}

// ServiceSnapshot is a point-in-time read of the service from the control
// plane.
type ServiceSnapshot struct {
	Revision    RevisionRef            `json:"revision"` // revision the service is converging onto
	Status      string                 `json:"status"`   // e.g. ACTIVE, DRAINING, INACTIVE
	Running     int                    `json:"running"`
	Desired     int                    `json:"desired"`
	Pending     int                    `json:"pending"`
	Deployments []DeploymentDescriptor `json:"deployments"`
}

// ServiceStatusActive is the only service status a rollout may start from.
const ServiceStatusActive = "ACTIVE"

// Progress normalizes the snapshot into the rollout progress shape consumed
// by monitors and progress callbacks.
func (s ServiceSnapshot) Progress() RolloutProgress {
	return RolloutProgress{
		Running:     s.Running,
		Desired:     s.Desired,
		Pending:     s.Pending,
		Deployments: s.Deployments,
	}
}

// Deployment returns the descriptor for the given revision, if present.
func (s ServiceSnapshot) Deployment(rev RevisionRef) (DeploymentDescriptor, bool) {
	for _, d := range s.Deployments {
		if d.Revision == rev {
			return d, true
		}
	}
	return DeploymentDescriptor{}, false
}

// RolloutProgress is a point-in-time view of a rollout, streamed to callers
// on every monitor poll.
type RolloutProgress struct {
	Running     int                    `json:"running"`
	Desired     int                    `json:"desired"`
	Pending     int                    `json:"pending"`
	Deployments []DeploymentDescriptor `json:"deployments"`
	Message     string                 `json:"message,omitempty"`
}

// Converged reports whether the structural-completion invariant holds for
// rev: a single active deployment, judged COMPLETED by the control plane,
// running exactly the desired count. The old revision is then fully drained.
func (p RolloutProgress) Converged(rev RevisionRef) bool {
	if len(p.Deployments) != 1 {
		return false
	}
	d := p.Deployments[0]
	return d.Revision == rev &&
		d.State == RolloutCompleted &&
		d.Running == d.Desired &&
		p.Running == p.Desired
}

// CapacityBounds carries the service's minimum and maximum capacity during a
// rollout, expressed as percentages of the desired count.
type CapacityBounds struct {
	MinPercent int `json:"min_percent" yaml:"min_percent"`
	MaxPercent int `json:"max_percent" yaml:"max_percent"`
}

// DefaultCapacityBounds keeps full capacity during the transition and allows
// a doubled fleet while both revisions run.
var DefaultCapacityBounds = CapacityBounds{MinPercent: 100, MaxPercent: 200}

// InstanceRef is an opaque identifier for a running instance (task, pod, VM).
type InstanceRef string

// HealthStatus is the control plane's health signal for one instance.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// InstanceHealth reports one instance's health and lifecycle status.
type InstanceHealth struct {
	Instance   InstanceRef  `json:"instance"`
	Status     HealthStatus `json:"status"`
	LastStatus string       `json:"last_status"` // lifecycle state, e.g. RUNNING
}

// Healthy reports whether the control plane considers the instance healthy.
func (h InstanceHealth) Healthy() bool { return h.Status == HealthHealthy }
