package simulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

// DefaultCompleteAfterPolls is how many monitor polls a simulated rollout
// takes to converge when no behavior is configured for the revision.
const DefaultCompleteAfterPolls = 2

// Behavior scripts how a simulated rollout of one revision unfolds, counted
// in DescribeService polls observed after the UpdateService call.
type Behavior struct {
	// CompleteAfterPolls is the poll on which the rollout converges
	// (single COMPLETED deployment at full capacity). Zero means the default.
	CompleteAfterPolls int `yaml:"complete_after_polls"`
	// FailAfterPolls, when positive, flips the deployment descriptor to
	// FAILED on that poll. Takes precedence over completion.
	FailAfterPolls int `yaml:"fail_after_polls"`
	// NeverConverge keeps the rollout IN_PROGRESS forever.
	NeverConverge bool `yaml:"never_converge"`
}

// inflight tracks a convergence started by UpdateService.
type inflight struct {
	rev   controlplane.RevisionRef
	prev  controlplane.RevisionRef
	polls int
}

// RegisterCall records one RegisterRevision invocation.
type RegisterCall struct {
	Base     controlplane.RevisionRef
	Image    string
	Metadata map[string]string
}

// UpdateCall records one UpdateService invocation.
type UpdateCall struct {
	Revision controlplane.RevisionRef
	Bounds   controlplane.CapacityBounds
}

// ControlPlane is a scripted, thread-safe in-memory implementation of
// controlplane.Client. Tests configure per-revision behaviors and health and
// then observe the calls the system under test makes.
type ControlPlane struct {
	mu sync.Mutex

	target    controlplane.ServiceTarget
	status    string
	desired   int
	activeRev controlplane.RevisionRef

	behaviors map[controlplane.RevisionRef]Behavior
	health    map[controlplane.RevisionRef][]controlplane.InstanceHealth
	current   *inflight
	nextRev   int

	registered []RegisterCall
	updates    []UpdateCall

	describeErr error
	registerErr error
	updateErr   error
}

// NewControlPlane creates a simulator for a steady service running activeRev
// at the desired count. Revisions registered later are named rev-<n>,
// numbered after activeRev.
func NewControlPlane(target controlplane.ServiceTarget, activeRev controlplane.RevisionRef, desired int) *ControlPlane {
	cp := &ControlPlane{
		target:    target,
		status:    controlplane.ServiceStatusActive,
		desired:   desired,
		activeRev: activeRev,
		behaviors: make(map[controlplane.RevisionRef]Behavior),
		health:    make(map[controlplane.RevisionRef][]controlplane.InstanceHealth),
		nextRev:   2,
	}
	return cp
}

// SetBehavior scripts the rollout behavior for rev.
func (c *ControlPlane) SetBehavior(rev controlplane.RevisionRef, b Behavior) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviors[rev] = b
}

// SetHealth scripts instance health for rev: healthy instances first, then
// unhealthy ones. Without a script every instance of a revision is healthy.
func (c *ControlPlane) SetHealth(rev controlplane.RevisionRef, healthy, unhealthy int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	instances := make([]controlplane.InstanceHealth, 0, healthy+unhealthy)
	for i := 0; i < healthy; i++ {
		instances = append(instances, controlplane.InstanceHealth{
			Instance:   controlplane.InstanceRef(fmt.Sprintf("%s/instance-%d", rev, i+1)),
			Status:     controlplane.HealthHealthy,
			LastStatus: "RUNNING",
		})
	}
	for i := 0; i < unhealthy; i++ {
		instances = append(instances, controlplane.InstanceHealth{
			Instance:   controlplane.InstanceRef(fmt.Sprintf("%s/instance-%d", rev, healthy+i+1)),
			Status:     controlplane.HealthUnhealthy,
			LastStatus: "RUNNING",
		})
	}
	c.health[rev] = instances
}

// SetServiceStatus overrides the service status reported by DescribeService.
func (c *ControlPlane) SetServiceStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// FailDescribe makes DescribeService return err until cleared with nil.
func (c *ControlPlane) FailDescribe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.describeErr = err
}

// FailRegister makes RegisterRevision return err until cleared with nil.
func (c *ControlPlane) FailRegister(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerErr = err
}

// FailUpdate makes UpdateService return err until cleared with nil.
func (c *ControlPlane) FailUpdate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateErr = err
}

// RegisterCalls returns a copy of every RegisterRevision call observed.
func (c *ControlPlane) RegisterCalls() []RegisterCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RegisterCall(nil), c.registered...)
}

// UpdateCalls returns a copy of every UpdateService call observed.
func (c *ControlPlane) UpdateCalls() []UpdateCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]UpdateCall(nil), c.updates...)
}

// ActiveRevision returns the revision the simulated service has settled on.
func (c *ControlPlane) ActiveRevision() controlplane.RevisionRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRev
}

func (c *ControlPlane) DescribeService(_ context.Context, target controlplane.ServiceTarget) (controlplane.ServiceSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.describeErr != nil {
		return controlplane.ServiceSnapshot{}, c.describeErr
	}
	if target != c.target {
		return controlplane.ServiceSnapshot{}, controlplane.ErrServiceNotFound
	}

	if c.current == nil {
		return c.steadySnapshot(), nil
	}
	return c.transitionSnapshot(), nil
}

// steadySnapshot is a service at rest: one COMPLETED deployment at capacity.
func (c *ControlPlane) steadySnapshot() controlplane.ServiceSnapshot {
	return controlplane.ServiceSnapshot{
		Revision: c.activeRev,
		Status:   c.status,
		Running:  c.desired,
		Desired:  c.desired,
		Deployments: []controlplane.DeploymentDescriptor{
			{Revision: c.activeRev, State: controlplane.RolloutCompleted, Running: c.desired, Desired: c.desired},
		},
	}
}

// transitionSnapshot advances the in-flight rollout by one poll and reports
// its scripted state.
func (c *ControlPlane) transitionSnapshot() controlplane.ServiceSnapshot {
	cur := c.current
	b := c.behaviors[cur.rev]
	if b.CompleteAfterPolls <= 0 {
		b.CompleteAfterPolls = DefaultCompleteAfterPolls
	}
	cur.polls++

	switch {
	case b.FailAfterPolls > 0 && cur.polls >= b.FailAfterPolls:
		// Sticky failure: the service keeps both deployments around.
		running := c.desired / 2
		return controlplane.ServiceSnapshot{
			Revision: cur.rev,
			Status:   c.status,
			Running:  running + c.desired,
			Desired:  c.desired,
			Deployments: []controlplane.DeploymentDescriptor{
				{Revision: cur.rev, State: controlplane.RolloutFailed, Running: running, Desired: c.desired},
				{Revision: cur.prev, State: controlplane.RolloutCompleted, Running: c.desired, Desired: c.desired},
			},
		}

	case !b.NeverConverge && cur.polls >= b.CompleteAfterPolls:
		c.activeRev = cur.rev
		c.current = nil
		return c.steadySnapshot()

	default:
		running := cur.polls
		if running > c.desired {
			running = c.desired
		}
		return controlplane.ServiceSnapshot{
			Revision: cur.rev,
			Status:   c.status,
			Running:  running + c.desired,
			Desired:  c.desired,
			Pending:  c.desired - running,
			Deployments: []controlplane.DeploymentDescriptor{
				{Revision: cur.rev, State: controlplane.RolloutInProgress, Running: running, Desired: c.desired},
				{Revision: cur.prev, State: controlplane.RolloutCompleted, Running: c.desired, Desired: c.desired},
			},
		}
	}
}

func (c *ControlPlane) RegisterRevision(_ context.Context, base controlplane.RevisionRef, image string, metadata map[string]string) (controlplane.RevisionRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registerErr != nil {
		return "", c.registerErr
	}

	c.registered = append(c.registered, RegisterCall{Base: base, Image: image, Metadata: metadata})
	rev := controlplane.RevisionRef(fmt.Sprintf("rev-%d", c.nextRev))
	c.nextRev++
	return rev, nil
}

func (c *ControlPlane) UpdateService(_ context.Context, target controlplane.ServiceTarget, rev controlplane.RevisionRef, bounds controlplane.CapacityBounds) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.updateErr != nil {
		return c.updateErr
	}
	if target != c.target {
		return controlplane.ErrServiceNotFound
	}

	c.updates = append(c.updates, UpdateCall{Revision: rev, Bounds: bounds})

	// Converging onto the already-active revision is a no-op.
	if c.current == nil && rev == c.activeRev {
		return nil
	}

	prev := c.activeRev
	if c.current != nil {
		prev = c.current.prev
	}
	c.current = &inflight{rev: rev, prev: prev}
	return nil
}

func (c *ControlPlane) ListInstances(_ context.Context, target controlplane.ServiceTarget, rev controlplane.RevisionRef) ([]controlplane.InstanceRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if target != c.target {
		return nil, controlplane.ErrServiceNotFound
	}

	refs := make([]controlplane.InstanceRef, 0, len(c.instancesLocked(rev)))
	for _, h := range c.instancesLocked(rev) {
		refs = append(refs, h.Instance)
	}
	return refs, nil
}

func (c *ControlPlane) DescribeInstanceHealth(_ context.Context, target controlplane.ServiceTarget, instance controlplane.InstanceRef) (controlplane.InstanceHealth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, instances := range c.health {
		for _, h := range instances {
			if h.Instance == instance {
				return h, nil
			}
		}
	}
	// Unscripted instances are healthy; see instancesLocked.
	return controlplane.InstanceHealth{
		Instance:   instance,
		Status:     controlplane.HealthHealthy,
		LastStatus: "RUNNING",
	}, nil
}

// instancesLocked returns the scripted health entries for rev, synthesizing
// one healthy instance per desired unit when nothing is scripted.
func (c *ControlPlane) instancesLocked(rev controlplane.RevisionRef) []controlplane.InstanceHealth {
	if instances, ok := c.health[rev]; ok {
		return instances
	}
	instances := make([]controlplane.InstanceHealth, 0, c.desired)
	for i := 0; i < c.desired; i++ {
		instances = append(instances, controlplane.InstanceHealth{
			Instance:   controlplane.InstanceRef(fmt.Sprintf("%s/instance-%d", rev, i+1)),
			Status:     controlplane.HealthHealthy,
			LastStatus: "RUNNING",
		})
	}
	return instances
}
