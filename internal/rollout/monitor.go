package rollout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

// Outcome is the terminal judgement of a watch.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeTimedOut  Outcome = "TIMED_OUT"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultMaxWait      = 10 * time.Minute
)

// WatchOptions bounds a watch and lets callers observe every poll.
type WatchOptions struct {
	PollInterval time.Duration
	MaxWait      time.Duration

	// OnProgress, if set, is invoked with the normalized progress snapshot
	// after every poll, including the terminal one.
	OnProgress func(controlplane.RolloutProgress)
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	return o
}

// Monitor polls the control plane until a rollout reaches a terminal state.
type Monitor struct {
	cp     controlplane.Client
	logger *zap.Logger
}

func NewMonitor(cp controlplane.Client, logger *zap.Logger) *Monitor {
	return &Monitor{cp: cp, logger: logger}
}

// Watch polls the service every PollInterval until the rollout of rev
// converges, the control plane judges it FAILED, or MaxWait elapses. A FAILED
// descriptor returns immediately; the timeout is never waited out once the
// outcome is known. The returned progress is the last snapshot observed.
func (m *Monitor) Watch(ctx context.Context, target controlplane.ServiceTarget, rev controlplane.RevisionRef, opts WatchOptions) (controlplane.RolloutProgress, Outcome, error) {
	opts = opts.withDefaults()

	deadline := time.NewTimer(opts.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var last controlplane.RolloutProgress
	for {
		snap, err := m.cp.DescribeService(ctx, target)
		if err != nil {
			return last, OutcomeFailed, fmt.Errorf("poll service %s: %w", target, err)
		}

		last = snap.Progress()
		last.Message = progressMessage(last, rev)
		if opts.OnProgress != nil {
			opts.OnProgress(last)
		}
		m.logger.Debug("rollout poll",
			zap.String("target", target.Key()),
			zap.String("revision", string(rev)),
			zap.Int("running", last.Running),
			zap.Int("desired", last.Desired),
			zap.Int("pending", last.Pending),
		)

		if last.Converged(rev) {
			return last, OutcomeCompleted, nil
		}
		if d, ok := snap.Deployment(rev); ok && d.State == controlplane.RolloutFailed {
			return last, OutcomeFailed, nil
		}

		select {
		case <-ctx.Done():
			return last, OutcomeTimedOut, ctx.Err()
		case <-deadline.C:
			return last, OutcomeTimedOut, nil
		case <-ticker.C:
		}
	}
}

func progressMessage(p controlplane.RolloutProgress, rev controlplane.RevisionRef) string {
	for _, d := range p.Deployments {
		if d.Revision == rev {
			return fmt.Sprintf("%s: %d/%d running, %d pending (%s)", rev, d.Running, d.Desired, p.Pending, d.State)
		}
	}
	return fmt.Sprintf("waiting for %s to appear", rev)
}
