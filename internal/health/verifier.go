package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

// DefaultGracePeriod is how long newly started instances get to warm up
// before their health signal is trusted.
const DefaultGracePeriod = 60 * time.Second

// Result is the healthy/total ratio observed for a revision. The verifier is
// policy-free: callers decide what ratio constitutes failure.
type Result struct {
	Healthy int `json:"healthy"`
	Total   int `json:"total"`
}

// Fraction returns the healthy share in [0,1]. A revision with no instances
// counts as fully unhealthy.
func (r Result) Fraction() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Healthy) / float64(r.Total)
}

func (r Result) String() string { return fmt.Sprintf("%d/%d", r.Healthy, r.Total) }

// Verifier confirms instance-level health after a rollout has structurally
// completed.
type Verifier struct {
	cp     controlplane.Client
	logger *zap.Logger
}

func NewVerifier(cp controlplane.Client, logger *zap.Logger) *Verifier {
	return &Verifier{cp: cp, logger: logger}
}

// Verify waits gracePeriod once (health checks need warm-up time, not
// convergence time), then classifies every instance serving rev by the
// control plane's own health signal.
func (v *Verifier) Verify(ctx context.Context, target controlplane.ServiceTarget, rev controlplane.RevisionRef, gracePeriod time.Duration) (Result, error) {
	if gracePeriod > 0 {
		v.logger.Info("waiting grace period before health check",
			zap.String("target", target.Key()),
			zap.Duration("grace_period", gracePeriod),
		)
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(gracePeriod):
		}
	}

	instances, err := v.cp.ListInstances(ctx, target, rev)
	if err != nil {
		return Result{}, fmt.Errorf("list instances for %s: %w", rev, err)
	}

	result := Result{Total: len(instances)}
	for _, instance := range instances {
		h, err := v.cp.DescribeInstanceHealth(ctx, target, instance)
		if err != nil {
			return Result{}, fmt.Errorf("describe health of %s: %w", instance, err)
		}
		if h.Healthy() {
			result.Healthy++
			continue
		}
		v.logger.Warn("unhealthy instance",
			zap.String("instance", string(instance)),
			zap.String("status", string(h.Status)),
			zap.String("last_status", h.LastStatus),
		)
	}

	v.logger.Info("health verification",
		zap.String("target", target.Key()),
		zap.String("revision", string(rev)),
		zap.String("result", result.String()),
	)
	return result, nil
}
