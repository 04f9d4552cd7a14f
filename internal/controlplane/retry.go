package controlplane

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds the exponential backoff applied to read operations.
type RetryConfig struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig retries reads three extra times, starting at 500ms.
var DefaultRetryConfig = RetryConfig{
	Attempts:     4,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// retryingClient retries read operations with bounded exponential backoff.
// Mutating calls (RegisterRevision, UpdateService) pass through and surface
// errors immediately: retrying a mutation risks masking a partial rollout.
type retryingClient struct {
	next   Client
	cfg    RetryConfig
	logger *zap.Logger
}

// WithRetry decorates c so that transient read failures are retried.
func WithRetry(c Client, cfg RetryConfig, logger *zap.Logger) Client {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &retryingClient{next: c, cfg: cfg, logger: logger}
}

func (r *retryingClient) DescribeService(ctx context.Context, target ServiceTarget) (ServiceSnapshot, error) {
	var snap ServiceSnapshot
	err := r.retry(ctx, "DescribeService", func() error {
		var err error
		snap, err = r.next.DescribeService(ctx, target)
		return err
	})
	return snap, err
}

func (r *retryingClient) RegisterRevision(ctx context.Context, base RevisionRef, image string, metadata map[string]string) (RevisionRef, error) {
	return r.next.RegisterRevision(ctx, base, image, metadata)
}

func (r *retryingClient) UpdateService(ctx context.Context, target ServiceTarget, rev RevisionRef, bounds CapacityBounds) error {
	return r.next.UpdateService(ctx, target, rev, bounds)
}

func (r *retryingClient) ListInstances(ctx context.Context, target ServiceTarget, rev RevisionRef) ([]InstanceRef, error) {
	var refs []InstanceRef
	err := r.retry(ctx, "ListInstances", func() error {
		var err error
		refs, err = r.next.ListInstances(ctx, target, rev)
		return err
	})
	return refs, err
}

func (r *retryingClient) DescribeInstanceHealth(ctx context.Context, target ServiceTarget, instance InstanceRef) (InstanceHealth, error) {
	var h InstanceHealth
	err := r.retry(ctx, "DescribeInstanceHealth", func() error {
		var err error
		h, err = r.next.DescribeInstanceHealth(ctx, target, instance)
		return err
	})
	return h, err
}

func (r *retryingClient) retry(ctx context.Context, op string, f func() error) error {
	delay := r.cfg.InitialDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = f(); err == nil {
			return nil
		}
		if attempt >= r.cfg.Attempts {
			return wrapErr(op, err)
		}
		r.logger.Warn("control plane read failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return wrapErr(op, ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
}
