package controlplane

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -source=client.go -destination=mocks/mock_client.go -package=mocks

var (
	ErrServiceNotFound  = errors.New("service not found")
	ErrRevisionNotFound = errors.New("revision not found")
)

// Client is the typed wrapper over the remote orchestration API. It carries
// no business logic; implementations only translate between this model and
// the provider's wire types.
type Client interface {
	// DescribeService reads the current state of the target service.
	DescribeService(ctx context.Context, target ServiceTarget) (ServiceSnapshot, error)

	// RegisterRevision materializes a new immutable revision from base's
	// runtime configuration with the container image replaced. Registering
	// is additive and safe to call twice.
	RegisterRevision(ctx context.Context, base RevisionRef, image string, metadata map[string]string) (RevisionRef, error)

	// UpdateService instructs the control plane to converge the service onto
	// rev, keeping capacity within bounds. Re-issuing with the same revision
	// is a no-op convergence.
	UpdateService(ctx context.Context, target ServiceTarget, rev RevisionRef, bounds CapacityBounds) error

	// ListInstances returns the instances currently serving rev.
	ListInstances(ctx context.Context, target ServiceTarget, rev RevisionRef) ([]InstanceRef, error)

	// DescribeInstanceHealth reports the control plane's health signal for
	// one instance.
	DescribeInstanceHealth(ctx context.Context, target ServiceTarget, instance InstanceRef) (InstanceHealth, error)
}

// Error wraps a transport or API failure from the control plane so callers
// can distinguish it from domain failures.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("control plane: %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// wrapErr keeps sentinel errors unwrapped twice.
func wrapErr(op string, err error) error {
	var cpErr *Error
	if errors.As(err, &cpErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}
