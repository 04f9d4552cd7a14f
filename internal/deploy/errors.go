package deploy

import (
	"errors"
	"fmt"
)

var (
	// ErrDeploymentInFlight means another attempt holds the advisory lock
	// for the same service target.
	ErrDeploymentInFlight = errors.New("deployment already in flight for target")

	// ErrRolloutFailed means the rollout failed structurally or timed out
	// and the rollback edge was taken.
	ErrRolloutFailed = errors.New("rollout failed")

	// ErrHealthDegraded means post-rollout health fell below the configured
	// threshold and the rollback edge was taken.
	ErrHealthDegraded = errors.New("service health degraded")

	// ErrRollbackFailed means the rollback itself did not converge. The
	// service is in an unknown mixed state and needs an operator; nothing is
	// retried automatically to avoid oscillation.
	ErrRollbackFailed = errors.New("rollback failed")
)

// ConfigurationError fails PRECHECK. Nothing has been mutated yet, so no
// rollback or cleanup is needed.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(reason string, err error) *ConfigurationError {
	return &ConfigurationError{Reason: reason, Err: err}
}

// IsConfigurationError reports whether err is (or wraps) a PRECHECK failure.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
