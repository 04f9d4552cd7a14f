// Package ledger defines the append-only audit trail of deployment phase
// transitions. Entries are never updated or deleted; corrections are new
// entries.
package ledger

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mock_ledger.go -package=mocks

var (
	ErrEmptyDeploymentID = errors.New("ledger entry requires a deployment id")
)

// Entry records one phase transition of a deployment attempt. The
// deploymentId is the join key across all entries of an attempt.
type Entry struct {
	DeploymentID string    `json:"deployment_id"`
	Timestamp    time.Time `json:"timestamp"`
	Phase        string    `json:"phase"`
	Detail       string    `json:"detail,omitempty"`
}

// Ledger is durable storage for entries, external to the orchestrator process
// so that a crashed run's last known phase is recoverable.
type Ledger interface {
	// Record appends an entry. Append-only: implementations must never
	// mutate previously written entries.
	Record(ctx context.Context, entry Entry) error

	// History returns every entry for the deployment in insertion order.
	History(ctx context.Context, deploymentID string) ([]Entry, error)
}
