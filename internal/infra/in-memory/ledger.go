package inmemory

import (
	"context"
	"sync"

	"github.com/greenlight-sh/greenlight/internal/ledger"
)

// Ledger is an in-memory implementation of the ledger.Ledger interface, used
// in tests and dry runs. Entries are held per deployment in insertion order.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string][]ledger.Entry // key is deployment ID
}

// NewLedger creates a new in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[string][]ledger.Entry),
	}
}

// Record appends an entry. Entries are copied in; nothing is ever mutated
// after the fact.
func (l *Ledger) Record(_ context.Context, entry ledger.Entry) error {
	if entry.DeploymentID == "" {
		return ledger.ErrEmptyDeploymentID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[entry.DeploymentID] = append(l.entries[entry.DeploymentID], entry)
	return nil
}

// History returns a copy of the entries for the deployment in insertion
// order. An unknown deployment yields an empty history, not an error.
func (l *Ledger) History(_ context.Context, deploymentID string) ([]ledger.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.entries[deploymentID]
	out := make([]ledger.Entry, len(entries))
	copy(out, entries)
	return out, nil
}
