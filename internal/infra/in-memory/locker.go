package inmemory

import (
	"context"
	"sync"

	"github.com/greenlight-sh/greenlight/internal/deploy"
)

// Locker is an in-process advisory lock keyed by service target. Lock fails
// with deploy.ErrDeploymentInFlight when the key is already held, which is
// what serializes deployment attempts per target.
type Locker struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

func NewLocker() *Locker {
	return &Locker{
		locks: make(map[string]struct{}),
	}
}

func (l *Locker) Lock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.locks[key]; held {
		return deploy.ErrDeploymentInFlight
	}
	l.locks[key] = struct{}{}
	return nil
}

func (l *Locker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locks, key)
	return nil
}
