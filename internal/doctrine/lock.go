package doctrine

import (
	"context"
	"sync"
)

// Locker serializes mutating operations per rule id.
//
// Reading the current version, computing the next one and appending the ledger
// event must happen as one indivisible unit; the repository's expectedVersion
// check is the second line of defense (ErrConflict on a stale read).
type Locker interface {
	WithRuleLock(ctx context.Context, ruleID string, fn func(ctx context.Context) error) error
}

// MemoryLocker is a per-rule keyed mutex for single-process deployments and
// tests. Entries are refcounted and evicted once the last holder releases, so
// the map stays bounded by in-flight mutations rather than rule cardinality.
// Multi-node deployments should use the redis-backed locker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*ruleLock
}

type ruleLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*ruleLock)}
}

func (l *MemoryLocker) WithRuleLock(ctx context.Context, ruleID string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	e, ok := l.locks[ruleID]
	if !ok {
		e = &ruleLock{}
		l.locks[ruleID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, ruleID)
		}
		l.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
