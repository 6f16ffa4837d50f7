// Package locking provides advisory per-resource-path locks for callers
// that need to serialize access to the same file across concurrent tool
// invocations. The single-conversation turn loop does not need this;
// it exists for callers hosting more than one agent against one tree.
package locking

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PathLocks is a set of single-holder advisory locks keyed by path.
// Release is owner-checked: only the acquiring owner may release.
type PathLocks struct {
	mu      sync.Mutex
	holders map[string]string
	waiters map[string]chan struct{}
}

// NewPathLocks creates an empty lock set.
func NewPathLocks() *PathLocks {
	return &PathLocks{
		holders: make(map[string]string),
		waiters: make(map[string]chan struct{}),
	}
}

// Acquire takes the lock for path on behalf of owner, waiting up to
// timeout. Acquiring a lock already held by the same owner fails; the
// locks are not reentrant.
func (l *PathLocks) Acquire(ctx context.Context, path, owner string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		l.mu.Lock()
		holder, held := l.holders[path]
		if !held {
			l.holders[path] = owner
			l.mu.Unlock()
			return nil
		}
		if holder == owner {
			l.mu.Unlock()
			return fmt.Errorf("lock on %s already held by %s", path, owner)
		}
		ch := l.waiters[path]
		if ch == nil {
			ch = make(chan struct{})
			l.waiters[path] = ch
		}
		l.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("timed out acquiring lock on %s (held by %s)", path, holder)
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return fmt.Errorf("timed out acquiring lock on %s (held by %s)", path, holder)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Release drops the lock. Releasing a lock held by a different owner or
// not held at all is an error.
func (l *PathLocks) Release(path, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	holder, held := l.holders[path]
	if !held {
		return fmt.Errorf("lock on %s is not held", path)
	}
	if holder != owner {
		return fmt.Errorf("lock on %s is held by %s, not %s", path, holder, owner)
	}
	delete(l.holders, path)
	if ch := l.waiters[path]; ch != nil {
		close(ch)
		delete(l.waiters, path)
	}
	return nil
}

// Holder reports the current owner of a path lock, empty if unheld.
func (l *PathLocks) Holder(path string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[path]
}
