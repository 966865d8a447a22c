// Package locks provides in-process advisory locks scoped by
// namespace+key. The coordinator uses them to keep the same document from
// being processed by two batches at once, and multi-key acquisition is
// always performed in sorted key order so competing holders cannot
// deadlock.
package locks

import (
	"context"
	"sort"
	"sync"
)

// Keyed is a set of advisory locks addressed by namespace and key.
type Keyed struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// New creates an empty lock set.
func New() *Keyed {
	return &Keyed{held: make(map[string]chan struct{})}
}

func lockKey(namespace, key string) string {
	return namespace + "/" + key
}

// TryAcquire takes the lock if it is free. Returns false without blocking
// if another holder has it.
func (l *Keyed) TryAcquire(namespace, key string) bool {
	k := lockKey(namespace, key)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[k]; taken {
		return false
	}
	l.held[k] = make(chan struct{})
	return true
}

// Acquire blocks until the lock is free or ctx is done.
func (l *Keyed) Acquire(ctx context.Context, namespace, key string) error {
	k := lockKey(namespace, key)

	for {
		l.mu.Lock()
		ch, taken := l.held[k]
		if !taken {
			l.held[k] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			// Holder released; race for it again.
		}
	}
}

// Release frees the lock and wakes all waiters. Releasing a lock that is
// not held is a no-op.
func (l *Keyed) Release(namespace, key string) {
	k := lockKey(namespace, key)

	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, taken := l.held[k]; taken {
		delete(l.held, k)
		close(ch)
	}
}

// Held reports whether the lock is currently taken. Read-only; used by
// validation to flag documents already being processed elsewhere.
func (l *Keyed) Held(namespace, key string) bool {
	k := lockKey(namespace, key)

	l.mu.Lock()
	defer l.mu.Unlock()

	_, taken := l.held[k]
	return taken
}

// AcquireMany takes several locks in one namespace, always in sorted key
// order. Returns a release function for all of them. On error, any locks
// already taken are released.
func (l *Keyed) AcquireMany(ctx context.Context, namespace string, keys []string) (release func(), err error) {
	ordered := append([]string(nil), keys...)
	sort.Strings(ordered)

	acquired := make([]string, 0, len(ordered))
	for _, key := range ordered {
		if err := l.Acquire(ctx, namespace, key); err != nil {
			for _, k := range acquired {
				l.Release(namespace, k)
			}
			return nil, err
		}
		acquired = append(acquired, key)
	}

	return func() {
		for _, k := range acquired {
			l.Release(namespace, k)
		}
	}, nil
}
