package distlock

import (
	"context"
	"sync"
)

// localLocks is the process-wide table backing LocalLock instances.
var localLocks sync.Map

// LocalLock serializes checks within a single process. It backs deployments
// that run without Redis and without Postgres, where no cross-host
// coordination exists to defer to.
type LocalLock struct {
	key  string
	held bool
}

// NewLocalLock creates an in-process lock for the key.
func NewLocalLock(key string) *LocalLock {
	return &LocalLock{key: key}
}

// Acquire takes the lock if no other instance holds the key. Non-blocking.
func (l *LocalLock) Acquire(context.Context) (bool, error) {
	_, loaded := localLocks.LoadOrStore(l.key, struct{}{})
	l.held = !loaded
	return l.held, nil
}

// Release frees the lock if this instance holds it.
func (l *LocalLock) Release(context.Context) error {
	if l.held {
		localLocks.Delete(l.key)
		l.held = false
	}
	return nil
}
