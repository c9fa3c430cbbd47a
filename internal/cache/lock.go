package cache

import "time"

// LockManager provides short-lived, best-effort mutual exclusion entries
// layered on a Store. Locks are advisory: they only constrain cooperating
// callers (the coalescer uses them to throttle who gets to schedule a
// recomputation), and they self-expire so a crashed holder cannot deadlock
// the key forever.
type LockManager struct {
	store *Store
}

// NewLockManager returns a LockManager backed by store.
func NewLockManager(store *Store) *LockManager {
	return &LockManager{store: store}
}

// TryAcquire attempts to take the advisory lock for subject. It succeeds iff
// no unexpired lock entry exists, writing a marker that expires after
// timeout. A timeout <= 0 falls back to TTLLock.
func (l *LockManager) TryAcquire(subject string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = TTLLock
	}
	return l.store.Add(LockKey(subject), true, timeout)
}

// Release drops the advisory lock for subject. Releasing a lock that is not
// held (or already expired) is a no-op.
func (l *LockManager) Release(subject string) {
	l.store.Delete(LockKey(subject))
}
