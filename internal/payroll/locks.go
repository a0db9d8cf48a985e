package payroll

import "sync"

// recordLocks serializes edit and recompute work per employee record.
// The lock is narrow: one mutex per record id, never a global one.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: map[string]*sync.Mutex{}}
}

// tryAcquire returns a release func, or ok=false when the record is
// currently locked by another editor.
func (l *recordLocks) tryAcquire(recordID string) (func(), bool) {
	l.mu.Lock()
	m, ok := l.locks[recordID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[recordID] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
