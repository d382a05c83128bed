package session

import "sync"

// lockTable hands out one mutex per session key so turns on the same session
// serialize while distinct sessions proceed fully in parallel. Entries are
// reference-counted and dropped once nobody holds or waits on them, so ended
// sessions don't leak locks.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sessionLock)}
}

func (t *lockTable) acquire(key string) *sessionLock {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &sessionLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return l
}

func (t *lockTable) release(key string, l *sessionLock) {
	l.mu.Unlock()

	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
}

// size reports how many session locks are currently live.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
