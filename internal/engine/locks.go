package engine

import "sync"

// discussionLocks hands out one mutex per discussion. Steps on one
// discussion are serialized; different discussions proceed concurrently.
type discussionLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newDiscussionLocks() *discussionLocks {
	return &discussionLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *discussionLocks) get(discussionID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[discussionID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[discussionID] = m
	return m
}

// forget drops the mutex of a deleted discussion.
func (l *discussionLocks) forget(discussionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, discussionID)
}
