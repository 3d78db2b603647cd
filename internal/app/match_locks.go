package app

import (
	"sync"

	"github.com/dkeye/concort/internal/domain"
)

type matchLock struct {
	sync.Mutex
	refs int
}

// matchLocks serialises persist+fan-out per match. Entries are reference
// counted and dropped once nobody holds or waits on them.
type matchLocks struct {
	mu    sync.Mutex
	locks map[domain.MatchID]*matchLock
}

func (l *matchLocks) acquire(id domain.MatchID) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[domain.MatchID]*matchLock)
	}
	ml, ok := l.locks[id]
	if !ok {
		ml = &matchLock{}
		l.locks[id] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.Lock()
	return func() {
		ml.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *matchLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
