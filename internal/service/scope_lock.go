package service

import "sync"

// scopeLock serializes capacity-mutating operations per
// (facility, program) scope within this process. The database row lock
// provides the same guarantee across processes; holding the in-process
// lock first keeps local contention off the database.
type scopeLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newScopeLock() *scopeLock {
	return &scopeLock{locks: make(map[string]*sync.Mutex)}
}

func scopeKey(facilityID string, programID *string) string {
	if programID != nil {
		return facilityID + "/" + *programID
	}
	return facilityID
}

// Acquire locks the scope and returns the unlock function.
func (l *scopeLock) Acquire(facilityID string, programID *string) func() {
	key := scopeKey(facilityID, programID)

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
