// Package sync provides keyed locking for serializing review creation on
// the same (project, pull request, requester) slot.
package sync

import (
	"fmt"
	"sync"
)

// SlotLock hands out one mutex per review slot so the existence check and
// the insert behind it run atomically per slot. Entries are never removed;
// the map grows with the number of distinct slots seen, which is bounded
// by real PR traffic.
type SlotLock struct {
	locks sync.Map
}

func NewSlotLock() *SlotLock {
	return &SlotLock{}
}

// Lock acquires the mutex for the given slot, creating it on first use.
func (l *SlotLock) Lock(projectID int64, prNumber int, userID int64) {
	l.mutex(projectID, prNumber, userID).Lock()
}

// Unlock releases the slot mutex. Must pair with a prior Lock for the
// same slot.
func (l *SlotLock) Unlock(projectID int64, prNumber int, userID int64) {
	l.mutex(projectID, prNumber, userID).Unlock()
}

func (l *SlotLock) mutex(projectID int64, prNumber int, userID int64) *sync.Mutex {
	key := fmt.Sprintf("%d:%d:%d", projectID, prNumber, userID)
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	return val.(*sync.Mutex)
}
