package auth

import (
	"sync"

	"github.com/google/uuid"
)

// KeyedMutex serializes state transitions for one user without blocking
// operations on other users. It guards lockout transitions, OTP counters,
// backup-code consumption, and the count-evict-create sequence of session
// issuance. Entries are reference-counted and removed on release so the map
// does not grow with the user population.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[uuid.UUID]*userLock)}
}

// Lock acquires the lock for the given user and returns the matching unlock
// function.
func (k *KeyedMutex) Lock(userID uuid.UUID) func() {
	k.mu.Lock()
	l, ok := k.locks[userID]
	if !ok {
		l = &userLock{}
		k.locks[userID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}
}
