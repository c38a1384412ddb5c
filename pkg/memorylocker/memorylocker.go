// Package memorylocker provides an in-memory locking mechanism.
//
// The bridge locks the folder selection and every entry while it is being
// written or deleted. MemoryLocker keeps these locks in memory, so they only
// coordinate bridges of the same process which share one MemoryLocker. Locks
// are erased if the program exits.
//
// If a lock is already held, the holder's requestRelease callback is invoked
// once per waiting acquirer. The holder may ignore the request, in which case
// the acquirer waits until its context is done.
package memorylocker

import (
	"context"
	"sync"

	"github.com/tus/doctree/pkg/bridge"
)

// See the package documentation for details.
type MemoryLocker struct {
	locks map[string]lockEntry
	mutex sync.Mutex
}

type lockEntry struct {
	lockReleased   chan struct{}
	requestRelease func()
}

// New creates a new in-memory locker.
func New() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]lockEntry),
	}
}

// UseIn sets this locker as the locker in the passed composer.
func (locker *MemoryLocker) UseIn(composer *bridge.Composer) {
	composer.UseLocker(locker)
}

func (locker *MemoryLocker) NewLock(id string) (bridge.Lock, error) {
	return &memoryLock{locker: locker, id: id}, nil
}

// Held returns the IDs of all currently held locks.
func (locker *MemoryLocker) Held() []string {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()

	ids := make([]string, 0, len(locker.locks))
	for id := range locker.locks {
		ids = append(ids, id)
	}
	return ids
}

type memoryLock struct {
	locker *MemoryLocker
	id     string
	held   bool
}

// Lock tries to obtain the exclusive lock.
func (lock *memoryLock) Lock(ctx context.Context, requestRelease func()) error {
	for {
		lock.locker.mutex.Lock()
		entry, ok := lock.locker.locks[lock.id]
		if !ok {
			lock.locker.locks[lock.id] = lockEntry{
				lockReleased:   make(chan struct{}),
				requestRelease: requestRelease,
			}
			lock.locker.mutex.Unlock()
			lock.held = true
			return nil
		}
		lock.locker.mutex.Unlock()

		if entry.requestRelease != nil {
			entry.requestRelease()
		}

		// Another acquirer may win the race once the lock is released, so we
		// have to check the map again afterwards.
		select {
		case <-ctx.Done():
			return bridge.ErrLockTimeout
		case <-entry.lockReleased:
		}
	}
}

// Unlock releases the lock. Unlocking a lock which is not held by this object
// is a no-op.
func (lock *memoryLock) Unlock() error {
	if !lock.held {
		return nil
	}
	lock.held = false

	lock.locker.mutex.Lock()
	entry := lock.locker.locks[lock.id]
	delete(lock.locker.locks, lock.id)
	lock.locker.mutex.Unlock()

	close(entry.lockReleased)
	return nil
}
