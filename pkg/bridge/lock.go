package bridge

import (
	"context"
	"sync"
)

const selectionLockID = "folder-selection"

func entryLockID(name string) string {
	return "entry/" + name
}

// localLocker is used if no Locker has been composed. It provides exclusive
// locks inside a single bridge, but ignores release requests.
type localLocker struct {
	mutex sync.Mutex
	held  map[string]chan struct{}
}

func newLocalLocker() *localLocker {
	return &localLocker{held: make(map[string]chan struct{})}
}

func (locker *localLocker) NewLock(id string) (Lock, error) {
	return &localLock{locker: locker, id: id}, nil
}

type localLock struct {
	locker *localLocker
	id     string
}

func (lock *localLock) Lock(ctx context.Context, _ func()) error {
	for {
		lock.locker.mutex.Lock()
		released, ok := lock.locker.held[lock.id]
		if !ok {
			lock.locker.held[lock.id] = make(chan struct{})
			lock.locker.mutex.Unlock()
			return nil
		}
		lock.locker.mutex.Unlock()

		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-released:
		}
	}
}

func (lock *localLock) Unlock() error {
	lock.locker.mutex.Lock()
	released, ok := lock.locker.held[lock.id]
	delete(lock.locker.held, lock.id)
	lock.locker.mutex.Unlock()

	if ok {
		close(released)
	}
	return nil
}

// acquireLock obtains the lock with the given ID, waiting at most for the
// configured AcquireLockTimeout.
func (b *FolderAccessBridge) acquireLock(ctx context.Context, id string) (Lock, error) {
	lock, err := b.locker.NewLock(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.AcquireLockTimeout)
	defer cancel()

	// Release requests are ignored: an outstanding folder selection must not be
	// interrupted by a later caller.
	if err := lock.Lock(ctx, func() {}); err != nil {
		return nil, err
	}

	return lock, nil
}
