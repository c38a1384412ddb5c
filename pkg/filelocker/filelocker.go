// Package filelocker provides a locker based on the local file system.
//
// It provides exclusive locks using lock files which are stored on disk. Each
// of them stores the PID of the process which acquired the lock. This allows
// locks to be automatically freed when a process is unable to release it on
// its own because the process is not alive anymore. Multiple bridge processes
// sharing one directory therefore never run two folder selections or two
// writes of the same entry at once.
//
// If somebody tries to acquire a lock that is already held, the requestRelease
// callback will be invoked that was provided when the lock was successfully
// acquired the first time. Under the hood, this is implemented using an
// additional file: the acquirer creates a .stop file next to the lock file and
// the lock holder regularly checks if it exists.
package filelocker

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tus/lockfile"

	"github.com/tus/doctree/pkg/bridge"
)

// processLocks tracks the lock files held by this process. A lock file only
// identifies its owner by PID, so it cannot tell two locks of the same
// process apart.
var processLocks = struct {
	sync.Mutex
	held map[string]bool
}{held: make(map[string]bool)}

// See the package documentation for details.
type FileLocker struct {
	// Relative or absolute path to store the lock files in. FileLocker does not
	// check whether the path exists, use os.MkdirAll in this case on your own.
	Path string

	// HolderPollInterval specifies how often the holder of a lock should check
	// if it should release the lock. The check involves querying if a .stop
	// file exists on disk. Defaults to 5 seconds.
	HolderPollInterval time.Duration

	// AcquirerPollInterval specifies how often the acquirer of a lock should
	// check if the lock has already been released. The checks are stopped if
	// the context provided to Lock is cancelled. Defaults to 2 seconds.
	AcquirerPollInterval time.Duration
}

// New creates a new file based locker. The directory specified will be used
// for all lock files. This method does not check whether the path exists, use
// os.MkdirAll to ensure.
func New(path string) FileLocker {
	return FileLocker{
		Path:                 path,
		HolderPollInterval:   5 * time.Second,
		AcquirerPollInterval: 2 * time.Second,
	}
}

// UseIn sets this locker as the locker in the passed composer.
func (locker FileLocker) UseIn(composer *bridge.Composer) {
	composer.UseLocker(locker)
}

func (locker FileLocker) NewLock(id string) (bridge.Lock, error) {
	// Entry lock IDs contain a slash, which must not end up in the file name.
	name := url.PathEscape(id)

	path, err := filepath.Abs(filepath.Join(locker.Path, name+".lock"))
	if err != nil {
		return nil, err
	}

	holderPoll := locker.HolderPollInterval
	if holderPoll <= 0 {
		holderPoll = 5 * time.Second
	}
	acquirerPoll := locker.AcquirerPollInterval
	if acquirerPoll <= 0 {
		acquirerPoll = 2 * time.Second
	}

	// We use Lockfile directly instead of lockfile.New to bypass the unnecessary
	// check whether the provided path is absolute since we just resolved it
	// on our own.
	return &fileLock{
		path:                 path,
		file:                 lockfile.Lockfile(path),
		requestReleaseFile:   filepath.Join(locker.Path, name+".stop"),
		holderPollInterval:   holderPoll,
		acquirerPollInterval: acquirerPoll,
	}, nil
}

type fileLock struct {
	path string
	file lockfile.Lockfile
	held bool

	requestReleaseFile   string
	holderPollInterval   time.Duration
	acquirerPollInterval time.Duration
	stopHolderPoll       chan struct{}
}

func (lock *fileLock) Lock(ctx context.Context, requestRelease func()) error {
	for {
		err := lock.tryLock()
		if err == nil {
			break
		}
		if !errors.Is(err, lockfile.ErrBusy) {
			return err
		}

		// The lock is held by another entity. The .stop file signals the
		// holder to release it.
		file, err := os.Create(lock.requestReleaseFile)
		if err != nil {
			return err
		}
		file.Close()

		select {
		case <-ctx.Done():
			return bridge.ErrLockTimeout
		case <-time.After(lock.acquirerPollInterval):
		}
	}

	// A stale request from a previous holder must not release this lock.
	_ = os.Remove(lock.requestReleaseFile)

	lock.stopHolderPoll = make(chan struct{})
	go lock.pollReleaseRequests(lock.stopHolderPoll, requestRelease)

	return nil
}

func (lock *fileLock) tryLock() error {
	processLocks.Lock()
	defer processLocks.Unlock()

	if processLocks.held[lock.path] {
		return lockfile.ErrBusy
	}
	if err := lock.file.TryLock(); err != nil {
		return err
	}

	processLocks.held[lock.path] = true
	lock.held = true
	return nil
}

func (lock *fileLock) pollReleaseRequests(stop <-chan struct{}, requestRelease func()) {
	for {
		select {
		case <-stop:
			return
		case <-time.After(lock.holderPollInterval):
			if _, err := os.Stat(lock.requestReleaseFile); err == nil {
				if requestRelease != nil {
					requestRelease()
				}
				return
			}
		}
	}
}

func (lock *fileLock) Unlock() error {
	if !lock.held {
		return nil
	}
	lock.held = false

	if lock.stopHolderPoll != nil {
		close(lock.stopHolderPoll)
		lock.stopHolderPoll = nil
	}

	processLocks.Lock()
	err := lock.file.Unlock()
	delete(processLocks.held, lock.path)
	processLocks.Unlock()

	// A "no such file or directory" will be returned if the lock file has been
	// removed in the meantime. The lock is released either way.
	if os.IsNotExist(err) {
		err = nil
	}

	_ = os.Remove(lock.requestReleaseFile)

	return err
}
