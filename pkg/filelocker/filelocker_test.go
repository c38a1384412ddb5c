package filelocker

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tus/doctree/pkg/bridge"
	"github.com/tus/doctree/pkg/memoryprefs"
)

var _ bridge.Locker = FileLocker{}

func newTestLocker(t *testing.T) FileLocker {
	locker := New(t.TempDir())
	locker.HolderPollInterval = 5 * time.Millisecond
	locker.AcquirerPollInterval = 5 * time.Millisecond
	return locker
}

func TestFileLocker(t *testing.T) {
	a := assert.New(t)
	locker := newTestLocker(t)

	lock1, err := locker.NewLock("folder-selection")
	require.NoError(t, err)
	a.NoError(lock1.Lock(context.Background(), nil))
	a.FileExists(filepath.Join(locker.Path, "folder-selection.lock"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	lock2, err := locker.NewLock("folder-selection")
	require.NoError(t, err)
	a.ErrorIs(lock2.Lock(ctx, nil), bridge.ErrLockTimeout)

	a.NoError(lock1.Unlock())
	a.NoFileExists(filepath.Join(locker.Path, "folder-selection.lock"))

	a.NoError(lock2.Lock(context.Background(), nil))
	a.NoError(lock2.Unlock())
}

func TestFileLockerEntryIDs(t *testing.T) {
	a := assert.New(t)
	locker := newTestLocker(t)

	lock, err := locker.NewLock("entry/notes.txt")
	require.NoError(t, err)
	a.NoError(lock.Lock(context.Background(), nil))

	entries, err := os.ReadDir(locker.Path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	a.Equal("entry%2Fnotes.txt.lock", entries[0].Name())

	a.NoError(lock.Unlock())
}

func TestFileLockerRequestRelease(t *testing.T) {
	a := assert.New(t)
	locker := newTestLocker(t)

	var releaseRequested atomic.Bool
	lock1, err := locker.NewLock("entry/a")
	require.NoError(t, err)
	a.NoError(lock1.Lock(context.Background(), func() {
		releaseRequested.Store(true)
		a.NoError(lock1.Unlock())
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lock2, err := locker.NewLock("entry/a")
	require.NoError(t, err)
	a.NoError(lock2.Lock(ctx, func() {
		t.Error("must not be called")
	}))
	a.True(releaseRequested.Load())
	a.NoError(lock2.Unlock())
}

func TestFileLockerUnlockWithoutLock(t *testing.T) {
	lock, err := newTestLocker(t).NewLock("never-locked")
	require.NoError(t, err)
	assert.NoError(t, lock.Unlock())
}

func TestFileLockerWithBridge(t *testing.T) {
	a := assert.New(t)
	locker := newTestLocker(t)

	// Simulate another process holding the selection lock
	held, err := locker.NewLock("folder-selection")
	require.NoError(t, err)
	require.NoError(t, held.Lock(context.Background(), nil))
	defer held.Unlock()

	composer := bridge.NewComposer()
	composer.UseProvider(nopProvider{})
	memoryprefs.New().UseIn(composer)
	composer.UsePicker(nopPicker{})
	locker.UseIn(composer)

	b, err := bridge.New(bridge.Config{
		Composer:           composer,
		AcquireLockTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = b.RequestFolderAccess(context.Background())
	a.ErrorIs(err, bridge.ErrSelectionPending)
}

type nopProvider struct{}

func (nopProvider) TakePersistablePermission(ctx context.Context, treeURI string, flags bridge.PermissionFlags) error {
	return nil
}

func (nopProvider) OpenTree(ctx context.Context, treeURI string) (bridge.Tree, error) {
	return nil, bridge.ErrTreeUnavailable
}

type nopPicker struct{}

func (nopPicker) ShowPicker(ctx context.Context, req bridge.SelectionRequest) error {
	return nil
}
