package bridge

import (
	"context"
	"io"
	"time"
)

// PermissionFlags describes which access a picker granted for a tree.
type PermissionFlags uint8

const (
	PermissionRead PermissionFlags = 1 << iota
	PermissionWrite
	// PermissionPersistable marks a grant that may survive restarts. It is
	// reported by some pickers but never passed on to a DocumentProvider.
	PermissionPersistable
)

// PermissionReadWrite is the access requested for every folder selection.
const PermissionReadWrite = PermissionRead | PermissionWrite

func (f PermissionFlags) Has(other PermissionFlags) bool {
	return f&other == other
}

// Document is a single node inside a tree, as returned by Tree.List or
// Tree.Find.
type Document interface {
	// Name returns the display name of the document. An empty string means
	// that the provider could not determine the name.
	Name() string
	// URI returns a provider-specific identifier for the document.
	URI() string
	// Type returns the MIME type. An empty string means unknown.
	Type() string
	// Size returns the size in bytes as reported by the provider. It is only
	// informational and may be stale or zero.
	Size() int64
	// IsFile reports whether the document is a regular file (and not a
	// directory or another virtual node).
	IsFile() bool
	// OpenReader opens the document for reading. The caller must close the
	// reader. If the document disappeared in the meantime, an error wrapping
	// fs.ErrNotExist is returned.
	OpenReader(ctx context.Context) (io.ReadCloser, error)
	// OpenWriter opens the document for writing, truncating existing content.
	// All bytes are committed once the writer has been closed successfully.
	OpenWriter(ctx context.Context) (io.WriteCloser, error)
	// Delete removes the document. Deleting a missing document returns an
	// error wrapping fs.ErrNotExist.
	Delete(ctx context.Context) error
}

// Tree is an opened directory tree.
type Tree interface {
	// URI returns the identifier of the tree root.
	URI() string
	// List returns the immediate children of the root.
	List(ctx context.Context) ([]Document, error)
	// Find returns the immediate child with the given name or an error
	// wrapping fs.ErrNotExist.
	Find(ctx context.Context, name string) (Document, error)
	// Create creates a new, empty document with the given name and MIME type.
	Create(ctx context.Context, mimeType string, name string) (Document, error)
}

// DocumentProvider gives access to directory trees identified by URIs, similar
// to a platform document provider.
type DocumentProvider interface {
	// TakePersistablePermission records that the tree may be accessed with the
	// given flags in later sessions.
	TakePersistablePermission(ctx context.Context, treeURI string, flags PermissionFlags) error
	// OpenTree opens a previously granted tree. If the tree is not accessible
	// anymore, ErrTreeUnavailable is returned.
	OpenTree(ctx context.Context, treeURI string) (Tree, error)
}

// SettingsStore is a durable key-value storage, grouped by namespaces.
type SettingsStore interface {
	// Get returns the value for the key. ok is false if no value is stored.
	Get(ctx context.Context, namespace, key string) (value string, ok bool, err error)
	// Set stores the value for the key, overwriting any previous value.
	Set(ctx context.Context, namespace, key, value string) error
}

// SelectionRequest describes an outstanding folder selection.
type SelectionRequest struct {
	// Token identifies the request. The picker result must be delivered
	// with the same token using FolderAccessBridge.CompleteSelection.
	Token string `json:"token"`
	// Flags contains the access which the picker should request.
	Flags PermissionFlags `json:"flags"`
	// CreatedAt is the time at which the request was issued.
	CreatedAt time.Time `json:"createdAt"`
}

// SelectionResult is the answer of a picker to a SelectionRequest.
type SelectionResult struct {
	// Confirmed is false if the user dismissed the picker.
	Confirmed bool `json:"confirmed"`
	// TreeURI identifies the selected tree. It may be empty if the picker did
	// not return a handle.
	TreeURI string `json:"uri"`
	// Flags contains the access that was actually granted.
	Flags PermissionFlags `json:"flags"`
}

// Picker shows a directory picker to the user.
type Picker interface {
	// ShowPicker presents the picker for the given request. It must not block
	// until the user made a choice. Instead, the result is delivered later
	// using FolderAccessBridge.CompleteSelection. An error indicates that the
	// picker could not be shown at all.
	ShowPicker(ctx context.Context, req SelectionRequest) error
}

// Locker is the interface required for custom lock persisting mechanisms.
// The bridge uses locks to allow only one outstanding folder selection and to
// serialize writes and deletions of the same entry.
type Locker interface {
	// NewLock creates a new unlocked lock object for the given ID.
	NewLock(id string) (Lock, error)
}

// Lock is the interface for a lock as returned from a Locker.
type Lock interface {
	// Lock attempts to obtain an exclusive lock for the ID.
	// If the lock is already held, the holder's requestRelease function will be
	// invoked to request the lock to be released. If the context is cancelled before
	// the lock can be acquired, ErrLockTimeout will be returned without acquiring
	// the lock.
	Lock(ctx context.Context, requestRelease func()) error
	// Unlock releases an existing lock.
	Unlock() error
}
