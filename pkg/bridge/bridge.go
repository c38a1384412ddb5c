// Package bridge implements the persisted folder-access session: it obtains
// the user's consent for a single directory tree using a Picker, persists the
// grant in a SettingsStore and performs name-addressed file operations inside
// that tree using a DocumentProvider.
//
// The components are collected in a Composer:
//
//	composer := bridge.NewComposer()
//	composer.UseProvider(dirprovider.New())
//	composer.UseSettings(fileprefs.New("./settings"))
//	composer.UsePicker(picker.NewTerminalPicker(os.Stdin, os.Stdout))
//
//	b, err := bridge.New(bridge.Config{Composer: composer})
//
// Afterwards, the bridge can be used directly or exposed over HTTP using
// NewHandler.
package bridge

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FolderAccessBridge exposes the folder-access operations. It is safe for
// concurrent use.
type FolderAccessBridge struct {
	config   Config
	composer *Composer
	logger   *slog.Logger
	locker   Locker

	// Events is used to send notifications whenever a folder has been granted
	// or an entry has been written or deleted. This channel is only
	// populated if the NotifyEvents field in the Config object is set to true
	// and must be consumed in that case.
	Events chan Event

	// Metrics provides numbers of the usage for this bridge.
	Metrics Metrics

	pendingMutex sync.Mutex
	pending      map[string]*pendingSelection

	// sessionGrant holds the tree URI of the last selection if it could not be
	// written to the settings store. It takes precedence over the stored grant.
	sessionMutex sync.RWMutex
	sessionGrant string
}

// New creates a new bridge using the given configuration.
func New(config Config) (*FolderAccessBridge, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	var locker Locker = newLocalLocker()
	if config.Composer.UsesLocker {
		locker = config.Composer.Locker
	}

	b := &FolderAccessBridge{
		config:   config,
		composer: config.Composer,
		logger:   config.Logger,
		locker:   locker,
		Events:   make(chan Event),
		Metrics:  newMetrics(),
		pending:  make(map[string]*pendingSelection),
	}

	return b, nil
}

// RequestFolderAccess shows the folder picker and waits for the user's choice.
// On confirmation, persistent read and write permission is requested for the
// selected tree, the grant is stored (overwriting any previous one) and the
// tree's URI is returned.
//
// Only one selection can be outstanding at a time. A second call waits until
// the first one resolved or until the AcquireLockTimeout elapsed, in which case
// ErrSelectionPending is returned.
func (b *FolderAccessBridge) RequestFolderAccess(ctx context.Context) (string, error) {
	b.Metrics.incOperationsTotal(OpRequestFolderAccess)

	uri, err := b.requestFolderAccess(ctx)
	if err != nil {
		return "", b.failed(OpRequestFolderAccess, err)
	}

	return uri, nil
}

func (b *FolderAccessBridge) requestFolderAccess(ctx context.Context) (string, error) {
	if !b.composer.UsesPicker {
		return "", ErrNoPickerHost
	}

	lock, err := b.acquireLock(ctx, selectionLockID)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return "", ErrSelectionPending
		}
		return "", err
	}
	defer b.releaseLock(lock)

	req, results := b.beginSelection()
	b.logger.Info("SelectionStarted", "token", req.Token)

	if err := b.composer.Picker.ShowPicker(ctx, req); err != nil {
		b.endSelection(req.Token)
		return "", ErrNoPickerHost.WithCause(err)
	}

	var timeout <-chan time.Time
	if b.config.SelectionTimeout > 0 {
		timer := time.NewTimer(b.config.SelectionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var result SelectionResult
	select {
	case result = <-results:
		b.endSelection(req.Token)
	case <-timeout:
		res, ok := b.endSelection(req.Token)
		if !ok {
			b.logger.Info("SelectionTimeout", "token", req.Token)
			return "", ErrSelectionTimeout
		}
		result = res
	case <-ctx.Done():
		res, ok := b.endSelection(req.Token)
		if !ok {
			b.logger.Info("SelectionAborted", "token", req.Token, "error", ctx.Err())
			return "", ErrUserCancelled.WithCause(ctx.Err())
		}
		result = res
	}

	if !result.Confirmed {
		b.logger.Info("SelectionCancelled", "token", req.Token)
		return "", ErrUserCancelled
	}

	if result.TreeURI == "" {
		b.logger.Info("SelectionWithoutHandle", "token", req.Token)
		return "", ErrNoHandleReturned
	}

	flags := result.Flags & PermissionReadWrite
	if flags == 0 {
		flags = req.Flags
	}

	// Failures to persist the permission or the grant are logged, but do not
	// fail the selection.
	if err := b.composer.Provider.TakePersistablePermission(ctx, result.TreeURI, flags); err != nil {
		b.logger.Error("PermissionPersistError", "uri", result.TreeURI, "error", err)
	}

	b.storeGrant(ctx, result.TreeURI)

	b.Metrics.incFoldersGranted()
	b.logger.Info("FolderGranted", "token", req.Token, "uri", result.TreeURI)

	if b.config.NotifyEvents {
		b.Events <- newEvent(ctx, EventFolderGranted, result.TreeURI, Entry{})
	}

	return result.TreeURI, nil
}

// GetPersistedFolder returns the URI of the granted tree. ok is false if no
// folder has been granted yet. GetPersistedFolder never fails; errors from the
// settings store are logged and treated as if no grant exists.
func (b *FolderAccessBridge) GetPersistedFolder(ctx context.Context) (uri string, ok bool) {
	b.Metrics.incOperationsTotal(OpGetPersistedFolder)
	return b.loadGrant(ctx)
}

// ListEntries returns the regular files directly inside the granted tree.
// Directories are skipped. Missing metadata is replaced with default values.
func (b *FolderAccessBridge) ListEntries(ctx context.Context) ([]Entry, error) {
	b.Metrics.incOperationsTotal(OpListEntries)

	entries, err := b.listEntries(ctx)
	if err != nil {
		return nil, b.failed(OpListEntries, err)
	}

	return entries, nil
}

func (b *FolderAccessBridge) listEntries(ctx context.Context) ([]Entry, error) {
	tree, err := b.openTree(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := tree.List(ctx)
	if err != nil {
		if errors.Is(err, ErrTreeUnavailable) {
			return nil, ErrNoGrant.WithCause(err)
		}
		return nil, ErrReadFailed.WithCause(err)
	}

	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		if !doc.IsFile() {
			continue
		}
		entries = append(entries, entryFromDocument(doc))
	}

	return entries, nil
}

// WriteEntry writes content as UTF-8 bytes into the entry called name. An
// existing entry with the same name is deleted first and a new entry is
// created. This is not atomic: if the operation fails after the deletion, the
// entry is missing.
func (b *FolderAccessBridge) WriteEntry(ctx context.Context, name string, content string) error {
	b.Metrics.incOperationsTotal(OpWriteEntry)

	if err := b.writeEntry(ctx, name, content); err != nil {
		return b.failed(OpWriteEntry, err)
	}

	return nil
}

func (b *FolderAccessBridge) writeEntry(ctx context.Context, name string, content string) error {
	if name == "" {
		return missingArgument("name")
	}

	tree, err := b.openTree(ctx)
	if err != nil {
		return err
	}

	if b.config.PreWriteCallback != nil {
		event := newEvent(ctx, EventEntryWriting, tree.URI(), Entry{Name: name, Size: int64(len(content))})
		if err := b.config.PreWriteCallback(event); err != nil {
			return err
		}
	}

	lock, err := b.acquireLock(ctx, entryLockID(name))
	if err != nil {
		return ErrWriteFailed.WithCause(err)
	}
	defer b.releaseLock(lock)

	existing, err := tree.Find(ctx, name)
	switch {
	case err == nil:
		if err := existing.Delete(ctx); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ErrWriteFailed.WithCause(err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return ErrWriteFailed.WithCause(err)
	}

	doc, err := tree.Create(ctx, DefaultMimeType, name)
	if err != nil {
		return ErrCreateFailed.WithCause(err)
	}

	w, err := doc.OpenWriter(ctx)
	if err != nil {
		return ErrWriteFailed.WithCause(err)
	}

	n, err := io.WriteString(w, content)
	if err != nil {
		w.Close()
		return ErrWriteFailed.WithCause(err)
	}
	// The content is only committed once the writer has been closed, so its
	// error must not be lost.
	if err := w.Close(); err != nil {
		return ErrWriteFailed.WithCause(err)
	}

	b.Metrics.incBytesWritten(uint64(n))
	b.Metrics.incEntriesWritten()
	b.logger.Info("EntryWritten", "name", name, "size", n, "uri", doc.URI())

	if b.config.NotifyEvents {
		entry := entryFromDocument(doc)
		entry.Size = int64(n)
		b.Events <- newEvent(ctx, EventEntryWritten, tree.URI(), entry)
	}

	return nil
}

// ReadEntry returns the content of the regular file called name, decoded as
// UTF-8 text. The content is read until the end of the stream, regardless of
// the size reported by the provider.
func (b *FolderAccessBridge) ReadEntry(ctx context.Context, name string) (string, error) {
	b.Metrics.incOperationsTotal(OpReadEntry)

	content, err := b.readEntry(ctx, name)
	if err != nil {
		return "", b.failed(OpReadEntry, err)
	}

	return content, nil
}

func (b *FolderAccessBridge) readEntry(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", missingArgument("name")
	}

	tree, err := b.openTree(ctx)
	if err != nil {
		return "", err
	}

	doc, err := tree.Find(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", ErrReadFailed.WithCause(err)
	}

	if !doc.IsFile() {
		return "", ErrNotFound
	}

	r, err := doc.OpenReader(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound.WithCause(err)
		}
		return "", ErrReadFailed.WithCause(err)
	}
	defer r.Close()

	var src io.Reader = r
	if b.config.MaxReadSize > 0 {
		src = io.LimitReader(r, b.config.MaxReadSize+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound.WithCause(err)
		}
		return "", ErrReadFailed.WithCause(err)
	}

	if b.config.MaxReadSize > 0 && int64(len(data)) > b.config.MaxReadSize {
		return "", ErrReadFailed.WithCause(errors.New("entry exceeds the maximum read size"))
	}

	b.Metrics.incBytesRead(uint64(len(data)))
	b.logger.Debug("EntryRead", "name", name, "size", len(data))

	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// DeleteEntry removes the entry called name.
func (b *FolderAccessBridge) DeleteEntry(ctx context.Context, name string) error {
	b.Metrics.incOperationsTotal(OpDeleteEntry)

	if err := b.deleteEntry(ctx, name); err != nil {
		return b.failed(OpDeleteEntry, err)
	}

	return nil
}

func (b *FolderAccessBridge) deleteEntry(ctx context.Context, name string) error {
	if name == "" {
		return missingArgument("name")
	}

	tree, err := b.openTree(ctx)
	if err != nil {
		return err
	}

	lock, err := b.acquireLock(ctx, entryLockID(name))
	if err != nil {
		return ErrDeleteFailed.WithCause(err)
	}
	defer b.releaseLock(lock)

	doc, err := tree.Find(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return ErrDeleteFailed.WithCause(err)
	}

	if err := doc.Delete(ctx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound.WithCause(err)
		}
		return ErrDeleteFailed.WithCause(err)
	}

	b.Metrics.incEntriesDeleted()
	b.logger.Info("EntryDeleted", "name", name)

	if b.config.NotifyEvents {
		b.Events <- newEvent(ctx, EventEntryDeleted, tree.URI(), entryFromDocument(doc))
	}

	return nil
}

// openTree resolves the current grant into an opened tree. A missing grant or
// a tree which is not accessible anymore results in ErrNoGrant.
func (b *FolderAccessBridge) openTree(ctx context.Context) (Tree, error) {
	uri, ok := b.loadGrant(ctx)
	if !ok {
		return nil, ErrNoGrant
	}

	tree, err := b.composer.Provider.OpenTree(ctx, uri)
	if err != nil {
		b.logger.Warn("TreeUnavailable", "uri", uri, "error", err)
		return nil, ErrNoGrant.WithCause(err)
	}

	return tree, nil
}

func (b *FolderAccessBridge) loadGrant(ctx context.Context) (string, bool) {
	b.sessionMutex.RLock()
	session := b.sessionGrant
	b.sessionMutex.RUnlock()
	if session != "" {
		return session, true
	}

	uri, ok, err := b.composer.Settings.Get(ctx, b.config.SettingsName, b.config.GrantKey)
	if err != nil {
		b.logger.Error("GrantLoadError", "error", err)
		return "", false
	}
	if !ok || uri == "" {
		return "", false
	}

	return uri, true
}

func (b *FolderAccessBridge) storeGrant(ctx context.Context, uri string) {
	err := b.composer.Settings.Set(ctx, b.config.SettingsName, b.config.GrantKey, uri)

	b.sessionMutex.Lock()
	defer b.sessionMutex.Unlock()

	if err != nil {
		b.logger.Error("GrantPersistError", "uri", uri, "error", err)
		b.sessionGrant = uri
		return
	}

	b.sessionGrant = ""
}

func (b *FolderAccessBridge) releaseLock(lock Lock) {
	if err := lock.Unlock(); err != nil {
		b.logger.Error("UnlockError", "error", err)
	}
}

// failed records the error in the metrics and logs it before it is returned
// to the caller.
func (b *FolderAccessBridge) failed(op string, err error) error {
	b.Metrics.incErrorsTotal(err)

	var bErr Error
	if errors.As(err, &bErr) && bErr.StatusCode < 500 {
		b.logger.Info("OperationFailed", "operation", op, "code", bErr.ErrorCode, "error", err)
	} else {
		b.logger.Error("OperationFailed", "operation", op, "code", errorCode(err), "error", err)
	}

	return err
}

func missingArgument(name string) Error {
	err := ErrMissingArgument
	err.Message = "Missing " + name
	return err
}
