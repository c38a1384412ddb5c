// Package dirprovider provides a document provider for directories on the
// local file system.
//
// Trees are identified by file URIs (file:///home/user/notes) and are opened
// using os.Root, so entry names can never refer to files outside of the
// granted directory. Only immediate children of a tree are accessible.
//
// The persisted permissions are kept in memory. With Strict enabled, only trees
// for which TakePersistablePermission has been called can be opened, modelling
// a platform which forgets grants when the process ends. ReleasePermission
// revokes a grant, just like a user would do in the system settings.
package dirprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tus/doctree/pkg/bridge"
)

var defaultFilePerm = os.FileMode(0664)

// DirProvider opens local directories as trees.
type DirProvider struct {
	// Strict requires a persisted permission before a tree can be opened.
	Strict bool

	mutex       sync.Mutex
	permissions map[string]bridge.PermissionFlags
	released    map[string]bool
	roots       map[string]*os.Root
}

// New creates a new provider for local directories.
func New() *DirProvider {
	return &DirProvider{
		permissions: make(map[string]bridge.PermissionFlags),
		released:    make(map[string]bool),
		roots:       make(map[string]*os.Root),
	}
}

// UseIn sets this provider as the document provider in the passed composer.
func (provider *DirProvider) UseIn(composer *bridge.Composer) {
	composer.UseProvider(provider)
}

// URIFromPath converts a local path into a tree URI. Relative paths are
// resolved against the working directory.
func URIFromPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// PathFromURI extracts the local directory from a tree URI.
func PathFromURI(treeURI string) (string, error) {
	u, err := url.Parse(treeURI)
	if err != nil {
		return "", err
	}

	if u.Scheme != "file" {
		return "", fmt.Errorf("dirprovider: unsupported scheme in %q", treeURI)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("dirprovider: remote host in %q", treeURI)
	}
	if u.Path == "" {
		return "", fmt.Errorf("dirprovider: missing path in %q", treeURI)
	}

	return filepath.FromSlash(u.Path), nil
}

func (provider *DirProvider) TakePersistablePermission(ctx context.Context, treeURI string, flags bridge.PermissionFlags) error {
	if _, err := PathFromURI(treeURI); err != nil {
		return err
	}

	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	provider.permissions[treeURI] = flags
	delete(provider.released, treeURI)
	return nil
}

// ReleasePermission revokes the grant for the tree. Afterwards, the tree
// cannot be opened anymore until a permission is taken again.
func (provider *DirProvider) ReleasePermission(treeURI string) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	delete(provider.permissions, treeURI)
	provider.released[treeURI] = true
	provider.closeRoot(treeURI)
}

// PersistedPermissions returns the tree URIs with persisted permissions.
func (provider *DirProvider) PersistedPermissions() map[string]bridge.PermissionFlags {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	res := make(map[string]bridge.PermissionFlags, len(provider.permissions))
	for uri, flags := range provider.permissions {
		res[uri] = flags
	}
	return res
}

func (provider *DirProvider) OpenTree(ctx context.Context, treeURI string) (bridge.Tree, error) {
	path, err := PathFromURI(treeURI)
	if err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}

	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	flags, granted := provider.permissions[treeURI]
	if provider.released[treeURI] || (provider.Strict && !granted) {
		return nil, bridge.ErrTreeUnavailable
	}
	if !granted {
		flags = bridge.PermissionReadWrite
	}

	root, ok := provider.roots[treeURI]
	if ok && !sameDirectory(root, path) {
		// The directory has been removed or replaced since it was opened.
		provider.closeRoot(treeURI)
		ok = false
	}

	if !ok {
		root, err = os.OpenRoot(path)
		if err != nil {
			return nil, bridge.ErrTreeUnavailable.WithCause(err)
		}
		provider.roots[treeURI] = root
	}

	return &dirTree{
		root:  root,
		uri:   treeURI,
		flags: flags,
	}, nil
}

// Close releases all opened directories.
func (provider *DirProvider) Close() error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	var errs []error
	for uri, root := range provider.roots {
		errs = append(errs, root.Close())
		delete(provider.roots, uri)
	}
	return errors.Join(errs...)
}

// closeRoot must be called with the mutex held.
func (provider *DirProvider) closeRoot(treeURI string) {
	if root, ok := provider.roots[treeURI]; ok {
		root.Close()
		delete(provider.roots, treeURI)
	}
}

func sameDirectory(root *os.Root, path string) bool {
	opened, err := root.Stat(".")
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(opened, current)
}

type dirTree struct {
	root  *os.Root
	uri   string
	flags bridge.PermissionFlags
}

func (tree *dirTree) URI() string {
	return tree.uri
}

func (tree *dirTree) List(ctx context.Context) ([]bridge.Document, error) {
	dir, err := tree.root.Open(".")
	if err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}
	defer dir.Close()

	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	docs := make([]bridge.Document, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// The entry was removed while listing.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		docs = append(docs, tree.document(info.Name(), info))
	}

	return docs, nil
}

func (tree *dirTree) Find(ctx context.Context, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
	}

	info, err := tree.root.Lstat(name)
	if err != nil {
		return nil, err
	}

	return tree.document(name, info), nil
}

func (tree *dirTree) Create(ctx context.Context, mimeType string, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrInvalid}
	}
	if !tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrPermission}
	}

	file, err := tree.root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}

	doc := tree.document(name, nil)
	doc.mimeType = mimeType
	return doc, nil
}

func (tree *dirTree) document(name string, info fs.FileInfo) *dirDocument {
	doc := &dirDocument{
		tree: tree,
		name: name,
		file: true,
	}
	if info != nil {
		doc.size = info.Size()
		doc.file = info.Mode().IsRegular()
	}
	return doc
}

// validName reports whether name addresses an immediate child of the tree.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

type dirDocument struct {
	tree *dirTree

	name     string
	size     int64
	file     bool
	mimeType string
}

func (doc *dirDocument) Name() string {
	return doc.name
}

func (doc *dirDocument) URI() string {
	uri, err := url.JoinPath(doc.tree.uri, doc.name)
	if err != nil {
		return ""
	}
	return uri
}

func (doc *dirDocument) Size() int64 {
	return doc.size
}

func (doc *dirDocument) IsFile() bool {
	return doc.file
}

// Type derives the MIME type from the file extension. If the extension is
// unknown, the content is sniffed.
func (doc *dirDocument) Type() string {
	if doc.mimeType != "" {
		return doc.mimeType
	}
	if !doc.file {
		return ""
	}

	if typ := mime.TypeByExtension(filepath.Ext(doc.name)); typ != "" {
		doc.mimeType = typ
		return typ
	}

	file, err := doc.tree.root.Open(doc.name)
	if err != nil {
		return ""
	}
	defer file.Close()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		return ""
	}

	doc.mimeType = mtype.String()
	return doc.mimeType
}

func (doc *dirDocument) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionRead) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}

	return doc.tree.root.Open(doc.name)
}

func (doc *dirDocument) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}

	return doc.tree.root.OpenFile(doc.name, os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
}

func (doc *dirDocument) Delete(ctx context.Context) error {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return &fs.PathError{Op: "remove", Path: doc.name, Err: fs.ErrPermission}
	}

	return doc.tree.root.Remove(doc.name)
}
