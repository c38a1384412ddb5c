// Package azureprovider provides a document provider using Azure Blob Storage.
//
// A tree is a name prefix inside a container and is identified by URIs like
// azblob://container/some/prefix. Blobs directly below the prefix are the
// entries of the tree, deeper blobs show up as directories.
//
// The storage account is configured through AzConfig. Without an account key,
// the default Azure credential chain is used for authentication.
package azureprovider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"
	"sync"

	"github.com/tus/doctree/pkg/bridge"
)

// Scheme is the URI scheme of trees served by this provider.
const Scheme = "azblob"

type AzureProvider struct {
	Service AzService

	mutex       sync.Mutex
	permissions map[string]bridge.PermissionFlags
}

// New creates a new Azure provider using the passed service.
func New(service AzService) *AzureProvider {
	return &AzureProvider{
		Service:     service,
		permissions: make(map[string]bridge.PermissionFlags),
	}
}

// UseIn sets this provider as the document provider in the passed composer.
func (provider *AzureProvider) UseIn(composer *bridge.Composer) {
	composer.UseProvider(provider)
}

// ParseTreeURI splits a tree URI into the container and the name prefix. A
// non-empty prefix always ends with a slash.
func ParseTreeURI(treeURI string) (containerName string, prefix string, err error) {
	u, err := url.Parse(treeURI)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("azureprovider: unsupported scheme in %q", treeURI)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("azureprovider: missing container in %q", treeURI)
	}

	prefix = strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix += "/"
	}
	return u.Host, prefix, nil
}

func (provider *AzureProvider) TakePersistablePermission(ctx context.Context, treeURI string, flags bridge.PermissionFlags) error {
	if _, _, err := ParseTreeURI(treeURI); err != nil {
		return err
	}

	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	provider.permissions[treeURI] = flags
	return nil
}

func (provider *AzureProvider) permissionFlags(treeURI string) bridge.PermissionFlags {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	if flags, ok := provider.permissions[treeURI]; ok {
		return flags
	}
	return bridge.PermissionReadWrite
}

// PersistedPermissions returns the tree URIs with persisted permissions.
func (provider *AzureProvider) PersistedPermissions() map[string]bridge.PermissionFlags {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	res := make(map[string]bridge.PermissionFlags, len(provider.permissions))
	for uri, flags := range provider.permissions {
		res[uri] = flags
	}
	return res
}

func (provider *AzureProvider) OpenTree(ctx context.Context, treeURI string) (bridge.Tree, error) {
	containerName, prefix, err := ParseTreeURI(treeURI)
	if err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}

	if err := provider.Service.ContainerExists(ctx, containerName); err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}

	return &azTree{
		service:   provider.Service,
		uri:       treeURI,
		container: containerName,
		prefix:    prefix,
		flags:     provider.permissionFlags(treeURI),
	}, nil
}

type azTree struct {
	service   AzService
	uri       string
	container string
	prefix    string
	flags     bridge.PermissionFlags
}

func (tree *azTree) URI() string {
	return tree.uri
}

func (tree *azTree) List(ctx context.Context) ([]bridge.Document, error) {
	blobs, err := tree.service.ListBlobs(ctx, tree.container, tree.prefix)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return nil, bridge.ErrTreeUnavailable.WithCause(err)
		}
		return nil, err
	}

	docs := make([]bridge.Document, 0, len(blobs))
	for _, info := range blobs {
		name := strings.TrimSuffix(strings.TrimPrefix(info.Name, tree.prefix), "/")
		if name == "" {
			continue
		}
		docs = append(docs, &azDocument{
			tree:     tree,
			name:     name,
			size:     info.Size,
			mimeType: info.ContentType,
			file:     !info.IsPrefix,
		})
	}

	return docs, nil
}

func (tree *azTree) Find(ctx context.Context, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
	}

	info, err := tree.service.GetProperties(ctx, tree.container, tree.prefix+name)
	if err != nil {
		return nil, err
	}

	return &azDocument{
		tree:     tree,
		name:     name,
		size:     info.Size,
		mimeType: info.ContentType,
		file:     true,
	}, nil
}

func (tree *azTree) Create(ctx context.Context, mimeType string, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrInvalid}
	}
	if !tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrPermission}
	}

	if err := tree.service.Upload(ctx, tree.container, tree.prefix+name, mimeType, bytes.NewReader(nil)); err != nil {
		return nil, err
	}

	return &azDocument{
		tree:     tree,
		name:     name,
		mimeType: mimeType,
		file:     true,
	}, nil
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, "/")
}

type azDocument struct {
	tree *azTree

	name     string
	size     int64
	mimeType string
	file     bool
}

func (doc *azDocument) Name() string { return doc.name }
func (doc *azDocument) Type() string { return doc.mimeType }
func (doc *azDocument) Size() int64  { return doc.size }
func (doc *azDocument) IsFile() bool { return doc.file }

func (doc *azDocument) URI() string {
	return (&url.URL{
		Scheme: Scheme,
		Host:   doc.tree.container,
		Path:   "/" + doc.tree.prefix + doc.name,
	}).String()
}

func (doc *azDocument) blobName() string {
	return doc.tree.prefix + doc.name
}

func (doc *azDocument) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionRead) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}
	return doc.tree.service.Download(ctx, doc.tree.container, doc.blobName())
}

func (doc *azDocument) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}
	return &azWriter{ctx: ctx, doc: doc}, nil
}

func (doc *azDocument) Delete(ctx context.Context) error {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return &fs.PathError{Op: "remove", Path: doc.name, Err: fs.ErrPermission}
	}
	return doc.tree.service.Delete(ctx, doc.tree.container, doc.blobName())
}

// azWriter collects the content and uploads it as a single block blob on
// Close.
type azWriter struct {
	ctx    context.Context
	doc    *azDocument
	buf    bytes.Buffer
	closed bool
}

func (w *azWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *azWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true

	size := int64(w.buf.Len())
	if err := w.doc.tree.service.Upload(w.ctx, w.doc.tree.container, w.doc.blobName(), w.doc.mimeType, bytes.NewReader(w.buf.Bytes())); err != nil {
		return err
	}

	w.doc.size = size
	return nil
}
