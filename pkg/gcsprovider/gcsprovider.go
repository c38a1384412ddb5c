// Package gcsprovider provides a document provider using Google Cloud Storage.
//
// A tree is a name prefix inside a bucket and is identified by URIs like
// gs://bucket/some/prefix. Objects directly below the prefix are the entries of
// the tree, deeper objects are grouped into directories using "/" as
// delimiter.
//
// # Usage
//
// When using Google Cloud Storage, the service account used to access the
// bucket needs the roles/storage.objectAdmin role, or at least the
// storage.objects.* and storage.buckets.get permissions.
package gcsprovider

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

	"cloud.google.com/go/storage"

	"github.com/tus/doctree/pkg/bridge"
)

// Scheme is the URI scheme of trees served by this provider.
const Scheme = "gs"

// GCSProvider opens name prefixes in GCS buckets as trees.
type GCSProvider struct {
	// Service specifies an interface used to communicate with the Google
	// cloud storage backend. Implementation can be seen in gcsservice file.
	Service GCSAPI

	mutex       sync.Mutex
	permissions map[string]bridge.PermissionFlags
}

// New constructs a new GCS provider using the supplied GCS service object.
func New(service GCSAPI) *GCSProvider {
	return &GCSProvider{
		Service:     service,
		permissions: make(map[string]bridge.PermissionFlags),
	}
}

// UseIn sets this provider as the document provider in the passed composer.
func (provider *GCSProvider) UseIn(composer *bridge.Composer) {
	composer.UseProvider(provider)
}

// ParseTreeURI splits a tree URI into the bucket and the name prefix. A
// non-empty prefix always ends with a slash.
func ParseTreeURI(treeURI string) (bucket string, prefix string, err error) {
	u, err := url.Parse(treeURI)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("gcsprovider: unsupported scheme in %q", treeURI)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("gcsprovider: missing bucket in %q", treeURI)
	}

	prefix = strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix += "/"
	}
	return u.Host, prefix, nil
}

func (provider *GCSProvider) TakePersistablePermission(ctx context.Context, treeURI string, flags bridge.PermissionFlags) error {
	if _, _, err := ParseTreeURI(treeURI); err != nil {
		return err
	}

	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	provider.permissions[treeURI] = flags
	return nil
}

// permissionFlags returns the flags taken for the tree, or read and write
// access if no permission has been taken in this process.
func (provider *GCSProvider) permissionFlags(treeURI string) bridge.PermissionFlags {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	if flags, ok := provider.permissions[treeURI]; ok {
		return flags
	}
	return bridge.PermissionReadWrite
}

// PersistedPermissions returns the tree URIs with persisted permissions.
func (provider *GCSProvider) PersistedPermissions() map[string]bridge.PermissionFlags {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	res := make(map[string]bridge.PermissionFlags, len(provider.permissions))
	for uri, flags := range provider.permissions {
		res[uri] = flags
	}
	return res
}

func (provider *GCSProvider) OpenTree(ctx context.Context, treeURI string) (bridge.Tree, error) {
	bucket, prefix, err := ParseTreeURI(treeURI)
	if err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}

	if _, err := provider.Service.GetBucketAttrs(ctx, bucket); err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}

	return &gcsTree{
		service: provider.Service,
		uri:     treeURI,
		bucket:  bucket,
		prefix:  prefix,
		flags:   provider.permissionFlags(treeURI),
	}, nil
}

type gcsTree struct {
	service GCSAPI
	uri     string
	bucket  string
	prefix  string
	flags   bridge.PermissionFlags
}

func (tree *gcsTree) URI() string {
	return tree.uri
}

func (tree *gcsTree) List(ctx context.Context) ([]bridge.Document, error) {
	objects, err := tree.service.FilterObjects(ctx, GCSFilterParams{
		Bucket:    tree.bucket,
		Prefix:    tree.prefix,
		Delimiter: "/",
	})
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotExist) {
			return nil, bridge.ErrTreeUnavailable.WithCause(err)
		}
		return nil, err
	}

	docs := make([]bridge.Document, 0, len(objects))
	for _, attrs := range objects {
		// Synthetic directory entries only carry the prefix.
		if attrs.Name == "" {
			name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, tree.prefix), "/")
			docs = append(docs, &gcsDocument{tree: tree, name: name})
			continue
		}

		name := strings.TrimPrefix(attrs.Name, tree.prefix)
		if name == "" {
			continue
		}
		docs = append(docs, &gcsDocument{
			tree:     tree,
			name:     name,
			size:     attrs.Size,
			mimeType: attrs.ContentType,
			file:     true,
		})
	}

	return docs, nil
}

func (tree *gcsTree) Find(ctx context.Context, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
	}

	attrs, err := tree.service.GetObjectAttrs(ctx, tree.params(name))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	return &gcsDocument{
		tree:     tree,
		name:     name,
		size:     attrs.Size,
		mimeType: attrs.ContentType,
		file:     true,
	}, nil
}

func (tree *gcsTree) Create(ctx context.Context, mimeType string, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrInvalid}
	}
	if !tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrPermission}
	}

	doc := &gcsDocument{
		tree:     tree,
		name:     name,
		mimeType: mimeType,
		file:     true,
	}
	if _, err := tree.service.WriteObject(ctx, tree.params(name), mimeType, bytes.NewReader(nil)); err != nil {
		return nil, err
	}

	return doc, nil
}

func (tree *gcsTree) params(name string) GCSObjectParams {
	return GCSObjectParams{
		Bucket: tree.bucket,
		ID:     tree.prefix + name,
	}
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, "/")
}

type gcsDocument struct {
	tree *gcsTree

	name     string
	size     int64
	mimeType string
	file     bool
}

func (doc *gcsDocument) Name() string { return doc.name }
func (doc *gcsDocument) Type() string { return doc.mimeType }
func (doc *gcsDocument) Size() int64  { return doc.size }
func (doc *gcsDocument) IsFile() bool { return doc.file }

func (doc *gcsDocument) URI() string {
	return (&url.URL{
		Scheme: Scheme,
		Host:   doc.tree.bucket,
		Path:   "/" + doc.tree.prefix + doc.name,
	}).String()
}

func (doc *gcsDocument) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionRead) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}

	r, err := doc.tree.service.ReadObject(ctx, doc.tree.params(doc.name))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	return r, nil
}

func (doc *gcsDocument) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}
	return &gcsWriter{ctx: ctx, doc: doc}, nil
}

func (doc *gcsDocument) Delete(ctx context.Context) error {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return &fs.PathError{Op: "remove", Path: doc.name, Err: fs.ErrPermission}
	}

	err := doc.tree.service.DeleteObject(ctx, doc.tree.params(doc.name))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return &fs.PathError{Op: "remove", Path: doc.name, Err: fs.ErrNotExist}
	}
	return err
}

// gcsWriter buffers the content until it is closed.
type gcsWriter struct {
	ctx    context.Context
	doc    *gcsDocument
	buf    bytes.Buffer
	closed bool
}

func (w *gcsWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *gcsWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true

	n, err := w.doc.tree.service.WriteObject(w.ctx, w.doc.tree.params(w.doc.name), w.doc.mimeType, &w.buf)
	if err != nil {
		return err
	}

	w.doc.size = n
	return nil
}
