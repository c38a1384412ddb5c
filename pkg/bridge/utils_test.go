package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tus/doctree/pkg/bridge"
)

//go:generate mockgen -package bridge_test -source utils_test.go -aux_files bridge=provider.go -destination=bridge_mock_test.go

// FullPicker, FullLocker and FullLock are used by mockgen(1) to generate the
// mocks used for testing (see https://github.com/golang/mock). Providers and
// settings stores are replaced by the in-memory fakes below instead, because
// expecting every single call would make the tests very verbose.
type FullPicker interface {
	bridge.Picker
}

type FullLocker interface {
	bridge.Locker
}

type FullLock interface {
	bridge.Lock
}

type httpTest struct {
	Name string

	Method string
	URL    string

	ReqBody   io.Reader
	ReqHeader map[string]string

	Code      int
	ResBody   string
	ResHeader map[string]string
}

func (test *httpTest) Run(handler http.Handler, t *testing.T) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(test.Method, test.URL, test.ReqBody)
	req.RequestURI = test.URL

	for key, value := range test.ReqHeader {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != test.Code {
		t.Errorf("Expected %v %s as status code (got %v %s)", test.Code, http.StatusText(test.Code), w.Code, http.StatusText(w.Code))
	}

	for key, value := range test.ResHeader {
		header := w.Header().Get(key)

		if value != header {
			t.Errorf("Expected '%s' as '%s' (got '%s')", value, key, header)
		}
	}

	if test.ResBody != "" && w.Body.String() != test.ResBody {
		t.Errorf("Expected '%s' as body (got '%s'", test.ResBody, w.Body.String())
	}

	return w
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// settingsStore is an in-memory SettingsStore whose failures can be injected.
type settingsStore struct {
	mutex  sync.Mutex
	values map[string]string

	getErr error
	setErr error
}

func newSettingsStore() *settingsStore {
	return &settingsStore{values: make(map[string]string)}
}

func (s *settingsStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.getErr != nil {
		return "", false, s.getErr
	}
	value, ok := s.values[namespace+"/"+key]
	return value, ok, nil
}

func (s *settingsStore) Set(ctx context.Context, namespace, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.setErr != nil {
		return s.setErr
	}
	s.values[namespace+"/"+key] = value
	return nil
}

func (s *settingsStore) stored() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.values[bridge.DefaultSettingsName+"/"+bridge.DefaultGrantKey]
}

// memProvider is an in-memory DocumentProvider. Trees must be added using
// addTree before they can be opened.
type memProvider struct {
	mutex       sync.Mutex
	trees       map[string]*memTree
	permissions map[string]bridge.PermissionFlags

	permissionErr error
}

func newMemProvider() *memProvider {
	return &memProvider{
		trees:       make(map[string]*memTree),
		permissions: make(map[string]bridge.PermissionFlags),
	}
}

func (p *memProvider) addTree(uri string) *memTree {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tree := &memTree{uri: uri}
	p.trees[uri] = tree
	return tree
}

func (p *memProvider) removeTree(uri string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.trees, uri)
}

func (p *memProvider) permission(uri string) bridge.PermissionFlags {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.permissions[uri]
}

func (p *memProvider) TakePersistablePermission(ctx context.Context, treeURI string, flags bridge.PermissionFlags) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.permissionErr != nil {
		return p.permissionErr
	}
	p.permissions[treeURI] = flags
	return nil
}

func (p *memProvider) OpenTree(ctx context.Context, treeURI string) (bridge.Tree, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tree, ok := p.trees[treeURI]
	if !ok {
		return nil, bridge.ErrTreeUnavailable
	}
	return tree, nil
}

type memTree struct {
	uri string

	mutex sync.Mutex
	docs  []*memDocument

	listErr   error
	createErr error
	writeErr  error
	deleteErr error
}

func (tree *memTree) URI() string {
	return tree.uri
}

func (tree *memTree) List(ctx context.Context) ([]bridge.Document, error) {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()

	if tree.listErr != nil {
		return nil, tree.listErr
	}

	docs := make([]bridge.Document, 0, len(tree.docs))
	for _, doc := range tree.docs {
		docs = append(docs, doc)
	}
	return docs, nil
}

func (tree *memTree) Find(ctx context.Context, name string) (bridge.Document, error) {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()

	for _, doc := range tree.docs {
		if doc.name == name {
			return doc, nil
		}
	}
	return nil, fs.ErrNotExist
}

func (tree *memTree) Create(ctx context.Context, mimeType string, name string) (bridge.Document, error) {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()

	if tree.createErr != nil {
		return nil, tree.createErr
	}

	doc := &memDocument{
		tree:     tree,
		name:     name,
		uri:      tree.uri + "/" + name,
		mimeType: mimeType,
		file:     true,
	}
	tree.docs = append(tree.docs, doc)
	return doc, nil
}

// put adds a document with the given content and returns it for further
// modification.
func (tree *memTree) put(name string, content string) *memDocument {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()

	doc := &memDocument{
		tree:     tree,
		name:     name,
		uri:      tree.uri + "/" + name,
		mimeType: "text/plain",
		size:     int64(len(content)),
		content:  []byte(content),
		file:     true,
	}
	tree.docs = append(tree.docs, doc)
	return doc
}

func (tree *memTree) count() int {
	tree.mutex.Lock()
	defer tree.mutex.Unlock()

	return len(tree.docs)
}

type memDocument struct {
	tree *memTree

	name     string
	uri      string
	mimeType string
	size     int64
	content  []byte
	file     bool
}

func (doc *memDocument) Name() string { return doc.name }
func (doc *memDocument) URI() string  { return doc.uri }
func (doc *memDocument) Type() string { return doc.mimeType }
func (doc *memDocument) Size() int64  { return doc.size }
func (doc *memDocument) IsFile() bool { return doc.file }

func (doc *memDocument) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	doc.tree.mutex.Lock()
	defer doc.tree.mutex.Unlock()

	if !doc.exists() {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(doc.content)), nil
}

func (doc *memDocument) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	return &memWriter{doc: doc}, nil
}

func (doc *memDocument) Delete(ctx context.Context) error {
	doc.tree.mutex.Lock()
	defer doc.tree.mutex.Unlock()

	if doc.tree.deleteErr != nil {
		return doc.tree.deleteErr
	}

	for i, other := range doc.tree.docs {
		if other == doc {
			doc.tree.docs = append(doc.tree.docs[:i], doc.tree.docs[i+1:]...)
			return nil
		}
	}
	return fs.ErrNotExist
}

// exists must be called with the tree's mutex held.
func (doc *memDocument) exists() bool {
	for _, other := range doc.tree.docs {
		if other == doc {
			return true
		}
	}
	return false
}

// memWriter commits the content to its document once it is closed.
type memWriter struct {
	doc *memDocument
	buf bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	if err := w.doc.tree.writeErr; err != nil {
		return 0, err
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.doc.tree.mutex.Lock()
	defer w.doc.tree.mutex.Unlock()

	w.doc.content = w.buf.Bytes()
	w.doc.size = int64(w.buf.Len())
	return nil
}

var errInjected = errors.New("injected failure")
