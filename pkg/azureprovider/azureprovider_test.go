package azureprovider

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tus/doctree/pkg/bridge"
	"github.com/tus/doctree/pkg/memoryprefs"
)

var _ bridge.DocumentProvider = &AzureProvider{}
var _ AzService = &azService{}

type fakeBlob struct {
	content     []byte
	contentType string
}

// fakeAzService keeps the blobs of a single container in memory.
type fakeAzService struct {
	container string

	mutex sync.Mutex
	blobs map[string]fakeBlob
}

func newFakeAzService(containerName string) *fakeAzService {
	return &fakeAzService{container: containerName, blobs: make(map[string]fakeBlob)}
}

func (f *fakeAzService) ContainerExists(ctx context.Context, containerName string) error {
	if containerName != f.container {
		return ErrContainerNotFound
	}
	return nil
}

func (f *fakeAzService) ListBlobs(ctx context.Context, containerName, prefix string) ([]AzBlobInfo, error) {
	if err := f.ContainerExists(ctx, containerName); err != nil {
		return nil, err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	var names []string
	prefixes := make(map[string]bool)
	for name := range f.blobs {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			prefixes[prefix+rest[:i+1]] = true
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	res := make([]AzBlobInfo, 0, len(names)+len(prefixes))
	for _, name := range names {
		blob := f.blobs[name]
		res = append(res, AzBlobInfo{Name: name, Size: int64(len(blob.content)), ContentType: blob.contentType})
	}
	for p := range prefixes {
		res = append(res, AzBlobInfo{Name: p, IsPrefix: true})
	}
	return res, nil
}

func (f *fakeAzService) GetProperties(ctx context.Context, containerName, name string) (AzBlobInfo, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	blob, ok := f.blobs[name]
	if !ok {
		return AzBlobInfo{}, &fs.PathError{Op: "azblob", Path: name, Err: fs.ErrNotExist}
	}
	return AzBlobInfo{Name: name, Size: int64(len(blob.content)), ContentType: blob.contentType}, nil
}

func (f *fakeAzService) Download(ctx context.Context, containerName, name string) (io.ReadCloser, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	blob, ok := f.blobs[name]
	if !ok {
		return nil, &fs.PathError{Op: "azblob", Path: name, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(blob.content)), nil
}

func (f *fakeAzService) Upload(ctx context.Context, containerName, name, contentType string, body io.ReadSeeker) error {
	content, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.blobs[name] = fakeBlob{content: content, contentType: contentType}
	return nil
}

func (f *fakeAzService) Delete(ctx context.Context, containerName, name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.blobs[name]; !ok {
		return &fs.PathError{Op: "azblob", Path: name, Err: fs.ErrNotExist}
	}
	delete(f.blobs, name)
	return nil
}

func TestParseTreeURI(t *testing.T) {
	a := assert.New(t)

	containerName, prefix, err := ParseTreeURI("azblob://notes/2024/")
	a.NoError(err)
	a.Equal("notes", containerName)
	a.Equal("2024/", prefix)

	_, _, err = ParseTreeURI("gs://notes")
	a.Error(err)
	_, _, err = ParseTreeURI("azblob:///prefix")
	a.Error(err)
}

func TestAzureProvider(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	service := newFakeAzService("notes")
	service.blobs["work/plan.txt"] = fakeBlob{content: []byte("plan"), contentType: "text/plain"}
	service.blobs["work/drafts/idea.txt"] = fakeBlob{content: []byte("idea")}

	provider := New(service)
	a.NoError(provider.TakePersistablePermission(ctx, "azblob://notes/work", bridge.PermissionReadWrite))
	a.Equal(bridge.PermissionReadWrite, provider.PersistedPermissions()["azblob://notes/work"])
	a.Error(provider.TakePersistablePermission(ctx, "file:///work", bridge.PermissionRead))

	tree, err := provider.OpenTree(ctx, "azblob://notes/work")
	require.NoError(t, err)
	a.Equal("azblob://notes/work", tree.URI())

	docs, err := tree.List(ctx)
	a.NoError(err)
	require.Len(t, docs, 2)
	a.Equal("plan.txt", docs[0].Name())
	a.True(docs[0].IsFile())
	a.EqualValues(4, docs[0].Size())
	a.Equal("drafts", docs[1].Name())
	a.False(docs[1].IsFile())

	doc, err := tree.Find(ctx, "plan.txt")
	require.NoError(t, err)
	a.Equal("azblob://notes/work/plan.txt", doc.URI())
	a.Equal("text/plain", doc.Type())

	reader, err := doc.OpenReader(ctx)
	a.NoError(err)
	content, err := io.ReadAll(reader)
	a.NoError(err)
	a.Equal("plan", string(content))

	_, err = tree.Find(ctx, "drafts/idea.txt")
	a.ErrorIs(err, fs.ErrNotExist)
	_, err = tree.Create(ctx, bridge.DefaultMimeType, "a/b")
	a.ErrorIs(err, fs.ErrInvalid)

	created, err := tree.Create(ctx, bridge.DefaultMimeType, "todo.txt")
	require.NoError(t, err)
	writer, err := created.OpenWriter(ctx)
	a.NoError(err)
	_, err = io.WriteString(writer, "call Bob")
	a.NoError(err)
	a.NoError(writer.Close())
	a.ErrorIs(writer.Close(), fs.ErrClosed)
	a.EqualValues(8, created.Size())
	a.Equal("call Bob", string(service.blobs["work/todo.txt"].content))
	a.Equal(bridge.DefaultMimeType, service.blobs["work/todo.txt"].contentType)

	a.NoError(created.Delete(ctx))
	a.ErrorIs(created.Delete(ctx), fs.ErrNotExist)

	_, err = provider.OpenTree(ctx, "azblob://other/work")
	a.ErrorIs(err, bridge.ErrTreeUnavailable)
}

func TestAzureProviderWithBridge(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	composer := bridge.NewComposer()
	New(newFakeAzService("notes")).UseIn(composer)
	settings := memoryprefs.New()
	settings.UseIn(composer)
	require.NoError(t, settings.Set(ctx, bridge.DefaultSettingsName, bridge.DefaultGrantKey, "azblob://notes"))

	b, err := bridge.New(bridge.Config{Composer: composer})
	require.NoError(t, err)

	a.NoError(b.WriteEntry(ctx, "list.txt", "eggs"))
	content, err := b.ReadEntry(ctx, "list.txt")
	a.NoError(err)
	a.Equal("eggs", content)

	a.NoError(b.DeleteEntry(ctx, "list.txt"))
	_, err = b.ReadEntry(ctx, "list.txt")
	a.ErrorIs(err, bridge.ErrNotFound)
}

func TestAzureProviderReadOnlyPermission(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	service := newFakeAzService("notes")
	service.blobs["plan.txt"] = fakeBlob{content: []byte("plan")}

	provider := New(service)
	a.NoError(provider.TakePersistablePermission(ctx, "azblob://notes", bridge.PermissionRead))

	tree, err := provider.OpenTree(ctx, "azblob://notes")
	require.NoError(t, err)

	doc, err := tree.Find(ctx, "plan.txt")
	require.NoError(t, err)
	reader, err := doc.OpenReader(ctx)
	a.NoError(err)
	content, err := io.ReadAll(reader)
	a.NoError(err)
	a.Equal("plan", string(content))

	_, err = doc.OpenWriter(ctx)
	a.ErrorIs(err, fs.ErrPermission)
	a.ErrorIs(doc.Delete(ctx), fs.ErrPermission)
	_, err = tree.Create(ctx, bridge.DefaultMimeType, "todo.txt")
	a.ErrorIs(err, fs.ErrPermission)
	a.Len(service.blobs, 1)
}
