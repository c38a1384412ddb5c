package hooks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	gomock "github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tus/doctree/pkg/bridge"
	"github.com/tus/doctree/pkg/dirprovider"
	"github.com/tus/doctree/pkg/memoryprefs"
)

//go:generate mockgen -source=hooks.go -destination=hooks_mock_test.go -package=hooks

// hookType matches a HookRequest by its type and the name of the entry.
type hookType struct {
	typ  HookType
	name string
}

func (m hookType) Matches(x interface{}) bool {
	req, ok := x.(HookRequest)
	return ok && req.Type == m.typ && req.Event.Entry.Name == m.name
}

func (m hookType) String() string {
	return "is " + string(m.typ) + " hook for " + m.name
}

func newTestConfig(t *testing.T) (*bridge.Config, string) {
	dir := t.TempDir()
	uri, err := dirprovider.URIFromPath(dir)
	require.NoError(t, err)

	composer := bridge.NewComposer()
	dirprovider.New().UseIn(composer)
	settings := memoryprefs.New()
	settings.UseIn(composer)
	require.NoError(t, settings.Set(context.Background(), bridge.DefaultSettingsName, bridge.DefaultGrantKey, uri))

	return &bridge.Config{
		Composer: composer,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, dir
}

func TestNewBridgeWithHooks(t *testing.T) {
	a := assert.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	config, dir := newTestConfig(t)
	hookHandler := NewMockHookHandler(ctrl)

	postWrite := make(chan HookRequest, 1)
	postDelete := make(chan HookRequest, 1)

	gomock.InOrder(
		hookHandler.EXPECT().Setup(),
		hookHandler.EXPECT().InvokeHook(hookType{HookPreWrite, "allowed.txt"}).DoAndReturn(func(req HookRequest) (HookResponse, error) {
			a.EqualValues(5, req.Event.Entry.Size)
			a.Equal(bridge.EventEntryWriting, req.Event.Type)
			return HookResponse{}, nil
		}),
		hookHandler.EXPECT().InvokeHook(hookType{HookPostWrite, "allowed.txt"}).DoAndReturn(func(req HookRequest) (HookResponse, error) {
			postWrite <- req
			return HookResponse{}, nil
		}),
		hookHandler.EXPECT().InvokeHook(hookType{HookPreWrite, "rejected.txt"}).Return(HookResponse{
			RejectWrite: true,
			Message:     "quota exceeded",
		}, nil),
		hookHandler.EXPECT().InvokeHook(hookType{HookPreWrite, "broken.txt"}).Return(HookResponse{}, errors.New("oh no")),
		hookHandler.EXPECT().InvokeHook(hookType{HookPostDelete, "allowed.txt"}).DoAndReturn(func(req HookRequest) (HookResponse, error) {
			postDelete <- req
			return HookResponse{}, nil
		}),
	)

	b, err := NewBridgeWithHooks(config, hookHandler, AvailableHooks)
	require.NoError(t, err)
	a.True(config.NotifyEvents)
	a.NotNil(config.PreWriteCallback)

	ctx := context.Background()
	a.NoError(b.WriteEntry(ctx, "allowed.txt", "hello"))

	select {
	case req := <-postWrite:
		a.Equal(bridge.EventEntryWritten, req.Event.Type)
		a.EqualValues(5, req.Event.Entry.Size)
	case <-time.After(time.Second):
		t.Fatal("post-write hook was not invoked")
	}

	err = b.WriteEntry(ctx, "rejected.txt", "data")
	a.ErrorIs(err, bridge.ErrWriteRejected)
	var bErr bridge.Error
	require.True(t, errors.As(err, &bErr))
	a.Equal("quota exceeded", bErr.Message)
	a.NoFileExists(filepath.Join(dir, "rejected.txt"))

	// The write is not performed if the hook could not be executed
	a.ErrorIs(b.WriteEntry(ctx, "broken.txt", "data"), bridge.ErrWriteFailed)
	a.NoFileExists(filepath.Join(dir, "broken.txt"))

	a.NoError(b.DeleteEntry(ctx, "allowed.txt"))
	select {
	case req := <-postDelete:
		a.Equal(bridge.EventEntryDeleted, req.Event.Type)
	case <-time.After(time.Second):
		t.Fatal("post-delete hook was not invoked")
	}
	_, err = os.Stat(filepath.Join(dir, "allowed.txt"))
	a.True(os.IsNotExist(err))
}

func TestNewBridgeWithHooksSubset(t *testing.T) {
	a := assert.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	config, _ := newTestConfig(t)
	hookHandler := NewMockHookHandler(ctrl)
	hookHandler.EXPECT().Setup()

	b, err := NewBridgeWithHooks(config, hookHandler, []HookType{HookPostGrant})
	require.NoError(t, err)
	a.True(config.NotifyEvents)
	a.Nil(config.PreWriteCallback)

	// Events of disabled hooks are consumed without invoking the handler
	a.NoError(b.WriteEntry(context.Background(), "notes.txt", "content"))
}

func TestNewBridgeWithHooksSetupError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	config, _ := newTestConfig(t)
	hookHandler := NewMockHookHandler(ctrl)
	hookHandler.EXPECT().Setup().Return(errors.New("no such endpoint"))

	_, err := NewBridgeWithHooks(config, hookHandler, AvailableHooks)
	assert.Error(t, err)
}

func TestHookMetrics(t *testing.T) {
	a := assert.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	SetupHookMetrics()
	before := testutil.ToFloat64(MetricsHookErrorsTotal.WithLabelValues(string(HookPreWrite)))
	invocationsBefore := testutil.ToFloat64(MetricsHookInvocationsTotal.WithLabelValues(string(HookPreWrite)))

	hookHandler := NewMockHookHandler(ctrl)
	hookHandler.EXPECT().InvokeHook(gomock.Any()).Return(HookResponse{}, errors.New("failed"))

	ok, _, err := invokeHookSync(HookPreWrite, bridge.Event{Type: bridge.EventEntryWriting}, hookHandler, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.False(ok)
	a.Error(err)
	a.Equal(before+1, testutil.ToFloat64(MetricsHookErrorsTotal.WithLabelValues(string(HookPreWrite))))
	a.Equal(invocationsBefore+1, testutil.ToFloat64(MetricsHookInvocationsTotal.WithLabelValues(string(HookPreWrite))))
}

func TestNewBridgeWithHooksLogger(t *testing.T) {
	a := assert.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var logs bytes.Buffer
	config, _ := newTestConfig(t)
	config.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hookHandler := NewMockHookHandler(ctrl)
	gomock.InOrder(
		hookHandler.EXPECT().Setup(),
		hookHandler.EXPECT().InvokeHook(hookType{HookPreWrite, "notes.txt"}).Return(HookResponse{}, errors.New("hook unreachable")),
	)

	b, err := NewBridgeWithHooks(config, hookHandler, []HookType{HookPreWrite})
	require.NoError(t, err)

	a.ErrorIs(b.WriteEntry(context.Background(), "notes.txt", "content"), bridge.ErrWriteFailed)
	a.Contains(logs.String(), "msg=HookInvocationStart type=pre-write name=notes.txt")
	a.Contains(logs.String(), "msg=HookInvocationError type=pre-write name=notes.txt")
	a.Contains(logs.String(), "hook unreachable")
}
