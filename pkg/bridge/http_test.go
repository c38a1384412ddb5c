package bridge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tus/doctree/pkg/bridge"
)

func TestHandlerEntries(t *testing.T) {
	b, tree, _ := newGrantedBridge(t, nil)
	tree.put("hello.txt", "world")
	handler := bridge.NewHandler(b)

	(&httpTest{
		Name:   "List",
		Method: "GET",
		URL:    "/listEntries",
		Code:   http.StatusOK,
		ResHeader: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
		ResBody: `{"files":[{"name":"hello.txt","uri":"mem://documents/hello.txt","type":"text/plain","size":5}]}`,
	}).Run(handler, t)

	(&httpTest{
		Name:    "Read",
		Method:  "POST",
		URL:     "/readEntry",
		ReqBody: strings.NewReader(`{"name":"hello.txt"}`),
		Code:    http.StatusOK,
		ResBody: `{"data":"world"}`,
	}).Run(handler, t)

	(&httpTest{
		Name:    "Write",
		Method:  "POST",
		URL:     "/writeEntry",
		ReqBody: strings.NewReader(`{"name":"new.txt","data":"content"}`),
		Code:    http.StatusNoContent,
	}).Run(handler, t)

	(&httpTest{
		Name:    "WriteEmpty",
		Method:  "POST",
		URL:     "/writeEntry",
		ReqBody: strings.NewReader(`{"name":"empty.txt","data":""}`),
		Code:    http.StatusNoContent,
	}).Run(handler, t)

	content, err := b.ReadEntry(context.Background(), "new.txt")
	assert.NoError(t, err)
	assert.Equal(t, "content", content)

	(&httpTest{
		Name:    "Delete",
		Method:  "POST",
		URL:     "/deleteEntry",
		ReqBody: strings.NewReader(`{"name":"new.txt"}`),
		Code:    http.StatusNoContent,
	}).Run(handler, t)

	(&httpTest{
		Name:    "ReadDeleted",
		Method:  "POST",
		URL:     "/readEntry",
		ReqBody: strings.NewReader(`{"name":"new.txt"}`),
		Code:    http.StatusNotFound,
		ResBody: `{"code":"ERR_NOT_FOUND","message":"File not found"}`,
	}).Run(handler, t)
}

func TestHandlerErrors(t *testing.T) {
	b, _, _ := newTestBridge(t, nil, nil)
	handler := bridge.NewHandler(b)

	tests := []httpTest{
		{
			Name:    "NoGrant",
			Method:  "GET",
			URL:     "/listEntries",
			Code:    http.StatusConflict,
			ResBody: `{"code":"ERR_NO_GRANT","message":"No persisted folder"}`,
		},
		{
			Name:    "WriteMissingData",
			Method:  "POST",
			URL:     "/writeEntry",
			ReqBody: strings.NewReader(`{"name":"a.txt"}`),
			Code:    http.StatusBadRequest,
			ResBody: `{"code":"ERR_MISSING_ARGUMENT","message":"Missing name or data"}`,
		},
		{
			Name:    "ReadMissingName",
			Method:  "POST",
			URL:     "/readEntry",
			ReqBody: strings.NewReader(`{}`),
			Code:    http.StatusBadRequest,
			ResBody: `{"code":"ERR_MISSING_ARGUMENT","message":"Missing name"}`,
		},
		{
			Name:    "DeleteEmptyBody",
			Method:  "POST",
			URL:     "/deleteEntry",
			ReqBody: strings.NewReader(``),
			Code:    http.StatusBadRequest,
			ResBody: `{"code":"ERR_MISSING_ARGUMENT","message":"Missing name"}`,
		},
		{
			Name:    "MalformedBody",
			Method:  "POST",
			URL:     "/readEntry",
			ReqBody: strings.NewReader(`{"name":`),
			Code:    http.StatusBadRequest,
		},
		{
			Name:    "NoPickerHost",
			Method:  "POST",
			URL:     "/requestFolderAccess",
			Code:    http.StatusServiceUnavailable,
			ResBody: `{"code":"ERR_NO_PICKER_HOST","message":"No host available to show the folder picker"}`,
		},
		{
			Name:    "UnknownSelection",
			Method:  "POST",
			URL:     "/selection/abc",
			ReqBody: strings.NewReader(`{"confirmed":true,"uri":"mem://documents"}`),
			Code:    http.StatusNotFound,
		},
		{
			Name:   "NoSelection",
			Method: "GET",
			URL:    "/selection",
			Code:   http.StatusNoContent,
		},
		{
			Name:   "WrongMethod",
			Method: "GET",
			URL:    "/writeEntry",
			Code:   http.StatusMethodNotAllowed,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			test.Run(handler, t)
		})
	}
}

func TestHandlerGetPersistedFolder(t *testing.T) {
	b, _, settings := newTestBridge(t, nil, nil)
	handler := bridge.NewHandler(b)

	(&httpTest{
		Method:  "GET",
		URL:     "/getPersistedFolder",
		Code:    http.StatusOK,
		ResBody: `{"uri":null}`,
	}).Run(handler, t)

	require.NoError(t, settings.Set(context.Background(), bridge.DefaultSettingsName, bridge.DefaultGrantKey, treeURI))

	(&httpTest{
		Method:  "GET",
		URL:     "/getPersistedFolder",
		Code:    http.StatusOK,
		ResBody: `{"uri":"mem://documents"}`,
	}).Run(handler, t)
}

func TestHandlerSelection(t *testing.T) {
	a := assert.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	picker := NewMockFullPicker(ctrl)

	b, _, settings := newTestBridge(t, picker, nil)
	handler := bridge.NewHandler(b)

	shown := make(chan struct{})
	picker.EXPECT().ShowPicker(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, bridge.SelectionRequest) error {
		close(shown)
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		(&httpTest{
			Method:  "POST",
			URL:     "/requestFolderAccess",
			Code:    http.StatusOK,
			ResBody: `{"uri":"mem://documents"}`,
		}).Run(handler, t)
	}()

	<-shown
	w := (&httpTest{
		Method: "GET",
		URL:    "/selection",
		Code:   http.StatusOK,
	}).Run(handler, t)

	var req bridge.SelectionRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
	a.NotEmpty(req.Token)
	a.Equal(bridge.PermissionReadWrite, req.Flags)

	(&httpTest{
		Method:  "POST",
		URL:     "/selection/" + req.Token,
		ReqBody: strings.NewReader(`{"confirmed":true,"uri":"mem://documents","flags":3}`),
		Code:    http.StatusNoContent,
	}).Run(handler, t)

	<-done
	a.Equal(treeURI, settings.stored())

	// The token cannot be used twice.
	(&httpTest{
		Method:  "POST",
		URL:     "/selection/" + req.Token,
		ReqBody: strings.NewReader(`{"confirmed":true,"uri":"mem://other"}`),
		Code:    http.StatusNotFound,
		ResBody: `{"code":"ERR_UNKNOWN_SELECTION","message":"No pending folder selection with this token"}`,
	}).Run(handler, t)
}
