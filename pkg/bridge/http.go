package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// maxRequestBodySize limits the JSON bodies accepted by the Handler.
const maxRequestBodySize = 64 << 20

// Handler exposes a FolderAccessBridge over HTTP. Each operation is mounted
// on its own route and exchanges JSON documents:
//
//	POST /requestFolderAccess      -> {"uri": "..."}
//	GET  /getPersistedFolder       -> {"uri": "..." | null}
//	GET  /listEntries              -> {"files": [{"name","uri","type","size"}]}
//	POST /writeEntry  {"name","data"}
//	POST /readEntry   {"name"}     -> {"data": "..."}
//	POST /deleteEntry {"name"}
//	GET  /selection                -> {"token": "...", ...} or 204
//	POST /selection/{token} {"confirmed","uri","flags"}
//
// The last two routes allow a picker host in another process to answer
// folder selections, see picker.RemotePicker.
type Handler struct {
	bridge *FolderAccessBridge
	mux    *http.ServeMux
}

// NewHandler creates a routed HTTP handler for the bridge.
func NewHandler(b *FolderAccessBridge) *Handler {
	h := &Handler{
		bridge: b,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /requestFolderAccess", h.RequestFolderAccess)
	h.mux.HandleFunc("GET /getPersistedFolder", h.GetPersistedFolder)
	h.mux.HandleFunc("GET /listEntries", h.ListEntries)
	h.mux.HandleFunc("POST /writeEntry", h.WriteEntry)
	h.mux.HandleFunc("POST /readEntry", h.ReadEntry)
	h.mux.HandleFunc("POST /deleteEntry", h.DeleteEntry)
	h.mux.HandleFunc("GET /selection", h.GetSelection)
	h.mux.HandleFunc("POST /selection/{token}", h.CompleteSelection)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.bridge.logger.Debug("RequestIncoming", "method", r.Method, "path", r.URL.Path)
	h.mux.ServeHTTP(w, r)
}

type uriResponse struct {
	URI *string `json:"uri"`
}

type entryRequest struct {
	Name *string `json:"name"`
	Data *string `json:"data"`
}

// RequestFolderAccess shows the picker and responds with the selected URI once
// the user made a choice.
func (h *Handler) RequestFolderAccess(w http.ResponseWriter, r *http.Request) {
	uri, err := h.bridge.RequestFolderAccess(r.Context())
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, r, http.StatusOK, uriResponse{URI: &uri})
}

// GetPersistedFolder responds with the granted URI or null.
func (h *Handler) GetPersistedFolder(w http.ResponseWriter, r *http.Request) {
	res := uriResponse{}
	if uri, ok := h.bridge.GetPersistedFolder(r.Context()); ok {
		res.URI = &uri
	}

	h.sendJSON(w, r, http.StatusOK, res)
}

// ListEntries responds with the regular files inside the granted folder.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.bridge.ListEntries(r.Context())
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, r, http.StatusOK, struct {
		Files []Entry `json:"files"`
	}{entries})
}

// WriteEntry writes the data from the request body into the named entry.
func (h *Handler) WriteEntry(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeEntryRequest(w, r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	if req.Name == nil || req.Data == nil {
		h.sendError(w, r, missingArgument("name or data"))
		return
	}

	if err := h.bridge.WriteEntry(r.Context(), *req.Name, *req.Data); err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendResp(w, r, http.StatusNoContent)
}

// ReadEntry responds with the content of the named entry.
func (h *Handler) ReadEntry(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeEntryRequest(w, r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	if req.Name == nil {
		h.sendError(w, r, missingArgument("name"))
		return
	}

	data, err := h.bridge.ReadEntry(r.Context(), *req.Name)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSON(w, r, http.StatusOK, struct {
		Data string `json:"data"`
	}{data})
}

// DeleteEntry removes the named entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeEntryRequest(w, r)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	if req.Name == nil {
		h.sendError(w, r, missingArgument("name"))
		return
	}

	if err := h.bridge.DeleteEntry(r.Context(), *req.Name); err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendResp(w, r, http.StatusNoContent)
}

// GetSelection responds with the outstanding folder selection or with 204 No
// Content if there is none.
func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	req, ok := h.bridge.PendingSelection()
	if !ok {
		h.sendResp(w, r, http.StatusNoContent)
		return
	}

	h.sendJSON(w, r, http.StatusOK, req)
}

// CompleteSelection delivers the picker result for the token in the path.
func (h *Handler) CompleteSelection(w http.ResponseWriter, r *http.Request) {
	var result SelectionResult
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&result); err != nil && !errors.Is(err, io.EOF) {
		h.sendError(w, r, missingArgument("selection result").WithCause(err))
		return
	}

	if err := h.bridge.CompleteSelection(r.PathValue("token"), result); err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendResp(w, r, http.StatusNoContent)
}

func (h *Handler) decodeEntryRequest(w http.ResponseWriter, r *http.Request) (entryRequest, error) {
	var req entryRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return req, missingArgument("arguments").WithCause(err)
	}

	return req, nil
}

// sendError writes err as a JSON document. Causes of errors are logged, but
// not exposed to the client.
func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	bErr, ok := err.(Error)
	if !ok && !errors.As(err, &bErr) {
		h.bridge.logger.Error("InternalServerError", "method", r.Method, "path", r.URL.Path, "error", err)
		bErr = NewError("ERR_INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	}

	h.sendJSON(w, r, bErr.StatusCode, struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{bErr.ErrorCode, bErr.Message})
}

func (h *Handler) sendJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		h.bridge.logger.Error("ResponseEncodeError", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"code":"ERR_INTERNAL_SERVER_ERROR","message":"Internal server error"}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	w.Write(data)

	h.bridge.logger.Debug("ResponseOutgoing", "status", status, "method", r.Method, "path", r.URL.Path)
}

func (h *Handler) sendResp(w http.ResponseWriter, r *http.Request, status int) {
	w.WriteHeader(status)

	h.bridge.logger.Debug("ResponseOutgoing", "status", status, "method", r.Method, "path", r.URL.Path)
}
