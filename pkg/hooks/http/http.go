// Package http implements a HTTP-based hook system. For each hook event, it
// will send a POST request to the specified endpoint. The body is a
// JSON-formatted object including the hook type and the event.
// By responding with a JSON object, a pre-write hook can reject the write.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/sethgrid/pester"

	"github.com/tus/doctree/pkg/hooks"
)

type HttpHook struct {
	Endpoint   string
	MaxRetries int
	Backoff    time.Duration
	// Headers are added to every hook request, e.g. for authentication.
	Headers   map[string]string
	Timeout   time.Duration
	SizeLimit int64

	client *pester.Client
}

func (h *HttpHook) Setup() error {
	// Use linear backoff strategy with the user defined values.
	client := pester.New()
	client.KeepLog = true
	client.MaxRetries = h.MaxRetries
	client.Backoff = func(_ int) time.Duration {
		return h.Backoff
	}

	h.client = client

	return nil
}

func (h *HttpHook) InvokeHook(hookReq hooks.HookRequest) (hookRes hooks.HookResponse, err error) {
	jsonInfo, err := json.Marshal(hookReq)
	if err != nil {
		return hookRes, err
	}

	ctx := hookReq.Event.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", h.Endpoint, bytes.NewBuffer(jsonInfo))
	if err != nil {
		return hookRes, err
	}

	for k, v := range h.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Hook-Name", string(hookReq.Type))

	httpRes, err := h.client.Do(httpReq)
	if err != nil {
		return hookRes, err
	}
	defer httpRes.Body.Close()

	httpBody, err := io.ReadAll(io.LimitReader(httpRes.Body, h.SizeLimit+1))
	if err != nil {
		return hookRes, err
	}

	// Report an error, if the response has a non-2XX status code
	if httpRes.StatusCode < http.StatusOK || httpRes.StatusCode >= http.StatusMultipleChoices {
		return hookRes, fmt.Errorf("unexpected response code from hook endpoint (%d): %s", httpRes.StatusCode, string(httpBody))
	}

	if int64(len(httpBody)) > h.SizeLimit {
		return hookRes, fmt.Errorf("hook response exceeded maximum size of %d bytes", h.SizeLimit)
	}

	// An empty response accepts the event.
	if len(httpBody) == 0 {
		return hookRes, nil
	}

	contentType := httpRes.Header.Get("Content-Type")
	if contentType == "" {
		return hookRes, fmt.Errorf("hook response does not contain the 'Content-Type: application/json' header")
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return hookRes, fmt.Errorf("failed to parse Content-Type header: %w", err)
	}
	if mediaType != "application/json" {
		return hookRes, fmt.Errorf("expected hook response Content-Type to be application/json, but got '%s'", contentType)
	}

	if err = json.Unmarshal(httpBody, &hookRes); err != nil {
		return hookRes, fmt.Errorf("failed to parse hook response: %w", err)
	}

	return hookRes, nil
}
