// Package hooks allows you to execute hooks based on events emitted from the
// bridge using the callbacks and notification channel. The actual hook systems
// are implemented in the subpackages and this package provides the glue
// between the bridge and the hook system. For example, to use the HTTP-based
// hook system:
//
//	import (
//		"github.com/tus/doctree/pkg/bridge"
//		"github.com/tus/doctree/pkg/hooks"
//		"github.com/tus/doctree/pkg/hooks/http"
//	)
//	config := bridge.Config{}
//	hookHandler := &http.HttpHook{
//		Endpoint: "https://example.com"
//	}
//	b, err := hooks.NewBridgeWithHooks(&config, hookHandler, hooks.AvailableHooks)
package hooks

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tus/doctree/internal/semaphore"
	"github.com/tus/doctree/pkg/bridge"
)

// HookHandler is the main interface to be implemented by all hook backends.
type HookHandler interface {
	// Setup is invoked once the hook backend is initialized.
	Setup() error
	// InvokeHook is invoked for every hook that is executed. req contains the
	// hook type and the event of the bridge.
	// The return value res allows to reject a write. If err is not nil, the
	// value of res will be ignored. err should only be non-nil if the hook
	// failed to complete successfully.
	InvokeHook(req HookRequest) (res HookResponse, err error)
}

// HookRequest contains the information about the hook type and the event.
type HookRequest struct {
	// Type is the name of the hook.
	Type HookType
	// Event contains the granted folder and the involved entry, if any.
	Event bridge.Event
}

// HookResponse is the response after a hook is executed.
type HookResponse struct {
	// RejectWrite will cause the entry not to be written. This value is only
	// respected for pre-write hooks.
	RejectWrite bool
	// Message is returned to the caller instead of the default message if the
	// write has been rejected.
	Message string
}

type HookType string

const (
	HookPreWrite   HookType = "pre-write"
	HookPostWrite  HookType = "post-write"
	HookPostDelete HookType = "post-delete"
	HookPostGrant  HookType = "post-grant"
)

// AvailableHooks is a slice of all hooks that are implemented.
var AvailableHooks []HookType = []HookType{HookPreWrite, HookPostWrite, HookPostDelete, HookPostGrant}

func preWriteCallback(event bridge.Event, hookHandler HookHandler, logger *slog.Logger) error {
	ok, hookRes, err := invokeHookSync(HookPreWrite, event, hookHandler, logger)
	if !ok || err != nil {
		return bridge.ErrWriteFailed.WithCause(err)
	}

	if hookRes.RejectWrite {
		err := bridge.ErrWriteRejected
		if hookRes.Message != "" {
			err.Message = hookRes.Message
		}
		return err
	}

	return nil
}

var MetricsHookErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "doctree_hook_errors_total",
		Help: "Total number of execution errors per hook type.",
	},
	[]string{"hooktype"},
)

var MetricsHookInvocationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "doctree_hook_invocations_total",
		Help: "Total number of invocations per hook type.",
	},
	[]string{"hooktype"},
)

// SetupHookMetrics initializes the counters of all hook types with zero, so
// they are exported before the first invocation.
func SetupHookMetrics() {
	for _, typ := range AvailableHooks {
		MetricsHookErrorsTotal.WithLabelValues(string(typ)).Add(0)
		MetricsHookInvocationsTotal.WithLabelValues(string(typ)).Add(0)
	}
}

// MaxConcurrentPostHooks limits how many post-* hooks of a bridge run at the
// same time. Further events wait until a running hook finished.
var MaxConcurrentPostHooks = 16

func invokeHookAsync(typ HookType, event bridge.Event, hookHandler HookHandler, logger *slog.Logger, sem semaphore.Semaphore) {
	go func() {
		sem.Acquire()
		defer sem.Release()

		// Error handling is taken care by the function.
		_, _, _ = invokeHookSync(typ, event, hookHandler, logger)
	}()
}

// invokeHookSync executes a hook of the given type with the given event data.
// If the hook was not executed properly, ok will be false and res is not
// filled. err can contain the underlying error.
func invokeHookSync(typ HookType, event bridge.Event, hookHandler HookHandler, logger *slog.Logger) (ok bool, res HookResponse, err error) {
	MetricsHookInvocationsTotal.WithLabelValues(string(typ)).Add(1)

	name := event.Entry.Name

	logger.Debug("HookInvocationStart", "type", typ, "name", name)

	res, err = hookHandler.InvokeHook(HookRequest{
		Type:  typ,
		Event: event,
	})
	if err != nil {
		// If an error occurs during the hook execution, we log and track the
		// error, but do not return a hook response.
		logger.Error("HookInvocationError", "type", typ, "name", name, "error", err.Error())
		MetricsHookErrorsTotal.WithLabelValues(string(typ)).Add(1)
		return false, HookResponse{}, err
	}

	logger.Debug("HookInvocationFinish", "type", typ, "name", name)

	return true, res, nil
}

// hookTypeFor returns the post-* hook for an event sent on the Events channel.
func hookTypeFor(typ bridge.EventType) (HookType, bool) {
	switch typ {
	case bridge.EventFolderGranted:
		return HookPostGrant, true
	case bridge.EventEntryWritten:
		return HookPostWrite, true
	case bridge.EventEntryDeleted:
		return HookPostDelete, true
	}
	return "", false
}

// NewBridgeWithHooks creates a bridge, whose notification channel and
// callbacks are configured to emit the hooks on the provided hook handler.
// NewBridgeWithHooks will overwrite the config.NotifyEvents and
// config.PreWriteCallback fields depending on the enabled hooks. Non-enabled
// hooks will not be emitted. Hook invocations are logged to config.Logger, or
// the default slog logger if it is nil.
//
// Note: NewBridgeWithHooks sets up a goroutine to consume the Events channel
// of the created bridge. It must not be consumed by the caller or otherwise
// events might not be passed to the hook handler.
func NewBridgeWithHooks(config *bridge.Config, hookHandler HookHandler, enabledHooks []HookType) (*bridge.FolderAccessBridge, error) {
	if err := hookHandler.Setup(); err != nil {
		return nil, fmt.Errorf("unable to setup hooks for bridge: %s", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledPost := make(map[HookType]bool)
	for _, typ := range []HookType{HookPostWrite, HookPostDelete, HookPostGrant} {
		enabledPost[typ] = slices.Contains(enabledHooks, typ)
	}
	config.NotifyEvents = enabledPost[HookPostWrite] || enabledPost[HookPostDelete] || enabledPost[HookPostGrant]

	if slices.Contains(enabledHooks, HookPreWrite) {
		config.PreWriteCallback = func(event bridge.Event) error {
			return preWriteCallback(event, hookHandler, logger)
		}
	}

	b, err := bridge.New(*config)
	if err != nil {
		return nil, err
	}

	if config.NotifyEvents {
		sem := semaphore.New(MaxConcurrentPostHooks)
		go func() {
			for event := range b.Events {
				typ, ok := hookTypeFor(event.Type)
				if !ok || !enabledPost[typ] {
					continue
				}
				invokeHookAsync(typ, event, hookHandler, logger, sem)
			}
		}()
	}

	return b, nil
}
