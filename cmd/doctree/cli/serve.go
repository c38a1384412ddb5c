package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/tus/doctree/pkg/bridge"
	"github.com/tus/doctree/pkg/hooks"
	"github.com/tus/doctree/pkg/hooks/plugin"
)

// CreateBridge creates the bridge from the composer and attaches the hooks.
func CreateBridge() (*bridge.FolderAccessBridge, error) {
	config := bridge.Config{
		Composer:           Composer,
		SettingsName:       Flags.SettingsName,
		GrantKey:           Flags.GrantKey,
		SelectionTimeout:   Flags.SelectionTimeout,
		AcquireLockTimeout: Flags.AcquireLockTimeout,
		MaxReadSize:        Flags.MaxReadSize,
		Logger:             slog.Default(),
	}

	hookHandler, err := CreateHookHandler()
	if err != nil {
		return nil, err
	}

	var b *bridge.FolderAccessBridge
	if hookHandler != nil {
		if _, ok := hookHandler.(*plugin.PluginHook); ok {
			closers = append(closers, closerFunc(plugin.Cleanup))
		}
		b, err = hooks.NewBridgeWithHooks(&config, hookHandler, Flags.EnabledHooks)
	} else {
		b, err = bridge.New(config)
	}
	if err != nil {
		return nil, err
	}

	if TerminalPicker != nil {
		TerminalPicker.Bind(b)
	}

	return b, nil
}

// SetupHandler mounts the bridge routes below the base path, next to the
// greeting, metrics and pprof endpoints.
func SetupHandler(b *bridge.FolderAccessBridge) (http.Handler, error) {
	basepath := normalizeBasepath(Flags.Basepath)
	Flags.Basepath = basepath
	PrepareGreeting()

	var bridgeHandler http.Handler = bridge.NewHandler(b)
	if Flags.RateLimit > 0 {
		bridgeHandler = RateLimit(bridgeHandler, Flags.RateLimit, Flags.RateLimitBurst)
		printStartupLog("Limiting bridge requests to %g per second.\n", Flags.RateLimit)
	}

	mux := http.NewServeMux()
	mux.Handle(basepath, http.StripPrefix(strings.TrimSuffix(basepath, "/"), bridgeHandler))
	printStartupLog("Using %s as the base path.\n", basepath)

	// Do not display the greeting if the bridge is mounted at the root path.
	// Else this would cause a "multiple registrations for /" panic.
	if basepath != "/" && Flags.ShowGreeting {
		mux.HandleFunc("/", DisplayGreeting)
	}

	if Flags.ExposeMetrics {
		SetupMetrics(mux, b)
	}

	if Flags.ExposePprof {
		if err := SetupPprof(mux); err != nil {
			return nil, err
		}
	}

	var handler http.Handler = mux
	if Flags.EnableH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	return handler, nil
}

// Serve runs the server until ctx is cancelled or the listener fails. On
// cancellation, open requests get -shutdown-timeout to complete.
func Serve(ctx context.Context) error {
	defer closeComponents()

	b, err := CreateBridge()
	if err != nil {
		return err
	}

	handler, err := SetupHandler(b)
	if err != nil {
		return err
	}

	address := Flags.HttpHost + ":" + Flags.HttpPort
	listener, err := NewListener(address, Flags.HttpSock, Flags.NetworkTimeout)
	if err != nil {
		return err
	}
	if Flags.HttpSock != "" {
		printStartupLog("Using %s as socket to listen.\n", Flags.HttpSock)
	} else {
		printStartupLog("Using %s as address to listen.\n", address)
	}

	server := &http.Server{
		Handler: handler,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()

		slog.Info("ShutdownStarted", "timeout", Flags.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), Flags.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ShutdownTimeout", "error", err)
			return server.Close()
		}

		slog.Info("ShutdownCompleted")
		return nil
	})

	return group.Wait()
}

func normalizeBasepath(basepath string) string {
	if !strings.HasPrefix(basepath, "/") {
		basepath = "/" + basepath
	}
	if !strings.HasSuffix(basepath, "/") {
		basepath += "/"
	}
	return basepath
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
