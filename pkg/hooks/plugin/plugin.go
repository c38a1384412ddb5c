// Package plugin provides a hook system based on Hashicorp's plugin system.
// You can write a plugin in many languages. The plugin is then executed as a
// separate process and communicates with the bridge over RPC. More details can
// be found at https://github.com/hashicorp/go-plugin.
//
// A Go plugin implements hooks.HookHandler and serves it using Serve.
package plugin

import (
	"fmt"
	"net/rpc"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/tus/doctree/pkg/hooks"
)

type PluginHook struct {
	Path string
	// Logger receives the output of the plugin process. Defaults to a logger
	// writing to stderr.
	Logger hclog.Logger

	client      *plugin.Client
	handlerImpl hooks.HookHandler
}

func (h *PluginHook) Setup() error {
	logger := h.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "doctree-plugin",
			Output: os.Stderr,
			Level:  hclog.Info,
		})
	}

	// We're a host! Start by launching the plugin process.
	h.client = plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: handshakeConfig,
		Plugins:         pluginMap,
		Cmd:             exec.Command(h.Path),
		SyncStdout:      os.Stdout,
		SyncStderr:      os.Stderr,
		Logger:          logger,
		Managed:         true,
	})

	rpcClient, err := h.client.Client()
	if err != nil {
		h.client.Kill()
		return fmt.Errorf("plugin: failed to start %s: %w", h.Path, err)
	}

	raw, err := rpcClient.Dispense("hookHandler")
	if err != nil {
		h.client.Kill()
		return fmt.Errorf("plugin: failed to dispense hook handler: %w", err)
	}

	// This feels like a normal interface implementation but is in fact over
	// an RPC connection.
	h.handlerImpl = raw.(hooks.HookHandler)

	return h.handlerImpl.Setup()
}

func (h *PluginHook) InvokeHook(req hooks.HookRequest) (hooks.HookResponse, error) {
	return h.handlerImpl.InvokeHook(req)
}

// Cleanup kills all plugin processes started by this package.
func Cleanup() {
	plugin.CleanupClients()
}

// Serve is called by plugin binaries to serve their hook handler.
func Serve(impl hooks.HookHandler) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]plugin.Plugin{
			"hookHandler": &HookHandlerPlugin{Impl: impl},
		},
	})
}

// handshakeConfig is used to just do a basic handshake between a plugin and
// host. If the handshake fails, a user friendly error is shown. This prevents
// users from executing bad plugins or executing a plugin directory. It is a
// UX feature, not a security feature.
var handshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DOCTREE_PLUGIN",
	MagicCookieValue: "yes",
}

// pluginMap is the map of plugins we can dispense.
var pluginMap = map[string]plugin.Plugin{
	"hookHandler": &HookHandlerPlugin{},
}

// HookHandlerRPC is the client side of the RPC connection.
type HookHandlerRPC struct{ client *rpc.Client }

func (g *HookHandlerRPC) Setup() error {
	var res interface{}
	return g.client.Call("Plugin.Setup", new(interface{}), &res)
}

func (g *HookHandlerRPC) InvokeHook(req hooks.HookRequest) (res hooks.HookResponse, err error) {
	// The context cannot cross the process boundary.
	req.Event.Context = nil
	err = g.client.Call("Plugin.InvokeHook", req, &res)
	return res, err
}

// HookHandlerRPCServer is the RPC server that HookHandlerRPC talks to,
// conforming to the requirements of net/rpc.
type HookHandlerRPCServer struct {
	Impl hooks.HookHandler
}

func (s *HookHandlerRPCServer) Setup(args interface{}, resp *interface{}) error {
	return s.Impl.Setup()
}

func (s *HookHandlerRPCServer) InvokeHook(args hooks.HookRequest, resp *hooks.HookResponse) (err error) {
	*resp, err = s.Impl.InvokeHook(args)
	return err
}

// HookHandlerPlugin implements plugin.Plugin. Server returns the RPC server
// wrapping Impl inside the plugin process, Client returns the RPC client used
// by the host.
type HookHandlerPlugin struct {
	Impl hooks.HookHandler
}

func (p *HookHandlerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &HookHandlerRPCServer{Impl: p.Impl}, nil
}

func (HookHandlerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &HookHandlerRPC{client: c}, nil
}
