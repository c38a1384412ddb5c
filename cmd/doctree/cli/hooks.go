package cli

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/tus/doctree/pkg/hooks"
	"github.com/tus/doctree/pkg/hooks/file"
	"github.com/tus/doctree/pkg/hooks/http"
	"github.com/tus/doctree/pkg/hooks/plugin"
)

// CreateHookHandler returns the hook handler configured using the flags or nil
// if no hooks are used. At most one kind of hooks can be active.
func CreateHookHandler() (hooks.HookHandler, error) {
	var hookHandler hooks.HookHandler

	if Flags.FileHooksDir != "" {
		printStartupLog("Using '%s' for hooks\n", Flags.FileHooksDir)

		hookHandler = &file.FileHook{
			Directory: Flags.FileHooksDir,
		}
	} else if Flags.HttpHooksEndpoint != "" {
		printStartupLog("Using '%s' as the endpoint for hooks\n", Flags.HttpHooksEndpoint)

		headers, err := parseHeaders(Flags.HttpHooksHeaders)
		if err != nil {
			return nil, err
		}

		hookHandler = &http.HttpHook{
			Endpoint:   Flags.HttpHooksEndpoint,
			MaxRetries: Flags.HttpHooksRetry,
			Backoff:    Flags.HttpHooksBackoff,
			Headers:    headers,
			Timeout:    Flags.HttpHooksTimeout,
			SizeLimit:  Flags.HttpHooksSizeLimit,
		}
	} else if Flags.PluginHookPath != "" {
		printStartupLog("Using '%s' to load plugin for hooks\n", Flags.PluginHookPath)

		level := hclog.Info
		if Flags.VerboseOutput {
			level = hclog.Debug
		}

		hookHandler = &plugin.PluginHook{
			Path: Flags.PluginHookPath,
			Logger: hclog.New(&hclog.LoggerOptions{
				Name:       "doctree-plugin",
				Level:      level,
				JSONFormat: Flags.LogFormat == "json",
			}),
		}
	} else {
		return nil, nil
	}

	var enabledHooksString []string
	for _, h := range Flags.EnabledHooks {
		enabledHooksString = append(enabledHooksString, string(h))
	}

	printStartupLog("Enabled hook events: %s\n", strings.Join(enabledHooksString, ", "))

	return hookHandler, nil
}
