package cli

import (
	"fmt"
	"log"
	"log/slog"
	"os"
)

var stdout = log.New(os.Stdout, "[doctree] ", log.Ldate|log.Ltime)

// printStartupLog prints details about the configuration, unless disabled
// using -show-startup-logs=false.
func printStartupLog(format string, v ...any) {
	if Flags.ShowStartupLogs {
		stdout.Printf(format, v...)
	}
}

func SetupStructuredLogger() error {
	level := slog.LevelInfo
	if Flags.VerboseOutput {
		level = slog.LevelDebug
	}

	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch Flags.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, options)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, options)
	default:
		return fmt.Errorf("invalid log format %q, must be text or json", Flags.LogFormat)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
