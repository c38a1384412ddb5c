package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jnovack/flag"

	"github.com/tus/doctree/cmd/doctree/cli"
)

func main() {
	if err := cli.ParseFlags(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "[doctree] %s\n", err)
		os.Exit(2)
	}

	if cli.Flags.ShowVersion {
		cli.ShowVersion(os.Stdout)
		return
	}

	if err := cli.CreateComposer(); err != nil {
		fmt.Fprintf(os.Stderr, "[doctree] %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[doctree] Unable to serve: %s\n", err)
		os.Exit(1)
	}
}
