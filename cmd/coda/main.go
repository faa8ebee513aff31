package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sokinpui/coda/cli"
	"github.com/sokinpui/coda/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return
	}
	if cli.IsCanceled(err) {
		ui.Warning("Interrupted.")
		os.Exit(130)
	}
	ui.Error("Error: %v", err)
	if stack := cli.StackTrace(err); stack != nil && cli.Verbose(cmd) {
		os.Stderr.Write(stack)
	}
	os.Exit(1)
}
