// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/tarvos-labs/deskpilot/cmd"
)

// main is the entry point for the Deskpilot CLI application.
func main() {
	// Cancellation is cooperative: an interrupt stops the agent between
	// cycles, never mid-action.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute(ctx)
}
