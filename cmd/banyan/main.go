// Package main provides the banyan CLI: a one-shot prompt runner plus
// housekeeping commands for the session store and model catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "banyan",
		Short:         "Agent session runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildModelsCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// defaultCatalogPath is where `banyan` looks for the model catalog unless
// --catalog overrides it.
func defaultCatalogPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "catalog.yaml"
	}
	return filepath.Join(dir, "banyan", "catalog.yaml")
}

// defaultSessionDir is where session logs are persisted unless --session-dir
// overrides it.
func defaultSessionDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "sessions"
	}
	return filepath.Join(dir, "banyan", "sessions")
}
