package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corkboard",
		Short: "Realtime collaboration gateway for shared canvases",
		Long: `Corkboard is the realtime collaboration engine behind shared
canvas boards: an authenticated WebSocket gateway with room-based
presence and an event relay that fans confirmed mutations and cursor
positions out to every other member of a board.

Durable element and vote storage lives in a separate CRUD service;
corkboard relays only what that service has confirmed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
