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
		Use:   "leaseline",
		Short: "Leasing pipeline backend with optimistic-update APIs",
		Long: `Leaseline serves the REST API behind the leasing pipeline UI.

The API speaks the data-envelope contract the optimistic client engines
expect: instant local edits reconcile against confirmed entities, ordered
lists persist through an atomic two-phase reorder, and a websocket feed
pushes confirmed mutations to open clients.`,
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
