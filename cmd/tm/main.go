// tm keeps pairs of SQLite databases converged.
//
// Both databases of a pair stay independently writable; tm periodically
// detects divergence, resolves conflicting rows, and applies the winning
// versions to the other side.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jverity/tablemirror/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Bidirectional SQLite replication",
	Long: `tm mirrors a table between two independently writable SQLite databases.

Neither database is the leader: rows inserted, updated, or deleted on either
side are detected and carried to the other. Conflicting edits to the same row
are resolved last-writer-wins.

Configuration lives in tablemirror.yaml (see 'tm init').`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to tablemirror.yaml")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
