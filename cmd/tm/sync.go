package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jverity/tablemirror/internal/config"
	"github.com/jverity/tablemirror/internal/mirror/engine"
	"github.com/jverity/tablemirror/internal/mirror/store"
	"github.com/jverity/tablemirror/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass for every configured pair",
	Long: `Run a single synchronization pass for each configured pair, then exit.

Each pass:
  1. Snapshots both databases and diffs against the previous state
  2. Resolves rows changed on both sides (last writer wins)
  3. Applies the winning rows to each database in one transaction

Unlike 'tm run', a pass failure here is fatal.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(cfg.Pairs) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no pairs configured (run 'tm init')\n")
			os.Exit(1)
		}

		ctx := context.Background()

		for _, pc := range cfg.Pairs {
			fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("*"), pc.Name)
			start := time.Now()

			if err := runOnePass(ctx, pc); err != nil {
				fmt.Fprintf(os.Stderr, "%s Pass failed for %s: %v\n", ui.RenderError("x"), pc.Name, err)
				os.Exit(1)
			}

			fmt.Printf("%s %s converged in %v\n", ui.RenderPass("ok"), pc.Name, time.Since(start).Round(time.Millisecond))
		}
	},
}

// runOnePass opens the pair, performs exactly one pass, and closes everything.
func runOnePass(ctx context.Context, pc config.PairConfig) error {
	src, err := store.Open(pc.Src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", pc.Src, err)
	}
	defer src.Close()

	dst, err := store.Open(pc.Dst)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", pc.Dst, err)
	}
	defer dst.Close()

	eng, err := engine.New(src, dst, pc.Table)
	if err != nil {
		return err
	}
	eng.Stop()

	return eng.Process(ctx)
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
