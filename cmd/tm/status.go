package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jverity/tablemirror/internal/config"
	"github.com/jverity/tablemirror/internal/mirror/store"
	"github.com/jverity/tablemirror/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts for every configured pair",
	Long: `Display the current state of each configured pair.

Shows each database's row count for the mirrored table. Matching counts do
not prove the contents are identical, but diverging counts always mean a
pass is outstanding.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(cfg.Pairs) == 0 {
			fmt.Printf("%s No pairs configured (run 'tm init')\n", ui.RenderWarn("!"))
			return
		}

		ctx := context.Background()

		fmt.Printf("\n%s Pair Status\n\n", ui.RenderAccent("*"))
		for _, pc := range cfg.Pairs {
			srcCount, srcErr := countRows(ctx, pc.Src, &pc)
			dstCount, dstErr := countRows(ctx, pc.Dst, &pc)

			fmt.Printf("%s (table %s)\n", pc.Name, pc.Table.Name)
			printSide("src", pc.Src, srcCount, srcErr)
			printSide("dst", pc.Dst, dstCount, dstErr)

			switch {
			case srcErr != nil || dstErr != nil:
			case srcCount == dstCount:
				fmt.Printf("  %s counts match (%d rows)\n", ui.RenderPass("ok"), srcCount)
			default:
				fmt.Printf("  %s counts differ by %d\n", ui.RenderWarn("!"), abs(srcCount-dstCount))
			}
			fmt.Println()
		}
	},
}

func countRows(ctx context.Context, path string, pc *config.PairConfig) (int, error) {
	s, err := store.Open(path)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return s.RowCount(ctx, &pc.Table)
}

func printSide(label, path string, count int, err error) {
	if err != nil {
		fmt.Printf("  %s %s: %s: %v\n", ui.RenderError("x"), label, path, err)
		return
	}
	fmt.Printf("  %s: %s (%d rows)\n", label, path, count)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
