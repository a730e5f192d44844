package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jverity/tablemirror/internal/mirror/loadtest"
	"github.com/jverity/tablemirror/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Run a replication load test against throwaway databases",
	Long: `Benchmark the replication engine against a seeded pair of databases.

This command creates two temporary databases with partially overlapping row
populations, then runs sync passes while concurrent writers keep inserting
on both sides, and reports pass latency percentiles.

Examples:
  # Default: 1000 rows, 20 passes, 4 writers
  tm loadtest

  # Heavier run
  tm loadtest --rows 10000 --passes 50 --writers 16

  # Output results as JSON
  tm loadtest --json
`,
	Run: runLoadtest,
}

func init() {
	loadtestCmd.Flags().Int("rows", 1000, "Rows seeded across the pair")
	loadtestCmd.Flags().Int("passes", 20, "Sync passes to run")
	loadtestCmd.Flags().Int("writers", 4, "Concurrent writers mutating the stores")
	loadtestCmd.Flags().Float64("shared", 0.5, "Fraction of rows seeded on both sides (0.0-1.0)")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadtest(cmd *cobra.Command, args []string) {
	rows, _ := cmd.Flags().GetInt("rows")
	passes, _ := cmd.Flags().GetInt("passes")
	writers, _ := cmd.Flags().GetInt("writers")
	shared, _ := cmd.Flags().GetFloat64("shared")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if rows <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --rows must be positive\n")
		os.Exit(1)
	}
	if passes <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --passes must be positive\n")
		os.Exit(1)
	}
	if shared < 0 || shared > 1 {
		fmt.Fprintf(os.Stderr, "Error: --shared must be between 0.0 and 1.0\n")
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "tm-loadtest-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	if !jsonOutput {
		fmt.Printf("%s Seeding %d rows (%.0f%% shared)...\n", ui.RenderAccent("*"), rows, shared*100)
	}

	bench, err := loadtest.NewBench(dir, rows, shared)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding bench: %v\n", err)
		os.Exit(1)
	}
	defer bench.Close()

	if !jsonOutput {
		fmt.Printf("%s Running %d passes with %d writers...\n", ui.RenderAccent("*"), passes, writers)
	}

	stats, err := bench.RunPasses(passes, writers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running passes: %v\n", err)
		os.Exit(1)
	}

	converged, err := bench.VerifyConverged(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: stores failed to converge: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		out := map[string]interface{}{
			"bench":          bench.GetStats(),
			"converged_rows": converged,
			"passes":         stats.TotalPasses,
			"errors":         stats.Errors,
			"latency": map[string]string{
				"min":  stats.Min.String(),
				"p50":  stats.P50.String(),
				"mean": stats.Mean.String(),
				"p95":  stats.P95.String(),
				"p99":  stats.P99.String(),
				"max":  stats.Max.String(),
			},
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	fmt.Println()
	stats.PrintStats()
	fmt.Printf("\n%s Converged at %d rows per side\n", ui.RenderPass("ok"), converged)
}
