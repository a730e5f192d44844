package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jverity/tablemirror/internal/mirror/journal"
	"github.com/jverity/tablemirror/internal/ui"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent pass outcomes from the journal",
	Long: `List recent synchronization pass outcomes recorded by 'tm run'.

Each entry shows the pair, the outcome (end or error), and the failure
message for failed passes. Newest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		jnl := openJournal()
		defer jnl.Close()

		events, err := jnl.ListEvents(context.Background(), eventsLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			os.Exit(1)
		}
		if len(events) == 0 {
			fmt.Printf("%s No recorded passes yet\n", ui.RenderWarn("!"))
			return
		}

		for _, ev := range events {
			marker := ui.RenderPass("ok")
			detail := ""
			if ev.Phase == "error" {
				marker = ui.RenderError("x")
				detail = " " + ev.Error
			}
			fmt.Printf("%s %s %s %s%s\n",
				ui.RenderDim(ev.CreatedAt.Format("2006-01-02 15:04:05")),
				marker, ev.Pair, ev.Phase, detail)
		}
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Show recent conflict decisions from the journal",
	Long: `List recent conflict resolutions recorded by 'tm run'.

Each entry shows the pair, the table, the contested row key, and which side
won. Newest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		jnl := openJournal()
		defer jnl.Close()

		conflicts, err := jnl.ListConflicts(context.Background(), eventsLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			os.Exit(1)
		}
		if len(conflicts) == 0 {
			fmt.Printf("%s No recorded conflicts\n", ui.RenderPass("ok"))
			return
		}

		for _, c := range conflicts {
			fmt.Printf("%s %s %s row %s: %s wins\n",
				ui.RenderDim(c.CreatedAt.Format("2006-01-02 15:04:05")),
				c.Pair, c.Table, ui.RenderAccent(c.RowKey), c.Winner)
		}
	},
}

// openJournal opens the configured journal database or exits.
func openJournal() *journal.Journal {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.JournalPath == "" {
		fmt.Fprintf(os.Stderr, "Error: no journal configured\n")
		os.Exit(1)
	}
	if _, err := os.Stat(cfg.JournalPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: journal not found at %s (has 'tm run' been started?)\n", cfg.JournalPath)
		os.Exit(1)
	}

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
		os.Exit(1)
	}
	return jnl
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Maximum entries to show")
	conflictsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Maximum entries to show")
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(conflictsCmd)
}
