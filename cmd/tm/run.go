package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jverity/tablemirror/internal/config"
	"github.com/jverity/tablemirror/internal/mirror/daemon"
	"github.com/jverity/tablemirror/internal/mirror/dashboard"
	"github.com/jverity/tablemirror/internal/mirror/engine"
	"github.com/jverity/tablemirror/internal/mirror/journal"
	"github.com/jverity/tablemirror/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the replication daemon (foreground)",
	Long: `Run the replication daemon in the foreground.

The daemon keeps every configured pair converged:
  1. Polls each pair at its configured interval
  2. Watches the database files and syncs promptly after external writes
  3. Records pass outcomes and conflicts in the journal database
  4. Optionally serves the WebSocket dashboard

A failed pass is logged and retried on the next cycle; the daemon keeps
running. Press Ctrl+C to stop.`,
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

		logOut := logWriter(cfg.Log)
		daemonLogger := log.New(logOut, "[daemon] ", log.LstdFlags)
		syncLogger := log.New(logOut, "[sync] ", log.LstdFlags)

		// Journal is optional; without it pass history is only in the log.
		var jnl *journal.Journal
		if cfg.JournalPath != "" {
			jnl, err = journal.Open(cfg.JournalPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
				os.Exit(1)
			}
			defer jnl.Close()
		}

		var server *dashboard.Server
		var handler *dashboard.Handler
		if cfg.Dashboard.Enabled {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: log.New(logOut, "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()
			handler = dashboard.NewHandler(server, daemonLogger)
			fmt.Printf("%s Dashboard: ws://localhost:%d/ws\n", ui.RenderAccent("*"), cfg.Dashboard.Port)
		}

		pairs := make([]daemon.Pair, 0, len(cfg.Pairs))
		tables := make(map[string]string, len(cfg.Pairs))
		for _, pc := range cfg.Pairs {
			pairs = append(pairs, daemon.Pair{
				Name:    pc.Name,
				SrcPath: pc.Src,
				DstPath: pc.Dst,
				Table:   pc.Table,
			})
			tables[pc.Name] = pc.Table.Name
		}

		dcfg := &daemon.Config{
			Pairs:      pairs,
			SyncLogger: syncLogger,
			Logger:     daemonLogger,
			EventHook: func(pair string, ev engine.SyncEvent) {
				if jnl != nil {
					if err := jnl.RecordEvent(context.Background(), pair, ev); err != nil {
						daemonLogger.Printf("journal: record event for %s: %v", pair, err)
					}
				}
				if handler != nil {
					handler.OnPassEvent(pair, ev)
				}
			},
			ConflictHook: func(pair string, c engine.ConflictRecord, winner engine.ChangeRecord) {
				if jnl != nil {
					err := jnl.RecordConflict(context.Background(), pair, tables[pair], winner.Key, winner.Origin)
					if err != nil {
						daemonLogger.Printf("journal: record conflict for %s: %v", pair, err)
					}
				}
				if handler != nil {
					handler.OnConflict(pair, c, winner)
				}
			},
		}

		d, err := daemon.New(dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Mirroring %d pair(s)\n", ui.RenderAccent("*"), len(pairs))
		for _, p := range pairs {
			fmt.Printf("   %s: %s <-> %s (table %s)\n", p.Name, p.SrcPath, p.DstPath, p.Table.Name)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Start blocks until the context is cancelled, then shuts down
		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Stopped\n", ui.RenderPass("ok"))
	},
}

// logWriter returns stderr, optionally teed into a size-rotated log file.
func logWriter(lc config.LogConfig) io.Writer {
	if lc.File == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   true,
	})
}

func init() {
	rootCmd.AddCommand(runCmd)
}
