package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jverity/tablemirror/internal/config"
	"github.com/jverity/tablemirror/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter tablemirror.yaml",
	Long: `Write a starter configuration file with one example pair.

Edit the generated file to point at your databases, then start replication
with 'tm run'. Refuses to overwrite an existing file.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = "tablemirror.yaml"
		}

		if err := config.WriteDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("ok"), path)
		fmt.Printf("   Edit the pair paths, then run '%s'\n", ui.RenderAccent("tm run"))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
