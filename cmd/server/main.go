package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by -ldflags at build time.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "visualedit",
	Short: "Cross-document visual editing backend",
	Long: `Serves visual editing sessions over HTTP and WebSocket. A session hosts a
target page, injects the editing agent into it and exposes the controller
that selects, edits and syncs its elements.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (.yaml, .yml or .toml); environment overrides it")
	rootCmd.AddCommand(serveCmd, scanCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
