package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tsync",
	Short: "tsync – reconcile Tempo worklogs against Redmine time entries",
	Long: `tsync compares the time you logged in Tempo with the time entries booked
in Redmine, lists what is missing and creates the missing entries (and their
Redmine issues) on request. Configuration lives in ~/.tsync/config.json.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json (overrides config)")

	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(fillCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(mappingCmd)
	rootCmd.AddCommand(serveCmd)
}
