// Package cmd holds the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "alertpipe",
	Short: "Alert normalization and enrichment pipeline",
	Long: `alertpipe ingests provider alerts and runs them through a
tenant-scoped enrichment pipeline: fingerprinting, deduplication
statistics, attribute extraction, mapping enrichment, and blackout
suppression. Rules are managed over the HTTP API or imported from YAML.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: environment only)")
}
