// Package cmd defines and implements the CLI commands for the rufus
// executable.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rufus",
		Short: "A selector-driven web scraper with an optional RAG index.",
		Long: `rufus crawls pages breadth-first through a headless browser, extracts
text fragments with CSS selectors, optionally filters them with an NLP
relevance scorer, and can embed the retained fragments into a persisted
vector index for retrieval-augmented generation.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newQueryCmd())

	return cmd
}

// Execute is the main entry point. It returns the process exit code:
// non-zero only for configuration or startup failures, never for
// individual page errors.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}
