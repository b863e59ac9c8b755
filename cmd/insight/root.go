package main

import (
	"github.com/spf13/cobra"

	"github.com/panelworks/insight/version"
)

var (
	cfgFile string
	homeDir string
)

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Hierarchical manga analysis pipeline with LLM-powered summarization",
	Long: `Insight analyzes manga and comic page images into layered plot summaries
using vision-capable LLMs.

The pipeline includes:
  - Batch-level page analysis with rolling plot context
  - Configurable aggregation tiers (segments, chapters, book overview)
  - Pausable and cancellable analysis tasks with persisted results
  - Semantic index built from page summaries and key events`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.insight/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "insight home directory (default: ~/.insight)",
	)

	rootCmd.AddCommand(versionCmd)
}
