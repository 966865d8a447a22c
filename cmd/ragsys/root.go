package main

import (
	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/api"
	"github.com/blingtien/rag-system-sub000/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ragsys",
	Short: "Batch document-processing coordinator for RAG ingestion",
	Long: `Ragsys coordinates batch document processing for a RAG ingestion
pipeline: it validates submissions, runs per-document parse/index tasks
with bounded concurrency, and streams progress to connected clients.

Each batch carries a failure policy:
  fail-fast    any task failure fails the whole batch
  best-effort  the batch completes and failures are reported per task`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.ragsys/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "ragsys home directory (default: ~/.ragsys)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
