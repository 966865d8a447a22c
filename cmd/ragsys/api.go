package main

import (
	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running ragsys server via HTTP.

These commands require a running server (ragsys serve).
Use --server to specify a custom server URL.

Examples:
  ragsys api health                          # Check server health
  ragsys api batches submit a.pdf --policy best-effort
  ragsys api batches list                    # List batches
  ragsys api batches watch <id>              # Stream progress events`,
}

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Batch management commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8280", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))

	// Batches as subcommand group
	batchesCmd.AddCommand((&endpoints.SubmitBatchEndpoint{}).Command(getServerURL))
	batchesCmd.AddCommand((&endpoints.ListBatchesEndpoint{}).Command(getServerURL))
	batchesCmd.AddCommand((&endpoints.GetBatchEndpoint{}).Command(getServerURL))
	batchesCmd.AddCommand((&endpoints.CancelBatchEndpoint{}).Command(getServerURL))
	batchesCmd.AddCommand((&endpoints.ProgressEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(apiCmd)
}
