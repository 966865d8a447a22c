package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/api"
	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/svcctx"
)

// ListBatchesResponse wraps the batch list.
type ListBatchesResponse struct {
	Batches []*batch.Snapshot `json:"batches"`
	Count   int               `json:"count"`
}

// ListBatchesEndpoint handles GET /api/batches.
type ListBatchesEndpoint struct{}

func (e *ListBatchesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/batches", e.handler
}

func (e *ListBatchesEndpoint) RequiresInit() bool { return true }

func (e *ListBatchesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	batches := coord.ListBatches()
	writeJSON(w, http.StatusOK, ListBatchesResponse{
		Batches: batches,
		Count:   len(batches),
	})
}

func (e *ListBatchesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListBatchesResponse
			if err := client.Get(cmd.Context(), "/api/batches", &resp); err != nil {
				return err
			}
			if resp.Count == 0 {
				fmt.Println("No batches")
				return nil
			}
			return api.Output(resp)
		},
	}
}
