package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/api"
	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/svcctx"
)

// CancelBatchResponse acknowledges a cancellation request.
type CancelBatchResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// CancelBatchEndpoint handles POST /api/batches/{id}/cancel.
type CancelBatchEndpoint struct{}

func (e *CancelBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/batches/{id}/cancel", e.handler
}

func (e *CancelBatchEndpoint) RequiresInit() bool { return true }

// handler requests cooperative cancellation. The request is acknowledged
// immediately; in-flight tasks wind down asynchronously. Cancelling a
// batch that already finished is a no-op, not an error.
func (e *CancelBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "batch id is required")
		return
	}

	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	if err := coord.CancelBatch(id); err != nil {
		if errors.Is(err, batch.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, CancelBatchResponse{
		BatchID: id,
		Status:  "cancelling",
	})
}

func (e *CancelBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelBatchResponse
			if err := client.Post(cmd.Context(), "/api/batches/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
