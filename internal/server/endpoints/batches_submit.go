package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/api"
	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/coordinator"
	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/svcctx"
	"github.com/blingtien/rag-system-sub000/internal/validate"
)

// SubmitBatchRequest is the submission payload.
type SubmitBatchRequest struct {
	// Policy is mandatory: "fail-fast" or "best-effort".
	Policy    string          `json:"policy"`
	Documents []validate.Item `json:"documents"`
}

// SubmitBatchResponse is the accepted-submission body: the post-validation
// snapshot plus where to follow progress.
type SubmitBatchResponse struct {
	*batch.Snapshot

	ProgressURL string `json:"progress_url,omitempty"`
}

// SubmitBatchEndpoint handles POST /api/batches.
type SubmitBatchEndpoint struct{}

func (e *SubmitBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/batches", e.handler
}

func (e *SubmitBatchEndpoint) RequiresInit() bool { return true }

// handler accepts a batch for processing. Processing is asynchronous: the
// 202 response carries the post-validation snapshot, including any
// documents rejected during validation. A submission whose documents are
// all rejected gets 422 with the same snapshot shape.
func (e *SubmitBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	coord := svcctx.CoordinatorFrom(r.Context())
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator not initialized")
		return
	}

	snap, err := coord.SubmitBatch(r.Context(), req.Policy, req.Documents)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, SubmitBatchResponse{
			Snapshot:    snap,
			ProgressURL: "/api/batches/" + snap.ID + "/progress",
		})
	case errors.Is(err, coordinator.ErrNoValidDocuments):
		writeJSON(w, http.StatusUnprocessableEntity, SubmitBatchResponse{Snapshot: snap})
	case faults.Classify(err) == faults.CategoryValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (e *SubmitBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var policy string
	var optionsJSON string

	cmd := &cobra.Command{
		Use:   "submit <document-id>...",
		Short: "Submit documents as a batch",
		Long: `Submit one or more documents for processing.

Document IDs are paths relative to the configured document root. The
failure policy is mandatory:

  fail-fast    any task failure fails the whole batch
  best-effort  the batch completes and failures are reported per task`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := SubmitBatchRequest{Policy: policy}
			for _, id := range args {
				item := validate.Item{DocumentID: id}
				if optionsJSON != "" {
					raw := json.RawMessage(optionsJSON)
					item.Options = &raw
				}
				req.Documents = append(req.Documents, item)
			}

			client := api.NewClient(getServerURL())
			var resp SubmitBatchResponse
			if err := client.Post(cmd.Context(), "/api/batches", req, &resp); err != nil {
				return err
			}
			if len(resp.Rejected) > 0 {
				fmt.Fprintf(os.Stderr, "%d document(s) rejected\n", len(resp.Rejected))
			}
			return api.Output(resp)
		},
	}

	cmd.Flags().StringVar(&policy, "policy", "", "failure policy: fail-fast or best-effort (required)")
	cmd.Flags().StringVar(&optionsJSON, "options", "", "processing options as JSON, applied to every document")
	_ = cmd.MarkFlagRequired("policy")
	return cmd
}
