package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/api"
	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/store"
	"github.com/blingtien/rag-system-sub000/internal/svcctx"
)

// GetBatchResponse is a batch status response. Live batches come from the
// coordinator; batches from previous runs are served from the history
// store with History set.
type GetBatchResponse struct {
	*batch.Snapshot `json:",omitempty"`

	History      *store.BatchRecord `json:"history,omitempty"`
	HistoryTasks []store.TaskRecord `json:"history_tasks,omitempty"`
}

// GetBatchEndpoint handles GET /api/batches/{id}.
type GetBatchEndpoint struct{}

func (e *GetBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/batches/{id}", e.handler
}

func (e *GetBatchEndpoint) RequiresInit() bool { return true }

func (e *GetBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	snap, err := coord.BatchStatus(id)
	if err == nil {
		writeJSON(w, http.StatusOK, GetBatchResponse{Snapshot: snap})
		return
	}
	if !errors.Is(err, batch.ErrBatchNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Not live in this process; fall back to persisted history.
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	rec, err := st.GetBatch(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tasks, err := st.ListTasks(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, GetBatchResponse{History: &rec, HistoryTasks: tasks})
}

func (e *GetBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a batch by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetBatchResponse
			if err := client.Get(cmd.Context(), "/api/batches/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
