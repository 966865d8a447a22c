package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/progress"
	"github.com/blingtien/rag-system-sub000/internal/svcctx"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local tooling connects from arbitrary origins
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ProgressEndpoint handles GET /api/batches/{id}/progress: a websocket
// stream of the batch's progress events. The stream is lossy under
// subscriber backpressure; clients reconcile by fetching batch status.
type ProgressEndpoint struct{}

func (e *ProgressEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/batches/{id}/progress", e.handler
}

func (e *ProgressEndpoint) RequiresInit() bool { return true }

func (e *ProgressEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	sub, err := coord.SubscribeProgress(id)
	if err != nil {
		if errors.Is(err, batch.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice the peer going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Batch reached a terminal state; say goodbye cleanly.
				deadline := time.Now().Add(time.Second)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch finished"),
					deadline)
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (e *ProgressEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Stream a batch's progress events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := url.Parse(getServerURL())
			if err != nil {
				return fmt.Errorf("invalid server URL: %w", err)
			}
			wsScheme := "ws"
			if base.Scheme == "https" {
				wsScheme = "wss"
			}
			target := fmt.Sprintf("%s://%s/api/batches/%s/progress", wsScheme, base.Host, args[0])

			dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
			conn, _, err := dialer.DialContext(cmd.Context(), target, nil)
			if err != nil {
				return fmt.Errorf("websocket connect: %w", err)
			}
			defer conn.Close()

			for {
				var ev progress.Event
				if err := conn.ReadJSON(&ev); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
						strings.Contains(err.Error(), "use of closed network connection") {
						return nil
					}
					return err
				}
				fmt.Printf("%s  %-15s  %5.1f%%  %s %s\n",
					ev.Timestamp.Format(time.TimeOnly), ev.Kind, ev.Percent, ev.TaskID, ev.Message)
			}
		},
	}
}
