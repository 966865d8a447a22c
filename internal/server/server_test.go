package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blingtien/rag-system-sub000/internal/batch"
	"github.com/blingtien/rag-system-sub000/internal/coordinator"
	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/pipeline"
	"github.com/blingtien/rag-system-sub000/internal/progress"
	"github.com/blingtien/rag-system-sub000/internal/server/endpoints"
	"github.com/blingtien/rag-system-sub000/internal/store"
	"github.com/blingtien/rag-system-sub000/internal/svcctx"
	"github.com/blingtien/rag-system-sub000/internal/validate"
)

type testServer struct {
	*httptest.Server
	coord     *coordinator.Coordinator
	processor *pipeline.MockProcessor
	store     *store.Store
	sink      *store.Sink
}

func newTestServer(t *testing.T, docs ...string) *testServer {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sink := store.NewSink(store.SinkConfig{Store: st, FlushInterval: 10 * time.Millisecond})
	sink.Start(context.Background())
	t.Cleanup(sink.Stop)

	processor := pipeline.NewMockProcessor()
	coord := coordinator.New(coordinator.Config{
		Resolver:  pipeline.NewMockResolver(docs...),
		Processor: processor,
		Sink:      sink,
		Retrier: faults.NewRetrier(faults.RetrierConfig{
			Attempts: 2,
			Delay:    time.Millisecond,
			MaxDelay: 2 * time.Millisecond,
		}),
	})

	srv, err := New(Config{
		Services: &svcctx.Services{
			Coordinator: coord,
			Store:       st,
			Sink:        sink,
		},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, coord: coord, processor: processor, store: st, sink: sink}
}

func (ts *testServer) submit(t *testing.T, policy string, docs ...string) batch.Snapshot {
	t.Helper()

	req := endpoints.SubmitBatchRequest{Policy: policy}
	for _, d := range docs {
		req.Documents = append(req.Documents, validate.Item{DocumentID: d})
	}
	body, _ := json.Marshal(req)

	resp, err := http.Post(ts.URL+"/api/batches", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/batches: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var snap batch.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func (ts *testServer) waitDone(t *testing.T, batchID string) {
	t.Helper()
	select {
	case <-ts.coord.Done(batchID):
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var hr endpoints.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hr.Status != "ok" {
		t.Errorf("Status = %q", hr.Status)
	}
}

func TestSubmitAndGetBatch(t *testing.T) {
	ts := newTestServer(t, "a.txt", "b.txt")

	snap := ts.submit(t, "best-effort", "a.txt", "b.txt")
	if snap.ID == "" {
		t.Fatal("snapshot missing batch ID")
	}
	ts.waitDone(t, snap.ID)

	resp, err := http.Get(ts.URL + "/api/batches/" + snap.ID)
	if err != nil {
		t.Fatalf("GET batch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got endpoints.GetBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Snapshot == nil {
		t.Fatal("expected a live snapshot in the response")
	}
	if got.Status != batch.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.Cache.Misses != 2 {
		t.Errorf("cache misses = %d, want 2", got.Cache.Misses)
	}
}

func TestSubmitBatch_MissingPolicy(t *testing.T) {
	ts := newTestServer(t, "a.txt")

	body := []byte(`{"documents":[{"document_id":"a.txt"}]}`)
	resp, err := http.Post(ts.URL+"/api/batches", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing policy", resp.StatusCode)
	}
}

func TestSubmitBatch_AllRejected(t *testing.T) {
	ts := newTestServer(t) // resolver knows no documents

	body := []byte(`{"policy":"best-effort","documents":[{"document_id":"ghost.txt"}]}`)
	resp, err := http.Post(ts.URL+"/api/batches", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	var snap batch.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != batch.StatusFailed || len(snap.Rejected) != 1 {
		t.Errorf("snapshot = %+v, want failed with one rejection", snap)
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/batches/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListBatches(t *testing.T) {
	ts := newTestServer(t, "a.txt")

	snap := ts.submit(t, "best-effort", "a.txt")
	ts.waitDone(t, snap.ID)

	resp, err := http.Get(ts.URL + "/api/batches")
	if err != nil {
		t.Fatalf("GET /api/batches: %v", err)
	}
	defer resp.Body.Close()

	var list endpoints.ListBatchesResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Batches[0].ID != snap.ID {
		t.Errorf("list = %+v, want the submitted batch", list)
	}
}

func TestCancelBatch(t *testing.T) {
	ts := newTestServer(t, "a.txt", "b.txt")
	ts.processor.Latency = 50 * time.Millisecond

	snap := ts.submit(t, "best-effort", "a.txt", "b.txt")

	resp, err := http.Post(ts.URL+"/api/batches/"+snap.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	ts.waitDone(t, snap.ID)
	final, err := ts.coord.BatchStatus(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != batch.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", final.Status)
	}
}

func TestCancelBatch_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/batches/ghost/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProgressStream(t *testing.T) {
	ts := newTestServer(t, "a.txt", "b.txt")
	ts.processor.Latency = 20 * time.Millisecond

	snap := ts.submit(t, "best-effort", "a.txt", "b.txt")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/batches/" + snap.ID + "/progress"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	var kinds []progress.Kind
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				break
			}
			t.Fatalf("read event: %v", err)
		}
		if ev.BatchID != snap.ID {
			t.Errorf("event for batch %s, want %s", ev.BatchID, snap.ID)
		}
		kinds = append(kinds, ev.Kind)
	}

	if len(kinds) == 0 {
		t.Fatal("expected at least one progress event")
	}
	if kinds[len(kinds)-1] != progress.KindBatchCompleted {
		t.Errorf("last event = %s, want batch-completed", kinds[len(kinds)-1])
	}
	ts.waitDone(t, snap.ID)
}

func TestProgressStream_UnknownBatch(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/batches/ghost/progress")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetBatch_HistoryFallbackAfterRestart(t *testing.T) {
	ts := newTestServer(t, "a.txt")

	snap := ts.submit(t, "best-effort", "a.txt")
	ts.waitDone(t, snap.ID)
	ts.sink.Flush()

	// A fresh coordinator over the same store stands in for a restarted
	// process: the batch is no longer live, only persisted.
	freshCoord := coordinator.New(coordinator.Config{
		Resolver:  pipeline.NewMockResolver(),
		Processor: pipeline.NewMockProcessor(),
	})
	srv, err := New(Config{Services: &svcctx.Services{Coordinator: freshCoord, Store: ts.store}})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	fresh := httptest.NewServer(srv.Handler())
	defer fresh.Close()

	resp, err := http.Get(fresh.URL + "/api/batches/" + snap.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 from history", resp.StatusCode)
	}

	var got endpoints.GetBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.History == nil {
		t.Fatal("expected a history record")
	}
	if got.History.Status != string(batch.StatusCompleted) {
		t.Errorf("history status = %q, want completed", got.History.Status)
	}
	if len(got.HistoryTasks) != 1 {
		t.Errorf("history tasks = %d, want 1", len(got.HistoryTasks))
	}
}
