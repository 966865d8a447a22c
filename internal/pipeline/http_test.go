package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/metrics"
)

func TestHTTPProcessor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process" {
			t.Errorf("path = %s, want /process", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"blocks": 12, "cache": "hit", "time_saved_ms": 4500}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, time.Second)
	res, err := p.Process(context.Background(), &Handle{DocumentID: "d1", Path: "/tmp/d1"}, DefaultOptions())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Blocks != 12 {
		t.Errorf("Blocks = %d, want 12", res.Blocks)
	}
	if res.Outcome != metrics.OutcomeHit {
		t.Errorf("Outcome = %s, want hit", res.Outcome)
	}
	if res.TimeSaved != 4500*time.Millisecond {
		t.Errorf("TimeSaved = %s", res.TimeSaved)
	}
}

func TestHTTPProcessor_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   faults.Category
	}{
		{"not found", http.StatusNotFound, `{"error":"unknown document"}`, faults.CategoryValidation},
		{"corrupt", http.StatusUnprocessableEntity, `{"error":"bad xref table","remediation":"re-export"}`, faults.CategoryCorrupt},
		{"rate limited", http.StatusTooManyRequests, ``, faults.CategoryExhausted},
		{"server error", http.StatusBadGateway, ``, faults.CategoryTransient},
		{"bad request", http.StatusBadRequest, `{"error":"missing path"}`, faults.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProcessor(srv.URL, time.Second)
			_, err := p.Process(context.Background(), &Handle{DocumentID: "d1"}, DefaultOptions())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := faults.Classify(err); got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPProcessor_Unreachable(t *testing.T) {
	// Nothing listens here.
	p := NewHTTPProcessor("http://127.0.0.1:1", time.Second)
	_, err := p.Process(context.Background(), &Handle{DocumentID: "d1"}, DefaultOptions())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := faults.Classify(err); got != faults.CategoryTransient {
		t.Errorf("Classify = %q, want transient-external", got)
	}
}

func TestHTTPProcessor_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect
		// and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	p := NewHTTPProcessor(srv.URL, time.Minute)
	_, err := p.Process(ctx, &Handle{DocumentID: "d1"}, DefaultOptions())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := faults.Classify(err); got != faults.CategoryCancelled {
		t.Errorf("Classify = %q, want cancelled", got)
	}
}
