package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/metrics"
)

// HTTPProcessor calls a remote per-document pipeline service over HTTP.
// The service owns parsing, multimodal analysis, and indexing; this client
// only translates its responses into Results and classified errors.
type HTTPProcessor struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProcessor creates a client for the pipeline service at baseURL.
// A zero timeout defaults to 10 minutes, matching long-running document
// parses.
func NewHTTPProcessor(baseURL string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPProcessor{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type processRequest struct {
	DocumentID  string  `json:"document_id"`
	Path        string  `json:"path"`
	ContentType string  `json:"content_type,omitempty"`
	Options     Options `json:"options"`
}

type processResponse struct {
	Blocks      int    `json:"blocks"`
	Cache       string `json:"cache"` // "hit", "miss", or "none"
	TimeSavedMS int64  `json:"time_saved_ms"`
	Error       string `json:"error,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// Process implements Processor.
func (p *HTTPProcessor) Process(ctx context.Context, h *Handle, opts Options) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(processRequest{
		DocumentID:  h.DocumentID,
		Path:        h.Path,
		ContentType: h.ContentType,
		Options:     opts,
	})
	if err != nil {
		return nil, faults.Internal(fmt.Errorf("marshal process request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, faults.Internal(fmt.Errorf("create process request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, faults.Transient(fmt.Errorf("pipeline request timed out: %w", err))
		}
		return nil, faults.Transient(fmt.Errorf("pipeline unreachable: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, faults.Transient(fmt.Errorf("read pipeline response: %w", err))
	}

	var pr processResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &pr); err != nil && resp.StatusCode == http.StatusOK {
			return nil, faults.Internal(fmt.Errorf("decode pipeline response: %w", err))
		}
	}

	if err := classifyStatus(resp.StatusCode, &pr); err != nil {
		return nil, err
	}

	res := &Result{
		Blocks:    pr.Blocks,
		Outcome:   parseOutcome(pr.Cache),
		TimeSaved: time.Duration(pr.TimeSavedMS) * time.Millisecond,
		Duration:  time.Since(start),
	}
	return res, nil
}

// classifyStatus maps the service's status codes onto the failure
// taxonomy.
func classifyStatus(status int, pr *processResponse) error {
	if status == http.StatusOK {
		return nil
	}

	msg := pr.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	err := fmt.Errorf("pipeline: %s", msg)

	switch {
	case status == http.StatusNotFound:
		return faults.Validation(err)
	case status == http.StatusUnprocessableEntity:
		remediation := pr.Remediation
		if remediation == "" {
			remediation = "check that the source file is intact and re-upload"
		}
		return faults.Corrupt(err, remediation)
	case status == http.StatusTooManyRequests || status == http.StatusInsufficientStorage:
		return faults.Exhausted(err)
	case status >= 500:
		return faults.Transient(err)
	case status >= 400:
		return faults.Validation(err)
	default:
		return faults.Internal(fmt.Errorf("pipeline: unexpected status %d", status))
	}
}

func parseOutcome(s string) metrics.Outcome {
	switch s {
	case "hit":
		return metrics.OutcomeHit
	case "miss":
		return metrics.OutcomeMiss
	default:
		return metrics.OutcomeNone
	}
}

