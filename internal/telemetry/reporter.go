package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/educonnect/videocall/internal/models"
)

// Reporter delivers samples to a metrics sink.
type Reporter interface {
	Report(ctx context.Context, sample models.TelemetrySample) error
}

// ReportError is returned when the metrics endpoint cannot be reached or rejects a report.
type ReportError struct {
	StatusCode int
	Err        error
}

func (e *ReportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("report telemetry: status %d", e.StatusCode)
	}
	return fmt.Sprintf("report telemetry: %v", e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

// HTTPReporter posts {metrics, timestamp} to the metrics ingestion endpoint.
type HTTPReporter struct {
	endpoint   string
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPReporter creates a reporter for endpoint (e.g. https://api.example.com/api/metrics).
// A nil client uses http.DefaultClient.
func NewHTTPReporter(endpoint string, hc *http.Client) *HTTPReporter {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPReporter{endpoint: endpoint, httpClient: hc, now: time.Now}
}

// Report posts one sample.
func (r *HTTPReporter) Report(ctx context.Context, sample models.TelemetrySample) error {
	body, err := json.Marshal(models.MetricsReport{Metrics: sample, Timestamp: r.now().UTC()})
	if err != nil {
		return &ReportError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return &ReportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &ReportError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ReportError{StatusCode: resp.StatusCode}
	}
	return nil
}
