// Package deliver posts the aggregated report to the remote collector,
// retrying transient failures and failing fast on permanent ones.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/SamHausmann/pymatrix/internal/report"
)

// Defaults for the retry schedule.
const (
	DefaultRetries        = 4
	DefaultAttemptTimeout = 30 * time.Second
)

// PermanentError marks a delivery failure that retrying cannot fix,
// such as a rejected credential or a malformed endpoint.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("collector rejected report (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// Result describes a successful delivery.
type Result struct {
	StatusCode int
	Attempts   int
}

// Reporter delivers reports to one collector endpoint. The report's
// correlation ID travels in both the payload and a header, so the
// collector can deduplicate a retry whose first response was lost.
type Reporter struct {
	Endpoint string
	APIKey   string
	Retries  int           // max retries after the first attempt
	Timeout  time.Duration // per-attempt timeout
	Log      *log.Logger

	// RetryWaitMin and RetryWaitMax bound the backoff between
	// attempts; zero keeps the client defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HTTPClient overrides the inner client, for tests.
	HTTPClient *http.Client
}

// Deliver sends the report once from the caller's perspective.
// Transient failures (connection errors, 5xx, 429, 408) are retried
// with backoff up to the configured attempts; anything else returns a
// *PermanentError immediately.
func (r *Reporter) Deliver(ctx context.Context, rep *report.Report) (*Result, error) {
	u, err := url.Parse(r.Endpoint)
	if err != nil || u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, &PermanentError{Message: fmt.Sprintf("malformed endpoint %q", r.Endpoint)}
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("encoding report %s: %w", rep.ID, err)
	}

	client := r.newClient()

	attempts := 0
	client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		attempts = attempt + 1
		if attempt > 0 {
			r.Log.Warn("retrying delivery", "run", rep.ID, "attempt", attempts)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", r.APIKey)
	req.Header.Set("X-Correlation-ID", rep.ID)

	resp, err := client.Do(req)
	if err != nil {
		// Retries exhausted or the context was cancelled.
		return nil, fmt.Errorf("delivering report %s: %w", rep.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Result{StatusCode: resp.StatusCode, Attempts: attempts}, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, &PermanentError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
}

func (r *Reporter) newClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = r.Retries
	if r.Retries == 0 {
		client.RetryMax = DefaultRetries
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultAttemptTimeout
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	if r.HTTPClient != nil {
		client.HTTPClient = r.HTTPClient
	}
	if r.RetryWaitMin > 0 {
		client.RetryWaitMin = r.RetryWaitMin
	}
	if r.RetryWaitMax > 0 {
		client.RetryWaitMax = r.RetryWaitMax
	}
	client.CheckRetry = retryPolicy
	return client
}

// retryPolicy retries connection-level errors and the status codes the
// collector emits under transient load; authentication and validation
// rejections are left to Deliver to surface as permanent.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true, nil
	}
	return resp.StatusCode >= 500, nil
}
