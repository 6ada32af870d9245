package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/herald-agent/herald/internal/httpkit"
)

const (
	// DefaultTimeout bounds a single request attempt, not the whole
	// call. A call that retries can take up to
	// (MaxRetries+1)*Timeout plus the backoff delays.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of additional attempts after
	// the first one fails with a transient error.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the wait before the first retry. Each
	// subsequent retry doubles it: 1s, 2s, 4s, ...
	DefaultRetryDelay = time.Second

	// maxResponseBytes caps how much of a response body we will
	// buffer. Tool output is text; anything past this is a
	// misbehaving server.
	maxResponseBytes = 10 << 20
)

// HTTPConfig configures an HTTPTransport. The zero value gets sensible
// defaults for every field.
type HTTPConfig struct {
	// Timeout bounds each individual attempt. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after a transient failure.
	// Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// RetryDelay is the backoff before the first retry, doubled on
	// each subsequent one. Zero means DefaultRetryDelay.
	RetryDelay time.Duration

	Logger *slog.Logger

	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

// HTTPTransport sends JSON-RPC requests over plain HTTP POST, retrying
// transient failures with exponential backoff. Each attempt carries its
// own deadline so a stalled server cannot eat the whole retry budget.
type HTTPTransport struct {
	client     *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPTransport builds a transport from cfg, filling in defaults for
// zero fields.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	} else if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	client := cfg.Client
	if client == nil {
		// No client-level timeout and no dial-level retry: the
		// per-attempt context carries the deadline, and Send owns
		// the whole retry budget. Stacking httpkit's retry under
		// this one would stretch the worst case well past the
		// configured ceiling.
		client = httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		)
	}

	return &HTTPTransport{
		client:     client,
		logger:     logger,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Send posts req to url and decodes the JSON-RPC response envelope.
// Transient failures (connection faults, timeouts, HTTP 5xx) are
// retried up to MaxRetries times with doubling delays; permanent ones
// (4xx, undecodable bodies, cancellation) fail immediately. When the
// budget runs out, the last attempt's error is returned.
func (t *HTTPTransport) Send(ctx context.Context, url string, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	delay := t.retryDelay
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			t.logger.Debug("retrying tool server request",
				"url", url,
				"method", req.Method,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			if !sleepCtx(ctx, delay) {
				return nil, ctx.Err()
			}
			delay *= 2
		}

		resp, err := t.sendOnce(ctx, url, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (t *HTTPTransport) sendOnce(ctx context.Context, url string, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Body:       httpkit.ReadErrorBody(httpResp.Body, 4<<10),
		}
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	return &resp, nil
}

// Close releases idle connections held by the transport's client.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// sleepCtx waits for d or until ctx is done. It reports whether the
// full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
