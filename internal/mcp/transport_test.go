package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func testTransport(srv *httptest.Server, maxRetries int) *HTTPTransport {
	return NewHTTPTransport(HTTPConfig{
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		Client:     srv.Client(),
	})
}

func TestHTTPTransport_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "herald/") {
			t.Errorf("User-Agent = %q, want herald/ prefix", ua)
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{RetryDelay: time.Millisecond})
	defer tr.Close()

	resp, err := tr.Send(context.Background(), srv.URL, NewRequest(1, "tools/list", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %v", resp.Error)
	}
	if string(resp.Result) != `{"tools":[]}` {
		t.Errorf("result = %s", resp.Result)
	}
}

func TestHTTPTransport_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	tr := testTransport(srv, 3)
	resp, err := tr.Send(context.Background(), srv.URL, NewRequest(1, "tools/list", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %v", resp.Error)
	}
	if attempts != 3 {
		t.Errorf("server saw %d attempts, want 3", attempts)
	}
}

func TestHTTPTransport_ExhaustsRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
		Client:     srv.Client(),
	})

	start := time.Now()
	_, err := tr.Send(context.Background(), srv.URL, NewRequest(1, "tools/list", nil))
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Send succeeded against a broken server")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error is %T, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", httpErr.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("server saw %d attempts, want 3 (one initial, two retries)", attempts)
	}
	// Backoff doubles: 10ms before the first retry, 20ms before the second.
	if elapsed < 30*time.Millisecond {
		t.Errorf("retries took %v, want at least 30ms of backoff", elapsed)
	}
}

func TestHTTPTransport_NoRetryOnClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "no such endpoint", http.StatusNotFound)
	}))
	defer srv.Close()

	tr := testTransport(srv, 3)
	_, err := tr.Send(context.Background(), srv.URL, NewRequest(1, "tools/list", nil))
	if err == nil {
		t.Fatal("Send succeeded against a 404")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error is %T, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", httpErr.StatusCode)
	}
	if httpErr.Transient() {
		t.Error("404 classified as transient")
	}
	if attempts != 1 {
		t.Errorf("server saw %d attempts, want 1", attempts)
	}
}

func TestHTTPTransport_NoRetryOnMalformedBody(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		fmt.Fprint(w, "<html>this is not json-rpc</html>")
	}))
	defer srv.Close()

	tr := testTransport(srv, 3)
	_, err := tr.Send(context.Background(), srv.URL, NewRequest(1, "tools/list", nil))
	if err == nil {
		t.Fatal("Send succeeded on an undecodable body")
	}
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("error is %T, want *MalformedResponseError", err)
	}
	if attempts != 1 {
		t.Errorf("server saw %d attempts, want 1", attempts)
	}
}

func TestHTTPTransport_ErrorEnvelopeIsNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	}))
	defer srv.Close()

	tr := testTransport(srv, 3)
	resp, err := tr.Send(context.Background(), srv.URL, NewRequest(1, "tools/list", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error envelope = %+v, want method-not-found", resp.Error)
	}
	if attempts != 1 {
		t.Errorf("server saw %d attempts, want 1", attempts)
	}
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := NewHTTPTransport(HTTPConfig{
		MaxRetries: -1,
		RetryDelay: time.Millisecond,
	})
	defer tr.Close()

	_, err := tr.Send(context.Background(), url, NewRequest(1, "tools/list", nil))
	if err == nil {
		t.Fatal("Send succeeded against a closed server")
	}
	if !strings.Contains(err.Error(), "POST ") {
		t.Errorf("error %q does not name the request", err)
	}
	if !retryable(err) {
		t.Errorf("refused connection classified as permanent: %v", err)
	}
}

func TestHTTPTransport_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Client:     srv.Client(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Send(ctx, srv.URL, NewRequest(1, "tools/list", nil))
	if err == nil {
		t.Fatal("Send succeeded against a broken server")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send held the canceled context for %v", elapsed)
	}
}

func TestHTTPTransport_AttemptTimeoutIsRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{
		Timeout:    20 * time.Millisecond,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Client:     srv.Client(),
	})

	_, err := tr.Send(context.Background(), srv.URL, NewRequest(1, "tools/list", nil))
	if err == nil {
		t.Fatal("Send succeeded despite the attempt timeout")
	}
	if attempts != 2 {
		t.Errorf("server saw %d attempts, want 2 (timeouts are transient)", attempts)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, true},
		{"client error", &HTTPError{StatusCode: 404, Status: "404 Not Found"}, false},
		{"malformed response", &MalformedResponseError{Err: errors.New("bad json")}, false},
		{"wrapped malformed response", fmt.Errorf("call: %w", &MalformedResponseError{Err: errors.New("bad json")}), false},
		{"canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection aborted", syscall.ECONNABORTED, true},
		{"broken pipe", syscall.EPIPE, true},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"truncated body", io.ErrUnexpectedEOF, true},
		{"dial failure", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route to host")}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
