package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// UnknownServerError is returned when an operation names a server that
// is not in the registry. Its message lists the known server names so a
// caller (human or model) can self-correct.
type UnknownServerError struct {
	Server string
	Known  []string // sorted
}

func (e *UnknownServerError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown tool server %q (no servers configured)", e.Server)
	}
	return fmt.Sprintf("unknown tool server %q (known servers: %s)", e.Server, strings.Join(e.Known, ", "))
}

// HTTPError is a non-2xx HTTP response from a tool server. Status codes
// of 500 and above are treated as transient and retried; everything
// else (4xx, redirects surfaced as errors) is permanent.
type HTTPError struct {
	StatusCode int
	Status     string // e.g. "404 Not Found"
	Body       string // truncated response body, for diagnostics
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("server returned %s", e.Status)
	}
	return fmt.Sprintf("server returned %s: %s", e.Status, body)
}

// Transient reports whether the status indicates a server-side fault
// worth retrying.
func (e *HTTPError) Transient() bool {
	return e.StatusCode >= 500
}

// MalformedResponseError is a 2xx response whose body could not be
// decoded as a JSON-RPC response. The server is speaking, but not our
// protocol, so retrying is pointless.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// retryable classifies a single-attempt failure as transient or not.
//
// Transient: network-level faults (refused, reset, aborted, unreachable,
// truncated bodies), timeouts (including the per-attempt deadline), and
// HTTP 5xx. Everything else (4xx, malformed bodies, cancellation) is
// permanent. Note that unlike httpkit's dial-only retry set, resets and
// timeouts are included here: the transport retries them even though the
// server may have seen the request, because the retry budget is part of
// the call contract.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// The per-attempt deadline and socket-level timeouts.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection-level faults.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED,
			syscall.ECONNRESET,
			syscall.ECONNABORTED,
			syscall.EPIPE,
			syscall.EHOSTUNREACH,
			syscall.ENETUNREACH:
			return true
		}
	}

	// A connection that died mid-body leaves a truncated read.
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	// Any remaining dial/read/write fault (DNS hiccups, router resets).
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
