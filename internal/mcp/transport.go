package mcp

import (
	"context"
)

// Transport delivers a single JSON-RPC request to an endpoint and
// returns the decoded response envelope. The concrete HTTP transport
// handles retries internally; a returned error is final for the call.
//
// Send must not interpret the response beyond envelope decoding: a
// response carrying an Error field is still a successful Send.
type Transport interface {
	Send(ctx context.Context, url string, req *Request) (*Response, error)
	Close() error
}
