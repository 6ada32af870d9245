package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ToolDescriptor describes one tool advertised by a server's
// tools/list. InputSchema is kept as raw JSON so the schema reaches
// the model byte-for-byte as the server wrote it.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Registry maps server names to endpoints. Required.
	Registry *Registry

	// Transport delivers requests. Nil gets an HTTPTransport with
	// default retry policy.
	Transport Transport

	// ChunkSize is the characters per streamed chunk. Zero means
	// DefaultChunkSize.
	ChunkSize int

	// ChunkDelay is the pause between chunks. Zero means
	// DefaultChunkDelay; negative disables pacing.
	ChunkDelay time.Duration

	Logger *slog.Logger
}

// Client invokes tools on the configured servers. Request ids are drawn
// from a single atomic counter, so ids are unique and increasing across
// all servers for the life of the client. Safe for concurrent use.
type Client struct {
	registry   *Registry
	transport  Transport
	logger     *slog.Logger
	chunkSize  int
	chunkDelay time.Duration

	nextID atomic.Int64
}

// NewClient builds a client from cfg, filling in defaults for zero
// fields.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(HTTPConfig{Logger: logger})
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkDelay := cfg.ChunkDelay
	if chunkDelay == 0 {
		chunkDelay = DefaultChunkDelay
	} else if chunkDelay < 0 {
		chunkDelay = 0
	}
	return &Client{
		registry:   cfg.Registry,
		transport:  transport,
		logger:     logger,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
	}
}

// ServerNames returns the configured server names, sorted.
func (c *Client) ServerNames() []string {
	return c.registry.Names()
}

// ListTools asks a server for its tool catalog. A response without a
// tools array yields an empty catalog. Results are fetched fresh on
// every call; servers may add or drop tools between calls.
func (c *Client) ListTools(ctx context.Context, server string) ([]ToolDescriptor, error) {
	url, err := c.registry.Resolve(server)
	if err != nil {
		return nil, err
	}

	raw, err := c.send(ctx, url, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list on %s (%s): %w", server, url, err)
	}

	var result struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/list on %s (%s): %w", server, url, &MalformedResponseError{Err: err})
	}

	c.logger.Debug("listed tools", "server", server, "count", len(result.Tools))
	return result.Tools, nil
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallToolStream invokes a tool and streams its normalized output to
// onChunk in fixed-size paced chunks. Normalization finishes before the
// first callback, so onChunk never sees a partial decode. Cancelling
// ctx stops the stream between chunks and returns the context's error.
func (c *Client) CallToolStream(ctx context.Context, server, tool string, args map[string]any, onChunk func(chunk string)) error {
	url, err := c.registry.Resolve(server)
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}

	c.logger.Debug("calling tool", "server", server, "tool", tool)
	raw, err := c.send(ctx, url, "tools/call", callToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("tools/call %s on %s (%s): %w", tool, server, url, err)
	}

	return streamChunks(ctx, normalizeResult(raw), c.chunkSize, c.chunkDelay, onChunk)
}

// send issues one JSON-RPC call and returns its result payload. A
// response carrying an error envelope comes back as that *RPCError; a
// success without a result member is malformed.
func (c *Client) send(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	resp, err := c.transport.Send(ctx, url, NewRequest(id, method, params))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, &MalformedResponseError{Err: fmt.Errorf("response %d has neither result nor error", id)}
	}
	return resp.Result, nil
}

// Close releases the client's transport resources.
func (c *Client) Close() error {
	return c.transport.Close()
}
