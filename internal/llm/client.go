// Package llm talks to the language model behind the agent.
//
// The interface is deliberately small: one-shot chat, streamed chat,
// and a liveness probe. The only implementation speaks the Ollama chat
// API, which several local inference servers expose.
package llm

import (
	"context"
	"log/slog"
)

// levelTrace mirrors the config package's trace level without
// importing it.
const levelTrace = slog.Level(-8)

// Client is a chat completion backend.
type Client interface {
	// Chat sends a request and waits for the complete response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream sends a request and feeds content deltas to onToken
	// as they arrive, returning the accumulated response.
	ChatStream(ctx context.Context, req *ChatRequest, onToken StreamCallback) (*ChatResponse, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
