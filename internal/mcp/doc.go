// Package mcp implements the client side of Herald's tool protocol:
// JSON-RPC 2.0 over HTTP POST against MCP-style tool servers.
//
// A [Registry] maps configured server names to endpoint URLs. A [Client]
// discovers tools via tools/list and invokes them via tools/call through
// a retrying [Transport]; successful call results are normalized to text
// and delivered to the caller in paced chunks. Discovered tools are
// bridged into Herald's tool registry so they appear as native tools to
// the LLM.
//
// This implementation covers the client/host side only. Herald does
// not act as a tool server, and all communication is plain
// request/response HTTP (no subprocess or socket transports).
package mcp
