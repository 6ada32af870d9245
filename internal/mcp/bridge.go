package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/herald-agent/herald/internal/tools"
)

// BridgeServer fetches a server's tool catalog and registers each tool
// as a callable proxy under a namespaced name, so the model can invoke
// remote tools through the same registry as built-in ones. Each proxy
// streams the tool's output to echo as it arrives (pass nil to
// suppress) and returns the accumulated text as the tool result.
//
// It returns the number of tools registered.
func BridgeServer(ctx context.Context, client *Client, server string, registry *tools.Registry, echo io.Writer, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	descriptors, err := client.ListTools(ctx, server)
	if err != nil {
		return 0, err
	}

	for _, td := range descriptors {
		params := map[string]any{"type": "object"}
		if len(td.InputSchema) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(td.InputSchema, &schema); err == nil {
				params = schema
			}
		}

		name := ToolName(server, td.Name)
		remote := td.Name
		tool := tools.Tool{
			Name:        name,
			Description: td.Description,
			Parameters:  params,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				var b strings.Builder
				err := client.CallToolStream(ctx, server, remote, args, func(chunk string) {
					b.WriteString(chunk)
					if echo != nil {
						fmt.Fprint(echo, chunk)
					}
				})
				if err != nil {
					return "", err
				}
				return b.String(), nil
			},
		}
		if err := registry.Register(tool); err != nil {
			return 0, fmt.Errorf("register %s: %w", name, err)
		}
		logger.Debug("bridged tool", "server", server, "tool", remote, "as", name)
	}
	return len(descriptors), nil
}

// ToolName builds the registry name for a server's tool. Names are
// prefixed and sanitized so tools from different servers cannot
// collide with each other or with built-ins.
func ToolName(server, tool string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(server), sanitize(tool))
}

// sanitize lowercases s and squeezes every run of non-alphanumeric
// characters into a single underscore.
func sanitize(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			pending = false
		default:
			if !pending {
				b.WriteByte('_')
			}
			pending = true
		}
	}
	return strings.Trim(b.String(), "_")
}
