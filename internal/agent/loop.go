// Package agent runs the conversation loop: feed the transcript to the
// model, execute the tool calls it asks for, and repeat until it
// produces an answer for the user.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/herald-agent/herald/internal/history"
	"github.com/herald-agent/herald/internal/llm"
	"github.com/herald-agent/herald/internal/tools"
)

// DefaultPersona is the system prompt used when no persona file is
// configured.
const DefaultPersona = `You are Herald, an assistant that can call tools on connected tool servers.
Use a tool when it would improve your answer, read its output, and then reply to the user in plain language.
If no tool helps, just answer directly.`

const (
	// DefaultMaxIterations caps how many tool rounds one user turn
	// may trigger before the model is forced to answer.
	DefaultMaxIterations = 8

	// DefaultContextTurns is how many stored messages are replayed
	// into the model's context.
	DefaultContextTurns = 20
)

// LoopConfig configures a Loop.
type LoopConfig struct {
	LLM      llm.Client
	Registry *tools.Registry

	// Store persists the transcript. Nil disables persistence.
	Store *history.Store

	Logger *slog.Logger
	Model  string

	// Persona overrides DefaultPersona as the system prompt.
	Persona string

	MaxIterations int
	ContextTurns  int
}

// Loop drives one session's conversation with the model.
type Loop struct {
	llm      llm.Client
	registry *tools.Registry
	store    *history.Store
	logger   *slog.Logger

	model         string
	persona       string
	maxIterations int
	contextTurns  int
}

// NewLoop builds a loop from cfg, filling in defaults for zero fields.
func NewLoop(cfg LoopConfig) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	persona := cfg.Persona
	if persona == "" {
		persona = DefaultPersona
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	contextTurns := cfg.ContextTurns
	if contextTurns <= 0 {
		contextTurns = DefaultContextTurns
	}
	return &Loop{
		llm:           cfg.LLM,
		registry:      cfg.Registry,
		store:         cfg.Store,
		logger:        logger,
		model:         cfg.Model,
		persona:       persona,
		maxIterations: maxIterations,
		contextTurns:  contextTurns,
	}
}

// Process handles one user turn. Content tokens stream to onToken as
// the model produces them; the returned string is the model's complete
// final answer.
func (l *Loop) Process(ctx context.Context, sessionID, input string, onToken llm.StreamCallback) (string, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: l.persona}}
	msgs = append(msgs, l.contextMessages(ctx, sessionID)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input})
	l.persist(ctx, sessionID, llm.RoleUser, input)

	specs := l.registry.Specs()
	for iteration := 0; iteration < l.maxIterations; iteration++ {
		resp, err := l.llm.ChatStream(ctx, &llm.ChatRequest{
			Model:    l.model,
			Messages: msgs,
			Tools:    specs,
		}, onToken)
		if err != nil {
			return "", fmt.Errorf("model request: %w", err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			l.persist(ctx, sessionID, llm.RoleAssistant, resp.Message.Content)
			return resp.Message.Content, nil
		}

		l.logger.Debug("tool round",
			"iteration", iteration,
			"calls", len(resp.Message.ToolCalls),
			"tokens", resp.EvalCount)
		msgs = append(msgs, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			msgs = append(msgs, l.runTool(ctx, sessionID, call))
		}
	}

	// The tool budget is spent; ask for an answer with no tools on
	// offer so the model has to conclude.
	l.logger.Warn("tool iteration limit reached", "session", sessionID, "limit", l.maxIterations)
	resp, err := l.llm.ChatStream(ctx, &llm.ChatRequest{
		Model:    l.model,
		Messages: msgs,
	}, onToken)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	l.persist(ctx, sessionID, llm.RoleAssistant, resp.Message.Content)
	return resp.Message.Content, nil
}

// runTool executes one tool call and shapes the outcome into the tool
// message fed back to the model. Failures become error text rather
// than aborting the turn; the model decides how to proceed.
func (l *Loop) runTool(ctx context.Context, sessionID string, call llm.ToolCall) llm.Message {
	name := call.Function.Name
	args := call.Function.Arguments

	start := time.Now()
	result, err := l.executeTool(ctx, name, args)
	took := time.Since(start)

	if l.store != nil && sessionID != "" {
		if rerr := l.store.RecordToolCall(ctx, sessionID, name, args, result, err, took); rerr != nil {
			l.logger.Warn("record tool call", "tool", name, "error", rerr)
		}
	}

	content := result
	if err != nil {
		l.logger.Warn("tool call failed", "tool", name, "took", took, "error", err)
		content = fmt.Sprintf("tool error: %v", err)
	} else {
		l.logger.Debug("tool call done", "tool", name, "took", took, "bytes", len(result))
	}
	return llm.Message{Role: llm.RoleTool, ToolName: name, Content: content}
}

func (l *Loop) executeTool(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := l.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if err := validateArgs(tool.Parameters, args); err != nil {
		return "", fmt.Errorf("arguments rejected: %w", err)
	}
	return l.registry.Execute(ctx, name, args)
}

// validateArgs checks args against the tool's JSON Schema before the
// call leaves the process. A schema that cannot be parsed or resolved
// does not block the call; that is the tool author's bug to surface,
// not the model's.
func validateArgs(params, args map[string]any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return resolved.Validate(args)
}

func (l *Loop) contextMessages(ctx context.Context, sessionID string) []llm.Message {
	if l.store == nil || sessionID == "" {
		return nil
	}
	stored, err := l.store.RecentMessages(ctx, sessionID, l.contextTurns)
	if err != nil {
		l.logger.Warn("load session context", "session", sessionID, "error", err)
		return nil
	}
	msgs := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func (l *Loop) persist(ctx context.Context, sessionID, role, content string) {
	if l.store == nil || sessionID == "" || content == "" {
		return
	}
	if _, err := l.store.AppendMessage(ctx, sessionID, role, content); err != nil {
		l.logger.Warn("persist message", "session", sessionID, "role", role, "error", err)
	}
}
