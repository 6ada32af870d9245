package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/herald-agent/herald/internal/httpkit"
)

// DefaultBaseURL is where a local Ollama listens out of the box.
const DefaultBaseURL = "http://localhost:11434"

// Ollama speaks the Ollama chat API. Works against Ollama itself and
// anything wire-compatible with its /api/chat endpoint.
type Ollama struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllama builds a client for the server at baseURL. An empty
// baseURL means DefaultBaseURL.
func NewOllama(baseURL string, logger *slog.Logger) *Ollama {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client timeout: generation can legitimately run for
		// minutes, so the caller's context sets the bound.
		client: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, 250*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Chat sends req and waits for the complete response.
func (o *Ollama) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r := *req
	r.Stream = false

	body, err := o.post(ctx, &r)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(body, 1<<20)

	var resp ChatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	o.recoverTextToolCalls(&resp.Message, req.Tools)
	return &resp, nil
}

// ChatStream sends req and feeds each content delta to onToken. The
// returned response carries the accumulated content, any tool calls,
// and the final frame's counters.
func (o *Ollama) ChatStream(ctx context.Context, req *ChatRequest, onToken StreamCallback) (*ChatResponse, error) {
	r := *req
	r.Stream = true

	body, err := o.post(ctx, &r)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(body, 1<<20)

	var (
		content strings.Builder
		calls   []ToolCall
		final   ChatResponse
	)
	dec := json.NewDecoder(body)
	for {
		var frame ChatResponse
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode stream: %w", err)
		}
		if frame.Message.Content != "" {
			content.WriteString(frame.Message.Content)
			if onToken != nil {
				onToken(frame.Message.Content)
			}
		}
		calls = append(calls, frame.Message.ToolCalls...)
		if frame.Done {
			final = frame
			break
		}
	}

	final.Message.Role = RoleAssistant
	final.Message.Content = content.String()
	final.Message.ToolCalls = calls
	o.recoverTextToolCalls(&final.Message, req.Tools)
	return &final, nil
}

// post issues the chat request and returns the response body on 2xx.
func (o *Ollama) post(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	o.logger.Debug("chat request",
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"stream", req.Stream)
	o.logger.Log(ctx, levelTrace, "chat request payload", "payload", string(payload))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST %s/api/chat: %w", o.baseURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer httpkit.DrainAndClose(resp.Body, 1<<20)
		return nil, fmt.Errorf("model server returned %s: %s",
			resp.Status, httpkit.ReadErrorBody(resp.Body, 4<<10))
	}
	return resp.Body, nil
}

// recoverTextToolCalls handles models that write tool calls into the
// content instead of the tool_calls field. When a call is recovered,
// the call text is stripped from the content so it is not spoken back
// to the user.
func (o *Ollama) recoverTextToolCalls(msg *Message, tools []map[string]any) {
	if len(msg.ToolCalls) > 0 || len(tools) == 0 || msg.Content == "" {
		return
	}
	calls := parseTextToolCalls(msg.Content, validToolNames(tools))
	if len(calls) == 0 {
		return
	}
	o.logger.Debug("recovered tool calls from content", "count", len(calls))
	msg.ToolCalls = calls
	if strings.Contains(msg.Content, "<tool_call>") {
		msg.Content = stripToolCallTags(msg.Content)
	} else {
		msg.Content = ""
	}
}

// Ping checks that the server answers at all.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server unreachable at %s: %w", o.baseURL, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("model server at %s returned %s", o.baseURL, resp.Status)
	}
	return nil
}

// ListModels returns the names of locally available models.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s/api/tags: %w", o.baseURL, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("model server at %s returned %s", o.baseURL, resp.Status)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// validToolNames pulls the function names out of a tool spec list.
func validToolNames(specs []map[string]any) map[string]bool {
	names := make(map[string]bool, len(specs))
	for _, spec := range specs {
		fn, ok := spec["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fn["name"].(string); ok && name != "" {
			names[name] = true
		}
	}
	return names
}

type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls scans content for tool calls written as text:
// either <tool_call>{...}</tool_call> blocks or bare JSON (a single
// call object or an array of them). Calls naming unknown tools are
// dropped.
func parseTextToolCalls(content string, validTools map[string]bool) []ToolCall {
	var candidates []string
	rest := content
	for {
		start := strings.Index(rest, "<tool_call>")
		if start < 0 {
			break
		}
		rest = rest[start+len("<tool_call>"):]
		end := strings.Index(rest, "</tool_call>")
		if end < 0 {
			break
		}
		candidates = append(candidates, strings.TrimSpace(rest[:end]))
		rest = rest[end+len("</tool_call>"):]
	}
	if len(candidates) == 0 {
		trimmed := strings.TrimSpace(content)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			candidates = append(candidates, trimmed)
		}
	}

	var calls []ToolCall
	for _, candidate := range candidates {
		calls = append(calls, decodeTextToolCalls(candidate, validTools)...)
	}
	return calls
}

func decodeTextToolCalls(s string, validTools map[string]bool) []ToolCall {
	var single textToolCall
	if err := json.Unmarshal([]byte(s), &single); err == nil && single.Name != "" {
		return convertTextToolCalls([]textToolCall{single}, validTools)
	}
	var many []textToolCall
	if err := json.Unmarshal([]byte(s), &many); err == nil {
		return convertTextToolCalls(many, validTools)
	}
	return nil
}

func convertTextToolCalls(raw []textToolCall, validTools map[string]bool) []ToolCall {
	var calls []ToolCall
	for _, r := range raw {
		if r.Name == "" || !validTools[r.Name] {
			continue
		}
		args := r.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{Function: ToolCallFunction{Name: r.Name, Arguments: args}})
	}
	return calls
}

// stripToolCallTags removes every <tool_call>...</tool_call> block,
// leaving any surrounding prose.
func stripToolCallTags(s string) string {
	for {
		start := strings.Index(s, "<tool_call>")
		if start < 0 {
			return strings.TrimSpace(s)
		}
		end := strings.Index(s[start:], "</tool_call>")
		if end < 0 {
			return strings.TrimSpace(s[:start])
		}
		s = s[:start] + s[start+end+len("</tool_call>"):]
	}
}
