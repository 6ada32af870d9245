// Herald is a terminal agent for JSON-RPC tool servers.
//
// It connects a local language model to the tools advertised by the
// configured MCP-style servers and drives them from a chat prompt, or
// invokes them directly from the command line. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	herald chat                          Start an interactive session
//	herald ask <question>                Ask one question and exit
//	herald tools [server]                List tools, all servers or one
//	herald servers                       List configured tool servers
//	herald call <server> <tool> [json]   Invoke one tool directly
//	herald history [session]             Show sessions or one transcript
//	herald init [dir]                    Write starter config files
//	herald version                       Print version and build info
//	herald -o json version               Version info as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/herald-agent/herald/internal/agent"
	"github.com/herald-agent/herald/internal/buildinfo"
	"github.com/herald-agent/herald/internal/chat"
	"github.com/herald-agent/herald/internal/config"
	"github.com/herald-agent/herald/internal/history"
	"github.com/herald-agent/herald/internal/llm"
	"github.com/herald-agent/herald/internal/mcp"
	"github.com/herald-agent/herald/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdin, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the herald command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it ends the
//     chat loop and any in-flight tool calls.
//   - stdin feeds the interactive chat.
//   - stdout and stderr receive all program output. Command output goes
//     to stdout; structured logs go to stderr so they never interleave
//     with streamed answers.
//   - args is os.Args[1:], the command-line arguments after the
//     program name. We parse these manually rather than using the flag
//     package to avoid global state that interferes with parallel
//     tests.
//
// run returns nil on clean shutdown and a non-nil error for any
// failure. The caller (main) is responsible for printing the error and
// exiting.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call
	// run() concurrently from tests. Our argument surface is small
	// enough that manual parsing is clearer than bringing in a CLI
	// framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: herald ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, cmdArgs, outputFmt)
	case "servers":
		return runServers(stdout, configPath, outputFmt)
	case "call":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: herald call <server> <tool> [json-arguments]")
		}
		return runCall(ctx, stdout, stderr, configPath, cmdArgs)
	case "history":
		return runHistory(ctx, stdout, stderr, configPath, cmdArgs, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runChat handles the "herald chat" subcommand, the primary operating
// mode: load config, bridge every configured tool server into the
// registry, open the history database, and hand the terminal to the
// interactive loop until EOF, /quit, or a signal.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// ParseLogLevel is already validated by config.Validate(), so this
	// error path should be unreachable in practice.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, level, cfg.LogFormat)
	logger.Info("starting Herald",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
		"model", cfg.LLM.Model,
	)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// every component.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Tool servers ---
	client := newToolClient(cfg, logger)
	defer client.Close()

	registry := tools.NewRegistry()
	for _, server := range client.ServerNames() {
		n, err := mcp.BridgeServer(ctx, client, server, registry, stdout, logger)
		if err != nil {
			logger.Warn("tool server unavailable", "server", server, "error", err)
			continue
		}
		logger.Info("tool server bridged", "server", server, "tools", n)
	}

	// --- Model ---
	model := llm.NewOllama(cfg.LLM.BaseURL, logger)
	if err := model.Ping(ctx); err != nil {
		logger.Warn("model server not answering yet", "url", cfg.LLM.BaseURL, "error", err)
	}

	// --- History ---
	var store *history.Store
	if cfg.DataDir != "" {
		store, err = history.NewStore(filepath.Join(cfg.DataDir, "herald.db"), logger)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer store.Close()
	}

	loop := agent.NewLoop(agent.LoopConfig{
		LLM:      model,
		Registry: registry,
		Store:    store,
		Logger:   logger,
		Model:    cfg.LLM.Model,
		Persona:  loadPersona(cfg, logger),
	})

	err = chat.Run(ctx, chat.Config{
		Loop:        loop,
		Registry:    registry,
		Store:       store,
		ServerNames: client.ServerNames(),
		Logger:      logger,
		Input:       stdin,
		Output:      stdout,
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat: %w", err)
	}
	logger.Info("Herald stopped")
	return nil
}

// runAsk handles the "herald ask <question>" subcommand. It boots a
// minimal agent (no history database) and processes a single question,
// streaming the answer to stdout. Useful for quick checks and scripting
// without entering the chat.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, slog.LevelWarn, "text")
	logger.Debug("config loaded", "path", cfgPath)

	question := strings.Join(args, " ")

	client := newToolClient(cfg, logger)
	defer client.Close()

	registry := tools.NewRegistry()
	for _, server := range client.ServerNames() {
		if _, err := mcp.BridgeServer(ctx, client, server, registry, stdout, logger); err != nil {
			logger.Warn("tool server unavailable", "server", server, "error", err)
		}
	}

	// No store: nothing worth persisting for a one-shot.
	loop := agent.NewLoop(agent.LoopConfig{
		LLM:      llm.NewOllama(cfg.LLM.BaseURL, logger),
		Registry: registry,
		Logger:   logger,
		Model:    cfg.LLM.Model,
		Persona:  loadPersona(cfg, logger),
	})

	_, err = loop.Process(ctx, "", question, func(token string) {
		fmt.Fprint(stdout, token)
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout)
	return nil
}

// runTools handles "herald tools [server]": fetch and print the tool
// catalog of one server, or of every configured server.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, slog.LevelWarn, "text")

	client := newToolClient(cfg, logger)
	defer client.Close()

	servers := client.ServerNames()
	if len(args) > 0 {
		servers = []string{args[0]}
	}
	if len(servers) == 0 {
		fmt.Fprintln(stdout, "no tool servers configured (add some under servers: in the config)")
		return nil
	}

	catalogs := make(map[string][]mcp.ToolDescriptor, len(servers))
	for _, server := range servers {
		descriptors, err := client.ListTools(ctx, server)
		if err != nil {
			// A single named server failing is an answer; one of many
			// failing should not hide the rest.
			if len(args) > 0 {
				return err
			}
			fmt.Fprintf(stdout, "%s: unavailable (%v)\n", server, err)
			continue
		}
		catalogs[server] = descriptors
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(catalogs)
	}

	for _, server := range servers {
		descriptors, ok := catalogs[server]
		if !ok {
			continue
		}
		fmt.Fprintf(stdout, "%s (%d tools)\n", server, len(descriptors))
		for _, td := range descriptors {
			if td.Description != "" {
				fmt.Fprintf(stdout, "  %-24s %s\n", td.Name, td.Description)
			} else {
				fmt.Fprintf(stdout, "  %s\n", td.Name)
			}
			for _, arg := range schemaArgs(td.InputSchema) {
				fmt.Fprintf(stdout, "      %s\n", arg)
			}
		}
	}
	return nil
}

// schemaArgs renders a tool's input schema as one line per argument,
// e.g. "path (string, required)  The file to read". A schema that does
// not parse renders nothing; the raw JSON is still available with
// -o json.
func schemaArgs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		prop := schema.Properties[name]
		kind := prop.Type
		if kind == "" {
			kind = "any"
		}
		if required[name] {
			kind += ", required"
		}
		line := fmt.Sprintf("%s (%s)", name, kind)
		if prop.Description != "" {
			line += "  " + prop.Description
		}
		lines = append(lines, line)
	}
	return lines
}

// runServers handles "herald servers": print the configured server
// names and endpoints without touching the network.
func runServers(stdout io.Writer, configPath string, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg.Servers)
	}

	if len(cfg.Servers) == 0 {
		fmt.Fprintln(stdout, "no tool servers configured")
		return nil
	}
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "%-16s %s\n", name, cfg.Servers[name])
	}
	return nil
}

// runCall handles "herald call <server> <tool> [json-arguments]": one
// direct tool invocation with the output streamed to stdout, no model
// involved.
func runCall(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, slog.LevelWarn, "text")

	server, tool := args[0], args[1]
	var toolArgs map[string]any
	if len(args) > 2 {
		if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := newToolClient(cfg, logger)
	defer client.Close()

	err = client.CallToolStream(ctx, server, tool, toolArgs, func(chunk string) {
		fmt.Fprint(stdout, chunk)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout)
	return nil
}

// runHistory handles "herald history [session]": list stored sessions,
// or print one session's transcript and tool calls.
func runHistory(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("history is disabled (data_dir is empty in the config)")
	}
	logger := newLogger(stderr, slog.LevelWarn, "text")

	store, err := history.NewStore(filepath.Join(cfg.DataDir, "herald.db"), logger)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer store.Close()

	if len(args) == 0 {
		sessions, err := store.Sessions(ctx, 20)
		if err != nil {
			return err
		}
		if outputFmt == "json" {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(stdout, "no stored sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Fprintf(stdout, "%s  %s  %3d msgs  %s\n",
				s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.Messages, s.Title)
		}
		return nil
	}

	sessionID := args[0]
	msgs, err := store.RecentMessages(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	calls, err := store.ToolCalls(ctx, sessionID)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"session":    sessionID,
			"messages":   msgs,
			"tool_calls": calls,
		})
	}

	if len(msgs) == 0 {
		fmt.Fprintf(stdout, "no messages for session %s\n", sessionID)
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(stdout, "[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.Role, m.Content)
	}
	if len(calls) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "tool calls:")
		for _, tc := range calls {
			status := "ok"
			if tc.IsError {
				status = "failed"
			}
			fmt.Fprintf(stdout, "  [%s] %s %s (%s, %v)\n",
				tc.CreatedAt.Format("15:04"), tc.Tool, tc.Arguments, status, tc.Duration)
		}
	}
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// herald is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Herald - Terminal Agent for JSON-RPC Tool Servers")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: herald [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat                        Start an interactive session")
	fmt.Fprintln(w, "  ask <question>              Ask one question and exit")
	fmt.Fprintln(w, "  tools [server]              List tools on all servers, or one")
	fmt.Fprintln(w, "  servers                     List configured tool servers")
	fmt.Fprintln(w, "  call <server> <tool> [json] Invoke one tool directly")
	fmt.Fprintln(w, "  history [session]           Show sessions, or one transcript")
	fmt.Fprintln(w, "  init [dir]                  Write starter config files (default: .)")
	fmt.Fprintln(w, "  version                     Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./herald.yaml, ~/.config/herald/config.yaml, /etc/herald/config.yaml")
	return nil
}

// newToolClient wires the registry, transport, and streaming settings
// from the configuration into an mcp client.
func newToolClient(cfg *config.Config, logger *slog.Logger) *mcp.Client {
	// Config zero means the operator asked for the feature to be off;
	// the mcp defaults only apply when the field was never set, and
	// Load fills those from config.Default() already. Negative is the
	// transport's "off" spelling.
	maxRetries := cfg.HTTP.MaxRetries
	if maxRetries <= 0 {
		maxRetries = -1
	}
	chunkDelay := time.Duration(cfg.Stream.ChunkDelayMS) * time.Millisecond
	if chunkDelay <= 0 {
		chunkDelay = -1
	}

	return mcp.NewClient(mcp.ClientConfig{
		Registry: mcp.NewRegistry(cfg.Servers),
		Transport: mcp.NewHTTPTransport(mcp.HTTPConfig{
			Timeout:    time.Duration(cfg.HTTP.RequestTimeoutSec) * time.Second,
			MaxRetries: maxRetries,
			RetryDelay: time.Duration(cfg.HTTP.RetryBaseDelayMS) * time.Millisecond,
			Logger:     logger,
		}),
		ChunkSize:  cfg.Stream.ChunkSize,
		ChunkDelay: chunkDelay,
		Logger:     logger,
	})
}

// loadPersona returns the system prompt: the configured persona file if
// readable, otherwise empty so the agent falls back to its built-in.
func loadPersona(cfg *config.Config, logger *slog.Logger) string {
	if cfg.PersonaFile == "" {
		return ""
	}
	data, err := os.ReadFile(cfg.PersonaFile)
	if err != nil {
		logger.Warn("persona file unreadable, using built-in", "path", cfg.PersonaFile, "error", err)
		return ""
	}
	return string(data)
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in Herald goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise, [config.FindConfig] searches the default locations.
// Returns the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
