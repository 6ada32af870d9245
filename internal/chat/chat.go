// Package chat implements the interactive terminal session.
//
// It reads lines, routes slash commands locally, and hands everything
// else to the agent loop, printing tokens as they stream back.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/herald-agent/herald/internal/history"
	"github.com/herald-agent/herald/internal/llm"
	"github.com/herald-agent/herald/internal/tools"
)

// Processor handles one user turn. Satisfied by *agent.Loop.
type Processor interface {
	Process(ctx context.Context, sessionID, input string, onToken llm.StreamCallback) (string, error)
}

// Config configures an interactive session.
type Config struct {
	Loop     Processor
	Registry *tools.Registry

	// Store enables persistent sessions and the /new command. Nil
	// runs the chat without history.
	Store *history.Store

	// ServerNames is shown by /servers.
	ServerNames []string

	Logger *slog.Logger
	Input  io.Reader
	Output io.Writer
}

const helpText = `Commands:
  /help      show this help
  /tools     list callable tools
  /servers   list configured tool servers
  /new       start a fresh session
  /quit      exit

Anything else is sent to the model.`

// Run drives the read-eval-print loop until the input ends, /quit is
// entered, or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := cfg.Output

	sessionID := ""
	if cfg.Store != nil {
		id, err := cfg.Store.NewSession(ctx, "chat "+time.Now().Format("2006-01-02 15:04"))
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		sessionID = id
		logger.Debug("chat session started", "session", sessionID)
	}

	fmt.Fprintln(out, "Herald ready. Type /help for commands.")

	scanner := bufio.NewScanner(cfg.Input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := runCommand(ctx, cfg, &sessionID, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		_, err := cfg.Loop.Process(ctx, sessionID, line, func(token string) {
			fmt.Fprint(out, token)
		})
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func runCommand(ctx context.Context, cfg Config, sessionID *string, line string, out io.Writer) (quit bool, err error) {
	switch cmd := strings.Fields(line)[0]; cmd {
	case "/quit", "/exit":
		fmt.Fprintln(out, "bye")
		return true, nil

	case "/help":
		fmt.Fprintln(out, helpText)

	case "/tools":
		names := cfg.Registry.Names()
		if len(names) == 0 {
			fmt.Fprintln(out, "no tools registered")
			break
		}
		for _, name := range names {
			tool, _ := cfg.Registry.Get(name)
			if tool.Description != "" {
				fmt.Fprintf(out, "  %s - %s\n", name, tool.Description)
			} else {
				fmt.Fprintf(out, "  %s\n", name)
			}
		}

	case "/servers":
		if len(cfg.ServerNames) == 0 {
			fmt.Fprintln(out, "no tool servers configured")
			break
		}
		for _, name := range cfg.ServerNames {
			fmt.Fprintf(out, "  %s\n", name)
		}

	case "/new":
		if cfg.Store == nil {
			fmt.Fprintln(out, "history is disabled; every turn is already fresh")
			break
		}
		id, err := cfg.Store.NewSession(ctx, "chat "+time.Now().Format("2006-01-02 15:04"))
		if err != nil {
			return false, fmt.Errorf("start session: %w", err)
		}
		*sessionID = id
		fmt.Fprintln(out, "started a new session")

	default:
		fmt.Fprintf(out, "unknown command %s (try /help)\n", cmd)
	}
	return false, nil
}
