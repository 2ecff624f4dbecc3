package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vega-agent/backend/internal/progress"
	"vega-agent/backend/internal/services"
	"vega-agent/backend/internal/state"
	"vega-agent/backend/internal/tools"
	apperrors "vega-agent/backend/pkg/errors"
	"vega-agent/backend/pkg/logger"
)

const (
	defaultHistoryCount = 20
	defaultLogCount     = 10
	maxLogCount         = 50
)

// lineReader supplies REPL input. *tools.TerminalConfirmer implements it.
type lineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// chatSession is the REPL state for one terminal
type chatSession struct {
	rt        *services.Runtime
	input     lineReader
	out       io.Writer
	sessionID string
	log       *zap.Logger

	// interrupt scopes Ctrl+C to the running turn; nil in tests
	interrupt func(ctx context.Context) (context.Context, context.CancelFunc)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	// one broadcaster for the process; the gateway pauses it around prompts
	broadcaster := progress.New(os.Stdout)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	confirmer := tools.NewTerminalConfirmer(os.Stdin, os.Stdout)
	defer confirmer.Close()

	rt, err := services.NewRuntime(ctx, cfg, services.Options{
		Confirmer: confirmer,
		Reporter:  broadcaster,
		Workers:   1,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	sid := cfg.SessionID
	if sid == "" {
		sid = state.NewSessionID()
	}

	s := &chatSession{
		rt:        rt,
		input:     confirmer,
		out:       os.Stdout,
		sessionID: sid,
		log:       logger.Get(),
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
	return s.loop(ctx)
}

func (s *chatSession) loop(ctx context.Context) error {
	fmt.Fprintln(s.out, "Tool-enabled chat started! Type /help for commands or /tools for tool information.")
	fmt.Fprintf(s.out, "Session ID: %s\n", s.sessionID)
	if s.rt.Gateway.AutoApprove() {
		fmt.Fprintln(s.out, errorStyle.Render("YOLO mode: tools run without confirmation."))
	}
	fmt.Fprintln(s.out)

	for {
		fmt.Fprint(s.out, promptStyle.Render("λ")+" ")
		line, err := s.input.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if err := s.rt.Store.RecordCommand(ctx, s.sessionID, input); err != nil {
			s.log.Warn("Failed to record command", zap.Error(err))
		}

		if strings.EqualFold(input, "quit") || strings.EqualFold(input, "exit") {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}

		if strings.HasPrefix(input, "/") {
			quit, err := s.handleCommand(ctx, input)
			if err != nil {
				s.log.Error("Error handling command", zap.Error(err))
				fmt.Fprintln(s.out, errorStyle.Render("Error")+": Failed to handle command")
			}
			if quit {
				return nil
			}
			continue
		}

		s.runTurn(ctx, input)
	}
}

func (s *chatSession) runTurn(ctx context.Context, prompt string) {
	turnCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.interrupt != nil {
		turnCtx, cancel = s.interrupt(ctx)
	}
	defer cancel()

	turn, err := s.rt.Pool.Run(turnCtx, s.sessionID, prompt)
	if err != nil {
		if apperrors.IsErrorType(err, apperrors.ErrorTypeCancelled) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(s.out, dimStyle.Render("Cancelled."))
			fmt.Fprintln(s.out)
			return
		}
		fmt.Fprintln(s.out, errorStyle.Render("Error")+": "+err.Error())
		fmt.Fprintln(s.out)
		return
	}

	fmt.Fprintf(s.out, "%s: %s\n\n", agentStyle.Render("Vega"), turn.Response)
}

// handleCommand runs one slash command and reports whether the REPL should exit
func (s *chatSession) handleCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "quit", "exit":
		fmt.Fprintln(s.out, "Goodbye!")
		return true, nil
	case "help":
		s.printHelp()
	case "tools":
		s.printTools()
	case "new":
		s.sessionID = state.NewSessionID()
		fmt.Fprintf(s.out, "Starting new session with ID: %s\n", s.sessionID)
		fmt.Fprintf(s.out, "(Use /session %s to return to this session)\n", s.sessionID)
	case "session":
		return false, s.switchSession(ctx, parts[1:])
	case "sessions":
		return false, s.printSessions(ctx)
	case "history":
		n, ok := s.countArg(parts[1:], defaultHistoryCount, 0)
		if !ok {
			return false, nil
		}
		return false, s.printHistory(ctx, n)
	case "logs":
		n, ok := s.countArg(parts[1:], defaultLogCount, maxLogCount)
		if !ok {
			return false, nil
		}
		return false, s.printLogs(ctx, n)
	case "export":
		if len(parts) != 2 {
			fmt.Fprintln(s.out, "Usage: /export <filename>")
			return false, nil
		}
		return false, s.export(ctx, parts[1])
	default:
		fmt.Fprintf(s.out, "Unknown command: /%s\n", parts[0])
		fmt.Fprintln(s.out, "Type /help for available commands.")
	}
	return false, nil
}

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out, "  /help              - Show this help message")
	fmt.Fprintln(s.out, "  /tools             - Show available tools")
	fmt.Fprintln(s.out, "  /quit              - Exit the chat")
	fmt.Fprintln(s.out, "  /new               - Start a new conversation session")
	fmt.Fprintln(s.out, "  /session [id]      - Show the current session ID or switch to another session")
	fmt.Fprintln(s.out, "  /sessions          - List all sessions")
	fmt.Fprintln(s.out, "  /history [n]       - Show the last n entries of this session")
	fmt.Fprintln(s.out, "  /logs [n]          - Show the last n log entries of this session")
	fmt.Fprintln(s.out, "  /export <filename> - Export this session as markdown")
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Ask for what you need and Vega will use the appropriate tools.")
	fmt.Fprintln(s.out, "Tools marked with * ask for confirmation first.")
}

func (s *chatSession) printTools() {
	fmt.Fprintln(s.out, titleStyle.Render("Available tools"))
	for _, name := range s.rt.Registry.Names() {
		t, ok := s.rt.Registry.Get(name)
		if !ok {
			continue
		}
		marker := " "
		if t.RequiresConfirmation() {
			marker = "*"
		}
		fmt.Fprintf(s.out, " %s %-14s %s\n", marker, name, dimStyle.Render(t.Description()))
	}
}

func (s *chatSession) switchSession(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		fmt.Fprintf(s.out, "Current session ID: %s\n", s.sessionID)
	case 1:
		exists, err := s.rt.Store.SessionExists(ctx, args[0])
		if err != nil {
			return err
		}
		if !exists {
			fmt.Fprintf(s.out, "Session '%s' not found. Use /sessions to list available sessions.\n", args[0])
			return nil
		}
		s.sessionID = args[0]
		fmt.Fprintf(s.out, "Switching to session: %s\n", s.sessionID)
	default:
		fmt.Fprintln(s.out, "Usage: /session [session_id]")
	}
	return nil
}

func (s *chatSession) printSessions(ctx context.Context) error {
	sessions, err := s.rt.Store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(s.out, "No sessions found.")
		return nil
	}
	fmt.Fprintln(s.out, "Available sessions:")
	for _, info := range sessions {
		current := ""
		if info.SessionID == s.sessionID {
			current = " (current)"
		}
		fmt.Fprintf(s.out, "  %s - %d entries, last active: %s%s\n",
			info.SessionID, info.Entries, info.LastSeen.UTC().Format("2006-01-02 15:04:05 UTC"), current)
	}
	return nil
}

func (s *chatSession) printHistory(ctx context.Context, n int) error {
	entries, err := s.rt.Store.History(ctx, s.sessionID, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(s.out, "No history in this session yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(s.out, "%s %s: %s\n", dimStyle.Render(e.CreatedAt.Local().Format("15:04")), e.Role, e.Content)
	}
	return nil
}

func (s *chatSession) printLogs(ctx context.Context, n int) error {
	t, ok := s.rt.Registry.Get(tools.ToolReadLogs)
	if !ok {
		fmt.Fprintln(s.out, "Log reading is not available.")
		return nil
	}
	out, err := t.Execute(ctx, map[string]interface{}{
		"session_id": s.sessionID,
		"limit":      n,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, out)
	return nil
}

func (s *chatSession) export(ctx context.Context, filename string) error {
	entries, err := s.rt.Store.History(ctx, s.sessionID, 0)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Chat Session Export: %s\n\n", s.sessionID)
	for _, e := range entries {
		fmt.Fprintf(&b, "## %s - %s\n%s\n\n", e.Role, e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Content)
	}

	if err := os.WriteFile(filename, []byte(b.String()), 0o644); err != nil {
		fmt.Fprintf(s.out, "Failed to export session: %v\n", err)
		return nil
	}
	fmt.Fprintf(s.out, "Session exported to %s\n", filename)
	return nil
}

// countArg parses an optional positive count argument; max of 0 means unbounded
func (s *chatSession) countArg(args []string, def, max int) (int, bool) {
	if len(args) == 0 {
		return def, true
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		fmt.Fprintf(s.out, "Expected a positive number, got %q\n", args[0])
		return 0, false
	}
	if max > 0 && n > max {
		n = max
	}
	return n, true
}
