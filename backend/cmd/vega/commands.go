package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"vega-agent/backend/internal/api"
	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/memory"
	"vega-agent/backend/internal/progress"
	"vega-agent/backend/internal/services"
	"vega-agent/backend/internal/state"
	"vega-agent/backend/internal/tools"
	"vega-agent/backend/pkg/logger"
)

var (
	historyLimit    int
	historyCommands bool
)

// runCmd executes a single prompt and prints the response
var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run a single prompt and print the response",
	Long: `Runs one turn: the prompt is embedded, related context from the session
is retrieved, and the model may call tools before answering.
Progress is drawn on stderr so stdout carries only the response.

Example:
  vega run "summarise the README in this directory"
  vega run --session 4f1c... "and what about the tests?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPrompt,
}

// sessionsCmd lists stored sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

// historyCmd prints one session's entries
var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the conversation history of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

// serveCmd exposes sessions and chat over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Starts the HTTP API. Nobody can answer a confirmation prompt over HTTP,
so tools that need confirmation are denied unless --yolo is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runPrompt(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := progress.New(os.Stderr)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	confirmer := tools.NewTerminalConfirmer(os.Stdin, os.Stderr)
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

	turn, err := rt.Pool.Run(ctx, sid, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), turn.Response)
	fmt.Fprintln(os.Stderr, dimStyle.Render("session: "+sid))
	return nil
}

// openStore opens the configured memory store without the rest of the runtime
func openStore(cmd *cobra.Command) (memory.Store, error) {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.New(cfg)
	if err != nil {
		return nil, err
	}
	return memory.Open(cmd.Context(), cfg, embedder)
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	return printSessionList(cmd.OutOrStdout(), sessions)
}

func printSessionList(out io.Writer, sessions []memory.SessionInfo) error {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintln(out, titleStyle.Render("Sessions"))
	fmt.Fprintln(out, strings.Repeat("─", 72))
	for _, s := range sessions {
		fmt.Fprintf(out, "  %-36s  %4d entries  %s\n", s.SessionID, s.Entries, s.LastSeen.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(out, strings.Repeat("─", 72))
	fmt.Fprintf(out, "Total: %d sessions\n", len(sessions))
	fmt.Fprintln(out, "\nUse: vega --session <session-id>")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sid := args[0]
	out := cmd.OutOrStdout()

	if historyCommands {
		lines, err := store.CommandHistory(ctx, sid, historyLimit)
		if err != nil {
			return err
		}
		for i := len(lines) - 1; i >= 0; i-- {
			fmt.Fprintln(out, lines[i])
		}
		return nil
	}

	exists, err := store.SessionExists(ctx, sid)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("session %s not found", sid)
	}
	entries, err := store.History(ctx, sid, historyLimit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s %s: %s\n", dimStyle.Render(e.CreatedAt.Local().Format("2006-01-02 15:04")), e.Role, e.Content)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := services.NewRuntime(ctx, cfg, services.Options{
		Confirmer: tools.DenyConfirmer{},
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := api.NewServer(rt.Store, rt.Embedder, rt.Pool, rt.Registry, log)
	return api.Serve(ctx, ":"+cfg.Port, srv.Router(cfg.IsProduction()), log)
}
