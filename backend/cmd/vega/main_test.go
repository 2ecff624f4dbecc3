package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/memory"
	"vega-agent/backend/internal/services"
	"vega-agent/backend/internal/tools"
	"vega-agent/backend/pkg/config"
)

type echoBackend struct{}

func (echoBackend) Complete(_ context.Context, history []adapter.Message, _ []adapter.Tool) (*adapter.Response, error) {
	last := history[len(history)-1].Content
	return &adapter.Response{Content: "echo: " + last}, nil
}

func newTestRuntime(t *testing.T) *services.Runtime {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Workspace:            dir,
		Provider:             "ollama",
		Model:                "stub",
		EmbeddingProvider:    "simple",
		EmbeddingDimension:   16,
		MemoryBackend:        "sqlite",
		ContextDB:            filepath.Join(dir, "ctx.db"),
		MaxToolRounds:        2,
		ToolTimeout:          time.Second,
		BackendRetries:       1,
		RetrievalLimit:       0,
		CommandHistoryLength: 50,
	}
	rt, err := services.NewRuntime(context.Background(), cfg, services.Options{
		Backend: echoBackend{},
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func runScript(t *testing.T, rt *services.Runtime, sessionID, script string) (string, *chatSession) {
	t.Helper()
	input := tools.NewTerminalConfirmer(strings.NewReader(script), io.Discard)
	defer input.Close()

	var out bytes.Buffer
	s := &chatSession{
		rt:        rt,
		input:     input,
		out:       &out,
		sessionID: sessionID,
		log:       zap.NewNop(),
	}
	require.NoError(t, s.loop(context.Background()))
	return out.String(), s
}

func TestChatLoop_TurnsAndCommands(t *testing.T) {
	rt := newTestRuntime(t)

	out, _ := runScript(t, rt, "s1", "/help\n\n/tools\nhello there\n/history\nquit\nnever read\n")

	assert.Contains(t, out, "Session ID: s1")
	assert.Contains(t, out, "Available commands:")
	assert.Contains(t, out, tools.ToolBash)
	assert.Contains(t, out, "echo: hello there")
	assert.Contains(t, out, "user: hello there")
	assert.Contains(t, out, "Goodbye!")
	assert.NotContains(t, out, "never read")

	commands, err := rt.Store.CommandHistory(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"quit", "/history", "hello there", "/tools", "/help"}, commands)
}

func TestChatLoop_EOFEndsSession(t *testing.T) {
	rt := newTestRuntime(t)

	out, _ := runScript(t, rt, "s1", "hi")

	assert.Contains(t, out, "echo: hi")
	assert.Contains(t, out, "Goodbye!")
}

func TestChatLoop_SessionCommands(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	runScript(t, rt, "old", "remember me\n/quit\n")

	out, s := runScript(t, rt, "s2", "/session\n/session missing\n/session old\n/sessions\n/new\n/bogus\n/quit\n")

	assert.Contains(t, out, "Current session ID: s2")
	assert.Contains(t, out, "Session 'missing' not found.")
	assert.Contains(t, out, "Switching to session: old")
	assert.Contains(t, out, "old - 2 entries")
	assert.Contains(t, out, "(current)")
	assert.Contains(t, out, "Starting new session with ID: ")
	assert.Contains(t, out, "Unknown command: /bogus")
	assert.NotEqual(t, "old", s.sessionID)

	exists, err := rt.Store.SessionExists(ctx, s.sessionID)
	require.NoError(t, err)
	assert.False(t, exists, "a new session has no entries until its first turn")
}

func TestChatLoop_ExportAndLogs(t *testing.T) {
	rt := newTestRuntime(t)
	path := filepath.Join(t.TempDir(), "export.md")

	out, _ := runScript(t, rt, "s1", "first question\n/export "+path+"\n/logs\n/logs zero\n/quit\n")

	assert.Contains(t, out, "Session exported to "+path)
	assert.Contains(t, out, "No log storage configured")
	assert.Contains(t, out, `Expected a positive number, got "zero"`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Chat Session Export: s1\n"))
	assert.Contains(t, string(data), "first question")
	assert.Contains(t, string(data), "echo: first question")
}

func TestChatLoop_BlankLinesAndBadCounts(t *testing.T) {
	rt := newTestRuntime(t)

	out, _ := runScript(t, rt, "s1", "   \n/history 0\n/quit\n")

	assert.Contains(t, out, `Expected a positive number, got "0"`)
	assert.NotContains(t, out, "Error")
}

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cfg := &config.Config{Provider: "ollama", Model: "llama3.2", BaseURL: "http://x", ContextDB: "a.db"}

	require.NoError(t, rootCmd.ParseFlags([]string{"--model", "gpt-4o-mini", "--yolo", "--memory", "neo4j"}))
	applyFlags(rootCmd, cfg)

	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.True(t, cfg.Yolo)
	assert.Equal(t, "neo4j", cfg.MemoryBackend)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "a.db", cfg.ContextDB)
	assert.Equal(t, "http://x", cfg.BaseURL)
}

func TestPrintSessionList(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSessionList(&out, nil))
	assert.Equal(t, "No sessions found.\n", out.String())

	out.Reset()
	require.NoError(t, printSessionList(&out, []memory.SessionInfo{
		{SessionID: "abc", Entries: 4, LastSeen: time.Now()},
	}))
	assert.Contains(t, out.String(), "abc")
	assert.Contains(t, out.String(), "4 entries")
	assert.Contains(t, out.String(), "Total: 1 sessions")
}
