package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/memory"
	"vega-agent/backend/internal/state"
)

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "just the prompt", UserMessage(nil, "just the prompt"))

	early := time.Date(2026, 3, 1, 9, 5, 0, 0, time.Local)
	late := time.Date(2026, 3, 1, 14, 30, 0, 0, time.Local)
	related := []memory.Entry{
		{Role: state.RoleAgent, Content: "use go test ./...", CreatedAt: late},
		{Role: state.RoleUser, Content: "how do I run tests", CreatedAt: early},
	}

	msg := UserMessage(related, "and with race detection?")
	assert.Equal(t, "Context from previous conversations:\n"+
		"[09:05] user: how do I run tests\n"+
		"[14:30] agent: use go test ./...\n"+
		"\nCurrent request: and with race detection?", msg)

	// input order is untouched
	assert.Equal(t, state.RoleAgent, related[0].Role)
}

func TestPromptBuilder_SystemPrompt(t *testing.T) {
	b := NewPromptBuilder("")
	b.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }

	prompt := b.SystemPrompt()
	assert.Contains(t, prompt, "You are Vega")
	assert.Contains(t, prompt, "Sunday, October 18, 2026")
	assert.NotContains(t, prompt, "{{currentDateTime}}")
	assert.Nil(t, b.Instructions())

	b.WithSystemPrompt("custom preamble")
	assert.Equal(t, "custom preamble", b.SystemPrompt())
	b.WithSystemPrompt("  ")
	assert.Equal(t, "custom preamble", b.SystemPrompt())
}

func TestPromptBuilder_Messages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AgentsInstructionsFile), []byte("Always run gofmt."), 0o644))

	b := NewPromptBuilder(dir)
	require.NotNil(t, b.Instructions())

	msgs := b.Messages(nil, "hello")
	require.Len(t, msgs, 2)
	assert.Equal(t, adapter.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "# Agent Instructions (from "+filepath.Join(dir, AgentsInstructionsFile)+")")
	assert.True(t, strings.HasSuffix(msgs[0].Content, "Always run gofmt.\n"))
	assert.Equal(t, adapter.Message{Role: adapter.RoleUser, Content: "hello"}, msgs[1])
}

func TestDiscoverInstructions(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, AgentsInstructionsFile), []byte("root agents"), 0o644))

	// walks up to the nearest file
	inst, err := DiscoverInstructions(deep)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, AgentsInstructionsFile), inst.Path)
	assert.Equal(t, "root agents", inst.Content)

	// a nearer directory wins
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", AgentsInstructionsFile), []byte("a agents"), 0o644))
	inst, err = DiscoverInstructions(deep)
	require.NoError(t, err)
	assert.Equal(t, "a agents", inst.Content)

	// VEGA.md is preferred within one directory
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", VegaInstructionsFile), []byte("a vega"), 0o644))
	inst, err = DiscoverInstructions(deep)
	require.NoError(t, err)
	assert.Equal(t, "a vega", inst.Content)

	// directories named like instruction files are ignored
	require.NoError(t, os.Mkdir(filepath.Join(deep, VegaInstructionsFile), 0o755))
	inst, err = DiscoverInstructions(deep)
	require.NoError(t, err)
	assert.Equal(t, "a vega", inst.Content)
}

func TestInstructions_FormatForPrompt(t *testing.T) {
	inst := &Instructions{Path: "/repo/VEGA.md", Content: "Be brief."}
	assert.Equal(t, "\n\n# Agent Instructions (from /repo/VEGA.md)\n\nBe brief.\n", inst.FormatForPrompt())
}
