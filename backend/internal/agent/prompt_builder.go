package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/memory"
)

const defaultSystemPrompt = `You are Vega, a helpful AI assistant with access to tools that let you perform tasks and answer questions more effectively.

The current date is {{currentDateTime}}.

Available tools:
- web_search: Search the web for current information
- bash: Execute shell commands (use with caution)
- code_search: Search through code files using regex patterns
- read_file: Read the contents of files
- edit_file: Create or modify files
- list_files: List files and directories
- read_logs: Read log messages for a specific session

Guidelines for tool usage:
1. Always explain what you're doing before using a tool
2. Use tools when they can provide more accurate or up-to-date information
3. Be cautious with bash commands and avoid destructive operations
4. When editing files, consider creating backups for important changes
5. Use code_search to understand codebases before making changes
6. If a tool call is denied or fails, tell the user what you attempted and why it did not happen

Always respond in the language the user writes in.`

// PromptBuilder renders the system prompt and the per-turn user message
type PromptBuilder struct {
	system       string
	instructions *Instructions
	now          func() time.Time
}

// NewPromptBuilder discovers project instructions starting at workspace.
// An empty workspace skips discovery.
func NewPromptBuilder(workspace string) *PromptBuilder {
	b := &PromptBuilder{system: defaultSystemPrompt, now: time.Now}
	if workspace != "" {
		if inst, err := DiscoverInstructions(workspace); err == nil {
			b.instructions = inst
		}
	}
	return b
}

// WithSystemPrompt replaces the default preamble
func (b *PromptBuilder) WithSystemPrompt(prompt string) *PromptBuilder {
	if strings.TrimSpace(prompt) != "" {
		b.system = prompt
	}
	return b
}

// Instructions returns the discovered instruction file, if any
func (b *PromptBuilder) Instructions() *Instructions {
	return b.instructions
}

// SystemPrompt renders the preamble plus any discovered instructions
func (b *PromptBuilder) SystemPrompt() string {
	prompt := strings.ReplaceAll(b.system, "{{currentDateTime}}", b.now().Format("Monday, January 2, 2006 15:04 MST"))
	if b.instructions != nil {
		prompt += b.instructions.FormatForPrompt()
	}
	return prompt
}

// Messages builds the opening conversation for a turn
func (b *PromptBuilder) Messages(related []memory.Entry, prompt string) []adapter.Message {
	return []adapter.Message{
		{Role: adapter.RoleSystem, Content: b.SystemPrompt()},
		{Role: adapter.RoleUser, Content: UserMessage(related, prompt)},
	}
}

// UserMessage prefixes the prompt with the retrieved session context,
// one "[HH:MM] role: content" line per entry in chronological order
func UserMessage(related []memory.Entry, prompt string) string {
	if len(related) == 0 {
		return prompt
	}

	ordered := make([]memory.Entry, len(related))
	copy(ordered, related)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var b strings.Builder
	b.WriteString("Context from previous conversations:\n")
	for _, e := range ordered {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.CreatedAt.Local().Format("15:04"), e.Role, e.Content)
	}
	b.WriteString("\nCurrent request: ")
	b.WriteString(prompt)
	return b.String()
}
