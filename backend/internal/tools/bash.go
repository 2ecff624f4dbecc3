package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ToolBash is the shell tool name
const ToolBash = "bash"

const defaultBashTimeoutSeconds = 30

var dangerousPatterns = []string{
	"rm -rf /",
	":(){ :|:& };:",
	"dd if=/dev/zero",
	"mkfs",
	"format",
	"> /dev/",
	"shutdown",
	"reboot",
	"halt",
}

// BashTool runs shell commands in the workspace
type BashTool struct {
	workspace string
}

// NewBashTool creates the shell tool
func NewBashTool(env Environment) *BashTool {
	return &BashTool{workspace: env.workspace()}
}

func (t *BashTool) Name() string { return ToolBash }

func (t *BashTool) Description() string {
	return "Executes shell commands and returns stdout, stderr and the exit code. Destructive commands are refused."
}

func (t *BashTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "number",
				"description": "Timeout in seconds (default: 30)",
				"minimum":     1,
			},
			"working_directory": map[string]interface{}{
				"type":        "string",
				"description": "Working directory for the command (default: workspace root)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) RequiresConfirmation() bool { return true }

func (t *BashTool) Describe(params map[string]interface{}) string {
	desc := "Execute command: " + stringParam(params, "command", "")
	if dir := stringParam(params, "working_directory", ""); dir != "" {
		desc += " (in " + dir + ")"
	}
	return desc
}

// Timeout lets long commands outlive the gateway default
func (t *BashTool) Timeout(params map[string]interface{}) (int, bool) {
	secs := intParam(params, "timeout_seconds", defaultBashTimeoutSeconds)
	// one extra second so the command's own deadline reports first
	return secs + 1, true
}

func (t *BashTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	command := stringParam(params, "command", "")
	if strings.TrimSpace(command) == "" {
		return "", NewInvalidInputError("command is required")
	}

	lower := strings.ToLower(command)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return "", NewPermissionDeniedError("command contains potentially dangerous pattern: %s", pattern)
		}
	}

	secs := intParam(params, "timeout_seconds", defaultBashTimeoutSeconds)
	if secs <= 0 {
		secs = defaultBashTimeoutSeconds
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	cmd.Dir = resolvePath(t.workspace, stringParam(params, "working_directory", "."))
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return formatBashOutput(command, -1, stdout.String(), stderr.String()),
				&ToolError{Kind: KindTimeout, Message: fmt.Sprintf("command timed out after %ds", secs)}
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return "", NewIOError("command execution failed", err)
		}
	}

	return formatBashOutput(command, exitCode, stdout.String(), stderr.String()), nil
}

func formatBashOutput(command string, exitCode int, stdout, stderr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\nExit code: %d\n", command, exitCode)
	if stdout != "" {
		b.WriteString("\nSTDOUT:\n")
		b.WriteString(stdout)
	}
	if stderr != "" {
		b.WriteString("\nSTDERR:\n")
		b.WriteString(stderr)
	}
	return b.String()
}
