package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ToolEditFile is the file editing tool name
const ToolEditFile = "edit_file"

var sensitivePrefixes = []string{
	"/etc",
	"/usr/bin",
	"/usr/sbin",
	"/bin",
	"/sbin",
	"/System",
	"/Library",
	"/Applications",
}

// EditFileTool writes or replaces file content
type EditFileTool struct {
	workspace string
}

// NewEditFileTool creates the file editing tool
func NewEditFileTool(env Environment) *EditFileTool {
	return &EditFileTool{workspace: env.workspace()}
}

func (t *EditFileTool) Name() string { return ToolEditFile }

func (t *EditFileTool) Description() string {
	return "Creates or overwrites a file, or replaces a range of its lines. Can keep a .backup copy."
}

func (t *EditFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the workspace",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "New content for the file, or for the line range",
			},
			"create_if_missing": map[string]interface{}{
				"type":        "boolean",
				"description": "Create the file if it does not exist (default: true)",
			},
			"backup": map[string]interface{}{
				"type":        "boolean",
				"description": "Save the previous content to <path>.backup (default: false)",
			},
			"line_range": map[string]interface{}{
				"type":        "array",
				"description": "Optional [start_line, end_line] to replace, 1-indexed and inclusive",
				"items":       map[string]interface{}{"type": "integer"},
				"minItems":    2,
				"maxItems":    2,
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *EditFileTool) RequiresConfirmation() bool { return true }

func (t *EditFileTool) Describe(params map[string]interface{}) string {
	return "Edit/create file: " + stringParam(params, "path", "")
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	path := stringParam(params, "path", "")
	if path == "" {
		return "", NewInvalidInputError("path is required")
	}
	if hasTraversal(path) {
		return "", NewPermissionDeniedError("path traversal (..) is not allowed: %s", path)
	}
	full := resolvePath(t.workspace, path)
	for _, prefix := range sensitivePrefixes {
		if full == prefix || strings.HasPrefix(full, prefix+"/") {
			return "", NewPermissionDeniedError("refusing to modify system path %s", full)
		}
	}

	content, _ := params["content"].(string)
	createIfMissing := boolParam(params, "create_if_missing", true)
	backup := boolParam(params, "backup", false)
	start, end, ranged, err := lineRangeParam(params, "line_range")
	if err != nil {
		return "", err
	}

	existing, readErr := os.ReadFile(full)
	exists := readErr == nil
	if readErr != nil && !os.IsNotExist(readErr) {
		return "", NewIOError("failed to read "+path, readErr)
	}
	if !exists && !createIfMissing {
		return "", NewInvalidInputError("file does not exist: %s", path)
	}
	if !exists && ranged {
		return "", NewInvalidInputError("line_range requires an existing file: %s", path)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	if exists && backup {
		backupPath := full + ".backup"
		if err := os.WriteFile(backupPath, existing, 0o644); err != nil {
			return "", NewIOError("failed to write backup", err)
		}
		fmt.Fprintf(&b, "Backup saved to %s\n", backupPath)
	}

	newContent := content
	if ranged {
		newContent, err = replaceLines(string(existing), start, end, content)
		if err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", NewIOError("failed to create parent directories", err)
	}
	if err := os.WriteFile(full, []byte(newContent), 0o644); err != nil {
		return "", NewIOError("failed to write "+path, err)
	}

	switch {
	case !exists:
		fmt.Fprintf(&b, "Created %s (%d bytes)", path, len(newContent))
	case ranged:
		fmt.Fprintf(&b, "Replaced lines %d-%d of %s (%d bytes)", start, end, path, len(newContent))
	default:
		fmt.Fprintf(&b, "Wrote %s (%d bytes)", path, len(newContent))
	}
	return b.String(), nil
}

// replaceLines swaps lines start..end (1-indexed, inclusive) for replacement
func replaceLines(text string, start, end int, replacement string) (string, error) {
	trailingNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		lines = nil
	}
	if start > len(lines) {
		return "", NewInvalidInputError("start line %d is beyond end of file (%d lines)", start, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start-1]...)
	out = append(out, strings.Split(strings.TrimSuffix(replacement, "\n"), "\n")...)
	out = append(out, lines[end:]...)

	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result, nil
}
