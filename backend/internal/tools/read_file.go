package tools

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"vega-agent/backend/internal/constants"
)

// ToolReadFile is the file reading tool name
const ToolReadFile = "read_file"

const (
	defaultMaxFileSizeMB = constants.MaxReadFileBytes / (1024 * 1024)
	binaryPreviewBytes   = 1024
)

// ReadFileTool returns file contents, optionally limited to a line range
type ReadFileTool struct {
	workspace string
}

// NewReadFileTool creates the file reading tool
func NewReadFileTool(env Environment) *ReadFileTool {
	return &ReadFileTool{workspace: env.workspace()}
}

func (t *ReadFileTool) Name() string { return ToolReadFile }

func (t *ReadFileTool) Description() string {
	return "Reads the contents of a file. Binary files are shown as a hex preview."
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the workspace",
			},
			"max_size_mb": map[string]interface{}{
				"type":        "number",
				"description": "Refuse files larger than this (default: 10)",
				"minimum":     0,
			},
			"line_range": map[string]interface{}{
				"type":        "array",
				"description": "Optional [start_line, end_line], 1-indexed and inclusive",
				"items":       map[string]interface{}{"type": "integer"},
				"minItems":    2,
				"maxItems":    2,
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) RequiresConfirmation() bool { return false }

func (t *ReadFileTool) Describe(params map[string]interface{}) string {
	return "Read file: " + stringParam(params, "path", "")
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	path := stringParam(params, "path", "")
	if path == "" {
		return "", NewInvalidInputError("path is required")
	}
	full := resolvePath(t.workspace, path)

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewInvalidInputError("file not found: %s", path)
		}
		return "", NewIOError("failed to stat "+path, err)
	}
	if info.IsDir() {
		return "", NewInvalidInputError("%s is a directory", path)
	}

	maxMB := intParam(params, "max_size_mb", defaultMaxFileSizeMB)
	if maxMB > 0 && info.Size() > int64(maxMB)*1024*1024 {
		return "", NewInvalidInputError("file too large: %d bytes (max %d MB)", info.Size(), maxMB)
	}

	start, end, ranged, err := lineRangeParam(params, "line_range")
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return "", NewIOError("failed to read "+path, err)
	}

	if isBinary(content) {
		preview := content
		if len(preview) > binaryPreviewBytes {
			preview = preview[:binaryPreviewBytes]
		}
		return fmt.Sprintf("Binary file %s (%d bytes). Hex preview of the first %d bytes:\n%s",
			path, len(content), len(preview), hex.Dump(preview)), nil
	}

	text := string(content)
	if !ranged {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	// a trailing newline does not start another line
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if start > len(lines) {
		return "", NewInvalidInputError("start line %d is beyond end of file (%d lines)", start, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}
	return fmt.Sprintf("Lines %d-%d of %s (%d total):\n%s",
		start, end, path, len(lines), strings.Join(lines[start-1:end], "\n")), nil
}
