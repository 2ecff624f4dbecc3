package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ToolListFiles is the directory listing tool name
const ToolListFiles = "list_files"

const defaultMaxFiles = 1000

// ListFilesTool lists directory contents
type ListFilesTool struct {
	workspace string
}

// NewListFilesTool creates the directory listing tool
func NewListFilesTool(env Environment) *ListFilesTool {
	return &ListFilesTool{workspace: env.workspace()}
}

func (t *ListFilesTool) Name() string { return ToolListFiles }

func (t *ListFilesTool) Description() string {
	return "Lists files in a directory, optionally recursively and filtered by glob pattern or extension."
}

func (t *ListFilesTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"directory": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (default: workspace root)",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Descend into subdirectories (default: false)",
			},
			"include_hidden": map[string]interface{}{
				"type":        "boolean",
				"description": "Include dot files and directories (default: false)",
			},
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob the relative path must match, e.g. **/*.go",
			},
			"file_types": map[string]interface{}{
				"type":        "array",
				"description": "Extensions to keep, e.g. [\"go\", \"md\"]",
				"items":       map[string]interface{}{"type": "string"},
			},
			"max_files": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum entries to return (default: 1000)",
				"minimum":     1,
			},
			"include_size": map[string]interface{}{
				"type":        "boolean",
				"description": "Show file sizes (default: false)",
			},
		},
	}
}

func (t *ListFilesTool) RequiresConfirmation() bool { return false }

func (t *ListFilesTool) Describe(params map[string]interface{}) string {
	return "List files in: " + stringParam(params, "directory", ".")
}

type listedFile struct {
	rel  string
	dir  bool
	size int64
}

func (t *ListFilesTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	dir := stringParam(params, "directory", ".")
	root := resolvePath(t.workspace, dir)

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewInvalidInputError("directory not found: %s", dir)
		}
		return "", NewIOError("failed to stat "+dir, err)
	}
	if !info.IsDir() {
		return "", NewInvalidInputError("%s is not a directory", dir)
	}

	recursive := boolParam(params, "recursive", false)
	includeHidden := boolParam(params, "include_hidden", false)
	includeSize := boolParam(params, "include_size", false)
	maxFiles := intParam(params, "max_files", defaultMaxFiles)
	pattern := stringParam(params, "pattern", "")
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return "", NewInvalidInputError("invalid glob pattern: %s", pattern)
	}
	exts := make(map[string]bool)
	for _, ext := range stringSliceParam(params, "file_types") {
		exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	var entries []listedFile
	truncated := false

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, the root is not
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		hidden := strings.HasPrefix(d.Name(), ".")

		if d.IsDir() {
			if hidden && !includeHidden {
				return filepath.SkipDir
			}
			if pattern == "" && len(exts) == 0 {
				entries = append(entries, listedFile{rel: rel, dir: true})
			}
			if !recursive {
				return filepath.SkipDir
			}
		} else {
			if hidden && !includeHidden {
				return nil
			}
			if len(exts) > 0 && !exts[strings.ToLower(strings.TrimPrefix(filepath.Ext(rel), "."))] {
				return nil
			}
			if pattern != "" {
				if ok, _ := doublestar.Match(pattern, rel); !ok {
					return nil
				}
			}
			entry := listedFile{rel: rel}
			if includeSize {
				if fi, err := d.Info(); err == nil {
					entry.size = fi.Size()
				}
			}
			entries = append(entries, entry)
		}

		if len(entries) >= maxFiles {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", NewIOError("failed to list "+dir, walkErr)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	if len(entries) == 0 {
		return fmt.Sprintf("No files found in %s", dir), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d entries in %s:\n", len(entries), dir)
	for _, e := range entries {
		switch {
		case e.dir:
			fmt.Fprintf(&b, "%s/\n", e.rel)
		case includeSize:
			fmt.Fprintf(&b, "%s (%s)\n", e.rel, formatSize(e.size))
		default:
			fmt.Fprintf(&b, "%s\n", e.rel)
		}
	}
	if truncated {
		fmt.Fprintf(&b, "(limited to %d entries)\n", maxFiles)
	}
	return b.String(), nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
