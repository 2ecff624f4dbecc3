package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ToolCodeSearch is the regex search tool name
const ToolCodeSearch = "code_search"

const (
	defaultMaxSearchResults = 50
	maxSearchFileBytes      = 2 * 1024 * 1024
)

// directories never worth searching
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
}

// CodeSearchTool greps files under a directory
type CodeSearchTool struct {
	workspace string
}

// NewCodeSearchTool creates the search tool
func NewCodeSearchTool(env Environment) *CodeSearchTool {
	return &CodeSearchTool{workspace: env.workspace()}
}

func (t *CodeSearchTool) Name() string { return ToolCodeSearch }

func (t *CodeSearchTool) Description() string {
	return "Searches file contents with a regular expression. Results are file:line:content."
}

func (t *CodeSearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File or directory to search (default: workspace root)",
			},
			"case_sensitive": map[string]interface{}{
				"type":        "boolean",
				"description": "Match case (default: false)",
			},
			"whole_word": map[string]interface{}{
				"type":        "boolean",
				"description": "Only match whole words (default: false)",
			},
			"include": map[string]interface{}{
				"type":        "string",
				"description": "Glob the relative path must match, e.g. **/*.go",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum matches to return (default: 50)",
				"minimum":     1,
			},
			"context_lines": map[string]interface{}{
				"type":        "integer",
				"description": "Lines of context around each match (default: 0)",
				"minimum":     0,
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *CodeSearchTool) RequiresConfirmation() bool { return false }

func (t *CodeSearchTool) Describe(params map[string]interface{}) string {
	return fmt.Sprintf("Search for %q in %s", stringParam(params, "pattern", ""), stringParam(params, "path", "."))
}

func (t *CodeSearchTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	pattern := stringParam(params, "pattern", "")
	if pattern == "" {
		return "", NewInvalidInputError("pattern is required")
	}
	if boolParam(params, "whole_word", false) {
		pattern = `\b(?:` + pattern + `)\b`
	}
	if !boolParam(params, "case_sensitive", false) {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", NewInvalidInputError("invalid regular expression: %v", err)
	}

	include := stringParam(params, "include", "")
	if include != "" && !doublestar.ValidatePattern(include) {
		return "", NewInvalidInputError("invalid glob pattern: %s", include)
	}
	maxResults := intParam(params, "max_results", defaultMaxSearchResults)
	contextLines := intParam(params, "context_lines", 0)

	searchPath := stringParam(params, "path", ".")
	root := resolvePath(t.workspace, searchPath)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return "", NewInvalidInputError("path not found: %s", searchPath)
		}
		return "", NewIOError("failed to stat "+searchPath, err)
	}

	var matches []string
	matchCount := 0

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && (skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)
		if include != "" {
			if ok, _ := doublestar.Match(include, rel); !ok {
				return nil
			}
		}

		found := searchFile(path, rel, re, contextLines, maxResults-matchCount)
		for _, m := range found {
			matches = append(matches, m.text)
			if m.hit {
				matchCount++
			}
		}
		if matchCount >= maxResults {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}

	if matchCount == 0 {
		return fmt.Sprintf("No matches found for pattern: %s", stringParam(params, "pattern", "")), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matches:\n", matchCount)
	for _, m := range matches {
		b.WriteString(m)
		b.WriteString("\n")
	}
	if matchCount >= maxResults {
		fmt.Fprintf(&b, "(limited to %d results)\n", maxResults)
	}
	return b.String(), nil
}

type searchLine struct {
	text string
	hit  bool
}

// searchFile returns up to limit hits from one file, with context lines interleaved
func searchFile(path, rel string, re *regexp.Regexp, contextLines, limit int) []searchLine {
	if limit <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSearchFileBytes {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSearchFileBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	var hits []searchLine
	lastEmitted := -1
	count := 0
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		from := i - contextLines
		if from <= lastEmitted {
			from = lastEmitted + 1
		}
		if from < 0 {
			from = 0
		}
		for j := from; j < i; j++ {
			hits = append(hits, searchLine{text: fmt.Sprintf("%s-%d-%s", rel, j+1, lines[j])})
		}
		hits = append(hits, searchLine{text: fmt.Sprintf("%s:%d:%s", rel, i+1, line), hit: true})
		lastEmitted = i
		to := i + contextLines
		if to >= len(lines) {
			to = len(lines) - 1
		}
		for j := i + 1; j <= to; j++ {
			if re.MatchString(lines[j]) {
				break
			}
			hits = append(hits, searchLine{text: fmt.Sprintf("%s-%d-%s", rel, j+1, lines[j])})
			lastEmitted = j
		}
		count++
		if count >= limit {
			break
		}
	}
	return hits
}
