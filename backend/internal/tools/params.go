package tools

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment is what the built-in tools need from the host
type Environment struct {
	// Workspace is the root relative paths resolve against
	Workspace string
	// LogFile is the JSON-lines log read by read_logs; empty disables it
	LogFile string
	// HTTPClient is used by web_search and fetch_webpage
	HTTPClient *http.Client
	// SearchURL overrides the DuckDuckGo HTML endpoint
	SearchURL string
}

func (e Environment) workspace() string {
	if e.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	return e.Workspace
}

func (e Environment) httpClient() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// DefaultTools returns every built-in tool
func DefaultTools(env Environment) []Tool {
	return []Tool{
		NewBashTool(env),
		NewReadFileTool(env),
		NewEditFileTool(env),
		NewListFilesTool(env),
		NewCodeSearchTool(env),
		NewWebSearchTool(env),
		NewFetchWebpageTool(env),
		NewReadLogsTool(env),
	}
}

// NewDefaultRegistry builds a registry of the built-in tools
func NewDefaultRegistry(env Environment) (*Registry, error) {
	return NewRegistry(DefaultTools(env)...)
}

// ============================================================================
// Parameter Helpers
// ============================================================================

func stringParam(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func boolParam(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func stringSliceParam(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// lineRangeParam reads a 1-indexed inclusive [start, end] pair
func lineRangeParam(args map[string]interface{}, key string) (start, end int, ok bool, err error) {
	raw, present := args[key]
	if !present || raw == nil {
		return 0, 0, false, nil
	}
	var nums []int
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				nums = append(nums, int(n))
			case int:
				nums = append(nums, n)
			}
		}
	case []int:
		nums = v
	}
	if len(nums) != 2 {
		return 0, 0, false, NewInvalidInputError("%s must be [start_line, end_line]", key)
	}
	if nums[0] < 1 || nums[1] < nums[0] {
		return 0, 0, false, NewInvalidInputError("invalid %s [%d, %d]", key, nums[0], nums[1])
	}
	return nums[0], nums[1], true, nil
}

// resolvePath anchors relative paths at the workspace
func resolvePath(workspace, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(workspace, p)
}

func hasTraversal(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func isBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	printable := 0
	for _, b := range content {
		if b == 0 {
			return true
		}
		if (b >= 32 && b <= 126) || b == '\t' || b == '\n' || b == '\r' || b >= 128 {
			printable++
		}
	}
	return float64(printable)/float64(len(content)) < 0.7
}
