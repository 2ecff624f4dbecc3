package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"vega-agent/backend/pkg/logger"
)

// ToolReadLogs is the session log tool name
const ToolReadLogs = "read_logs"

const defaultLogLimit = 50

var logLevels = []string{"error", "warn", "info", "debug", "trace"}

// levelRank orders severities; a filter keeps its level and everything more severe
var levelRank = map[string]int{
	"trace":  0,
	"debug":  1,
	"info":   2,
	"warn":   3,
	"error":  4,
	"dpanic": 5,
	"panic":  5,
	"fatal":  5,
}

// ReadLogsTool reads this agent's own structured log for a session
type ReadLogsTool struct {
	logFile string
}

// NewReadLogsTool creates the log reading tool
func NewReadLogsTool(env Environment) *ReadLogsTool {
	return &ReadLogsTool{logFile: env.LogFile}
}

func (t *ReadLogsTool) Name() string { return ToolReadLogs }

func (t *ReadLogsTool) Description() string {
	return "Reads the agent's own log entries for a session, for debugging what happened."
}

func (t *ReadLogsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to read logs for",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum entries to return (default: 50)",
				"minimum":     1,
			},
			"level_filter": map[string]interface{}{
				"type":        "string",
				"description": "Minimum level to include",
				"enum":        logLevels,
			},
		},
		"required": []string{"session_id"},
	}
}

func (t *ReadLogsTool) RequiresConfirmation() bool { return false }

func (t *ReadLogsTool) Describe(params map[string]interface{}) string {
	return "Read logs for session: " + stringParam(params, "session_id", "")
}

type logEntry struct {
	timestamp string
	level     string
	message   string
	fields    map[string]interface{}
}

func (t *ReadLogsTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	sessionID := stringParam(params, "session_id", "")
	if sessionID == "" {
		return "", NewInvalidInputError("session_id is required")
	}
	if t.logFile == "" {
		return "No log storage configured. Logs are only available when VEGA_LOG_FILE is set.", nil
	}
	limit := intParam(params, "limit", defaultLogLimit)
	minLevel := -1
	if lvl := stringParam(params, "level_filter", ""); lvl != "" {
		rank, ok := levelRank[lvl]
		if !ok {
			return "", NewInvalidInputError("invalid level_filter: %s", lvl)
		}
		minLevel = rank
	}

	f, err := os.Open(t.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("No log entries found for session ID: %s", sessionID), nil
		}
		return "", NewIOError("failed to open log file", err)
	}
	defer f.Close()

	var entries []logEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			continue
		}
		if sid, _ := raw[logger.SessionField].(string); sid != sessionID {
			continue
		}
		entry := logEntry{fields: make(map[string]interface{})}
		for k, v := range raw {
			switch k {
			case "timestamp", "ts":
				entry.timestamp = fmt.Sprint(v)
			case "level":
				entry.level = strings.ToLower(fmt.Sprint(v))
			case "msg":
				entry.message = fmt.Sprint(v)
			case logger.SessionField, "caller", "stacktrace":
			default:
				entry.fields[k] = v
			}
		}
		if minLevel >= 0 && levelRank[entry.level] < minLevel {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return "", NewIOError("failed to read log file", err)
	}

	if len(entries) == 0 {
		return fmt.Sprintf("No log entries found for session ID: %s", sessionID), nil
	}

	// most recent first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d log entries for session %s:\n\n", len(entries), sessionID)
	for _, e := range entries {
		fmt.Fprintf(&b, "%s [%s] %s\n", e.timestamp, strings.ToUpper(e.level), e.message)
		if len(e.fields) > 0 {
			keys := make([]string, 0, len(e.fields))
			for k := range e.fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%v", k, e.fields[k]))
			}
			fmt.Fprintf(&b, "  %s\n", strings.Join(parts, " "))
		}
	}
	return b.String(), nil
}
