package agent

import (
	"fmt"
	"strings"

	"vega-agent/backend/internal/tools"
)

const maxSummaryOutputChars = 2000

// toolResultProcessor collects the tool results of one turn
type toolResultProcessor struct {
	results []tools.ToolResult
}

func newToolResultProcessor() *toolResultProcessor {
	return &toolResultProcessor{}
}

func (p *toolResultProcessor) add(r tools.ToolResult) {
	p.results = append(p.results, r)
}

func (p *toolResultProcessor) count() int {
	return len(p.results)
}

// fallbackResponse is used when the model ends a turn without any text
func (p *toolResultProcessor) fallbackResponse() string {
	if len(p.results) == 0 {
		return "I don't have a response for that."
	}

	lines := make([]string, 0, len(p.results))
	for _, r := range p.results {
		switch r.Status {
		case tools.StatusSuccess:
			out := strings.TrimSpace(r.Output)
			if len(out) > maxSummaryOutputChars {
				out = out[:maxSummaryOutputChars] + "..."
			}
			lines = append(lines, fmt.Sprintf("[%s]: %s", r.ToolName, out))
		case tools.StatusDenied:
			lines = append(lines, fmt.Sprintf("[%s] DENIED: permission was not granted", r.ToolName))
		default:
			lines = append(lines, fmt.Sprintf("[%s] ERROR: %s", r.ToolName, r.ErrorDetail))
		}
	}
	return strings.Join(lines, "\n")
}
