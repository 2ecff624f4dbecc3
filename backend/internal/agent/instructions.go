package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Instruction file names, in priority order within one directory
const (
	VegaInstructionsFile   = "VEGA.md"
	AgentsInstructionsFile = "AGENTS.md"
)

// ErrNoInstructions is returned when no instruction file exists up to the root
var ErrNoInstructions = errors.New("no instruction file found")

// Instructions is a project instruction file appended to the system prompt
type Instructions struct {
	Path    string
	Content string
}

// DiscoverInstructions walks from start up to the filesystem root and returns
// the first VEGA.md or AGENTS.md found, preferring VEGA.md in the same directory
func DiscoverInstructions(start string) (*Instructions, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range []string{VegaInstructionsFile, AgentsInstructionsFile} {
			path := filepath.Join(dir, name)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read instruction file %s: %w", path, err)
			}
			return &Instructions{Path: path, Content: string(content)}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNoInstructions
		}
		dir = parent
	}
}

// FormatForPrompt renders the instructions under a header naming their source
func (i *Instructions) FormatForPrompt() string {
	out := fmt.Sprintf("\n\n# Agent Instructions (from %s)\n\n%s", i.Path, i.Content)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}
