package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmationRequest is what the user is asked to approve
type ConfirmationRequest struct {
	ToolName    string
	Description string
}

// Confirmer obtains a yes/no decision for a tool call
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (bool, error)
}

// DenyConfirmer denies everything. Used on surfaces with no one to ask.
type DenyConfirmer struct{}

// Confirm always returns false
func (DenyConfirmer) Confirm(context.Context, ConfirmationRequest) (bool, error) {
	return false, nil
}

// IsAffirmative reports whether an answer approves the action: exactly "y" or "yes", any case
func IsAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

var confirmHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))

type lineResult struct {
	line string
	err  error
}

// TerminalConfirmer asks on out and reads the answer from in.
// Reads happen on one dedicated goroutine, so a blocked read never occupies
// the caller; prompts from concurrent turns are serialised.
type TerminalConfirmer struct {
	out io.Writer

	mu       sync.Mutex // one prompt at a time
	requests chan chan lineResult
	pending  chan lineResult // read issued for a prompt that was abandoned
	closed   bool
}

// NewTerminalConfirmer starts the reader goroutine over in
func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	c := &TerminalConfirmer{
		out:      out,
		requests: make(chan chan lineResult),
	}
	go c.readLoop(bufio.NewReader(in))
	return c
}

func (c *TerminalConfirmer) readLoop(r *bufio.Reader) {
	for reply := range c.requests {
		line, err := r.ReadString('\n')
		reply <- lineResult{line: line, err: err}
	}
}

// ErrConfirmerClosed is returned after Close
var ErrConfirmerClosed = errors.New("confirmer closed")

// Confirm renders the prompt and waits for one line of input or ctx.
// Empty input, EOF and anything other than y/yes deny.
func (c *TerminalConfirmer) Confirm(ctx context.Context, req ConfirmationRequest) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrConfirmerClosed
	}

	fmt.Fprintf(c.out, "\n%s\n", confirmHeaderStyle.Render("🔧 Tool Execution Request:"))
	fmt.Fprintf(c.out, "Tool: %s\nAction: %s\nDo you want to proceed? (y/N): ", req.ToolName, req.Description)

	res, err := c.next(ctx)
	if err != nil {
		fmt.Fprintln(c.out)
		return false, err
	}
	if res.err != nil && !errors.Is(res.err, io.EOF) {
		return false, res.err
	}
	if errors.Is(res.err, io.EOF) && res.line == "" {
		fmt.Fprintln(c.out)
	}
	return IsAffirmative(res.line), nil
}

// ReadLine reads one line through the same reader goroutine as the prompts,
// so a REPL and its confirmation prompts never compete for input.
// The line is returned without its terminator; io.EOF is returned once input is exhausted.
func (c *TerminalConfirmer) ReadLine(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrConfirmerClosed
	}

	res, err := c.next(ctx)
	if err != nil {
		return "", err
	}
	line := strings.TrimRight(res.line, "\r\n")
	if res.err != nil && (!errors.Is(res.err, io.EOF) || line == "") {
		return line, res.err
	}
	return line, nil
}

// next waits for one line. Callers hold mu.
func (c *TerminalConfirmer) next(ctx context.Context) (lineResult, error) {
	// an abandoned read is still outstanding; its line answers this call
	if c.pending == nil {
		reply := make(chan lineResult, 1)
		select {
		case c.requests <- reply:
		case <-ctx.Done():
			return lineResult{}, ctx.Err()
		}
		c.pending = reply
	}

	select {
	case res := <-c.pending:
		c.pending = nil
		return res, nil
	case <-ctx.Done():
		return lineResult{}, ctx.Err()
	}
}

// Close stops the reader goroutine once its current read, if any, returns
func (c *TerminalConfirmer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.requests)
	}
}
