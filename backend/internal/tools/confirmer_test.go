package tools

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAffirmative(t *testing.T) {
	for _, s := range []string{"y", "Y", "yes", "YES", "Yes", " y\n"} {
		assert.True(t, IsAffirmative(s), s)
	}
	for _, s := range []string{"", "n", "no", "maybe", "yess", "ok", "1"} {
		assert.False(t, IsAffirmative(s), s)
	}
}

func TestTerminalConfirmer_Prompt(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminalConfirmer(strings.NewReader("y\n"), &out)
	defer c.Close()

	ok, err := c.Confirm(context.Background(), ConfirmationRequest{ToolName: "bash", Description: "Execute command: ls"})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Contains(t, out.String(), "Tool Execution Request:")
	assert.Contains(t, out.String(), "Tool: bash\n")
	assert.Contains(t, out.String(), "Action: Execute command: ls\n")
	assert.True(t, strings.HasSuffix(out.String(), "Do you want to proceed? (y/N): "))
}

func TestTerminalConfirmer_Answers(t *testing.T) {
	c := NewTerminalConfirmer(strings.NewReader("yes\n\nn\nmaybe\nY\n"), io.Discard)
	defer c.Close()

	want := []bool{true, false, false, false, true}
	for i, expected := range want {
		ok, err := c.Confirm(context.Background(), ConfirmationRequest{ToolName: "edit_file"})
		require.NoError(t, err)
		assert.Equal(t, expected, ok, "answer %d", i)
	}

	// input exhausted: EOF denies
	ok, err := c.Confirm(context.Background(), ConfirmationRequest{ToolName: "edit_file"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalConfirmer_CancelledPromptHandsLineToNext(t *testing.T) {
	pr, pw := io.Pipe()
	c := NewTerminalConfirmer(pr, io.Discard)
	defer func() {
		c.Close()
		_ = pw.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ok, err := c.Confirm(ctx, ConfirmationRequest{ToolName: "bash"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ok)

	go func() { _, _ = pw.Write([]byte("y\n")) }()

	ok, err = c.Confirm(context.Background(), ConfirmationRequest{ToolName: "bash"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTerminalConfirmer_Closed(t *testing.T) {
	c := NewTerminalConfirmer(strings.NewReader(""), io.Discard)
	c.Close()
	c.Close()

	_, err := c.Confirm(context.Background(), ConfirmationRequest{ToolName: "bash"})
	assert.ErrorIs(t, err, ErrConfirmerClosed)
}

func TestDenyConfirmer(t *testing.T) {
	ok, err := DenyConfirmer{}.Confirm(context.Background(), ConfirmationRequest{})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalConfirmer_ReadLineSharesInputWithPrompts(t *testing.T) {
	c := NewTerminalConfirmer(strings.NewReader("list files\r\ny\nbye"), io.Discard)
	defer c.Close()
	ctx := context.Background()

	line, err := c.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "list files", line)

	ok, err := c.Confirm(ctx, ConfirmationRequest{ToolName: "bash"})
	require.NoError(t, err)
	assert.True(t, ok)

	// final line without a terminator is still delivered
	line, err = c.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bye", line)

	_, err = c.ReadLine(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
