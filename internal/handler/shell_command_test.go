package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShellCommandSuccess(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))

	result, err := h.Execute(context.Background(), json.RawMessage(`{"command":"sh","args":["-c","echo hello"]}`))
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, "hello\n", out["output"])
}

func TestShellCommandEnv(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))

	result, err := h.Execute(context.Background(), json.RawMessage(
		`{"command":"sh","args":["-c","echo $GREETING"],"env":{"GREETING":"hi"}}`))
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, "hi\n", out["output"])
}

func TestShellCommandWorkingDir(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))
	dir := t.TempDir()

	input, err := json.Marshal(ShellCommandInput{
		Command:    "pwd",
		WorkingDir: dir,
	})
	require.NoError(t, err)

	result, err := h.Execute(context.Background(), input)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Contains(t, out["output"], dir)
}

func TestShellCommandFailure(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))

	result, err := h.Execute(context.Background(), json.RawMessage(
		`{"command":"sh","args":["-c","echo broken >&2; exit 3"]}`))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "command failed")
	assert.Contains(t, err.Error(), "broken")
}

func TestShellCommandTimeout(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))

	_, err := h.Execute(context.Background(), json.RawMessage(
		`{"command":"sleep","args":["5"],"timeout_seconds":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 1s")
}

func TestShellCommandMissingCommand(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))

	_, err := h.Execute(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestShellCommandMalformedInput(t *testing.T) {
	h := NewShellCommandHandler(zaptest.NewLogger(t))

	_, err := h.Execute(context.Background(), json.RawMessage(`{`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal input")
}
