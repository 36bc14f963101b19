package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubHandler struct {
	result   json.RawMessage
	err      error
	gotInput json.RawMessage
}

func (h *stubHandler) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	h.gotInput = input
	return h.result, h.err
}

func TestRegistryDispatch(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	handler := &stubHandler{result: json.RawMessage(`{"echo":true}`)}
	registry.Register("echo", handler)

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{"value":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":true}`, string(result))
	assert.JSONEq(t, `{"value":1}`, string(handler.gotInput))
}

func TestRegistryHandlerError(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	registry.Register("broken", &stubHandler{err: errors.New("boom")})

	result, err := registry.Execute(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.EqualError(t, err, "boom")
}

func TestRegistryUnknownExecutor(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	result, err := registry.Execute(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownExecutor)
	assert.Nil(t, result)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	registry.Register("job", &stubHandler{result: json.RawMessage(`{"version":1}`)})
	registry.Register("job", &stubHandler{result: json.RawMessage(`{"version":2}`)})

	result, err := registry.Execute(context.Background(), "job", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(result))
	assert.Len(t, registry.Names(), 1)
}

func TestRegistryNamesSorted(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	registry.Register("shell_command", &stubHandler{})
	registry.Register("db_query", &stubHandler{})
	registry.Register("http_request", &stubHandler{})

	assert.Equal(t, []string{"db_query", "http_request", "shell_command"}, registry.Names())
}
