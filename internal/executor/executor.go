package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned when a schedule is triggered while a previous attempt is still executing
	ErrAlreadyRunning = errors.New("schedule is already running")

	// ErrUnknownExecutor is returned when no handler is registered under the requested name
	ErrUnknownExecutor = errors.New("unknown executor")
)

// Func is the execution seam: it performs the work named by executor name
// for one schedule invocation. It is wired once at startup.
type Func func(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)

// Handler performs the work of one named executor
type Handler interface {
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Registry dispatches executions to named handlers. Its Execute method
// satisfies Func.
type Registry struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler under a name, replacing any previous one
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	r.handlers[name] = handler
	r.mu.Unlock()
}

// Execute dispatches to the handler registered under name
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecutor, name)
	}
	return handler.Execute(ctx, input)
}

// Names lists the registered executor names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
