// Package tools maps function names to handlers and their declarations, and
// dispatches function-call requests coming back from the model.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownFunction is returned by Execute for names with no registration.
var ErrUnknownFunction = errors.New("unknown function")

// Handler executes one function call. Handlers receive the decoded call
// arguments and may block; the context carries session-scoped cancellation.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Declaration describes a callable function in the shape the upstream setup
// handshake embeds (name, description, JSON-schema parameters).
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ExecutionError wraps a handler failure so callers can distinguish it from
// an unknown function.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type entry struct {
	decl    Declaration
	handler Handler
}

// Registry is the process-wide name → function mapping. Registrations happen
// at startup; sessions only read.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register inserts or overwrites a function. Last writer wins; a
// re-registered name keeps its original position in Declarations.
func (r *Registry) Register(decl Declaration, h Handler) {
	if r == nil || decl.Name == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[decl.Name]; !exists {
		r.order = append(r.order, decl.Name)
	}
	r.entries[decl.Name] = entry{decl: decl, handler: h}
}

// Execute invokes the named handler. Absent names fail with
// ErrUnknownFunction; handler failures come back as *ExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}

	result, err := e.handler(ctx, args)
	if err != nil {
		return nil, &ExecutionError{Name: name, Err: err}
	}
	return result, nil
}

// Declarations returns all registered declarations in registration order.
func (r *Registry) Declarations() []Declaration {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].decl)
	}
	return out
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
