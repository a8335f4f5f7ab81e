// Package tools provides the side-effecting callables available to pipeline workers.
// Tools never return errors: every outcome, including misconfiguration, is text
// that is folded into the conversation.
package tools

import (
	"context"
	"sort"
	"sync"
)

// Tool is a named callable with string arguments and a textual result.
type Tool interface {
	Name() string
	Call(ctx context.Context, args map[string]string) string
}

// Func adapts a function to the Tool interface.
type Func struct {
	ToolName string
	Fn       func(ctx context.Context, args map[string]string) string
}

func (f Func) Name() string { return f.ToolName }

func (f Func) Call(ctx context.Context, args map[string]string) string {
	return f.Fn(ctx, args)
}

// Registry holds tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the named tool. Unknown names produce an error text.
func (r *Registry) Call(ctx context.Context, name string, args map[string]string) string {
	if r == nil {
		return "error: unknown tool " + name
	}
	t, ok := r.Get(name)
	if !ok {
		return "error: unknown tool " + name
	}
	if err := ctx.Err(); err != nil {
		return "error: " + err.Error()
	}
	return t.Call(ctx, args)
}
