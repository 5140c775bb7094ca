package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ploke/internal/logging"
	"ploke/internal/metrics"
)

// Registry holds every tool an agent may call, thread-safe for
// registration and lookup from concurrent request handlers.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*Tool
	byCategory map[Category][]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]*Tool),
		byCategory: make(map[Category][]*Tool),
	}
}

// Register adds a tool, rejecting a duplicate name.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("tools: invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	if tool.Priority == 0 {
		tool.Priority = 50
	}

	r.tools[tool.Name] = tool
	r.byCategory[tool.Category] = append(r.byCategory[tool.Category], tool)
	logging.ToolsLogDebug("registered tool %s (category=%s, priority=%d)", tool.Name, tool.Category, tool.Priority)
	return nil
}

// Get returns a tool by name, or nil if unregistered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// GetByCategory returns a category's tools, highest priority first.
func (r *Registry) GetByCategory(category Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, len(r.byCategory[category]))
	copy(out, r.byCategory[category])
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Names returns every registered tool name, sorted.
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

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute looks up name and runs it, validating required arguments
// first. Returns ErrToolNotFound for an unregistered name.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return r.ExecuteTool(ctx, tool, args)
}

// ExecuteTool runs a specific tool against args, recording duration and
// wrapping both success and failure in a Result.
func (r *Registry) ExecuteTool(ctx context.Context, tool *Tool, args map[string]any) (*Result, error) {
	start := time.Now()

	if err := validateArgs(tool, args); err != nil {
		return &Result{ToolName: tool.Name, Err: err, DurationMs: time.Since(start).Milliseconds()}, err
	}

	logging.ToolsLogDebug("executing tool %s", tool.Name)
	output, err := tool.Execute(ctx, args)
	duration := time.Since(start)
	metrics.ObserveToolCall(tool.Name, err)
	logging.ToolsLogDebug("tool %s completed in %v (ok=%v)", tool.Name, duration, err == nil)

	return &Result{ToolName: tool.Name, Output: output, Err: err, DurationMs: duration.Milliseconds()}, err
}

func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}
