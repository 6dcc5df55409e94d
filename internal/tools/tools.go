// Package tools implements the Tool Registry (spec's C7): the six
// LLM-callable capabilities exposed to the assistant profile — cron,
// list, event, read_file, search, message.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zapista/organizer/internal/llm"
)

// HandlerFunc executes one tool call and returns its plain-text result.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

type registered struct {
	def     llm.ToolDefinition
	handler HandlerFunc
}

// Registry holds the tool definitions handed to the assistant profile and
// dispatches the model's tool calls back to their Go implementations.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*registered
	timeout time.Duration
	logger  *slog.Logger
}

// DefaultTimeout bounds a single tool call; spec §5 treats a stuck tool as
// a provider failure for circuit-breaker purposes.
const DefaultTimeout = 15 * time.Second

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*registered),
		timeout: DefaultTimeout,
		logger:  logger.With("component", "tools"),
	}
}

func (r *Registry) register(def llm.ToolDefinition, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Function.Name] = &registered{def: def, handler: h}
}

// Definitions returns every registered tool definition, for the assistant
// chat call's `tools` field.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	return defs
}

// Execute runs one batch of tool calls sequentially (the six tools all
// touch shared per-user state, so there is no case for the teacher's
// parallel-execution path here) and returns one tool message per call.
func (r *Registry) Execute(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	out := make([]llm.Message, len(calls))
	for i, call := range calls {
		out[i] = r.executeOne(ctx, call)
	}
	return out
}

func (r *Registry) executeOne(ctx context.Context, call llm.ToolCall) llm.Message {
	name := call.Function.Name

	r.mu.RLock()
	tool, ok := r.tools[name]
	timeout := r.timeout
	r.mu.RUnlock()

	if !ok {
		return toolMessage(call.ID, fmt.Sprintf("error: unknown tool %q", name))
	}

	args, err := parseArgs(call.Function.Arguments)
	if err != nil {
		return toolMessage(call.ID, fmt.Sprintf("error: invalid arguments: %v", err))
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.handler(execCtx, args)
	r.logger.Info("tool executed", "name", name, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
	if err != nil {
		return toolMessage(call.ID, fmt.Sprintf("error: %v", err))
	}
	return toolMessage(call.ID, result)
}

func toolMessage(callID, content string) llm.Message {
	return llm.Message{Role: "tool", Content: content, ToolCallID: callID}
}

func parseArgs(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
