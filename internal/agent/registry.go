package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crabclaw/crabclaw/internal/files"
	"github.com/crabclaw/crabclaw/internal/observability"
	"github.com/crabclaw/crabclaw/internal/scheduler"
	"github.com/crabclaw/crabclaw/internal/shell"
	"github.com/crabclaw/crabclaw/internal/skills"
	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/internal/web"
	"github.com/crabclaw/crabclaw/pkg/models"
)

// Registry is an insertion-stable ordered collection of tools. It is
// the single dispatch seam: everything the model can invoke goes
// through Execute.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]Tool
	source map[string]string
	logger *slog.Logger
}

// ToolDeps bundles the collaborators built-in tools work against.
type ToolDeps struct {
	Tape      *tape.Store
	Shell     *shell.Sandbox
	Files     *files.Workspace
	Web       *web.Client
	Scheduler *scheduler.Scheduler
}

// NewRegistry builds the registry with all built-in tools plus one
// tool per discovered skill.
func NewRegistry(deps ToolDeps, skillList []skills.Skill) *Registry {
	r := &Registry{
		tools:  map[string]Tool{},
		source: map[string]string{},
		logger: slog.Default().With("component", "registry"),
	}

	r.Register(&tapeInfoTool{store: deps.Tape}, models.SourceBuiltin)
	r.Register(&shellExecTool{sandbox: deps.Shell}, models.SourceBuiltin)
	r.Register(&fileReadTool{ws: deps.Files}, models.SourceBuiltin)
	r.Register(&fileWriteTool{ws: deps.Files}, models.SourceBuiltin)
	r.Register(&fileEditTool{ws: deps.Files}, models.SourceBuiltin)
	r.Register(&fileListTool{ws: deps.Files}, models.SourceBuiltin)
	r.Register(&fileSearchTool{ws: deps.Files}, models.SourceBuiltin)
	r.Register(&webFetchTool{client: deps.Web}, models.SourceBuiltin)
	r.Register(&webSearchTool{client: deps.Web}, models.SourceBuiltin)
	r.Register(&scheduleAddTool{sched: deps.Scheduler}, models.SourceBuiltin)
	r.Register(&scheduleListTool{sched: deps.Scheduler}, models.SourceBuiltin)
	r.Register(&scheduleRemoveTool{sched: deps.Scheduler}, models.SourceBuiltin)

	for _, sk := range skillList {
		r.Register(&skillTool{skill: sk}, sk.Source)
	}
	return r
}

// Register adds a tool; a re-registered name keeps its original slot.
func (r *Registry) Register(tool Tool, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	r.source[name] = source
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns every tool schema in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		out = append(out, ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return out
}

// Descriptors lists the registered tools for the command surface.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, models.ToolDescriptor{
			Name:        name,
			Description: r.tools[name].Description(),
			Source:      r.source[name],
		})
	}
	return out
}

// Schema returns the parameter schema for one tool.
func (r *Registry) Schema(name string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return tool.Schema(), true
}

// Execute dispatches a tool call by name. All failures come back as
// result text so the model can observe and recover.
func (r *Registry) Execute(ctx context.Context, name, arguments string) string {
	tool, ok := r.Get(name)
	if !ok {
		observability.Default().RecordToolExecution(name, true)
		return fmt.Sprintf("Error: unknown tool: %s", name)
	}
	if arguments == "" {
		arguments = "{}"
	}
	result, err := tool.Execute(ctx, json.RawMessage(arguments))
	if err != nil {
		r.logger.Error("tool execution failed", "tool", name, "error", err)
		observability.Default().RecordToolExecution(name, true)
		return fmt.Sprintf("Error: %v", err)
	}
	observability.Default().RecordToolExecution(name, result.IsError)
	return result.Content
}
