package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crabclaw/crabclaw/internal/files"
	"github.com/crabclaw/crabclaw/internal/scheduler"
	"github.com/crabclaw/crabclaw/internal/shell"
	"github.com/crabclaw/crabclaw/internal/skills"
	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/internal/web"
)

func requiredError(field string) *ToolResult {
	return toolError(fmt.Sprintf("Error: '%s' argument is required.", field))
}

func objectSchema(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

type tapeInfoTool struct {
	store *tape.Store
}

func (t *tapeInfoTool) Name() string { return "tape.info" }

func (t *tapeInfoTool) Description() string {
	return "Summarize the session tape (entry counts, anchors, file path)."
}

func (t *tapeInfoTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{})
}

func (t *tapeInfoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	payload, err := json.MarshalIndent(t.store.Info(), "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("Error: encode tape info: %v", err)), nil
	}
	return &ToolResult{Content: string(payload)}, nil
}

type shellExecTool struct {
	sandbox *shell.Sandbox
}

func (t *shellExecTool) Name() string { return "shell.exec" }

func (t *shellExecTool) Description() string {
	return "Run a shell command in the workspace and return its output and exit code."
}

func (t *shellExecTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"command": stringProp("Shell command to execute."),
	}, "command")
}

func (t *shellExecTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Command == "" {
		return requiredError("command"), nil
	}
	result := t.sandbox.Run(ctx, input.Command)
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("Error: encode result: %v", err)), nil
	}
	return &ToolResult{Content: string(payload), IsError: !result.Success()}, nil
}

type fileReadTool struct {
	ws *files.Workspace
}

func (t *fileReadTool) Name() string { return "file.read" }

func (t *fileReadTool) Description() string {
	return "Read a file from the workspace (truncated beyond 50000 bytes)."
}

func (t *fileReadTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path": stringProp("Path relative to the workspace."),
	}, "path")
}

func (t *fileReadTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Path == "" {
		return requiredError("path"), nil
	}
	return &ToolResult{Content: t.ws.Read(input.Path)}, nil
}

type fileWriteTool struct {
	ws *files.Workspace
}

func (t *fileWriteTool) Name() string { return "file.write" }

func (t *fileWriteTool) Description() string {
	return "Write content to a workspace file, creating parent directories."
}

func (t *fileWriteTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path":    stringProp("Path relative to the workspace."),
		"content": stringProp("Content to write."),
	}, "path", "content")
}

func (t *fileWriteTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path    string  `json:"path"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Path == "" {
		return requiredError("path"), nil
	}
	if input.Content == nil {
		return requiredError("content"), nil
	}
	return &ToolResult{Content: t.ws.Write(input.Path, *input.Content)}, nil
}

type fileEditTool struct {
	ws *files.Workspace
}

func (t *fileEditTool) Name() string { return "file.edit" }

func (t *fileEditTool) Description() string {
	return "Replace text in a workspace file (first occurrence, or all)."
}

func (t *fileEditTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path":        stringProp("Path relative to the workspace."),
		"old":         stringProp("Text to replace."),
		"new":         stringProp("Replacement text."),
		"replace_all": map[string]any{"type": "boolean", "description": "Replace all occurrences (default: false)."},
	}, "path", "old", "new")
}

func (t *fileEditTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path       string  `json:"path"`
		Old        string  `json:"old"`
		New        *string `json:"new"`
		ReplaceAll bool    `json:"replace_all"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Path == "" {
		return requiredError("path"), nil
	}
	if input.Old == "" {
		return requiredError("old"), nil
	}
	if input.New == nil {
		return requiredError("new"), nil
	}
	return &ToolResult{Content: t.ws.Edit(input.Path, input.Old, *input.New, input.ReplaceAll)}, nil
}

type fileListTool struct {
	ws *files.Workspace
}

func (t *fileListTool) Name() string { return "file.list" }

func (t *fileListTool) Description() string {
	return "List a workspace directory, sorted, with sizes."
}

func (t *fileListTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"path": stringProp("Directory relative to the workspace (default: workspace root)."),
	})
}

func (t *fileListTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Path == "" {
		input.Path = "."
	}
	return &ToolResult{Content: t.ws.List(input.Path)}, nil
}

type fileSearchTool struct {
	ws *files.Workspace
}

func (t *fileSearchTool) Name() string { return "file.search" }

func (t *fileSearchTool) Description() string {
	return "Search workspace files for a case-insensitive substring."
}

func (t *fileSearchTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"query": stringProp("Substring to look for."),
		"path":  stringProp("Directory to search (default: workspace root)."),
	}, "query")
}

func (t *fileSearchTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Query string `json:"query"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Query == "" {
		return requiredError("query"), nil
	}
	return &ToolResult{Content: t.ws.Search(input.Query, input.Path)}, nil
}

type webFetchTool struct {
	client *web.Client
}

func (t *webFetchTool) Name() string { return "web.fetch" }

func (t *webFetchTool) Description() string {
	return "Fetch a URL and return its readable text content."
}

func (t *webFetchTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"url": stringProp("URL to fetch (http/https only)."),
	}, "url")
}

func (t *webFetchTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.URL == "" {
		return requiredError("url"), nil
	}
	content, err := t.client.Fetch(ctx, input.URL)
	if err != nil {
		return toolError(fmt.Sprintf("Error: %v", err)), nil
	}
	return &ToolResult{Content: content}, nil
}

type webSearchTool struct {
	client *web.Client
}

func (t *webSearchTool) Name() string { return "web.search" }

func (t *webSearchTool) Description() string {
	return "Run a web search and return the top results."
}

func (t *webSearchTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"query": stringProp("Search query."),
		"count": intProp("Maximum number of results (default: 5)."),
	}, "query")
}

func (t *webSearchTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Query == "" {
		return requiredError("query"), nil
	}
	results, err := t.client.Search(ctx, input.Query, input.Count)
	if err != nil {
		return toolError(fmt.Sprintf("Error: %v", err)), nil
	}
	return &ToolResult{Content: web.FormatResults(input.Query, results)}, nil
}

type scheduleAddTool struct {
	sched *scheduler.Scheduler
}

func (t *scheduleAddTool) Name() string { return "schedule.add" }

func (t *scheduleAddTool) Description() string {
	return "Schedule a reminder or an agent task, one-shot or repeating."
}

func (t *scheduleAddTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"message":          stringProp("Reminder text, or the prompt for an agent task."),
		"after_seconds":    intProp("Fire once after this many seconds."),
		"interval_seconds": intProp("Fire repeatedly at this interval in seconds."),
		"mode":             map[string]any{"type": "string", "enum": []string{"reminder", "agent"}, "description": "What to do on fire (default: reminder)."},
	}, "message")
}

func (t *scheduleAddTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Message         string `json:"message"`
		AfterSeconds    int    `json:"after_seconds"`
		IntervalSeconds int    `json:"interval_seconds"`
		Mode            string `json:"mode"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.Message == "" {
		return requiredError("message"), nil
	}
	mode := scheduler.ModeReminder
	if input.Mode == "agent" {
		mode = scheduler.ModeAgent
	}
	out := t.sched.Add(input.Message,
		time.Duration(input.AfterSeconds)*time.Second,
		time.Duration(input.IntervalSeconds)*time.Second,
		mode)
	return &ToolResult{Content: out, IsError: isErrorOutput(out)}, nil
}

type scheduleListTool struct {
	sched *scheduler.Scheduler
}

func (t *scheduleListTool) Name() string { return "schedule.list" }

func (t *scheduleListTool) Description() string {
	return "List active scheduled jobs."
}

func (t *scheduleListTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{})
}

func (t *scheduleListTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: t.sched.List()}, nil
}

type scheduleRemoveTool struct {
	sched *scheduler.Scheduler
}

func (t *scheduleRemoveTool) Name() string { return "schedule.remove" }

func (t *scheduleRemoveTool) Description() string {
	return "Cancel a scheduled job by id."
}

func (t *scheduleRemoveTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{
		"job_id": stringProp("Id returned by schedule.add."),
	}, "job_id")
}

func (t *scheduleRemoveTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Error: invalid parameters: %v", err)), nil
	}
	if input.JobID == "" {
		return requiredError("job_id"), nil
	}
	out := t.sched.Remove(input.JobID)
	return &ToolResult{Content: out, IsError: isErrorOutput(out)}, nil
}

type skillTool struct {
	skill skills.Skill
}

func (t *skillTool) Name() string { return "skill." + t.skill.Slug }

func (t *skillTool) Description() string { return t.skill.Description }

func (t *skillTool) Schema() json.RawMessage {
	return objectSchema(map[string]any{})
}

func (t *skillTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: t.skill.Body}, nil
}

func isErrorOutput(out string) bool {
	return len(out) >= 6 && out[:6] == "Error:"
}
