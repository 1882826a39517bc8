// Package models defines the wire-level types shared between the tape store,
// the agent runtime, and the LLM providers.
package models

// FunctionCall carries the tool name and its arguments as an opaque JSON
// string. Arguments are accumulated verbatim while streaming and parsed only
// at execution time.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single tool invocation requested by the assistant.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// Message is one conversation message in the unified chat shape.
// Assistant messages carrying tool calls may have empty content. Tool result
// messages carry the originating ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Roles used throughout the runtime.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool sources.
const (
	SourceBuiltin = "builtin"
	SourceProject = "project"
	SourceGlobal  = "global"
)

// ToolDescriptor describes a registered tool for listings and the
// ,tool.describe command.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}
