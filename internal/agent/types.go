package agent

import (
	"context"
	"encoding/json"

	"github.com/crabclaw/crabclaw/pkg/models"
)

// LLMProvider is the unified interface both wire dialects implement.
//
// Implementations must be safe for concurrent use; multiple sessions
// may call Complete simultaneously.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response. The
	// channel is closed after a Done or Error chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for one provider call.
type CompletionRequest struct {
	Model     string           `json:"model"`
	System    string           `json:"system,omitempty"`
	Messages  []models.Message `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
	Stream    bool             `json:"stream,omitempty"`
}

// ToolDefinition is the schema advertised to the model for one tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCallStart opens a streamed tool call at a given index.
type ToolCallStart struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

// ToolCallArgument carries an incremental argument fragment for the
// tool call at Index.
type ToolCallArgument struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// CompletionChunk is one unit of a streaming response. Exactly one of
// the fields is meaningful per chunk.
type CompletionChunk struct {
	// Text contains partial assistant text.
	Text string `json:"text,omitempty"`

	// ToolCallStart announces a new tool call.
	ToolCallStart *ToolCallStart `json:"tool_call_start,omitempty"`

	// ToolCallArg extends the arguments of an announced tool call.
	ToolCallArg *ToolCallArgument `json:"tool_call_arg,omitempty"`

	// Done is true when the stream completed successfully.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}

// Tool is the interface for executable agent tools.
type Tool interface {
	// Name returns the tool name for function calling.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Failures are reported through the result,
	// not the error, so the model can observe and adapt; the error
	// return is reserved for infrastructure faults.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

func toolError(message string) *ToolResult {
	return &ToolResult{Content: message, IsError: true}
}
