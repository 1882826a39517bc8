package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/crabclaw/crabclaw/internal/agent"
	"github.com/crabclaw/crabclaw/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider speaks the messages dialect through the official
// SDK.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a messages-dialect provider. An empty
// baseURL selects the SDK default endpoint.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(options...)}
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete submits the request and relays the event stream as unified
// chunks.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	messages, system, err := convertToAnthropicMessages(req.System, req.Messages)
	if err != nil {
		return nil, &ProviderError{Kind: KindSerialization, Provider: p.Name(), Message: err.Error(), Cause: err}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToAnthropicTools(req.Tools)
		if err != nil {
			return nil, &ProviderError{Kind: KindSerialization, Provider: p.Name(), Message: err.Error(), Cause: err}
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(stream, chunks)
	return chunks, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	// Anthropic numbers content blocks, not tool calls; map one to the
	// other so argument deltas land on the right call.
	toolIndex := map[int64]int{}
	nextIndex := 0

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type != "tool_use" {
				continue
			}
			toolUse := start.ContentBlock.AsToolUse()
			toolIndex[start.Index] = nextIndex
			chunks <- &agent.CompletionChunk{ToolCallStart: &agent.ToolCallStart{
				Index: nextIndex,
				ID:    toolUse.ID,
				Name:  toolUse.Name,
			}}
			nextIndex++

		case "content_block_delta":
			deltaEvent := event.AsContentBlockDelta()
			switch deltaEvent.Delta.Type {
			case "text_delta":
				if deltaEvent.Delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: deltaEvent.Delta.Text}
				}
			case "input_json_delta":
				if deltaEvent.Delta.PartialJSON != "" {
					index, ok := toolIndex[deltaEvent.Index]
					if !ok {
						continue
					}
					chunks <- &agent.CompletionChunk{ToolCallArg: &agent.ToolCallArgument{
						Index: index,
						Text:  deltaEvent.Delta.PartialJSON,
					}}
				}
			}

		case "message_stop":
			chunks <- &agent.CompletionChunk{Done: true}
			return

		case "error":
			chunks <- &agent.CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"))}
			return
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(err)}
		return
	}
	chunks <- &agent.CompletionChunk{Done: true}
}

// convertToAnthropicMessages rewrites the unified history into the
// messages shape: system messages are concatenated into the top-level
// system field, assistant tool calls become tool_use blocks, and runs
// of consecutive tool messages coalesce into one user message of
// tool_result blocks.
func convertToAnthropicMessages(system string, messages []models.Message) ([]anthropic.MessageParam, string, error) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}

	var result []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			flushResults()
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}

		case models.RoleTool:
			pendingResults = append(pendingResults,
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))

		case models.RoleAssistant:
			flushResults()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			flushResults()
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flushResults()

	return result, strings.Join(systemParts, "\n"), nil
}

func convertToAnthropicTools(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil || IsProviderError(err) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Error()
		var payload struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if raw := apiErr.RawJSON(); raw != "" {
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				message = payload.Error.Message
			}
		}
		return newError(p.Name(), apiErr.StatusCode, message, err)
	}
	return &ProviderError{Kind: KindNetwork, Provider: p.Name(), Message: err.Error(), Cause: err}
}
