package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/crabclaw/crabclaw/internal/agent"
	"github.com/crabclaw/crabclaw/pkg/models"
)

const openaiHTTPTimeout = 60 * time.Second

// OpenAIProvider speaks the chat-completions dialect. A configurable
// base URL lets it front any compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a chat-completions provider. An empty
// baseURL selects the SDK default endpoint.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   openaiHTTPTimeout,
		Transport: &compatTransport{base: http.DefaultTransport},
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete submits the request. With req.Stream the response is
// relayed incrementally; otherwise the full body is fetched and
// replayed as chunks so callers always consume one channel shape.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertToOpenAIMessages(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
	}

	chunks := make(chan *agent.CompletionChunk)
	if !req.Stream {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, p.wrapError(err)
		}
		go replayResponse(resp, chunks)
		return chunks, nil
	}

	chatReq.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	started := map[int]bool{}
	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- &agent.CompletionChunk{Done: true}
			} else {
				chunks <- &agent.CompletionChunk{Error: p.wrapError(err)}
			}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if !started[index] {
				started[index] = true
				chunks <- &agent.CompletionChunk{ToolCallStart: &agent.ToolCallStart{
					Index: index,
					ID:    tc.ID,
					Name:  tc.Function.Name,
				}}
			}
			if tc.Function.Arguments != "" {
				chunks <- &agent.CompletionChunk{ToolCallArg: &agent.ToolCallArgument{
					Index: index,
					Text:  tc.Function.Arguments,
				}}
			}
		}
	}
}

func replayResponse(resp openai.ChatCompletionResponse, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	if len(resp.Choices) == 0 {
		chunks <- &agent.CompletionChunk{Done: true}
		return
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		chunks <- &agent.CompletionChunk{Text: msg.Content}
	}
	for i, tc := range msg.ToolCalls {
		chunks <- &agent.CompletionChunk{ToolCallStart: &agent.ToolCallStart{
			Index: i,
			ID:    tc.ID,
			Name:  tc.Function.Name,
		}}
		if tc.Function.Arguments != "" {
			chunks <- &agent.CompletionChunk{ToolCallArg: &agent.ToolCallArgument{
				Index: i,
				Text:  tc.Function.Arguments,
			}}
		}
	}
	chunks <- &agent.CompletionChunk{Done: true}
}

func convertToOpenAIMessages(system string, messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, oaiMsg)
	}
	return out
}

func convertToOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil || IsProviderError(err) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newError(p.Name(), apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newError(p.Name(), reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return &ProviderError{Kind: KindNetwork, Provider: p.Name(), Message: err.Error(), Cause: err}
}

// compatTransport detects the proxy quirk where a 200 response carries
// a JSON failure body ({"success":false} or an embedded code >= 400)
// and rewrites the status so the SDK reports it as an API error.
type compatTransport struct {
	base http.RoundTripper
}

func (t *compatTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		return resp, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var probe struct {
		Success *bool  `json:"success"`
		Code    int    `json:"code"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return resp, nil
	}
	failed := (probe.Success != nil && !*probe.Success) || probe.Code >= 400
	if !failed {
		return resp, nil
	}

	status := probe.Code
	if status < 400 {
		status = http.StatusBadGateway
	}
	resp.StatusCode = status
	resp.Status = http.StatusText(status)
	if probe.Msg != "" {
		errBody, _ := json.Marshal(map[string]any{
			"error": map[string]any{"message": probe.Msg, "code": probe.Code},
		})
		resp.Body = io.NopCloser(bytes.NewReader(errBody))
		resp.ContentLength = int64(len(errBody))
	}
	return resp, nil
}
