package agent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/crabclaw/crabclaw/internal/observability"
	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/pkg/models"
)

// MaxToolIterations caps tool-calling rounds within one turn.
const MaxToolIterations = 5

// ErrToolIterationLimit is returned when a turn is still requesting
// tools at the iteration cap.
var ErrToolIterationLimit = errors.New("tool iteration limit reached")

// TurnResult is the outcome of one model turn.
type TurnResult struct {
	Text       string
	ToolRounds int
	Err        error
}

// Runner drives the bounded tool-calling loop against a provider.
type Runner struct {
	provider  LLMProvider
	registry  *Registry
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewRunner creates a runner for the given provider and registry.
func NewRunner(provider LLMProvider, registry *Registry, model string, maxTokens int) *Runner {
	return &Runner{
		provider:  provider,
		registry:  registry,
		model:     model,
		maxTokens: maxTokens,
		logger:    slog.Default().With("component", "runner"),
	}
}

// RunTurn runs a full turn without token streaming.
func (r *Runner) RunTurn(ctx context.Context, messages []models.Message, tools []ToolDefinition, store *tape.Store) TurnResult {
	return r.run(ctx, messages, tools, store, nil)
}

// RunTurnStream runs a full turn, forwarding assistant text fragments
// to onToken as they arrive.
func (r *Runner) RunTurnStream(ctx context.Context, messages []models.Message, tools []ToolDefinition, store *tape.Store, onToken func(string)) TurnResult {
	return r.run(ctx, messages, tools, store, onToken)
}

func (r *Runner) run(ctx context.Context, messages []models.Message, tools []ToolDefinition, store *tape.Store, onToken func(string)) TurnResult {
	working := append([]models.Message(nil), messages...)

	for round := 0; round < MaxToolIterations; round++ {
		text, calls, err := r.complete(ctx, working, tools, onToken)
		observability.Default().RecordProviderRequest(r.provider.Name(), err)
		if err != nil {
			return TurnResult{ToolRounds: round, Err: err}
		}

		if len(calls) == 0 {
			return TurnResult{Text: text, ToolRounds: round}
		}

		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		}
		working = append(working, assistant)
		if store != nil {
			store.AppendChat(assistant)
		}

		for _, call := range calls {
			output := r.registry.Execute(ctx, call.Function.Name, call.Function.Arguments)
			toolMsg := models.Message{
				Role:       models.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			}
			working = append(working, toolMsg)
			if store != nil {
				store.AppendChat(toolMsg)
			}
		}
	}

	return TurnResult{ToolRounds: MaxToolIterations, Err: ErrToolIterationLimit}
}

// complete performs one provider call, assembling streamed text and
// tool-call deltas by index.
func (r *Runner) complete(ctx context.Context, messages []models.Message, tools []ToolDefinition, onToken func(string)) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:    r.model,
		Messages: messages,
		Tools:    tools,
		Stream:   onToken != nil,
	}
	if r.maxTokens > 0 {
		req.MaxTokens = r.maxTokens
	}
	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	type pending struct {
		id   string
		name string
		args strings.Builder
	}
	calls := map[int]*pending{}

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return "", nil, chunk.Error
		case chunk.ToolCallStart != nil:
			calls[chunk.ToolCallStart.Index] = &pending{
				id:   chunk.ToolCallStart.ID,
				name: chunk.ToolCallStart.Name,
			}
		case chunk.ToolCallArg != nil:
			if p, ok := calls[chunk.ToolCallArg.Index]; ok {
				p.args.WriteString(chunk.ToolCallArg.Text)
			}
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			if onToken != nil {
				onToken(chunk.Text)
			}
		}
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var out []models.ToolCall
	for _, i := range indexes {
		p := calls[i]
		out = append(out, models.ToolCall{
			ID: p.id,
			Function: models.FunctionCall{
				Name:      p.name,
				Arguments: p.args.String(),
			},
		})
	}
	return text.String(), out, nil
}
