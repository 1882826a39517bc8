package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/pkg/models"
)

type echoTool struct {
	mu   sync.Mutex
	args []string
}

func (t *echoTool) Name() string            { return "echo.tool" }
func (t *echoTool) Description() string     { return "echoes its value argument" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *echoTool) Execute(_ context.Context, args json.RawMessage) (*ToolResult, error) {
	t.mu.Lock()
	t.args = append(t.args, string(args))
	t.mu.Unlock()
	var params struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	return &ToolResult{Content: "echo: " + params.Value}, nil
}

func testRegistry(t *testing.T) (*Registry, *echoTool) {
	t.Helper()
	reg := NewRegistry(ToolDeps{}, nil)
	tool := &echoTool{}
	reg.Register(tool, models.SourceBuiltin)
	return reg, tool
}

func openTestTape(t *testing.T) *tape.Store {
	t.Helper()
	store, err := tape.Open(t.TempDir(), "runner")
	if err != nil {
		t.Fatalf("open tape: %v", err)
	}
	return store
}

func TestRunTurnPlainText(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "Hello there."}}}
	reg, _ := testRegistry(t)
	store := openTestTape(t)
	runner := NewRunner(provider, reg, "test-model", 1024)

	turn := runner.RunTurn(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}, reg.Definitions(), store)

	if turn.Err != nil {
		t.Fatalf("unexpected error: %v", turn.Err)
	}
	if turn.Text != "Hello there." {
		t.Errorf("text = %q, want %q", turn.Text, "Hello there.")
	}
	if turn.ToolRounds != 0 {
		t.Errorf("tool rounds = %d, want 0", turn.ToolRounds)
	}
	if n := len(store.Entries()); n != 0 {
		t.Errorf("tape gained %d entries; a text-only turn should not write", n)
	}
}

func TestRunTurnStreamsTokens(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "streamed reply"}}}
	reg, _ := testRegistry(t)
	runner := NewRunner(provider, reg, "test-model", 1024)

	var tokens []string
	turn := runner.RunTurnStream(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}, nil, nil, func(fragment string) {
		tokens = append(tokens, fragment)
	})

	if turn.Err != nil {
		t.Fatalf("unexpected error: %v", turn.Err)
	}
	if got := strings.Join(tokens, ""); got != "streamed reply" {
		t.Errorf("joined tokens = %q, want %q", got, "streamed reply")
	}
	if len(tokens) < 2 {
		t.Errorf("expected at least 2 fragments, got %d", len(tokens))
	}
}

func TestRunTurnOneToolRound(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{calls: []models.ToolCall{{
			ID:       "call_1",
			Function: models.FunctionCall{Name: "echo.tool", Arguments: `{"value":"hi"}`},
		}}},
		{text: "The tool said hi."},
	}}
	reg, tool := testRegistry(t)
	store := openTestTape(t)
	runner := NewRunner(provider, reg, "test-model", 1024)

	turn := runner.RunTurn(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "use the tool"},
	}, reg.Definitions(), store)

	if turn.Err != nil {
		t.Fatalf("unexpected error: %v", turn.Err)
	}
	if turn.Text != "The tool said hi." {
		t.Errorf("text = %q", turn.Text)
	}
	if turn.ToolRounds != 1 {
		t.Errorf("tool rounds = %d, want 1", turn.ToolRounds)
	}
	if len(tool.args) != 1 || tool.args[0] != `{"value":"hi"}` {
		t.Errorf("tool saw args %v", tool.args)
	}

	entries := store.Entries()
	if len(entries) != 2 {
		t.Fatalf("tape has %d entries, want assistant call + tool result", len(entries))
	}
	assistant, ok := entries[0].Message()
	if !ok || assistant.Role != models.RoleAssistant {
		t.Fatalf("entry 0 is not an assistant message: %+v", entries[0])
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "echo.tool" {
		t.Errorf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	toolMsg, ok := entries[1].Message()
	if !ok || toolMsg.Role != models.RoleTool {
		t.Fatalf("entry 1 is not a tool message: %+v", entries[1])
	}
	if toolMsg.ToolCallID != "call_1" || toolMsg.Content != "echo: hi" {
		t.Errorf("tool message = %+v", toolMsg)
	}

	// Second request must include the assistant call and the result.
	second := provider.requests[1]
	foundResult := false
	for _, msg := range second.Messages {
		if msg.Role == models.RoleTool && msg.ToolCallID == "call_1" {
			foundResult = true
		}
	}
	if !foundResult {
		t.Error("second request did not carry the tool result back to the model")
	}
}

func TestRunTurnIterationLimit(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{calls: []models.ToolCall{{
			ID:       "call_loop",
			Function: models.FunctionCall{Name: "echo.tool", Arguments: `{"value":"again"}`},
		}}},
	}}
	reg, tool := testRegistry(t)
	runner := NewRunner(provider, reg, "test-model", 1024)

	turn := runner.RunTurn(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "loop forever"},
	}, reg.Definitions(), nil)

	if !errors.Is(turn.Err, ErrToolIterationLimit) {
		t.Fatalf("err = %v, want ErrToolIterationLimit", turn.Err)
	}
	if turn.ToolRounds != MaxToolIterations {
		t.Errorf("tool rounds = %d, want %d", turn.ToolRounds, MaxToolIterations)
	}
	if turn.Text != "" {
		t.Errorf("text = %q, want empty at the cap", turn.Text)
	}
	if len(tool.args) != MaxToolIterations {
		t.Errorf("tool ran %d times, want %d", len(tool.args), MaxToolIterations)
	}
}

type failingProvider struct{ err error }

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Complete(context.Context, *CompletionRequest) (<-chan *CompletionChunk, error) {
	return nil, p.err
}

func TestRunTurnProviderError(t *testing.T) {
	wantErr := errors.New("connection refused")
	reg, _ := testRegistry(t)
	store := openTestTape(t)
	runner := NewRunner(&failingProvider{err: wantErr}, reg, "test-model", 1024)

	turn := runner.RunTurn(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}, nil, store)

	if !errors.Is(turn.Err, wantErr) {
		t.Fatalf("err = %v, want %v", turn.Err, wantErr)
	}
	if n := len(store.Entries()); n != 0 {
		t.Errorf("tape gained %d entries on a failed turn", n)
	}
}
