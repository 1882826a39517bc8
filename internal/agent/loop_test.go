package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/crabclaw/crabclaw/internal/config"
	"github.com/crabclaw/crabclaw/internal/scheduler"
	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Model:              "test-model",
		MaxContextMessages: 50,
		MaxTokens:          1024,
	}
}

func openLoop(t *testing.T, provider LLMProvider) *Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	loop, err := Open(ctx, testConfig(), provider, t.TempDir(), "cli:test",
		WithScheduler(sched))
	if err != nil {
		t.Fatalf("open loop: %v", err)
	}
	return loop
}

func TestLoopQuitShortCircuits(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "unused"}}}
	loop := openLoop(t, provider)
	before := len(loop.Tape().Entries())

	res := loop.HandleInput(context.Background(), ",quit")

	if !res.ExitRequested {
		t.Fatal("quit did not request exit")
	}
	if provider.requestCount() != 0 {
		t.Errorf("quit reached the model %d times", provider.requestCount())
	}
	entries := loop.Tape().Entries()
	if len(entries) != before+1 {
		t.Fatalf("tape grew by %d entries, want exactly 1", len(entries)-before)
	}
	if entries[len(entries)-1].Kind != tape.KindCommand {
		t.Errorf("appended entry kind = %q, want command", entries[len(entries)-1].Kind)
	}
}

func TestLoopShellSuccessIsImmediate(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "unused"}}}
	loop := openLoop(t, provider)

	res := loop.HandleInput(context.Background(), ",echo hello")

	if provider.requestCount() != 0 {
		t.Errorf("successful shell command reached the model")
	}
	if !strings.Contains(res.ImmediateOutput, "hello") {
		t.Errorf("immediate output = %q", res.ImmediateOutput)
	}
	if res.AssistantOutput != "" {
		t.Errorf("unexpected assistant output %q", res.AssistantOutput)
	}
}

func TestLoopShellFailureEntersModel(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "That command failed."}}}
	loop := openLoop(t, provider)

	res := loop.HandleInput(context.Background(), ",exit 1")

	if provider.requestCount() != 1 {
		t.Fatalf("model called %d times, want 1", provider.requestCount())
	}
	if res.AssistantOutput != "That command failed." {
		t.Errorf("assistant output = %q", res.AssistantOutput)
	}

	req := provider.requests[0]
	last := req.Messages[len(req.Messages)-1]
	if !strings.Contains(last.Content, "<command cmd=") || !strings.Contains(last.Content, `exit_code="1"`) {
		t.Errorf("failure wrapper missing from prompt: %q", last.Content)
	}
}

func TestLoopPlainTextTurn(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "Found 5 tools."}}}
	loop := openLoop(t, provider)

	res := loop.HandleInput(context.Background(), "how many tools do you have?")

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.AssistantOutput != "Found 5 tools." {
		t.Errorf("assistant output = %q", res.AssistantOutput)
	}

	// Tape now carries the user message and the assistant reply.
	var roles []string
	for _, entry := range loop.Tape().Entries() {
		if msg, ok := entry.Message(); ok {
			roles = append(roles, msg.Role)
		}
	}
	if len(roles) != 2 || roles[0] != "user" || roles[1] != "assistant" {
		t.Errorf("message roles = %v", roles)
	}

	// The first request advertises the full tool surface.
	if len(provider.requests[0].Tools) == 0 {
		t.Error("no tools advertised on first turn")
	}
	if provider.requests[0].Messages[0].Role != "system" {
		t.Error("system prompt missing from request")
	}
}

func TestLoopAssistantCommandDispatch(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "Checking now.\n,echo done"}}}
	loop := openLoop(t, provider)

	res := loop.HandleInput(context.Background(), "check something")

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.AssistantOutput != "Checking now." {
		t.Errorf("visible output = %q", res.AssistantOutput)
	}

	var foundResults bool
	for _, entry := range loop.Tape().Entries() {
		if entry.Kind == tape.KindEvent && strings.Contains(string(entry.Payload), "assistant_command_results") {
			foundResults = true
		}
	}
	if !foundResults {
		t.Error("assistant_command_results event missing from tape")
	}
}

func TestLoopProviderErrorSkipsAssistantWrite(t *testing.T) {
	provider := &failingProvider{err: context.DeadlineExceeded}
	loop := openLoop(t, provider)

	res := loop.HandleInput(context.Background(), "hello")

	if res.Err == nil {
		t.Fatal("expected error")
	}
	for _, entry := range loop.Tape().Entries() {
		if msg, ok := entry.Message(); ok && msg.Role == "assistant" {
			t.Errorf("assistant message written on a failed turn: %+v", msg)
		}
	}
}

// stallTool blocks inside Execute until released, holding a turn open
// so another input can arrive mid-turn.
type stallTool struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStallTool() *stallTool {
	return &stallTool{started: make(chan struct{}), release: make(chan struct{})}
}

func (t *stallTool) Name() string            { return "scan.tool" }
func (t *stallTool) Description() string     { return "runs a slow workspace scan" }
func (t *stallTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *stallTool) Execute(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
	t.once.Do(func() { close(t.started) })
	select {
	case <-t.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ToolResult{Content: "scan complete"}, nil
}

func TestLoopSerializesConcurrentTurns(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{calls: []models.ToolCall{{
			ID:       "call_scan",
			Function: models.FunctionCall{Name: "scan.tool", Arguments: `{}`},
		}}},
		{text: "Scan finished."},
		{text: "Reminder delivered."},
	}}
	loop := openLoop(t, provider)
	tool := newStallTool()
	loop.registry.Register(tool, models.SourceBuiltin)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		loop.HandleInput(context.Background(), "scan the workspace")
	}()
	<-tool.started
	// A second input lands while the first turn is still inside its
	// tool, the way a scheduled agent job re-enters the loop mid-turn.
	go func() {
		defer wg.Done()
		loop.HandleInput(context.Background(), "any reminders?")
	}()
	close(tool.release)
	wg.Wait()

	entries := loop.Tape().Entries()
	var roles []string
	for i, entry := range entries {
		msg, ok := entry.Message()
		if !ok {
			continue
		}
		roles = append(roles, msg.Role)
		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			if i+1 >= len(entries) {
				t.Fatal("tool-call message is the last tape entry")
			}
			next, ok := entries[i+1].Message()
			if !ok || next.Role != models.RoleTool {
				t.Errorf("tool-call message not followed by its result: %+v", entries[i+1])
			}
		}
	}
	want := "user assistant tool assistant user assistant"
	if got := strings.Join(roles, " "); got != want {
		t.Fatalf("message roles = %q, want %q (turns interleaved)", got, want)
	}
}

func TestLoopResetTapeArchives(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "ok"}}}
	loop := openLoop(t, provider)
	loop.HandleInput(context.Background(), "hello")

	path, err := loop.ResetTape(true)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if path == "" {
		t.Error("archive path empty")
	}
	// A fresh epoch begins with the bootstrap anchor only.
	entries := loop.Tape().Entries()
	if len(entries) != 1 || entries[0].Kind != tape.KindAnchor {
		t.Errorf("post-reset entries = %+v", entries)
	}
}
