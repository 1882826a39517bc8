package agent

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crabclaw/crabclaw/internal/commands"
	"github.com/crabclaw/crabclaw/internal/config"
	"github.com/crabclaw/crabclaw/internal/files"
	"github.com/crabclaw/crabclaw/internal/observability"
	"github.com/crabclaw/crabclaw/internal/router"
	"github.com/crabclaw/crabclaw/internal/scheduler"
	"github.com/crabclaw/crabclaw/internal/shell"
	"github.com/crabclaw/crabclaw/internal/skills"
	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/internal/web"
	"github.com/crabclaw/crabclaw/pkg/models"
)

// SessionDir is the per-workspace directory holding session tapes.
const SessionDir = ".crabclaw"

// LoopResult is the outcome of handling one input.
type LoopResult struct {
	ImmediateOutput string
	AssistantOutput string
	ExitRequested   bool
	ToolRounds      int
	Err             error
}

// Loop is the per-session façade tying together the tape, the router,
// the progressive tool view and the model runner.
type Loop struct {
	cfg       *config.Config
	workspace string
	sessionID string

	tape     *tape.Store
	registry *Registry
	view     *ProgressiveView
	router   *router.Router
	runner   *Runner
	sched    *scheduler.Scheduler

	// turnMu serializes turns. Scheduled agent jobs re-enter the loop
	// from the scheduler goroutine, and a turn's tape writes must land
	// contiguously.
	turnMu sync.Mutex

	notifier scheduler.Notifier
	onToken  func(string)
	logger   *slog.Logger
}

// LoopOption customizes Open.
type LoopOption func(*Loop)

// WithNotifier registers the delivery callback scheduled jobs use for
// this session's channel.
func WithNotifier(n scheduler.Notifier) LoopOption {
	return func(l *Loop) { l.notifier = n }
}

// WithTokenCallback streams assistant text fragments as they arrive.
func WithTokenCallback(onToken func(string)) LoopOption {
	return func(l *Loop) { l.onToken = onToken }
}

// WithScheduler overrides the process-wide scheduler (useful for
// tests).
func WithScheduler(s *scheduler.Scheduler) LoopOption {
	return func(l *Loop) { l.sched = s }
}

// Open builds a session loop: tape at
// <workspace>/.crabclaw/<session_id with ':' replaced>.jsonl, registry
// of built-ins plus workspace skills, bootstrap anchor ensured, and
// the scheduler wired so agent-mode jobs re-enter this loop.
func Open(ctx context.Context, cfg *config.Config, provider LLMProvider, workspace, sessionID string, opts ...LoopOption) (*Loop, error) {
	tapeName := strings.ReplaceAll(sessionID, ":", "_")
	store, err := tape.Open(filepath.Join(workspace, SessionDir), tapeName)
	if err != nil {
		return nil, fmt.Errorf("open session tape: %w", err)
	}
	if err := store.EnsureBootstrapAnchor(); err != nil {
		return nil, fmt.Errorf("bootstrap anchor: %w", err)
	}

	skillList := skills.Discover(workspace, globalSkillsDir())

	loop := &Loop{
		cfg:       cfg,
		workspace: workspace,
		sessionID: sessionID,
		tape:      store,
		sched:     scheduler.Default(),
		logger:    slog.Default().With("component", "loop", "session", sessionID),
	}
	for _, opt := range opts {
		opt(loop)
	}

	sandbox := shell.NewSandbox(workspace, 0)
	loop.registry = NewRegistry(ToolDeps{
		Tape:      store,
		Shell:     sandbox,
		Files:     files.NewWorkspace(workspace),
		Web:       web.NewClient(),
		Scheduler: loop.sched,
	}, skillList)
	loop.view = NewProgressiveView(loop.registry)

	env := &commands.Env{
		Tape:   store,
		Tools:  loop.registry,
		Skills: skillCatalog(skillList),
	}
	loop.router = router.New(env, sandbox)

	loop.runner = NewRunner(provider, loop.registry, cfg.ModelName(), cfg.MaxTokens)

	loop.sched.Start(ctx,
		scheduler.WithNotifier(loop.notifier),
		scheduler.WithAgentRunner(func(ctx context.Context, message string) (string, error) {
			res := loop.HandleInput(ctx, message)
			if res.Err != nil {
				return "", res.Err
			}
			if res.AssistantOutput != "" {
				return res.AssistantOutput, nil
			}
			return res.ImmediateOutput, nil
		}))

	return loop, nil
}

// Tape exposes the session tape.
func (l *Loop) Tape() *tape.Store { return l.tape }

// HandleInput routes one line of input through commands, the model and
// assistant-side command dispatch.
// Turns run one at a time per loop, so a scheduled job firing mid-turn
// waits instead of interleaving its tape entries with the active turn's.
func (l *Loop) HandleInput(ctx context.Context, text string) LoopResult {
	l.turnMu.Lock()
	defer l.turnMu.Unlock()

	logger := l.logger.With("turn_id", newTurnID())

	route := l.router.RouteUser(ctx, text)
	if route.ExitRequested {
		return LoopResult{ImmediateOutput: route.ImmediateOutput, ExitRequested: true}
	}
	if !route.EnterModel {
		return LoopResult{ImmediateOutput: route.ImmediateOutput}
	}

	if _, err := l.tape.AppendMessage(models.RoleUser, route.ModelPrompt); err != nil {
		return LoopResult{ImmediateOutput: route.ImmediateOutput, Err: err}
	}

	system := BuildSystemPrompt(l.cfg.SystemPrompt, l.workspace)
	messages := BuildMessages(l.tape, system, l.cfg.MaxContextMessages)
	tools := l.view.Definitions()

	turn := l.runner.RunTurnStream(ctx, messages, tools, l.tape, l.onToken)
	observability.Default().RecordTurn(turn.Err)
	if turn.Err != nil {
		logger.Error("turn failed", "error", turn.Err)
		return LoopResult{
			ImmediateOutput: route.ImmediateOutput,
			ToolRounds:      turn.ToolRounds,
			Err:             turn.Err,
		}
	}

	if added := l.view.ActivateHints(turn.Text); len(added) > 0 {
		logger.Debug("expanded tools", "names", added)
	}

	result := LoopResult{
		ImmediateOutput: route.ImmediateOutput,
		ToolRounds:      turn.ToolRounds,
	}

	assistantRoute := l.router.RouteAssistant(ctx, turn.Text)
	l.tape.AppendMessage(models.RoleAssistant, turn.Text)
	if len(assistantRoute.CommandBlocks) > 0 {
		l.tape.AppendEvent(tape.KindEvent, map[string]any{
			"name":   "assistant_command_results",
			"blocks": assistantRoute.CommandBlocks,
		})
		result.AssistantOutput = assistantRoute.VisibleText
		result.ExitRequested = assistantRoute.ExitRequested
	} else {
		result.AssistantOutput = turn.Text
	}
	return result
}

// ResetTape archives or deletes the tape and clears the expanded tool
// set. Returns the archive path when archival occurred.
func (l *Loop) ResetTape(archive bool) (string, error) {
	l.turnMu.Lock()
	defer l.turnMu.Unlock()

	path, err := l.tape.Reset(archive)
	if err != nil {
		return "", err
	}
	l.view.Reset()
	return path, nil
}

type skillCatalog []skills.Skill

func (c skillCatalog) List() []skills.Skill { return c }

func (c skillCatalog) Get(slug string) (skills.Skill, bool) {
	for _, sk := range c {
		if sk.Slug == slug {
			return sk, true
		}
	}
	return skills.Skill{}, false
}

// newTurnID returns a short correlation id for one turn's log lines,
// drawn from the random section of a UUIDv7.
func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("t_%08x", time.Now().UnixMilli()&0xFFFFFFFF)
	}
	return "t_" + hex.EncodeToString(id[8:12])
}

func globalSkillsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, SessionDir, "skills")
}
