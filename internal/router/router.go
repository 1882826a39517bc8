package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crabclaw/crabclaw/internal/commands"
	"github.com/crabclaw/crabclaw/internal/shell"
	"github.com/crabclaw/crabclaw/internal/tape"
)

// Route is the outcome of routing one user input.
type Route struct {
	EnterModel      bool
	ModelPrompt     string
	ImmediateOutput string
	ExitRequested   bool
}

// AssistantRoute is the outcome of routing one assistant reply.
type AssistantRoute struct {
	VisibleText   string
	CommandBlocks []string
	ExitRequested bool
}

// Router dispatches comma-commands symmetrically for user input and
// assistant output. Successful shell commands reply immediately;
// failures are wrapped and handed to the model so it can self-correct.
type Router struct {
	env     *commands.Env
	sandbox *shell.Sandbox
	logger  *slog.Logger
}

// New creates a router over the command environment and shell sandbox.
func New(env *commands.Env, sandbox *shell.Sandbox) *Router {
	return &Router{
		env:     env,
		sandbox: sandbox,
		logger:  slog.Default().With("component", "router"),
	}
}

// RouteUser classifies one line of user input and executes any command
// it contains. Empty input is a pure no-op.
func (r *Router) RouteUser(ctx context.Context, input string) Route {
	if strings.TrimSpace(input) == "" {
		return Route{}
	}

	cmd := commands.Detect(input)
	if cmd == nil {
		r.env.Tape.AppendEvent(tape.KindRoute, map[string]any{
			"kind":  "model",
			"input": input,
		})
		return Route{EnterModel: true, ModelPrompt: input}
	}

	if cmd.Kind == commands.KindInternal {
		res := commands.Run(r.env, cmd)
		status := "ok"
		if !res.Success {
			status = "error"
		}
		r.env.Tape.AppendEvent(tape.KindCommand, map[string]any{
			"origin": "human",
			"kind":   "internal",
			"name":   cmd.Name,
			"status": status,
			"output": res.Output,
		})
		if res.ExitRequested {
			return Route{ImmediateOutput: res.Output, ExitRequested: true}
		}
		if res.Success {
			return Route{ImmediateOutput: res.Output}
		}
		return Route{
			EnterModel:      true,
			ModelPrompt:     internalFailureBlock(cmd.Name, res.Output),
			ImmediateOutput: res.Output,
		}
	}

	result := r.sandbox.Run(ctx, cmd.Raw)
	r.env.Tape.AppendEvent(tape.KindCommand, map[string]any{
		"origin":    "human",
		"kind":      "shell",
		"cmd":       cmd.Raw,
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
	})
	if result.Success() {
		return Route{ImmediateOutput: result.Format()}
	}
	return Route{
		EnterModel:  true,
		ModelPrompt: shellFailureBlock(cmd.Raw, result),
	}
}

// RouteAssistant scans assistant output line by line and dispatches
// comma-command lines, including inside code fences. An assistant quit
// is ignored; the model cannot terminate the session.
func (r *Router) RouteAssistant(ctx context.Context, text string) AssistantRoute {
	var visible []string
	var blocks []string
	var fenceLines []int
	inFence := false

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			fenceLines = append(fenceLines, len(visible))
			visible = append(visible, line)
			continue
		}

		cmd := commands.Detect(line)
		if cmd == nil {
			visible = append(visible, line)
			continue
		}

		if cmd.Kind == commands.KindInternal {
			if cmd.Name == "quit" {
				r.logger.Debug("ignoring assistant quit")
				continue
			}
			res := commands.Run(r.env, cmd)
			status := "ok"
			if !res.Success {
				status = "error"
			}
			r.env.Tape.AppendEvent(tape.KindCommand, map[string]any{
				"origin": "assistant",
				"kind":   "internal",
				"name":   cmd.Name,
				"status": status,
				"output": res.Output,
			})
			blocks = append(blocks, fmt.Sprintf("<command name=%q status=%q>\n%s\n</command>", cmd.Name, status, res.Output))
			continue
		}

		result := r.sandbox.Run(ctx, cmd.Raw)
		r.env.Tape.AppendEvent(tape.KindCommand, map[string]any{
			"origin":    "assistant",
			"kind":      "shell",
			"cmd":       cmd.Raw,
			"exit_code": result.ExitCode,
			"timed_out": result.TimedOut,
			"stdout":    result.Stdout,
			"stderr":    result.Stderr,
		})
		if result.Success() {
			blocks = append(blocks, fmt.Sprintf("<command cmd=%q status=\"ok\">\n%s\n</command>", cmd.Raw, result.Format()))
		} else {
			blocks = append(blocks, shellFailureBlock(cmd.Raw, result))
		}
	}

	if len(blocks) == 0 {
		return AssistantRoute{VisibleText: text}
	}

	// fence markers around dispatched commands are noise once the
	// command lines themselves are gone
	kept := make([]string, 0, len(visible))
	fenceSet := map[int]struct{}{}
	for _, idx := range fenceLines {
		fenceSet[idx] = struct{}{}
	}
	for i, line := range visible {
		if _, isFence := fenceSet[i]; isFence {
			continue
		}
		kept = append(kept, line)
	}
	return AssistantRoute{
		VisibleText:   strings.TrimSpace(strings.Join(kept, "\n")),
		CommandBlocks: blocks,
	}
}

func internalFailureBlock(name, output string) string {
	return fmt.Sprintf("<command name=%q status=\"error\">\n%s\n</command>", name, output)
}

func shellFailureBlock(cmd string, result shell.Result) string {
	return fmt.Sprintf("<command cmd=%q exit_code=%q timed_out=%q>\n%s\n</command>",
		cmd, fmt.Sprint(result.ExitCode), fmt.Sprint(result.TimedOut), result.Format())
}
