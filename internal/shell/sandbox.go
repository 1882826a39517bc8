package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command execution.
const DefaultTimeout = 30 * time.Second

// Result captures the outcome of one command run.
type Result struct {
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Sandbox runs shell commands with the workspace as working directory.
type Sandbox struct {
	workspace string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewSandbox creates a sandbox rooted at workspace. A zero timeout
// selects DefaultTimeout.
func NewSandbox(workspace string, timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{
		workspace: workspace,
		timeout:   timeout,
		logger:    slog.Default().With("component", "shell"),
	}
}

// Run executes command via `/bin/sh -c` and always returns a Result,
// even when the command fails or times out.
func (s *Sandbox) Run(ctx context.Context, command string) Result {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = s.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: exitCode(err),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("command timed out after %gs", s.timeout.Seconds())
	}
	if err != nil {
		s.logger.Debug("command failed",
			"command", command,
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut)
	}
	return result
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Format renders a result the way it is surfaced to the user and the
// model: stdout first, then a [stderr] block when present.
func (r Result) Format() string {
	out := strings.TrimRight(r.Stdout, "\n")
	errOut := strings.TrimRight(r.Stderr, "\n")
	if out == "" && errOut == "" {
		return "(no output)"
	}
	var b strings.Builder
	if out != "" {
		b.WriteString(out)
	}
	if errOut != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr] ")
		b.WriteString(errOut)
	}
	return b.String()
}

// Success reports whether the command exited cleanly.
func (r Result) Success() bool { return r.ExitCode == 0 && !r.TimedOut }
