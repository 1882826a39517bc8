package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crabclaw/crabclaw/internal/observability"
)

// Mode selects what a job does when it fires.
type Mode int

const (
	// ModeReminder delivers the job message verbatim to the notifier.
	ModeReminder Mode = iota
	// ModeAgent drives a full agent turn with the job message as input
	// and delivers the resulting assistant text to the notifier.
	ModeAgent
)

func (m Mode) String() string {
	if m == ModeAgent {
		return "agent"
	}
	return "reminder"
}

// Notifier delivers a fired job's output to the user-facing channel.
type Notifier func(message string)

// AgentRunner re-enters the agent loop with message as user input and
// returns the final assistant text of the turn.
type AgentRunner func(ctx context.Context, message string) (string, error)

// Job is one scheduled unit of work.
type Job struct {
	ID        string
	Message   string
	After     time.Duration
	Interval  time.Duration
	Mode      Mode
	CreatedAt time.Time

	// Callbacks are captured at Add time so a job keeps delivering to
	// the session that scheduled it, regardless of later Start calls.
	notify  Notifier
	runTurn AgentRunner

	cancelled atomic.Bool
}

func (j *Job) fires() string {
	if j.Interval > 0 {
		return fmt.Sprintf("every %s", j.Interval)
	}
	return fmt.Sprintf("once in %s", j.After)
}

// Scheduler owns the job table and the workers that fire them.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc

	notifier    Notifier
	agentRunner AgentRunner
	logger      *slog.Logger
	now         func() time.Time

	baseCtx context.Context
	running bool
	seq     atomic.Uint64
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNotifier sets the delivery callback for fired jobs.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAgentRunner sets the agent re-entry callback for agent-mode jobs.
func WithAgentRunner(r AgentRunner) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.agentRunner = r
		}
	}
}

// WithLogger overrides the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a stopped scheduler. Call Start before adding jobs.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:    map[string]*Job{},
		cancels: map[string]context.CancelFunc{},
		logger:  slog.Default().With("component", "scheduler"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultOnce sync.Once
	defaultSch  *Scheduler
)

// Default returns the process-wide scheduler.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultSch = New()
	})
	return defaultSch
}

// Start binds the scheduler to a runtime context. Workers spawned for
// jobs inherit this context and stop when it is cancelled.
func (s *Scheduler) Start(ctx context.Context, opts ...Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx = ctx
	s.running = true
}

// Stop cancels all workers and clears the job table.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.cancels {
		s.jobs[id].cancelled.Store(true)
		cancel()
	}
	s.jobs = map[string]*Job{}
	s.cancels = map[string]context.CancelFunc{}
	s.running = false
}

// Add registers a job and spawns its worker. Exactly one of after and
// interval must be positive. The return value is the status string
// surfaced to the model.
func (s *Scheduler) Add(message string, after, interval time.Duration, mode Mode) string {
	if (after > 0) == (interval > 0) {
		return "Error: must specify either 'after_seconds' or 'interval_seconds'"
	}

	s.mu.Lock()
	if !s.running || s.baseCtx == nil {
		s.mu.Unlock()
		return "Error: no async runtime available to schedule jobs"
	}
	job := &Job{
		ID:        s.newID(),
		Message:   message,
		After:     after,
		Interval:  interval,
		Mode:      mode,
		CreatedAt: s.now(),
		notify:    s.notifier,
		runTurn:   s.agentRunner,
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.jobs[job.ID] = job
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	go s.run(ctx, job)
	return fmt.Sprintf("scheduled: %s fires=%s", job.ID, job.fires())
}

// List renders active jobs sorted by id.
func (s *Scheduler) List() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return "No scheduled jobs."
	}
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		job := s.jobs[id]
		if job.cancelled.Load() {
			continue
		}
		fmt.Fprintf(&b, "%s [%s] fires=%s: %s\n", job.ID, job.Mode, job.fires(), job.Message)
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return "No scheduled jobs."
	}
	return out
}

// Remove cancels a job and aborts its worker.
func (s *Scheduler) Remove(id string) string {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Sprintf("Error: no job with id %s", id)
	}
	job.cancelled.Store(true)
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	delete(s.jobs, id)
	delete(s.cancels, id)
	s.mu.Unlock()
	return fmt.Sprintf("removed: %s", id)
}

func (s *Scheduler) run(ctx context.Context, job *Job) {
	if job.Interval > 0 {
		ticker := time.NewTicker(job.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// the flag may flip while we were asleep
			if job.cancelled.Load() {
				return
			}
			s.fire(ctx, job)
		}
	}

	timer := time.NewTimer(job.After)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if job.cancelled.Load() {
		return
	}
	s.fire(ctx, job)

	s.mu.Lock()
	delete(s.jobs, job.ID)
	delete(s.cancels, job.ID)
	s.mu.Unlock()
}

func (s *Scheduler) fire(ctx context.Context, job *Job) {
	observability.Default().RecordSchedulerFire(job.Mode.String())
	switch job.Mode {
	case ModeAgent:
		if job.runTurn == nil {
			s.logger.Warn("agent job fired without a runner", "job_id", job.ID)
			return
		}
		out, err := job.runTurn(ctx, job.Message)
		if err != nil {
			s.logger.Error("agent job failed", "job_id", job.ID, "error", err)
			return
		}
		s.deliver(job, out)
	default:
		s.deliver(job, job.Message)
	}
}

func (s *Scheduler) deliver(job *Job, text string) {
	if job.notify != nil {
		job.notify(text)
		return
	}
	s.logger.Info("job fired", "job_id", job.ID, "message", text)
}

func (s *Scheduler) newID() string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%d", s.now().UnixNano(), s.seq.Add(1))
	return fmt.Sprintf("%08x", h.Sum32())
}
