// Package engine executes jobs against the agent/team capability, enforcing
// per-job mutual exclusion and a per-execution timeout. Failures are recorded
// in the returned Record and never propagate to the scheduler loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentcron/internal/agent"
	"agentcron/internal/eventbus"
	"agentcron/internal/notify"
	"agentcron/internal/registry"
)

var (
	// ErrExecution wraps any failure from the external capability.
	ErrExecution = errors.New("job execution failed")
	// ErrTimeout marks executions that exceeded their budget.
	ErrTimeout = errors.New("job execution timed out")
	// ErrOverlap marks fire times skipped because the previous run of the
	// same job was still in flight.
	ErrOverlap = errors.New("job skipped: previous run still in progress")
)

// Record is the ephemeral result of one execution attempt. It exists to be
// routed into the output dispatcher and logged, then discarded.
type Record struct {
	JobName  string
	Started  time.Time
	Finished time.Time
	Output   string // set on success
	Err      error  // set on failure
	Skipped  bool   // overlap skip; neither success nor failure
}

// Failed reports whether the execution ended in an error (skips don't count).
func (r Record) Failed() bool { return r.Err != nil && !r.Skipped }

// Config controls engine-wide execution defaults.
type Config struct {
	DefaultTimeout time.Duration // per-execution budget when the job has none; 0 disables
}

// Engine runs jobs. Safe for concurrent use by the scheduler loop and the
// run-once path.
type Engine struct {
	cfg      Config
	invoker  agent.Invoker
	notifier notify.Notifier
	bus      eventbus.Bus
	log      *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New builds an engine. notifier and bus may be nil.
func New(cfg Config, invoker agent.Invoker, notifier notify.Notifier, bus eventbus.Bus, log *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		invoker:  invoker,
		notifier: notifier,
		bus:      bus,
		log:      log,
		running:  map[string]bool{},
	}
}

// Execute runs job's task through the capability and returns a Record. The
// same job name never runs concurrently with itself: a fire that arrives
// while the previous run is still in flight returns a skip record.
func (e *Engine) Execute(ctx context.Context, job *registry.Job) Record {
	now := time.Now()
	if !e.acquire(job.Name) {
		e.log.Info("job skipped, previous run still in progress", slog.String("job", job.Name))
		e.publish(eventbus.JobSkipped, eventbus.JobEvent{Name: job.Name, Target: job.Target.String(), Started: now, Error: ErrOverlap.Error()})
		return Record{JobName: job.Name, Started: now, Finished: now, Err: ErrOverlap, Skipped: true}
	}
	defer e.release(job.Name)

	rec := Record{JobName: job.Name, Started: time.Now()}
	e.log.Info("job started", slog.String("job", job.Name), slog.String("target", job.Target.String()))
	e.publish(eventbus.JobStarted, eventbus.JobEvent{Name: job.Name, Target: job.Target.String(), Started: rec.Started})

	runCtx := ctx
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := e.invoker.Invoke(runCtx, agent.Request{
		Kind:         string(job.Target.Kind),
		Name:         job.Target.Name,
		Task:         job.Task,
		Instructions: job.Instructions,
	})
	rec.Finished = time.Now()
	dur := rec.Finished.Sub(rec.Started)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			rec.Err = fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, err)
		} else {
			rec.Err = fmt.Errorf("%w: %v", ErrExecution, err)
		}
		e.log.Warn("job failed", slog.String("job", job.Name), slog.Any("err", rec.Err), slog.Duration("dur", dur))
		e.publish(eventbus.JobFailed, eventbus.JobEvent{Name: job.Name, Target: job.Target.String(), Started: rec.Started, Duration: dur, Error: rec.Err.Error()})
		e.notifyFailure(job, rec.Err)
		return rec
	}

	rec.Output = out
	e.log.Info("job completed", slog.String("job", job.Name), slog.Duration("dur", dur), slog.Int("chars", len(out)))
	e.publish(eventbus.JobFinished, eventbus.JobEvent{Name: job.Name, Target: job.Target.String(), Started: rec.Started, Duration: dur})
	return rec
}

func (e *Engine) acquire(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[name] {
		return false
	}
	e.running[name] = true
	return true
}

func (e *Engine) release(name string) {
	e.mu.Lock()
	delete(e.running, name)
	e.mu.Unlock()
}

func (e *Engine) publish(typ string, data eventbus.JobEvent) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// notifyFailure triggers the notification side effect for jobs that asked for
// it. The delivery context is detached: the execution's own deadline has
// typically already expired when we get here.
func (e *Engine) notifyFailure(job *registry.Job, execErr error) {
	if !job.NotifyOnError || e.notifier == nil {
		return
	}
	priority := 5
	if errors.Is(execErr, ErrTimeout) {
		priority = 8
	}
	nctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := e.notifier.Notify(nctx, notify.Notification{
		Job:      job.Name,
		Message:  execErr.Error(),
		Priority: priority,
	}); err != nil {
		e.log.Warn("failure notification errored", slog.String("job", job.Name), slog.Any("err", err))
	}
}
