package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentcron/internal/agent"
	"agentcron/internal/engine"
	"agentcron/internal/eventbus"
	"agentcron/internal/output"
	"agentcron/internal/registry"
	"agentcron/internal/schedule"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// tickSchedule fires on a fixed short interval. Tests use it instead of real
// cron specs so they never sleep close to a minute boundary.
type tickSchedule struct{ every time.Duration }

func (s tickSchedule) Next(t time.Time) time.Time { return t.Add(s.every) }

// deadSchedule never fires again.
type deadSchedule struct{}

func (deadSchedule) Next(time.Time) time.Time { return time.Time{} }

// expiringSchedule yields one near-term fire time, then nothing. It models a
// schedule whose remaining horizon runs out while the loop is live.
type expiringSchedule struct {
	mu    sync.Mutex
	fired bool
}

func (s *expiringSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return time.Time{}
	}
	s.fired = true
	return t.Add(5 * time.Millisecond)
}

type countInvoker struct {
	calls atomic.Int64
	err   error
	block chan struct{} // when set, Invoke waits for close or ctx
}

func (f *countInvoker) Invoke(ctx context.Context, req agent.Request) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return "result for " + req.Task, nil
}

func newService(t *testing.T, inv agent.Invoker, cfg Config) *Service {
	t.Helper()
	reg := registry.New()
	eng := engine.New(engine.Config{DefaultTimeout: 5 * time.Second}, inv, nil, eventbus.New(), discard())
	out := output.NewDispatcher(discard())
	return New(cfg, reg, eng, out, eventbus.New(), discard())
}

func testJob(name string, s schedule.Schedule) *registry.Job {
	return &registry.Job{
		Name:        name,
		Schedule:    s,
		ScheduleSrc: "test",
		Target:      registry.Target{Kind: registry.TargetAgent, Name: "researcher"},
		Task:        "do the thing",
	}
}

func TestLoopDispatchesDueJobs(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{}
	svc := newService(t, inv, Config{})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.AddJob(testJob("ticker", tickSchedule{20 * time.Millisecond})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for inv.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d invocations before deadline", inv.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	svc.Stop(context.Background())
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()
	svc := newService(t, &countInvoker{}, Config{})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestStopDrainsInFlight(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{block: make(chan struct{})}
	svc := newService(t, inv, Config{GraceTimeout: 5 * time.Second})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.AddJob(testJob("slow", tickSchedule{10 * time.Millisecond})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	for inv.calls.Load() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		svc.Stop(context.Background())
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while execution still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(inv.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after drain")
	}
}

func TestStopForcesCancelAfterGrace(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{block: make(chan struct{})} // never closed; relies on ctx
	svc := newService(t, inv, Config{GraceTimeout: 30 * time.Millisecond})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.AddJob(testJob("stuck", tickSchedule{10 * time.Millisecond})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	for inv.calls.Load() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		svc.Stop(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung past the grace period")
	}
}

func TestSnapshotWhileLoopDispatches(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{}
	svc := newService(t, inv, Config{})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.AddJob(testJob("busy", tickSchedule{time.Millisecond})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	// Read job state continuously while the loop fires and its execute
	// goroutine rewrites NextFire/LastError. Run under -race.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, st := range svc.Snapshot() {
			_ = st.NextFire
			_ = st.LastError
			_ = st.Disabled
		}
	}
	if inv.calls.Load() == 0 {
		t.Fatal("loop never dispatched while snapshotting")
	}
	svc.Stop(context.Background())
}

func TestScheduleExpiresAtFireTimeDisablesJob(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{}
	svc := newService(t, inv, Config{})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	if err := svc.AddJob(testJob("expiring", &expiringSchedule{})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap := svc.Snapshot()
		if len(snap) == 1 && snap[0].Disabled {
			if snap[0].LastError == "" {
				t.Fatal("disabled job carries no error")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never disabled: %+v", snap)
		case <-time.After(5 * time.Millisecond):
		}
	}
	// The disable happens in dispatch, just before the execution goroutine
	// starts, so give that one run a moment to land.
	deadline = time.After(2 * time.Second)
	for inv.calls.Load() != 1 {
		select {
		case <-deadline:
			t.Fatalf("invocations = %d, want 1 (the fire that exhausted the schedule)", inv.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The loop survives the disable and keeps serving other jobs.
	if err := svc.AddJob(testJob("alive", tickSchedule{10 * time.Millisecond})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	deadline = time.After(2 * time.Second)
	for inv.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("loop stopped dispatching after disable")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAddJobUnreachableScheduleDisables(t *testing.T) {
	t.Parallel()
	svc := newService(t, &countInvoker{}, Config{})

	if err := svc.AddJob(testJob("never", deadSchedule{})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	snap := svc.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if !snap[0].Disabled {
		t.Fatal("job with unreachable schedule not disabled")
	}
	if snap[0].LastError == "" {
		t.Fatal("disabled job carries no error")
	}
}

func TestRunOnce(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{}
	svc := newService(t, inv, Config{})

	job := testJob("manual", tickSchedule{time.Hour})
	if err := svc.AddJob(job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := svc.RunOnce(context.Background(), "manual"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := inv.calls.Load(); got != 1 {
		t.Fatalf("invocations = %d, want 1", got)
	}
	if err := svc.RunOnce(context.Background(), "ghost"); !errors.Is(err, registry.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestRunOnceSurfacesFailure(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{err: errors.New("capability down")}
	svc := newService(t, inv, Config{})

	if err := svc.AddJob(testJob("flaky", tickSchedule{time.Hour})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	err := svc.RunOnce(context.Background(), "flaky")
	if !errors.Is(err, engine.ErrExecution) {
		t.Fatalf("err = %v, want ErrExecution", err)
	}
	snap := svc.Snapshot()
	if snap[0].LastError == "" {
		t.Fatal("failure not recorded in job state")
	}
}

func TestApplyJobsReconciles(t *testing.T) {
	t.Parallel()
	svc := newService(t, &countInvoker{}, Config{})

	keep := testJob("keep", tickSchedule{time.Hour})
	drop := testJob("drop", tickSchedule{time.Hour})
	for _, j := range []*registry.Job{keep, drop} {
		if err := svc.AddJob(j); err != nil {
			t.Fatalf("AddJob(%s): %v", j.Name, err)
		}
	}
	keptFire := keep.NextFire

	keep2 := testJob("keep", tickSchedule{time.Hour})
	changed := testJob("keep2", tickSchedule{time.Hour})
	changed.Task = "different task"
	svc.ApplyJobs([]*registry.Job{keep2, changed})

	snap := svc.Snapshot()
	names := make([]string, 0, len(snap))
	for _, st := range snap {
		names = append(names, st.Name)
	}
	if len(names) != 2 || names[0] != "keep" || names[1] != "keep2" {
		t.Fatalf("jobs after reload = %v", names)
	}
	if !snap[0].NextFire.Equal(keptFire) {
		t.Fatalf("unchanged job fire time perturbed: %v != %v", snap[0].NextFire, keptFire)
	}
}

func TestApplyJobsReplacesChangedDefinition(t *testing.T) {
	t.Parallel()
	svc := newService(t, &countInvoker{}, Config{})

	orig := testJob("report", tickSchedule{time.Hour})
	if err := svc.AddJob(orig); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	updated := testJob("report", tickSchedule{time.Hour})
	updated.Task = "new task"
	svc.ApplyJobs([]*registry.Job{updated})

	jobs := svc.reg.List()
	if len(jobs) != 1 || jobs[0].Task != "new task" {
		t.Fatalf("definition not replaced: %+v", jobs[0])
	}
}

func TestRemoveJobWhileRunning(t *testing.T) {
	t.Parallel()
	inv := &countInvoker{}
	svc := newService(t, inv, Config{})

	if err := svc.AddJob(testJob("gone", tickSchedule{time.Hour})); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := svc.RemoveJob("gone"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if err := svc.RemoveJob("gone"); !errors.Is(err, registry.ErrJobNotFound) {
		t.Fatalf("second remove err = %v", err)
	}
}
