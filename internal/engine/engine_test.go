package engine

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
	"agentcron/internal/notify"
	"agentcron/internal/registry"
)

type fakeInvoker struct {
	mu        sync.Mutex
	calls     int
	delay     time.Duration
	failErr   error
	output    string
	block     chan struct{} // when set, Invoke waits for close or ctx
	blockTask string        // when set, only this task blocks
}

func (f *fakeInvoker) Invoke(ctx context.Context, req agent.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil && (f.blockTask == "" || f.blockTask == req.Task) {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.failErr != nil {
		return "", f.failErr
	}
	return f.output, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testJob(name string) *registry.Job {
	return &registry.Job{
		Name:   name,
		Target: registry.Target{Kind: registry.TargetAgent, Name: "research"},
		Task:   "do the thing",
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{output: "report text"}
	e := New(Config{}, inv, nil, nil, discard())

	rec := e.Execute(context.Background(), testJob("daily"))
	if rec.Failed() || rec.Skipped {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Output != "report text" {
		t.Fatalf("output = %q", rec.Output)
	}
	if !rec.Finished.After(rec.Started) && !rec.Finished.Equal(rec.Started) {
		t.Fatalf("timestamps out of order: %v / %v", rec.Started, rec.Finished)
	}
}

func TestExecuteFailureIsRecordedNotPropagated(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{failErr: errors.New("model exploded")}
	e := New(Config{}, inv, nil, nil, discard())

	rec := e.Execute(context.Background(), testJob("daily"))
	if !rec.Failed() {
		t.Fatal("expected failed record")
	}
	if !errors.Is(rec.Err, ErrExecution) {
		t.Fatalf("err = %v, want ErrExecution", rec.Err)
	}
	if rec.Output != "" {
		t.Fatalf("failed execution produced output %q", rec.Output)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{delay: time.Second, output: "never"}
	e := New(Config{DefaultTimeout: 20 * time.Millisecond}, inv, nil, nil, discard())

	rec := e.Execute(context.Background(), testJob("slow"))
	if !errors.Is(rec.Err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", rec.Err)
	}
}

func TestExecutePerJobTimeoutOverride(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{delay: 30 * time.Millisecond, output: "ok"}
	e := New(Config{DefaultTimeout: 5 * time.Millisecond}, inv, nil, nil, discard())

	job := testJob("slowish")
	job.Timeout = time.Second
	rec := e.Execute(context.Background(), job)
	if rec.Failed() {
		t.Fatalf("job timeout override not honored: %v", rec.Err)
	}
}

func TestExecuteMutualExclusion(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{block: make(chan struct{}), output: "done"}
	e := New(Config{}, inv, nil, nil, discard())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := e.Execute(context.Background(), testJob("long"))
		if rec.Failed() {
			t.Errorf("first run failed: %v", rec.Err)
		}
	}()

	// Wait until the first run is inside the invoker.
	for inv.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	rec := e.Execute(context.Background(), testJob("long"))
	if !rec.Skipped {
		t.Fatalf("second due fire was not skipped: %+v", rec)
	}
	if !errors.Is(rec.Err, ErrOverlap) {
		t.Fatalf("skip err = %v, want ErrOverlap", rec.Err)
	}
	if got := inv.callCount(); got != 1 {
		t.Fatalf("invoker called %d times during overlap, want 1", got)
	}

	close(inv.block)
	wg.Wait()

	// After the first run finishes the job may run again.
	rec = e.Execute(context.Background(), testJob("long"))
	if rec.Skipped || rec.Failed() {
		t.Fatalf("post-overlap run: %+v", rec)
	}
}

func TestExecuteDistinctJobsRunConcurrently(t *testing.T) {
	t.Parallel()
	inv := &fakeInvoker{block: make(chan struct{}), blockTask: "slow task", output: "x"}
	e := New(Config{}, inv, nil, nil, discard())

	slow := testJob("alpha")
	slow.Task = "slow task"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = e.Execute(context.Background(), slow)
	}()
	for inv.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	done := make(chan Record, 1)
	go func() {
		done <- e.Execute(context.Background(), testJob("beta"))
	}()

	select {
	case rec := <-done:
		if rec.Skipped {
			t.Fatal("distinct job name was treated as overlapping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("distinct job blocked behind another job")
	}
	close(inv.block)
	wg.Wait()
}

func TestExecuteNotifyOnError(t *testing.T) {
	t.Parallel()
	var notified atomic.Int32
	var lastJob atomic.Value
	n := notify.Func(func(ctx context.Context, no notify.Notification) error {
		notified.Add(1)
		lastJob.Store(no.Job)
		return nil
	})

	inv := &fakeInvoker{failErr: errors.New("boom")}
	e := New(Config{}, inv, n, nil, discard())

	job := testJob("alerting")
	job.NotifyOnError = true
	_ = e.Execute(context.Background(), job)
	if notified.Load() != 1 {
		t.Fatalf("notified %d times, want 1", notified.Load())
	}
	if lastJob.Load() != "alerting" {
		t.Fatalf("notification job = %v", lastJob.Load())
	}

	// Without the flag no notification fires.
	quiet := testJob("quiet")
	_ = e.Execute(context.Background(), quiet)
	if notified.Load() != 1 {
		t.Fatalf("unexpected notification for quiet job")
	}
}
