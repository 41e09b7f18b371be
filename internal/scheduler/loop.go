package scheduler

import (
	"context"
	"log/slog"
	"time"

	"agentcron/internal/eventbus"
	"agentcron/internal/registry"
	"agentcron/internal/schedule"
)

// idlePoll bounds how long the loop sleeps with no job pending, so a
// wake that was somehow missed never stalls the daemon for good.
const idlePoll = time.Minute

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	for {
		now := s.now()
		due, nextWake := s.reg.Due(now)

		if len(due) > 0 {
			// Ties share a fire time and dispatch concurrently with no
			// defined relative order.
			for _, job := range due {
				s.dispatch(job, now)
			}
			continue
		}

		sleep := idlePoll
		if !nextWake.IsZero() {
			sleep = nextWake.Sub(now)
			if sleep < 0 {
				sleep = 0
			}
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatch reschedules job and launches its execution as an independent
// goroutine so a slow agent call never delays other jobs' timers.
func (s *Service) dispatch(job *registry.Job, now time.Time) {
	next, err := schedule.NextAfter(job.Schedule, now)
	if err != nil {
		s.log.Error("schedule became unreachable, disabling job",
			slog.String("job", job.Name), slog.String("schedule", job.ScheduleSrc), slog.Any("err", err))
		s.reg.Disable(job.Name, err.Error())
		s.publish(eventbus.JobDisabled, eventbus.JobEvent{Name: job.Name, Error: err.Error()})
	} else {
		if uerr := s.reg.UpdateNextFire(job.Name, next); uerr != nil {
			// Removed between Due() and here; nothing to run.
			return
		}
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.execute(s.execCtx, job)
	}()
}

// execute runs one job through the engine and routes the result to the
// output dispatcher. All errors stop at this boundary.
func (s *Service) execute(ctx context.Context, job *registry.Job) {
	rec := s.eng.Execute(ctx, job)
	switch {
	case rec.Skipped:
		// Overlap skip: keep the previous error state untouched.
		return
	case rec.Failed():
		s.reg.SetLastError(job.Name, rec.Err.Error())
	default:
		s.reg.SetLastError(job.Name, "")
	}

	if _, err := s.out.Dispatch(job, rec); err != nil {
		s.log.Error("output dispatch failed", slog.String("job", job.Name), slog.Any("err", err))
		s.reg.SetLastError(job.Name, err.Error())
	}
}

func (s *Service) publish(typ string, data eventbus.JobEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
