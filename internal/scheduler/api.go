package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agentcron/internal/eventbus"
	"agentcron/internal/registry"
	"agentcron/internal/schedule"
)

// JobStatus is a read-only view of one registered job for status listings.
type JobStatus struct {
	Name        string
	Description string
	Schedule    string
	Target      string
	Output      string
	NextFire    time.Time
	Disabled    bool
	LastError   string
}

// AddJob registers a job and computes its first fire time. A job whose
// schedule can never fire is registered disabled so operators can see it in
// listings instead of it silently vanishing.
func (s *Service) AddJob(job *registry.Job) error {
	if err := s.reg.Add(job); err != nil {
		return err
	}
	next, err := schedule.NextAfter(job.Schedule, s.now())
	if err != nil {
		s.log.Warn("job registered with unreachable schedule",
			slog.String("job", job.Name), slog.String("schedule", job.ScheduleSrc), slog.Any("err", err))
		s.reg.Disable(job.Name, err.Error())
		s.publish(eventbus.JobDisabled, eventbus.JobEvent{Name: job.Name, Error: err.Error()})
	} else {
		if uerr := s.reg.UpdateNextFire(job.Name, next); uerr != nil {
			return uerr
		}
		s.log.Info("job registered",
			slog.String("job", job.Name),
			slog.String("schedule", job.ScheduleSrc),
			slog.String("target", job.Target.String()),
			slog.Time("next_fire", next))
	}
	s.wakeLoop()
	return nil
}

// RemoveJob unregisters a job. A run already in flight finishes normally.
func (s *Service) RemoveJob(name string) error {
	if err := s.reg.Remove(name); err != nil {
		return err
	}
	s.log.Info("job removed", slog.String("job", name))
	s.wakeLoop()
	return nil
}

// RunOnce executes a job immediately under the caller's context, bypassing
// the loop. The execution error (if any) is returned synchronously; the
// job's regular cadence is unaffected.
func (s *Service) RunOnce(ctx context.Context, name string) error {
	job, err := s.reg.Get(name)
	if err != nil {
		return err
	}

	rec := s.eng.Execute(ctx, job)
	if rec.Skipped {
		return fmt.Errorf("job %q is already running", name)
	}
	if rec.Failed() {
		s.reg.SetLastError(name, rec.Err.Error())
		return rec.Err
	}
	s.reg.SetLastError(name, "")

	if _, err := s.out.Dispatch(job, rec); err != nil {
		s.reg.SetLastError(name, err.Error())
		return err
	}
	return nil
}

// ApplyJobs reconciles the registry against a freshly loaded job set. Jobs
// absent from the new set are removed, new names are added, and jobs whose
// definition changed are replaced (which also resets their fire time).
// Unchanged jobs keep their state untouched so reloads don't perturb cadence.
func (s *Service) ApplyJobs(jobs []*registry.Job) {
	incoming := make(map[string]*registry.Job, len(jobs))
	for _, j := range jobs {
		incoming[j.Name] = j
	}

	for _, old := range s.reg.List() {
		next, ok := incoming[old.Name]
		if !ok {
			s.reg.Remove(old.Name)
			s.log.Info("job removed on reload", slog.String("job", old.Name))
			continue
		}
		if jobEqual(old, next) {
			delete(incoming, old.Name)
			continue
		}
		s.reg.Remove(old.Name)
		s.log.Info("job definition changed, replacing", slog.String("job", old.Name))
	}

	for _, j := range jobs {
		if _, changed := incoming[j.Name]; !changed {
			continue
		}
		if err := s.AddJob(j); err != nil {
			s.log.Error("reload: job rejected", slog.String("job", j.Name), slog.Any("err", err))
		}
	}
	s.wakeLoop()
}

// Snapshot returns the current job set for status listings, insertion order
// preserved. The registry copies every job's state under its lock, so the
// snapshot is safe to read while the loop keeps firing.
func (s *Service) Snapshot() []JobStatus {
	statuses := s.reg.Statuses()
	out := make([]JobStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, JobStatus{
			Name:        st.Name,
			Description: st.Description,
			Schedule:    st.Schedule,
			Target:      st.Target.String(),
			Output:      string(st.Output),
			NextFire:    st.NextFire,
			Disabled:    st.Disabled,
			LastError:   st.LastError,
		})
	}
	return out
}

// jobEqual compares the static definition of two jobs, ignoring scheduler
// bookkeeping fields.
func jobEqual(a, b *registry.Job) bool {
	if a.ScheduleSrc != b.ScheduleSrc ||
		a.Description != b.Description ||
		a.Target != b.Target ||
		a.Task != b.Task ||
		a.NotifyOnError != b.NotifyOnError ||
		a.Timeout != b.Timeout {
		return false
	}
	if len(a.Instructions) != len(b.Instructions) {
		return false
	}
	for i := range a.Instructions {
		if a.Instructions[i] != b.Instructions[i] {
			return false
		}
	}
	switch {
	case a.Output == nil && b.Output == nil:
		return true
	case a.Output == nil || b.Output == nil:
		return false
	}
	return *a.Output == *b.Output
}
