// Package registry holds the in-memory set of scheduled jobs.
//
// The registry is the only mutable structure shared between the scheduler
// loop, the run-once path and the config reloader, so every operation is
// guarded by a reader-writer lock: the loop's view of "what is due now" never
// observes a job mid-update.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentcron/internal/schedule"
)

var (
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobNotFound  = errors.New("job not found")
)

// TargetKind selects which external capability runs the job's task.
type TargetKind string

const (
	TargetAgent TargetKind = "agent"
	TargetTeam  TargetKind = "team"
)

// Target names the agent or team a job runs against. Exactly one kind.
type Target struct {
	Kind TargetKind
	Name string
}

func (t Target) String() string { return string(t.Kind) + ":" + t.Name }

// OutputFormat enumerates the supported artifact formats.
type OutputFormat string

const (
	FormatPDF      OutputFormat = "pdf"
	FormatMarkdown OutputFormat = "markdown"
	FormatHTML     OutputFormat = "html"
	FormatJSON     OutputFormat = "json"
	FormatText     OutputFormat = "text"
)

// OutputConfig describes where and how a job's result is persisted.
type OutputConfig struct {
	Type     OutputFormat
	Path     string // destination directory, created on demand
	Filename string // optional base filename; placeholders are substituted
	Title    string // optional document title (pdf/html)
}

// Job is a named, scheduled unit of work. NextFire, Disabled and LastError
// are mutated by the scheduler loop; everything else is set at registration.
type Job struct {
	Name          string
	Description   string
	Schedule      schedule.Schedule
	ScheduleSrc   string // raw schedule text for display
	Target        Target
	Task          string
	Instructions  []string // job-scoped overrides passed to the capability
	Output        *OutputConfig
	NotifyOnError bool
	Timeout       time.Duration // per-job execution budget; 0 = engine default

	NextFire  time.Time
	Disabled  bool
	LastError string
}

// Registry is a name-keyed job collection preserving insertion order.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func New() *Registry {
	return &Registry{jobs: map[string]*Job{}}
}

// Add registers a job. The name must be non-empty and unused.
func (r *Registry) Add(job *Job) error {
	if job == nil || strings.TrimSpace(job.Name) == "" {
		return errors.New("job name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, job.Name)
	}
	r.jobs[job.Name] = job
	r.order = append(r.order, job.Name)
	return nil
}

// Remove unregisters a job by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	delete(r.jobs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the job registered under name.
func (r *Registry) Get(name string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return job, nil
}

// List returns all jobs in insertion order.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.jobs[name])
	}
	return out
}

// Status is a copied view of one job's current state. Unlike the *Job
// pointers List returns, a Status shares nothing with the registry, so
// callers may read it while the scheduler loop keeps mutating the job.
type Status struct {
	Name        string
	Description string
	Schedule    string
	Target      Target
	Output      OutputFormat
	NextFire    time.Time
	Disabled    bool
	LastError   string
}

// Statuses returns every job's current state in insertion order. The copies
// are taken under one read lock so no field is observed mid-update.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		j := r.jobs[name]
		st := Status{
			Name:        j.Name,
			Description: j.Description,
			Schedule:    j.ScheduleSrc,
			Target:      j.Target,
			NextFire:    j.NextFire,
			Disabled:    j.Disabled,
			LastError:   j.LastError,
		}
		if j.Output != nil {
			st.Output = j.Output.Type
		}
		out = append(out, st)
	}
	return out
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// UpdateNextFire stores a job's recomputed fire time.
func (r *Registry) UpdateNextFire(name string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	job.NextFire = at
	return nil
}

// SetLastError records a job's last-known error state ("" clears it).
func (r *Registry) SetLastError(name, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[name]; ok {
		job.LastError = msg
	}
}

// Disable takes a job out of scheduling consideration (run-once still works).
func (r *Registry) Disable(name string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[name]; ok {
		job.Disabled = true
		job.NextFire = time.Time{}
		if reason != "" {
			job.LastError = reason
		}
	}
}

// Due returns the jobs whose fire time is at or before now, and the earliest
// upcoming fire time among the rest (zero when nothing is pending). Both are
// computed under one read lock so the scheduler's sleep decision and its
// dispatch set come from the same snapshot.
func (r *Registry) Due(now time.Time) (due []*Job, nextWake time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		job := r.jobs[name]
		if job.Disabled || job.NextFire.IsZero() {
			continue
		}
		if !job.NextFire.After(now) {
			due = append(due, job)
			continue
		}
		if nextWake.IsZero() || job.NextFire.Before(nextWake) {
			nextWake = job.NextFire
		}
	}
	return due, nextWake
}
