package config

import (
	"fmt"
	"os"

	"agentcron/internal/agent"
	"agentcron/internal/registry"
)

// BuildJobs compiles the validated job configs into registry jobs.
func BuildJobs(cfg *Config) ([]*registry.Job, error) {
	jobs := make([]*registry.Job, 0, len(cfg.Jobs))
	for i, jc := range cfg.Jobs {
		sched, err := jc.Schedule.Build()
		if err != nil {
			return nil, fmt.Errorf("jobs[%d] (%s): %w", i, jc.Name, err)
		}
		timeout, err := ParseDurationField(jc.Name+".timeout", jc.Timeout)
		if err != nil {
			return nil, err
		}

		target := registry.Target{Kind: registry.TargetAgent, Name: jc.Agent}
		if jc.Team != "" {
			target = registry.Target{Kind: registry.TargetTeam, Name: jc.Team}
		}

		job := &registry.Job{
			Name:          jc.Name,
			Description:   jc.Description,
			Schedule:      sched,
			ScheduleSrc:   jc.Schedule.Source(),
			Target:        target,
			Task:          jc.Task,
			Instructions:  jc.Instructions,
			NotifyOnError: jc.NotifyOnError,
			Timeout:       timeout,
		}
		if jc.Output != nil {
			job.Output = &registry.OutputConfig{
				Type:     registry.OutputFormat(jc.Output.Type),
				Path:     jc.Output.Path,
				Filename: jc.Output.Filename,
				Title:    jc.Output.Title,
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// BuildDefinitions collects the locally configured agents and teams, keyed by
// name, for the hub client to attach to invocations.
func BuildDefinitions(cfg *Config) map[string]agent.Definition {
	defs := make(map[string]agent.Definition, len(cfg.Agents)+len(cfg.Teams))
	for _, a := range cfg.Agents {
		defs[a.Name] = agent.Definition{
			Name:         a.Name,
			Description:  a.Description,
			Model:        a.Model,
			Instructions: a.Instructions,
		}
	}
	for _, t := range cfg.Teams {
		defs[t.Name] = agent.Definition{
			Name:        t.Name,
			Description: t.Description,
			Model:       t.Model,
			Members:     t.Members,
		}
	}
	return defs
}

// ResolveToken returns the hub credential, preferring the environment
// variable form so secrets stay out of config files.
func (h HubConfig) ResolveToken() string {
	if h.TokenEnv != "" {
		return os.Getenv(h.TokenEnv)
	}
	return h.Token
}

// ResolveToken returns the Telegram bot credential.
func (t TelegramNotify) ResolveToken() string {
	if t.TokenEnv != "" {
		return os.Getenv(t.TokenEnv)
	}
	return t.Token
}
