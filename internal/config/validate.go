package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct-tag validation plus the cross-field checks the tags
// cannot express. All schedule and duration fields must compile here so a bad
// config is rejected at load time, not at fire time.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	agents := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if agents[a.Name] {
			return fmt.Errorf("config: duplicate agent %q", a.Name)
		}
		agents[a.Name] = true
	}
	teams := make(map[string]bool, len(cfg.Teams))
	for _, t := range cfg.Teams {
		if teams[t.Name] {
			return fmt.Errorf("config: duplicate team %q", t.Name)
		}
		teams[t.Name] = true
		for _, m := range t.Members {
			if !agents[m] {
				return fmt.Errorf("config: team %q references unknown agent %q", t.Name, m)
			}
		}
	}

	seen := make(map[string]bool, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		where := fmt.Sprintf("jobs[%d] (%s)", i, j.Name)
		if seen[j.Name] {
			return fmt.Errorf("config: duplicate job name %q", j.Name)
		}
		seen[j.Name] = true

		switch {
		case j.Agent == "" && j.Team == "":
			return fmt.Errorf("config: %s: either agent or team is required", where)
		case j.Agent != "" && j.Team != "":
			return fmt.Errorf("config: %s: agent and team are mutually exclusive", where)
		case j.Agent != "" && len(cfg.Agents) > 0 && !agents[j.Agent]:
			return fmt.Errorf("config: %s: unknown agent %q", where, j.Agent)
		case j.Team != "" && len(cfg.Teams) > 0 && !teams[j.Team]:
			return fmt.Errorf("config: %s: unknown team %q", where, j.Team)
		}

		if _, err := j.Schedule.Build(); err != nil {
			return fmt.Errorf("config: %s: %w", where, err)
		}
		if _, err := ParseDurationField(where+".timeout", j.Timeout); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	for path, raw := range map[string]string{
		"scheduler.default_timeout": cfg.Scheduler.DefaultTimeout,
		"scheduler.grace_timeout":   cfg.Scheduler.GraceTimeout,
		"hub.timeout":               cfg.Hub.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if cfg.Notify != nil && cfg.Notify.Webhook != nil {
		if _, err := ParseDurationField("notify.webhook.timeout", cfg.Notify.Webhook.Timeout); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}
