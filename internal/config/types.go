package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"agentcron/internal/schedule"
)

// Config is the full scheduler configuration, loaded from YAML or JSON.
//
// All durations are Go duration strings (e.g. "30s", "10m", "1h").
type Config struct {
	// Timezone is the IANA zone used to evaluate schedules ("" = local).
	Timezone string `json:"timezone,omitempty" validate:"omitempty"`

	Logging   LoggingConfig   `json:"logging,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Hub       HubConfig       `json:"hub"`
	Notify    *NotifyConfig   `json:"notify,omitempty"`

	Agents []AgentConfig `json:"agents,omitempty" validate:"dive"`
	Teams  []TeamConfig  `json:"teams,omitempty" validate:"dive"`
	Jobs   []JobConfig   `json:"jobs" validate:"required,min=1,dive"`
}

// LoggingConfig controls the slog pipeline: a console handler always, plus an
// optional rotating JSON file.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format,omitempty" validate:"omitempty,oneof=pretty json"`

	// File enables the rotating JSON log file when set.
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// SchedulerConfig controls loop and execution defaults.
type SchedulerConfig struct {
	// DefaultTimeout bounds each execution unless the job overrides it.
	// "0s" disables the global default.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// GraceTimeout is how long shutdown waits for in-flight jobs to finish.
	GraceTimeout string `json:"grace_timeout,omitempty"`
}

// HubConfig points at the external agent hub that actually runs tasks.
type HubConfig struct {
	URL string `json:"url" validate:"required,url"`

	// Token authenticates to the hub. TokenEnv names an environment variable
	// to read instead, so the secret stays out of the config file.
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`

	Timeout string `json:"timeout,omitempty"`

	// SessionDB is the SQLite file recording hub run sessions.
	// Empty disables session recording.
	SessionDB string `json:"session_db,omitempty"`
}

// NotifyConfig controls failure notification channels.
type NotifyConfig struct {
	RatePerMin int             `json:"rate_per_min,omitempty"`
	Telegram   *TelegramNotify `json:"telegram,omitempty"`
	Webhook    *WebhookNotify  `json:"webhook,omitempty"`
}

type TelegramNotify struct {
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	ChatID   int64  `json:"chat_id" validate:"required"`
}

type WebhookNotify struct {
	URL     string `json:"url" validate:"required,url"`
	Timeout string `json:"timeout,omitempty"`
}

// AgentConfig defines a named agent the hub should use when a job targets it.
type AgentConfig struct {
	Name         string   `json:"name" validate:"required"`
	Description  string   `json:"description,omitempty"`
	Model        string   `json:"model,omitempty"`
	Instructions []string `json:"instructions,omitempty"`
}

// TeamConfig defines a named team of agents.
type TeamConfig struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description,omitempty"`
	Model       string   `json:"model,omitempty"`
	Members     []string `json:"members" validate:"required,min=1"`
}

// JobConfig is one scheduled job. Exactly one of Agent or Team must be set.
type JobConfig struct {
	Name        string       `json:"name" validate:"required"`
	Description string       `json:"description,omitempty"`
	Schedule    ScheduleSpec `json:"schedule"`

	Agent string `json:"agent,omitempty"`
	Team  string `json:"team,omitempty"`

	Task         string   `json:"task" validate:"required"`
	Instructions []string `json:"instructions,omitempty"`

	Output        *OutputSpec `json:"output,omitempty"`
	NotifyOnError bool        `json:"notify_on_error,omitempty"`
	Timeout       string      `json:"timeout,omitempty"`
}

// OutputSpec describes where a job's result is persisted.
type OutputSpec struct {
	Type     string `json:"type" validate:"required,oneof=pdf markdown html json text"`
	Path     string `json:"path" validate:"required"`
	Filename string `json:"filename,omitempty"`
	Title    string `json:"title,omitempty"`
}

// ScheduleSpec accepts both schedule forms a job may use: a cron/descriptor
// string or the sparse dict form.
//
//	schedule: "0 9 * * *"
//	schedule: { hour: "9", minute: "0", day_of_week: "mon-fri" }
type ScheduleSpec struct {
	Expr   string
	Fields schedule.Fields
}

func (s *ScheduleSpec) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return fmt.Errorf("schedule is required")
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &s.Expr)
	}

	// Dict fields accept bare numbers (hour: 18) as well as strings
	// (hour: "9-17"), so each value decodes through flexValue.
	var dict struct {
		Minute    flexValue `json:"minute"`
		Hour      flexValue `json:"hour"`
		Day       flexValue `json:"day"`
		Month     flexValue `json:"month"`
		DayOfWeek flexValue `json:"day_of_week"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dict); err != nil {
		return err
	}
	s.Fields = schedule.Fields{
		Minute:    string(dict.Minute),
		Hour:      string(dict.Hour),
		Day:       string(dict.Day),
		Month:     string(dict.Month),
		DayOfWeek: string(dict.DayOfWeek),
	}
	return nil
}

// flexValue decodes a JSON string or number into its textual form.
type flexValue string

func (f *flexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexValue(n.String())
	return nil
}

func (s ScheduleSpec) MarshalJSON() ([]byte, error) {
	if s.Expr != "" {
		return json.Marshal(s.Expr)
	}
	return json.Marshal(s.Fields)
}

// Source renders the schedule for display and change detection.
func (s ScheduleSpec) Source() string {
	if s.Expr != "" {
		return s.Expr
	}
	return s.Fields.Cron()
}

// Build compiles the spec into a Schedule.
func (s ScheduleSpec) Build() (schedule.Schedule, error) {
	if s.Expr != "" {
		return schedule.Parse(s.Expr)
	}
	if s.Fields.Empty() {
		return nil, fmt.Errorf("%w: schedule is empty", schedule.ErrInvalidSchedule)
	}
	return schedule.FromFields(s.Fields)
}
