package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"agentcron/internal/agent"
	"agentcron/internal/eventbus"
)

func TestEventStatus(t *testing.T) {
	t.Parallel()
	je := eventbus.JobEvent{Name: "daily_report", Duration: 1500 * time.Millisecond, Error: "hub returned 502"}

	cases := []struct {
		typ  string
		want string
	}{
		{eventbus.JobFinished, "last run: daily_report ok in 1.5s"},
		{eventbus.JobFailed, "last run: daily_report failed: hub returned 502"},
		{eventbus.JobDisabled, "job daily_report disabled: hub returned 502"},
		{eventbus.JobStarted, ""},
		{eventbus.JobSkipped, ""},
	}
	for _, tc := range cases {
		if got := eventStatus(eventbus.Event{Type: tc.typ, Data: je}); got != tc.want {
			t.Errorf("eventStatus(%s) = %q, want %q", tc.typ, got, tc.want)
		}
	}

	// Foreign payloads never produce a status line.
	if got := eventStatus(eventbus.Event{Type: eventbus.JobFailed, Data: errors.New("not a job event")}); got != "" {
		t.Errorf("eventStatus with foreign payload = %q", got)
	}
}

func TestFormatHistory(t *testing.T) {
	t.Parallel()
	started := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	out := formatHistory("agent:investment", []agent.RunSession{
		{Target: "agent:investment", Started: started, Finished: started.Add(42 * time.Second), Chars: 1800},
		{Target: "agent:investment", Started: started.Add(-time.Hour), Finished: started.Add(-time.Hour + time.Second), Error: "timed out"},
	})

	for _, want := range []string{
		"STARTED",
		"2024-03-05 09:00:00",
		"42s",
		"1800",
		"error: timed out",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatHistoryEmpty(t *testing.T) {
	t.Parallel()
	out := formatHistory("team:research_desk", nil)
	if !strings.Contains(out, "no recorded sessions for team:research_desk") {
		t.Fatalf("empty history output = %q", out)
	}
}
