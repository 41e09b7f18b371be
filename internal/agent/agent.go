// Package agent is the boundary to the external agent/team capability.
//
// The scheduler core never runs model reasoning itself; it hands a task
// string to an Invoker and gets text back. The default implementation talks
// to an agent hub over HTTP and keeps its own run-session state in SQLite,
// which is the only state the agent layer persists.
package agent

import (
	"context"
	"errors"
)

// ErrInvoke wraps any failure reported by the external capability.
var ErrInvoke = errors.New("agent invocation failed")

// Request describes one capability invocation.
type Request struct {
	Kind         string   `json:"kind"` // "agent" or "team"
	Name         string   `json:"name"`
	Task         string   `json:"task"`
	Instructions []string `json:"instructions,omitempty"`
	Model        string   `json:"model,omitempty"` // optional per-target override
}

// Invoker runs a task against a named agent or team and returns the textual
// result. Implementations may be slow (seconds to minutes) and must honor
// context cancellation.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Definition is a locally configured agent or team the hub should use when
// the job names it. Teams list their member agents.
type Definition struct {
	Name         string
	Description  string
	Model        string
	Instructions []string
	Members      []string // teams only
}
