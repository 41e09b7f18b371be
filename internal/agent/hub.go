package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HubConfig configures the HTTP client for the agent hub.
type HubConfig struct {
	URL     string // base URL, e.g. "http://127.0.0.1:8700"
	Token   string // optional bearer token
	Timeout time.Duration
}

// HubClient invokes agents and teams through the hub's HTTP API. Locally
// configured definitions are attached to the request so the hub can apply
// model and instruction overrides without a second lookup.
type HubClient struct {
	cfg   HubConfig
	http  *http.Client
	log   *slog.Logger
	store *Store // optional run-session store

	defs map[string]Definition
}

func NewHubClient(cfg HubConfig, defs []Definition, store *Store, log *slog.Logger) (*HubClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("hub url is empty")
	}
	// The HTTP client carries no timeout of its own: per-invocation budgets
	// come from the caller's context (engine timeout), and agent runs can
	// legitimately take minutes.
	byName := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	return &HubClient{
		cfg:   cfg,
		http:  &http.Client{},
		log:   log,
		store: store,
		defs:  byName,
	}, nil
}

type invokeRequest struct {
	Request
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members,omitempty"`
}

type invokeResponse struct {
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Invoke posts the task to the hub and returns the response content. A
// non-2xx status, a transport error or an error status in the body all
// surface as ErrInvoke.
func (c *HubClient) Invoke(ctx context.Context, req Request) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body := invokeRequest{Request: req}
	if def, ok := c.defs[req.Name]; ok {
		if body.Model == "" {
			body.Model = def.Model
		}
		if len(body.Instructions) == 0 {
			body.Instructions = def.Instructions
		}
		body.Description = def.Description
		body.Members = def.Members
	}

	started := time.Now()
	content, err := c.post(ctx, body)
	c.record(req, started, content, err)
	return content, err
}

func (c *HubClient) post(ctx context.Context, body invokeRequest) (string, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrInvoke, err)
	}
	url := strings.TrimRight(c.cfg.URL, "/") + "/v1/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoke, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvoke, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrInvoke, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: hub returned %s: %s", ErrInvoke, resp.Status, truncate(string(raw), 200))
	}

	var out invokeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrInvoke, err)
	}
	if out.Error != "" || strings.EqualFold(out.Status, "error") {
		msg := out.Error
		if msg == "" {
			msg = truncate(out.Content, 200)
		}
		return "", fmt.Errorf("%w: %s", ErrInvoke, msg)
	}
	return out.Content, nil
}

func (c *HubClient) record(req Request, started time.Time, content string, err error) {
	if c.store == nil {
		return
	}
	sess := RunSession{
		Target:   req.Kind + ":" + req.Name,
		Task:     req.Task,
		Started:  started,
		Finished: time.Now(),
		Chars:    len(content),
	}
	if err != nil {
		sess.Error = err.Error()
	}
	// Best effort: session bookkeeping never fails an invocation.
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if serr := c.store.RecordRun(rctx, sess); serr != nil && c.log != nil {
		c.log.Warn("agent session record failed", slog.Any("err", serr))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
