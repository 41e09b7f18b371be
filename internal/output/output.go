// Package output persists execution results as files in the configured
// format. The dispatcher owns filename generation and directory creation;
// per-format renderers implement the render(content, metadata) -> bytes
// contract.
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentcron/internal/engine"
	"agentcron/internal/registry"
)

// ErrOutputWrite wraps renderer and filesystem failures.
var ErrOutputWrite = errors.New("output write failed")

// Artifact describes one written output file.
type Artifact struct {
	Path   string
	Format registry.OutputFormat
	Bytes  int
}

// Metadata accompanies the content into a renderer.
type Metadata struct {
	JobName   string
	Title     string
	Timestamp time.Time
}

// Renderer converts textual content into the bytes of one output format.
type Renderer interface {
	Render(content string, meta Metadata) ([]byte, error)
}

const timestampLayout = "20060102_150405"

// Filename placeholders supported in a configured base filename.
const (
	placeholderTimestamp = "<date_timestamp>"
	placeholderJobName   = "<job_name>"
)

var extensions = map[registry.OutputFormat]string{
	registry.FormatPDF:      "pdf",
	registry.FormatMarkdown: "md",
	registry.FormatHTML:     "html",
	registry.FormatJSON:     "json",
	registry.FormatText:     "txt",
}

// Dispatcher routes completed executions to the renderer selected by the
// job's output type and writes the artifact.
type Dispatcher struct {
	log       *slog.Logger
	renderers map[registry.OutputFormat]Renderer
	now       func() time.Time
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		log: log,
		renderers: map[registry.OutputFormat]Renderer{
			registry.FormatText:     textRenderer{},
			registry.FormatMarkdown: textRenderer{},
			registry.FormatJSON:     jsonRenderer{},
			registry.FormatHTML:     htmlRenderer{},
			registry.FormatPDF:      pdfRenderer{},
		},
		now: time.Now,
	}
}

// SetRenderer replaces the renderer for a format (tests, custom engines).
func (d *Dispatcher) SetRenderer(format registry.OutputFormat, r Renderer) {
	d.renderers[format] = r
}

// Dispatch writes the record's output according to the job's output config.
// Failure and skip records produce no artifact and are only logged; a job
// with no output config logs the result and is done.
func (d *Dispatcher) Dispatch(job *registry.Job, rec engine.Record) (*Artifact, error) {
	if rec.Skipped {
		return nil, nil
	}
	if rec.Failed() {
		d.log.Warn("no artifact for failed execution", slog.String("job", job.Name), slog.Any("err", rec.Err))
		return nil, nil
	}
	if job.Output == nil {
		d.log.Debug("job has no output config, discarding result", slog.String("job", job.Name), slog.Int("chars", len(rec.Output)))
		return nil, nil
	}

	renderer, ok := d.renderers[job.Output.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown output type %q", ErrOutputWrite, job.Output.Type)
	}

	ts := rec.Finished
	if ts.IsZero() {
		ts = d.now()
	}
	meta := Metadata{JobName: job.Name, Title: job.Output.Title, Timestamp: ts}
	data, err := renderer.Render(rec.Output, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: render %s: %v", ErrOutputWrite, job.Output.Type, err)
	}

	dir := job.Output.Path
	if dir == "" {
		dir = "output"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrOutputWrite, dir, err)
	}

	path := filepath.Join(dir, filename(job, ts))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	d.log.Info("output saved", slog.String("job", job.Name), slog.String("path", path), slog.Int("bytes", len(data)))
	return &Artifact{Path: path, Format: job.Output.Type, Bytes: len(data)}, nil
}

// filename builds "{base or job name}_{YYYYMMDD_HHMMSS}.{ext}". A configured
// base filename may embed <date_timestamp> and <job_name> placeholders; the
// timestamp suffix is only implied when the base doesn't already embed one.
func filename(job *registry.Job, ts time.Time) string {
	stamp := ts.Format(timestampLayout)
	base := strings.TrimSpace(job.Output.Filename)
	if base == "" {
		base = job.Name + "_" + stamp
	} else {
		hadStamp := strings.Contains(base, placeholderTimestamp)
		base = strings.ReplaceAll(base, placeholderTimestamp, stamp)
		base = strings.ReplaceAll(base, placeholderJobName, job.Name)
		if !hadStamp {
			base = base + "_" + stamp
		}
	}
	return base + "." + extensions[job.Output.Type]
}
