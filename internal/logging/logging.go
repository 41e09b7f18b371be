// Package logging builds the process-wide slog pipeline: a console handler
// always, plus an optional rotating JSON file. The root handler is swappable
// so config reloads retune logging without replacing the *slog.Logger every
// component already holds.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"agentcron/internal/config"
)

type Service struct {
	root   *swapHandler
	logger *slog.Logger

	mu      sync.Mutex
	file    *lumberjack.Logger
	verbose bool
}

// New builds the logging service. verbose forces debug level regardless of
// the configured one (the -verbose flag).
func New(cfg config.LoggingConfig, verbose bool) (*Service, *slog.Logger) {
	root := &swapHandler{}
	root.Swap(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo, TimeFormat: time.Kitchen}))
	s := &Service{root: root, logger: slog.New(root), verbose: verbose}
	s.Apply(cfg)
	return s, s.logger
}

func (s *Service) Logger() *slog.Logger { return s.logger }

// Apply rebuilds the handler chain from cfg. Safe to call on config reload.
func (s *Service) Apply(cfg config.LoggingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := parseLevel(cfg.Level)
	if s.verbose {
		level = slog.LevelDebug
	}

	var console slog.Handler
	if cfg.Format == "json" {
		console = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		console = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	}
	handlers := []slog.Handler{console}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if path := strings.TrimSpace(cfg.File); path != "" {
		s.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(s.file, &slog.HandlerOptions{Level: level}))
	}

	if len(handlers) == 1 {
		s.root.Swap(handlers[0])
	} else {
		s.root.Swap(fanout(handlers))
	}
}

// Close releases the rotating file writer.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// swapHandler lets the handler chain be replaced at runtime while loggers
// keep pointing at the same root.
type swapHandler struct {
	mu sync.RWMutex
	h  slog.Handler
}

func (a *swapHandler) Swap(h slog.Handler) {
	a.mu.Lock()
	a.h = h
	a.mu.Unlock()
}

func (a *swapHandler) cur() slog.Handler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.h
}

func (a *swapHandler) Enabled(ctx context.Context, l slog.Level) bool { return a.cur().Enabled(ctx, l) }
func (a *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return a.cur().Handle(ctx, r)
}
func (a *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return a.cur().WithAttrs(attrs) }
func (a *swapHandler) WithGroup(name string) slog.Handler       { return a.cur().WithGroup(name) }

// fanout delivers each record to every handler that wants it.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
